package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryBus is an in-process Publisher and Subscriber. It delivers JSON
// payloads exactly like the NATS implementation, which makes it a drop-in
// for tests and single-process hosts.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[int]*memorySub
	nextID int
}

type memorySub struct {
	topic string
	ch    chan []byte
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memorySub)}
}

func (b *MemoryBus) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if !matchTopic(s.topic, topic) {
			continue
		}
		select {
		case s.ch <- data:
		default:
			// Drop message if channel is full, as the NATS subscriber does.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	s := &memorySub{topic: topic, ch: make(chan []byte, 64)}
	b.subs[id] = s

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel, nil
}

func (b *MemoryBus) Close() error {
	return nil
}
