// Package memory implements store.KeyValueStore with an in-process map. It
// has no persistence and is used by tests and by hosts run without a
// database.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/derpz-discord/math-tavern-bot/internal/store"
)

// MemoryStore is a map-backed store.KeyValueStore safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage
}

// Compile-time check that MemoryStore implements store.KeyValueStore.
var _ store.KeyValueStore = (*MemoryStore)(nil)

func New() *MemoryStore {
	return &MemoryStore{docs: make(map[string]json.RawMessage)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(doc), nil
}

func (s *MemoryStore) BatchGet(_ context.Context, keys []string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if doc, ok := s.docs[k]; ok {
			out[k] = clone(doc)
		}
	}
	return out, nil
}

func (s *MemoryStore) Scan(_ context.Context, prefix string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage)
	for k, doc := range s.docs {
		if strings.HasPrefix(k, prefix) {
			out[k] = clone(doc)
		}
	}
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, doc json.RawMessage) error {
	if err := store.ValidateDocument(key, doc); err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[key] = compact(doc)
	s.mu.Unlock()
	return nil
}

// BatchSet validates every document before writing any, so a bad document
// leaves the store untouched.
func (s *MemoryStore) BatchSet(_ context.Context, docs map[string]json.RawMessage) error {
	for k, doc := range docs {
		if err := store.ValidateDocument(k, doc); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, doc := range docs {
		s.docs[k] = compact(doc)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.docs, key)
	return doc, nil
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemoryStore) Close() error {
	return nil
}

func clone(doc json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), doc...)
}

// compact stores documents in canonical whitespace-free form, matching what
// a JSONB column hands back.
func compact(doc json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil {
		return clone(doc)
	}
	return buf.Bytes()
}
