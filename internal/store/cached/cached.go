// Package cached wraps a store.KeyValueStore with a TTL read-through cache.
//
// Lookups for absent keys are cached too, so hydrating a module for many
// unconfigured tenants does not hit the backend repeatedly. Writes made
// through the wrapper invalidate the keys they touch, and a read that raced
// such a write does not put its result in the cache. Writes made by other
// processes become visible once the TTL expires or Invalidate is called.
package cached

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/derpz-discord/math-tavern-bot/internal/store"
)

// entry holds a cached document or a cached miss.
type entry struct {
	Doc   json.RawMessage
	Found bool
}

// Store is a caching store.KeyValueStore.
type Store struct {
	inner store.KeyValueStore
	cache *ttlcache.Cache[string, entry]

	// mu orders cache fills against writes. gens counts the writes and
	// invalidations of each key, epoch those of the whole cache; a fill is
	// dropped if either moved while its backend read was in flight.
	mu    sync.Mutex
	gens  map[string]uint64
	epoch uint64
}

// stamp is the write generation a backend read started at.
type stamp struct {
	epoch uint64
	gen   uint64
}

// Compile-time check that Store implements store.KeyValueStore.
var _ store.KeyValueStore = (*Store)(nil)

// New wraps inner with a cache whose entries live for ttl.
func New(inner store.KeyValueStore, ttl time.Duration) *Store {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, entry](ttl),
		ttlcache.WithDisableTouchOnHit[string, entry](),
	)
	go cache.Start()
	return &Store{inner: inner, cache: cache, gens: make(map[string]uint64)}
}

// Get loads through the cache. Backend errors other than store.ErrNotFound
// are returned and not cached.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if item := s.cache.Get(key); item != nil {
		e := item.Value()
		if !e.Found {
			return nil, store.ErrNotFound
		}
		return clone(e.Doc), nil
	}

	st := s.stamp(key)
	doc, err := s.inner.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.fill(key, st, entry{})
		return nil, err
	case err != nil:
		return nil, err
	}
	s.fill(key, st, entry{Doc: clone(doc), Found: true})
	return doc, nil
}

// BatchGet answers cached keys from memory and fetches the rest with one
// backend BatchGet.
func (s *Store) BatchGet(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	var misses []string
	for _, k := range keys {
		item := s.cache.Get(k)
		if item == nil {
			misses = append(misses, k)
			continue
		}
		if e := item.Value(); e.Found {
			out[k] = clone(e.Doc)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	stamps := make([]stamp, len(misses))
	for i, k := range misses {
		stamps[i] = s.stamp(k)
	}
	fetched, err := s.inner.BatchGet(ctx, misses)
	if err != nil {
		return nil, err
	}
	for i, k := range misses {
		doc, ok := fetched[k]
		s.fill(k, stamps[i], entry{Doc: clone(doc), Found: ok})
		if ok {
			out[k] = clone(doc)
		}
	}
	return out, nil
}

// Scan always goes to the backend.
func (s *Store) Scan(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	return s.inner.Scan(ctx, prefix)
}

func (s *Store) Set(ctx context.Context, key string, doc json.RawMessage) error {
	defer s.written(key)
	return s.inner.Set(ctx, key, doc)
}

func (s *Store) BatchSet(ctx context.Context, docs map[string]json.RawMessage) error {
	defer func() {
		for k := range docs {
			s.written(k)
		}
	}()
	return s.inner.BatchSet(ctx, docs)
}

func (s *Store) Delete(ctx context.Context, key string) (json.RawMessage, error) {
	defer s.written(key)
	return s.inner.Delete(ctx, key)
}

// InvalidateCache drops every cached entry.
func (s *Store) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.cache.DeleteAll()
}

// Invalidate drops the cached entry for key, e.g. after another process
// wrote it.
func (s *Store) Invalidate(key string) {
	s.written(key)
}

func (s *Store) stamp(key string) stamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stamp{epoch: s.epoch, gen: s.gens[key]}
}

// fill caches e unless key was written since st was taken.
func (s *Store) fill(key string, st stamp, e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != st.epoch || s.gens[key] != st.gen {
		return
	}
	s.cache.Set(key, e, ttlcache.DefaultTTL)
}

func (s *Store) written(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[key]++
	s.cache.Delete(key)
}

// Close stops the cache goroutine and closes the wrapped store.
func (s *Store) Close() error {
	s.cache.Stop()
	return s.inner.Close()
}

func clone(doc json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), doc...)
}
