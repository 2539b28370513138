// Package store defines the key-value persistence contract used by the
// configuration store. Values are JSON documents keyed by composite strings.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotFound is returned by Get and Delete when the key is absent.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidDocument is returned by Set and BatchSet when a value is not
	// valid JSON.
	ErrInvalidDocument = errors.New("document is not valid JSON")
)

// KeyValueStore persists JSON documents by string key.
type KeyValueStore interface {
	// Get returns the document stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (json.RawMessage, error)

	// BatchGet returns the documents for the keys that exist. Missing keys
	// are silently left out of the result.
	BatchGet(ctx context.Context, keys []string) (map[string]json.RawMessage, error)

	// Scan returns every document whose key starts with prefix.
	Scan(ctx context.Context, prefix string) (map[string]json.RawMessage, error)

	// Set inserts or replaces the document under key.
	Set(ctx context.Context, key string, doc json.RawMessage) error

	// BatchSet inserts or replaces every document in docs.
	BatchSet(ctx context.Context, docs map[string]json.RawMessage) error

	// Delete removes key and returns the document it held, or ErrNotFound.
	Delete(ctx context.Context, key string) (json.RawMessage, error)

	// Close releases the store's resources.
	Close() error
}

// UpsertStrategy selects how relational backends write documents.
type UpsertStrategy int

const (
	// UpsertOnConflict writes with a single INSERT ... ON CONFLICT DO UPDATE
	// statement. Each key is written atomically and concurrent writers of a
	// new key cannot collide.
	UpsertOnConflict UpsertStrategy = iota

	// UpsertSelectThenBranch selects the existing keys first, then issues an
	// UPDATE per existing key and one bulk INSERT for the rest, all in one
	// transaction. Two concurrent batches that both create the same key can
	// both see it as new; the later commit then fails with a unique-key
	// violation. Kept for engines without an atomic upsert.
	UpsertSelectThenBranch
)

func (s UpsertStrategy) String() string {
	switch s {
	case UpsertOnConflict:
		return "on-conflict"
	case UpsertSelectThenBranch:
		return "select-then-branch"
	default:
		return fmt.Sprintf("UpsertStrategy(%d)", int(s))
	}
}

// ParseUpsertStrategy parses the String form of an UpsertStrategy.
func ParseUpsertStrategy(s string) (UpsertStrategy, error) {
	switch s {
	case "", "on-conflict":
		return UpsertOnConflict, nil
	case "select-then-branch":
		return UpsertSelectThenBranch, nil
	default:
		return 0, fmt.Errorf("unknown upsert strategy %q (must be on-conflict or select-then-branch)", s)
	}
}

// ValidateDocument reports ErrInvalidDocument when doc is empty or not JSON.
func ValidateDocument(key string, doc json.RawMessage) error {
	if len(doc) == 0 || !json.Valid(doc) {
		return fmt.Errorf("%w: key %q", ErrInvalidDocument, key)
	}
	return nil
}

// SortedKeys returns the keys of docs in ascending order. Backends write in
// this order so that concurrent batches acquire row locks consistently.
func SortedKeys(docs map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(docs))
	for k := range docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
