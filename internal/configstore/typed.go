package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/derpz-discord/math-tavern-bot/internal/model"
)

// Status says where a loaded configuration came from.
type Status int

const (
	// StatusAbsent means no document was stored; Config is the default.
	StatusAbsent Status = iota
	// StatusLoaded means the stored document decoded successfully.
	StatusLoaded
	// StatusDefaulted means a document was stored but failed to decode;
	// Config is the default and Err holds the decode error.
	StatusDefaulted
)

func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusLoaded:
		return "loaded"
	case StatusDefaulted:
		return "defaulted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the outcome of loading one tenant's configuration.
type Result[T any] struct {
	Config T
	Status Status
	Err    error
}

// Results holds one Result per requested tenant.
type Results[T any] map[model.TenantID]Result[T]

// Configs drops the statuses and returns just the configurations.
func (r Results[T]) Configs() map[model.TenantID]T {
	out := make(map[model.TenantID]T, len(r))
	for tenant, res := range r {
		out[tenant] = res.Config
	}
	return out
}

// Count returns how many results have the given status.
func (r Results[T]) Count(status Status) int {
	n := 0
	for _, res := range r {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Typed is a module's view of the ConfigStore in terms of its own
// configuration type.
type Typed[T any] struct {
	store  *ConfigStore
	module string
	codec  Codec[T]
	logger *slog.Logger
}

func NewTyped[T any](s *ConfigStore, module string, codec Codec[T]) *Typed[T] {
	return &Typed[T]{
		store:  s,
		module: module,
		codec:  codec,
		logger: s.logger.With("module", module),
	}
}

// Module returns the module name.
func (t *Typed[T]) Module() string {
	return t.module
}

// Default returns a fresh default configuration.
func (t *Typed[T]) Default() T {
	return t.codec.Default()
}

// Codec returns the module's codec.
func (t *Typed[T]) Codec() Codec[T] {
	return t.codec
}

// Store returns the underlying ConfigStore.
func (t *Typed[T]) Store() *ConfigStore {
	return t.store
}

// Load reads and decodes the configuration of every tenant in one batch.
// Every tenant gets a Result. A document that fails to decode is logged and
// reported as StatusDefaulted; it never fails the batch. Only backend errors
// are returned.
func (t *Typed[T]) Load(ctx context.Context, tenants []model.TenantID) (Results[T], error) {
	docs, err := t.store.GetCogConfig(ctx, tenants, t.module)
	if err != nil {
		return nil, err
	}

	results := make(Results[T], len(tenants))
	for _, tenant := range tenants {
		doc, ok := docs[tenant]
		if !ok {
			results[tenant] = Result[T]{Config: t.codec.Default(), Status: StatusAbsent}
			continue
		}
		cfg, err := t.codec.Decode(doc)
		if err != nil {
			t.logger.Warn("stored config does not decode, using default", "tenant", tenant, "err", err)
			results[tenant] = Result[T]{Config: t.codec.Default(), Status: StatusDefaulted, Err: err}
			continue
		}
		results[tenant] = Result[T]{Config: cfg, Status: StatusLoaded}
	}
	return results, nil
}

// Save encodes cfg and writes it for tenant.
func (t *Typed[T]) Save(ctx context.Context, tenant model.TenantID, cfg T) error {
	doc, err := t.codec.Encode(cfg)
	if err != nil {
		return fmt.Errorf("%s config for tenant %d: %w", t.module, tenant, err)
	}
	return t.store.SetCogConfig(ctx, t.module, tenant, doc)
}

// SaveAll encodes every configuration and writes them in one batch. If any
// value fails to encode nothing is written.
func (t *Typed[T]) SaveAll(ctx context.Context, cfgs map[model.TenantID]T) error {
	docs := make(map[model.TenantID]json.RawMessage, len(cfgs))
	for tenant, cfg := range cfgs {
		doc, err := t.codec.Encode(cfg)
		if err != nil {
			return fmt.Errorf("%s config for tenant %d: %w", t.module, tenant, err)
		}
		docs[tenant] = doc
	}
	return t.store.BatchSetCogConfig(ctx, t.module, docs)
}

// Delete removes the stored configuration of tenant.
func (t *Typed[T]) Delete(ctx context.Context, tenant model.TenantID) error {
	_, err := t.store.DeleteCogConfig(ctx, t.module, tenant)
	return err
}
