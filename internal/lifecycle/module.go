// Package lifecycle keeps each module's per-tenant configuration in memory
// for as long as the module is attached to the host.
//
// A Module is hydrated with one batch read on Attach, serves reads from
// memory and writes every change through to the store. On Detach the
// tenants whose write-through failed are flushed with one batch write.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/derpz-discord/math-tavern-bot/internal/configstore"
	"github.com/derpz-discord/math-tavern-bot/internal/model"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// module's current state.
	ErrInvalidState = errors.New("invalid module state")

	// ErrHydrationDegraded is returned by Attach when the store could not be
	// read. The module is Ready with default configurations regardless.
	ErrHydrationDegraded = errors.New("hydration degraded to defaults")
)

// State is the lifecycle state of a Module.
type State int32

const (
	Unloaded State = iota
	Hydrating
	Ready
	Flushing
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Hydrating:
		return "hydrating"
	case Ready:
		return "ready"
	case Flushing:
		return "flushing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Module holds the in-memory configuration map of one module.
//
// Values returned by Get and Snapshot are never mutated by the Module;
// Update works on a copy and swaps it in.
type Module[T any] struct {
	typed  *configstore.Typed[T]
	logger *slog.Logger

	// writers is held shared by every write and exclusively by Detach, so
	// the flush sees no write in progress.
	writers sync.RWMutex

	mu      sync.RWMutex
	state   State
	configs map[model.TenantID]T
	locks   map[model.TenantID]*sync.Mutex

	// dirty holds the tenants whose last write-through failed.
	dirty mapset.Set[model.TenantID]
}

func New[T any](typed *configstore.Typed[T], logger *slog.Logger) *Module[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module[T]{
		typed:  typed,
		logger: logger.With("component", "lifecycle", "module", typed.Module()),
		locks:  make(map[model.TenantID]*sync.Mutex),
		dirty:  mapset.NewThreadUnsafeSet[model.TenantID](),
	}
}

// Name returns the module name.
func (m *Module[T]) Name() string {
	return m.typed.Module()
}

func (m *Module[T]) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Attach hydrates the module for tenants with one batch read.
//
// Every requested tenant gets an entry: its stored configuration, or the
// default when nothing is stored or the stored document no longer decodes.
// If the read itself fails the module still becomes Ready with defaults and
// the returned error wraps ErrHydrationDegraded. If ctx is cancelled during
// the read the module goes back to Unloaded and ctx.Err() is returned.
func (m *Module[T]) Attach(ctx context.Context, tenants []model.TenantID) error {
	m.mu.Lock()
	if m.state != Unloaded {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("attach %s while %s: %w", m.Name(), state, ErrInvalidState)
	}
	m.state = Hydrating
	m.mu.Unlock()

	if len(tenants) == 0 {
		m.logger.Warn("attached with no tenants, nothing to hydrate")
		m.finishHydration(make(map[model.TenantID]T))
		return nil
	}

	results, err := m.typed.Load(ctx, tenants)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			m.mu.Lock()
			m.state = Unloaded
			m.configs = nil
			m.mu.Unlock()
			return ctxErr
		}
		m.logger.Error("failed to hydrate, serving defaults", "tenants", len(tenants), "err", err)
		configs := make(map[model.TenantID]T, len(tenants))
		for _, tenant := range tenants {
			configs[tenant] = m.typed.Default()
		}
		m.finishHydration(configs)
		return fmt.Errorf("hydrate %s: %w: %w", m.Name(), ErrHydrationDegraded, err)
	}

	m.logger.Info("hydrated",
		"tenants", len(results),
		"loaded", results.Count(configstore.StatusLoaded),
		"defaulted", results.Count(configstore.StatusDefaulted),
		"absent", results.Count(configstore.StatusAbsent))
	m.finishHydration(results.Configs())
	return nil
}

func (m *Module[T]) finishHydration(configs map[model.TenantID]T) {
	m.mu.Lock()
	m.configs = configs
	m.state = Ready
	m.mu.Unlock()
}

// Get returns the configuration of tenant, or the default when the tenant
// is unknown or the module is not attached.
func (m *Module[T]) Get(tenant model.TenantID) T {
	m.mu.RLock()
	cfg, ok := m.configs[tenant]
	m.mu.RUnlock()
	if !ok {
		return m.typed.Default()
	}
	return cfg
}

// Has reports whether tenant is hydrated.
func (m *Module[T]) Has(tenant model.TenantID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.configs[tenant]
	return ok
}

// Snapshot returns a shallow copy of the configuration map.
func (m *Module[T]) Snapshot() map[model.TenantID]T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.TenantID]T, len(m.configs))
	for tenant, cfg := range m.configs {
		out[tenant] = cfg
	}
	return out
}

// Tenants returns the hydrated tenants in ascending order.
func (m *Module[T]) Tenants() []model.TenantID {
	m.mu.RLock()
	tenants := make([]model.TenantID, 0, len(m.configs))
	for tenant := range m.configs {
		tenants = append(tenants, tenant)
	}
	m.mu.RUnlock()
	slices.Sort(tenants)
	return tenants
}

// Put replaces the configuration of tenant and writes it through.
//
// The in-memory map is updated before the write; if the write fails the
// error is returned and the tenant is flushed again on Detach.
func (m *Module[T]) Put(ctx context.Context, tenant model.TenantID, cfg T) error {
	m.writers.RLock()
	defer m.writers.RUnlock()
	if err := m.requireReady("put"); err != nil {
		return err
	}

	lock := m.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	m.store(tenant, cfg)
	return m.writeThrough(ctx, tenant, cfg)
}

// Update applies fn to a copy of tenant's configuration, swaps the copy in
// and writes it through. If fn returns an error nothing changes.
// Updates to the same tenant are serialized.
func (m *Module[T]) Update(ctx context.Context, tenant model.TenantID, fn func(cfg *T) error) error {
	m.writers.RLock()
	defer m.writers.RUnlock()
	if err := m.requireReady("update"); err != nil {
		return err
	}

	lock := m.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := m.clone(m.Get(tenant))
	if err != nil {
		return err
	}
	if err := fn(&cfg); err != nil {
		return err
	}
	m.store(tenant, cfg)
	return m.writeThrough(ctx, tenant, cfg)
}

func (m *Module[T]) writeThrough(ctx context.Context, tenant model.TenantID, cfg T) error {
	err := m.typed.Save(ctx, tenant, cfg)
	m.mu.Lock()
	if err != nil {
		m.dirty.Add(tenant)
	} else {
		m.dirty.Remove(tenant)
	}
	m.mu.Unlock()
	return err
}

// AttachTenant hydrates a tenant that joined after Attach. It is a no-op for
// a tenant that is already hydrated. On a read failure the tenant gets the
// default and the error wraps ErrHydrationDegraded.
func (m *Module[T]) AttachTenant(ctx context.Context, tenant model.TenantID) error {
	if m.Has(tenant) {
		return nil
	}
	return m.load(ctx, tenant, true)
}

// Reload re-reads tenant from the store, replacing the in-memory copy. A
// tenant whose document was deleted falls back to the default, and a
// pending flush for the tenant is dropped. On a read failure the in-memory
// copy is kept.
func (m *Module[T]) Reload(ctx context.Context, tenant model.TenantID) error {
	return m.load(ctx, tenant, false)
}

func (m *Module[T]) load(ctx context.Context, tenant model.TenantID, degrade bool) error {
	m.writers.RLock()
	defer m.writers.RUnlock()
	if err := m.requireReady("load tenant"); err != nil {
		return err
	}

	lock := m.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	results, err := m.typed.Load(ctx, []model.TenantID{tenant})
	if err != nil {
		if !degrade || ctx.Err() != nil {
			return err
		}
		m.logger.Error("failed to hydrate tenant, serving default", "tenant", tenant, "err", err)
		m.store(tenant, m.typed.Default())
		return fmt.Errorf("hydrate %s for tenant %d: %w: %w", m.Name(), tenant, ErrHydrationDegraded, err)
	}
	res := results[tenant]
	m.logger.Debug("tenant loaded", "tenant", tenant, "status", res.Status)
	m.mu.Lock()
	m.configs[tenant] = res.Config
	m.dirty.Remove(tenant)
	m.mu.Unlock()
	return nil
}

// Detach flushes the tenants whose write-through failed with one batch
// write and discards the map. Tenants that were written through, or only
// hydrated, are not written again, so changes made to the store by other
// writers survive. The module ends Unloaded even when the flush fails; the
// flush error is returned.
func (m *Module[T]) Detach(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Ready {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("detach %s while %s: %w", m.Name(), state, ErrInvalidState)
	}
	m.state = Flushing
	m.mu.Unlock()

	m.writers.Lock()
	defer m.writers.Unlock()

	pending := m.pending()
	var err error
	if len(pending) > 0 {
		err = m.typed.SaveAll(ctx, pending)
	}
	if err != nil {
		m.logger.Error("failed to flush", "tenants", len(pending), "err", err)
		err = fmt.Errorf("flush %s: %w", m.Name(), err)
	} else {
		m.logger.Info("flushed", "tenants", len(pending))
	}

	m.mu.Lock()
	m.configs = nil
	m.locks = make(map[model.TenantID]*sync.Mutex)
	m.dirty.Clear()
	m.state = Unloaded
	m.mu.Unlock()
	return err
}

// pending returns the in-memory configurations of the dirty tenants.
func (m *Module[T]) pending() map[model.TenantID]T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.TenantID]T, m.dirty.Cardinality())
	for _, tenant := range m.dirty.ToSlice() {
		if cfg, ok := m.configs[tenant]; ok {
			out[tenant] = cfg
		}
	}
	return out
}

func (m *Module[T]) requireReady(op string) error {
	if state := m.State(); state != Ready {
		return fmt.Errorf("%s %s while %s: %w", op, m.Name(), state, ErrInvalidState)
	}
	return nil
}

func (m *Module[T]) tenantLock(tenant model.TenantID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[tenant]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[tenant] = lock
	}
	return lock
}

func (m *Module[T]) store(tenant model.TenantID, cfg T) {
	m.mu.Lock()
	m.configs[tenant] = cfg
	m.mu.Unlock()
}

// clone deep-copies cfg through the module's codec.
func (m *Module[T]) clone(cfg T) (T, error) {
	codec := m.typed.Codec()
	doc, err := codec.Encode(cfg)
	if err != nil {
		return cfg, fmt.Errorf("copy %s config: %w", m.Name(), err)
	}
	out, err := codec.Decode(doc)
	if err != nil {
		return cfg, fmt.Errorf("copy %s config: %w", m.Name(), err)
	}
	return out, nil
}
