package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/derpz-discord/math-tavern-bot/internal/model"
)

// Managed is the type-erased view of a Module used by the Registry and the
// Watcher.
type Managed interface {
	Name() string
	State() State
	Attach(ctx context.Context, tenants []model.TenantID) error
	Detach(ctx context.Context) error
	Has(tenant model.TenantID) bool
	Reload(ctx context.Context, tenant model.TenantID) error
}

var _ Managed = (*Module[struct{}])(nil)

// Registry attaches and detaches a host's modules together.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	modules []Managed
	byName  map[string]Managed
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger.With("component", "registry"),
		byName: make(map[string]Managed),
	}
}

// Register adds a module. Module names must be unique.
func (r *Registry) Register(m Managed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[m.Name()]; ok {
		return fmt.Errorf("module %q already registered", m.Name())
	}
	r.modules = append(r.modules, m)
	r.byName[m.Name()] = m
	return nil
}

// Lookup returns the module registered under name.
func (r *Registry) Lookup(name string) (Managed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// Modules returns the registered modules in registration order.
func (r *Registry) Modules() []Managed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Managed(nil), r.modules...)
}

// AttachAll attaches every module for tenants. A module that fails to attach
// does not stop the others; all failures are returned together.
func (r *Registry) AttachAll(ctx context.Context, tenants []model.TenantID) error {
	var result *multierror.Error
	for _, m := range r.Modules() {
		if err := m.Attach(ctx, tenants); err != nil {
			r.logger.Warn("module attach failed", "module", m.Name(), "err", err)
			result = multierror.Append(result, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return result.ErrorOrNil()
}

// DetachAll detaches every Ready module in reverse registration order and
// returns all flush failures together.
func (r *Registry) DetachAll(ctx context.Context) error {
	modules := r.Modules()
	var result *multierror.Error
	for i := len(modules) - 1; i >= 0; i-- {
		m := modules[i]
		if m.State() != Ready {
			r.logger.Debug("skipping module that is not ready", "module", m.Name(), "state", m.State())
			continue
		}
		if err := m.Detach(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
