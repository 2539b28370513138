package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/derpz-discord/math-tavern-bot/internal/events"
	"github.com/derpz-discord/math-tavern-bot/internal/model"
)

// Watcher keeps attached modules in step with writes made by other
// writers sharing the same store. Events carrying the watcher's origin are
// ignored; an empty origin ignores nothing.
type Watcher struct {
	sub        events.Subscriber
	registry   *Registry
	origin     string
	invalidate func(module string, tenant model.TenantID)
	logger     *slog.Logger

	wg sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithInvalidate sets a hook called for every change from another origin
// before the tenant is reloaded. It is used to drop read-cache entries so
// the reload sees the new document.
func WithInvalidate(fn func(module string, tenant model.TenantID)) WatcherOption {
	return func(w *Watcher) { w.invalidate = fn }
}

func NewWatcher(sub events.Subscriber, registry *Registry, origin string, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		sub:      sub,
		registry: registry,
		origin:   origin,
		logger:   logger.With("component", "watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start subscribes to change events and handles them in the background
// until ctx is done. Wait blocks until the handler has stopped.
func (w *Watcher) Start(ctx context.Context) error {
	updated, cancelUpdated, err := w.sub.Subscribe(events.TopicConfigUpdated + ".*")
	if err != nil {
		return fmt.Errorf("subscribing to updates: %w", err)
	}
	deleted, cancelDeleted, err := w.sub.Subscribe(events.TopicConfigDeleted + ".*")
	if err != nil {
		cancelUpdated()
		return fmt.Errorf("subscribing to deletes: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer cancelUpdated()
		defer cancelDeleted()
		w.loop(ctx, updated, deleted)
	}()
	return nil
}

// Wait blocks until the background handler started by Start returns.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context, updated, deleted <-chan []byte) {
	for updated != nil || deleted != nil {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-updated:
			if !ok {
				updated = nil
				continue
			}
			w.handle(ctx, data)
		case data, ok := <-deleted:
			if !ok {
				deleted = nil
				continue
			}
			w.handle(ctx, data)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, data []byte) {
	var evt events.ConfigChanged
	if err := json.Unmarshal(data, &evt); err != nil {
		w.logger.Warn("dropping malformed event", "err", err)
		return
	}
	if w.origin != "" && evt.Origin == w.origin {
		return
	}
	if w.invalidate != nil {
		w.invalidate(evt.Module, evt.Tenant)
	}
	m, ok := w.registry.Lookup(evt.Module)
	if !ok || !m.Has(evt.Tenant) {
		return
	}
	if err := m.Reload(ctx, evt.Tenant); err != nil {
		if errors.Is(err, ErrInvalidState) {
			return
		}
		w.logger.Error("failed to reload tenant", "module", evt.Module, "tenant", evt.Tenant, "err", err)
		return
	}
	w.logger.Debug("reloaded tenant after remote change", "module", evt.Module, "tenant", evt.Tenant, "origin", evt.Origin)
}
