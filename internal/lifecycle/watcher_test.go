package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/derpz-discord/math-tavern-bot/internal/configstore"
	"github.com/derpz-discord/math-tavern-bot/internal/events"
	"github.com/derpz-discord/math-tavern-bot/internal/keycodec"
	"github.com/derpz-discord/math-tavern-bot/internal/model"
	"github.com/derpz-discord/math-tavern-bot/internal/store/cached"
	"github.com/derpz-discord/math-tavern-bot/internal/store/memory"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_ReloadsRemoteChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewMemoryBus()
	kv := newFlakyStore()
	local := configstore.New(kv, configstore.WithPublisher(bus, "cs-local"))
	remote := configstore.New(kv, configstore.WithPublisher(bus, "cs-remote"))

	m := New(configstore.NewTyped(local, "Counter", counterCodec), nil)
	r := NewRegistry(nil)
	if err := r.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.AttachAll(ctx, []model.TenantID{1}); err != nil {
		t.Fatalf("AttachAll: %v", err)
	}

	w := NewWatcher(bus, r, "cs-local", nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Own writes are not reloaded.
	if err := m.Put(ctx, 1, counterConfig{Count: 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Tenants this instance does not serve are ignored.
	if err := remote.SetCogConfig(ctx, "Counter", 99, json.RawMessage(`{"count":99}`)); err != nil {
		t.Fatalf("SetCogConfig: %v", err)
	}
	reads := kv.batchGets.Load()

	if err := remote.SetCogConfig(ctx, "Counter", 1, json.RawMessage(`{"count":42}`)); err != nil {
		t.Fatalf("SetCogConfig: %v", err)
	}
	waitFor(t, func() bool { return m.Get(1).Count == 42 })
	if got := kv.batchGets.Load() - reads; got != 1 {
		t.Errorf("watcher read the store %d times, want 1", got)
	}
	if m.Has(99) {
		t.Error("watcher hydrated a tenant this instance does not serve")
	}

	if _, err := remote.DeleteCogConfig(ctx, "Counter", 1); err != nil {
		t.Fatalf("DeleteCogConfig: %v", err)
	}
	waitFor(t, func() bool { return m.Get(1).Count == 0 })

	cancel()
	w.Wait()
}

func TestWatcher_InvalidatesCacheBeforeReload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewMemoryBus()
	inner := memory.New()
	cache := cached.New(inner, time.Hour)
	defer cache.Close()
	if err := inner.Set(ctx, "1.Counter", json.RawMessage(`{"count":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	local := configstore.New(cache, configstore.WithPublisher(bus, "cs-local"))
	// The remote writer shares the database but not the cache.
	remote := configstore.New(inner, configstore.WithPublisher(bus, "cs-remote"))

	m := New(configstore.NewTyped(local, "Counter", counterCodec), nil)
	r := NewRegistry(nil)
	if err := r.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.AttachAll(ctx, []model.TenantID{1}); err != nil {
		t.Fatalf("AttachAll: %v", err)
	}
	if got := m.Get(1).Count; got != 1 {
		t.Fatalf("Get(1).Count = %d, want 1", got)
	}

	w := NewWatcher(bus, r, "cs-local", nil, WithInvalidate(func(module string, tenant model.TenantID) {
		cache.Invalidate(keycodec.BuildKey(tenant, module))
	}))
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 2; i <= 5; i++ {
		doc := json.RawMessage(fmt.Sprintf(`{"count":%d}`, i))
		if err := remote.SetCogConfig(ctx, "Counter", 1, doc); err != nil {
			t.Fatalf("SetCogConfig: %v", err)
		}
		want := i
		waitFor(t, func() bool { return m.Get(1).Count == want })
	}

	if _, err := remote.DeleteCogConfig(ctx, "Counter", 1); err != nil {
		t.Fatalf("DeleteCogConfig: %v", err)
	}
	waitFor(t, func() bool { return m.Get(1).Count == 0 })

	cancel()
	w.Wait()
}

func TestWatcher_EmptyOriginReloadsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewMemoryBus()
	kv := newFlakyStore()
	// Writes through a store publishing to bus, module reads without events.
	admin := configstore.New(kv, configstore.WithPublisher(bus, "cs-local"))
	m := New(configstore.NewTyped(configstore.New(kv), "Counter", counterCodec), nil)
	r := NewRegistry(nil)
	if err := r.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.AttachAll(ctx, []model.TenantID{1}); err != nil {
		t.Fatalf("AttachAll: %v", err)
	}

	w := NewWatcher(bus, r, "", nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := admin.SetCogConfig(ctx, "Counter", 1, json.RawMessage(`{"count":8}`)); err != nil {
		t.Fatalf("SetCogConfig: %v", err)
	}
	waitFor(t, func() bool { return m.Get(1).Count == 8 })

	cancel()
	w.Wait()
}
