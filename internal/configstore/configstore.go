// Package configstore stores per-guild cog configuration documents on top of
// a store.KeyValueStore.
//
// Each (tenant, module) pair owns one JSON document under the composite key
// built by keycodec. ConfigStore works on raw documents; Typed adds a
// module's Codec so callers deal in their own configuration types.
package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/derpz-discord/math-tavern-bot/internal/events"
	"github.com/derpz-discord/math-tavern-bot/internal/keycodec"
	"github.com/derpz-discord/math-tavern-bot/internal/model"
	"github.com/derpz-discord/math-tavern-bot/internal/store"
)

// ConfigStore maps (tenant, module) pairs onto a KeyValueStore.
type ConfigStore struct {
	kv        store.KeyValueStore
	publisher events.Publisher
	origin    string
	logger    *slog.Logger
}

// Option configures a ConfigStore.
type Option func(*ConfigStore)

// WithPublisher publishes a change event after every successful write.
// origin identifies this process in the event payload.
func WithPublisher(p events.Publisher, origin string) Option {
	return func(s *ConfigStore) {
		s.publisher = p
		s.origin = origin
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *ConfigStore) { s.logger = l }
}

func New(kv store.KeyValueStore, opts ...Option) *ConfigStore {
	s := &ConfigStore{
		kv:        kv,
		publisher: &events.NoopPublisher{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cog_config_store")
	return s
}

// KV returns the underlying store for callers that need raw access.
func (s *ConfigStore) KV() store.KeyValueStore {
	return s.kv
}

// Origin returns the instance id stamped on published events.
func (s *ConfigStore) Origin() string {
	return s.origin
}

// GetCogConfig fetches the documents of module for every tenant in one batch
// read. The returned map holds only tenants that have a stored document;
// callers default the rest. A nil map means nothing was found at all.
func (s *ConfigStore) GetCogConfig(ctx context.Context, tenants []model.TenantID, module string) (map[model.TenantID]json.RawMessage, error) {
	if len(tenants) == 0 {
		return nil, nil
	}
	docs, err := s.kv.BatchGet(ctx, keycodec.BuildKeys(tenants, module))
	if err != nil {
		return nil, fmt.Errorf("get %s config for %d tenants: %w", module, len(tenants), err)
	}
	s.logger.Debug("cog config fetched", "module", module, "requested", len(tenants), "found", len(docs))
	if len(docs) == 0 {
		return nil, nil
	}

	out := make(map[model.TenantID]json.RawMessage, len(docs))
	for key, doc := range docs {
		tenant, _, err := keycodec.SplitKey(key)
		if err != nil {
			s.logger.Error("skipping stored config with malformed key", "module", module, "key", key, "err", err)
			continue
		}
		out[tenant] = doc
	}
	return out, nil
}

// SetCogConfig writes the document of module for one tenant.
func (s *ConfigStore) SetCogConfig(ctx context.Context, module string, tenant model.TenantID, doc json.RawMessage) error {
	s.logger.Info("updating cog config", "module", module, "tenant", tenant)
	s.logger.Debug("persisted config", "module", module, "tenant", tenant, "doc", string(doc))

	if err := s.kv.Set(ctx, keycodec.BuildKey(tenant, module), doc); err != nil {
		return fmt.Errorf("set %s config for tenant %d: %w", module, tenant, err)
	}
	s.publish(ctx, events.ModuleTopic(events.TopicConfigUpdated, module), events.ConfigChanged{
		Module: module,
		Tenant: tenant,
		Origin: s.origin,
	})
	return nil
}

// BatchSetCogConfig writes the documents of module for many tenants at once.
// It is used to flush a module's whole map on detach.
func (s *ConfigStore) BatchSetCogConfig(ctx context.Context, module string, docs map[model.TenantID]json.RawMessage) error {
	if len(docs) == 0 {
		return nil
	}
	s.logger.Debug("updating cog config in batch", "module", module, "tenants", len(docs))

	kvDocs := make(map[string]json.RawMessage, len(docs))
	for tenant, doc := range docs {
		kvDocs[keycodec.BuildKey(tenant, module)] = doc
	}
	if err := s.kv.BatchSet(ctx, kvDocs); err != nil {
		return fmt.Errorf("batch set %s config for %d tenants: %w", module, len(docs), err)
	}
	s.publish(ctx, events.ModuleTopic(events.TopicConfigFlushed, module), events.ConfigFlushed{
		Module:  module,
		Tenants: len(docs),
		Origin:  s.origin,
	})
	return nil
}

// DeleteCogConfig removes the document of module for one tenant and returns
// it. Rows are never removed automatically; this is the only way to drop one.
func (s *ConfigStore) DeleteCogConfig(ctx context.Context, module string, tenant model.TenantID) (json.RawMessage, error) {
	doc, err := s.kv.Delete(ctx, keycodec.BuildKey(tenant, module))
	if err != nil {
		return nil, fmt.Errorf("delete %s config for tenant %d: %w", module, tenant, err)
	}
	s.logger.Info("deleted cog config", "module", module, "tenant", tenant)
	s.publish(ctx, events.ModuleTopic(events.TopicConfigDeleted, module), events.ConfigChanged{
		Module: module,
		Tenant: tenant,
		Origin: s.origin,
	})
	return doc, nil
}

// TenantConfigs returns every module document stored for tenant, keyed by
// module name.
func (s *ConfigStore) TenantConfigs(ctx context.Context, tenant model.TenantID) (map[string]json.RawMessage, error) {
	docs, err := s.kv.Scan(ctx, keycodec.TenantPrefix(tenant))
	if err != nil {
		return nil, fmt.Errorf("list configs for tenant %d: %w", tenant, err)
	}
	out := make(map[string]json.RawMessage, len(docs))
	for key, doc := range docs {
		_, module, err := keycodec.SplitKey(key)
		if err != nil {
			s.logger.Error("skipping stored config with malformed key", "key", key, "err", err)
			continue
		}
		out[module] = doc
	}
	return out, nil
}

// publish sends an event. Failures are logged and never fail the write that
// triggered them.
func (s *ConfigStore) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish config event", "topic", topic, "err", err)
	}
}
