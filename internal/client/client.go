// Package client provides a transport-agnostic interface for the cog config
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"
	"encoding/json"

	"github.com/derpz-discord/math-tavern-bot/internal/model"
)

// ConfigClient is the interface the cogstore CLI uses to talk to a running
// server.
type ConfigClient interface {
	// GetConfig returns the tenant's document for module. When the tenant
	// has none stored the server may answer with the module's built-in
	// default, flagged by Config.Default.
	GetConfig(ctx context.Context, module string, tenant model.TenantID) (*Config, error)
	// GetConfigs returns the stored documents for the tenants that have one.
	GetConfigs(ctx context.Context, module string, tenants []model.TenantID) (map[model.TenantID]json.RawMessage, error)
	SetConfig(ctx context.Context, module string, tenant model.TenantID, doc json.RawMessage) (*Config, error)
	DeleteConfig(ctx context.Context, module string, tenant model.TenantID) error
	// TenantConfigs returns every stored document of one tenant keyed by module.
	TenantConfigs(ctx context.Context, tenant model.TenantID) (map[string]json.RawMessage, error)

	Health(ctx context.Context) (string, error)

	Close() error
}

// Config is a single document as returned by the server.
type Config struct {
	Module  string          `json:"module"`
	Tenant  model.TenantID  `json:"tenant,string"`
	Data    json.RawMessage `json:"data"`
	Default bool            `json:"default,omitempty"`
}
