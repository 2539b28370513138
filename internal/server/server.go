// Package server exposes the configuration store over an HTTP admin API and
// a gRPC health endpoint.
package server

import (
	"log/slog"

	"github.com/derpz-discord/math-tavern-bot/internal/configstore"
)

// ConfigServer serves the admin API on top of a ConfigStore.
type ConfigServer struct {
	store  *configstore.ConfigStore
	hub    *EventHub
	logger *slog.Logger
}

// NewConfigServer returns a ConfigServer. hub may be nil, in which case the
// event stream endpoint is not registered.
func NewConfigServer(cs *configstore.ConfigStore, hub *EventHub, logger *slog.Logger) *ConfigServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigServer{
		store:  cs,
		hub:    hub,
		logger: logger.With("component", "http"),
	}
}
