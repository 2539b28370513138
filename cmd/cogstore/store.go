package main

import (
	"fmt"
	"log/slog"

	"github.com/derpz-discord/math-tavern-bot/internal/config"
	"github.com/derpz-discord/math-tavern-bot/internal/store"
	"github.com/derpz-discord/math-tavern-bot/internal/store/memory"
	"github.com/derpz-discord/math-tavern-bot/internal/store/postgres"
	"github.com/derpz-discord/math-tavern-bot/internal/store/sqlite"
)

// openStore opens the configured backend. The result is not wrapped in a
// cache.
func openStore(cfg *config.Config, logger *slog.Logger) (store.KeyValueStore, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		s, err := postgres.New(cfg.DatabaseURL, postgres.WithUpsertStrategy(cfg.Upsert))
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		logger.Info("using postgres backend", "upsert", cfg.Upsert)
		return s, nil
	case config.BackendSQLite:
		s, err := sqlite.NewSQLiteStore(cfg.SQLitePath, cfg.Upsert)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		logger.Info("using sqlite backend", "path", cfg.SQLitePath, "upsert", cfg.Upsert)
		return s, nil
	case config.BackendMemory:
		logger.Warn("using in-memory backend, documents are lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
