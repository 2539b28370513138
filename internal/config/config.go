// Package config loads process settings from an optional TOML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/derpz-discord/math-tavern-bot/internal/store"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

type Config struct {
	Backend     string               // COGSTORE_BACKEND (postgres|sqlite|memory, default "postgres")
	DatabaseURL string               // COGSTORE_DATABASE_URL (required for postgres)
	SQLitePath  string               // COGSTORE_SQLITE_PATH (default "cogstore.db")
	Upsert      store.UpsertStrategy // COGSTORE_UPSERT (on-conflict|select-then-branch)
	CacheTTL    time.Duration        // COGSTORE_CACHE_TTL (default 0 = no cache)

	GRPCAddr  string     // COGSTORE_GRPC_ADDR (default ":9090")
	HTTPAddr  string     // COGSTORE_HTTP_ADDR (default ":8080")
	NATSURL   string     // COGSTORE_NATS_URL (optional, empty = no events)
	AuthToken string     // COGSTORE_AUTH_TOKEN (optional, empty = auth disabled)
	LogLevel  slog.Level // LOG_LEVEL (default "info")

	// Backup settings
	BackupInterval   time.Duration // COGSTORE_BACKUP_INTERVAL (default 3m; 0 = disabled)
	BackupS3Bucket   string        // COGSTORE_BACKUP_S3_BUCKET (enables S3 when set)
	BackupS3Endpoint string        // COGSTORE_BACKUP_S3_ENDPOINT (custom endpoint for MinIO)
	BackupS3Region   string        // COGSTORE_BACKUP_S3_REGION (default "us-east-1")
	BackupS3Key      string        // COGSTORE_BACKUP_S3_KEY (default "cogstore/backup.jsonl")
}

// fileConfig is the TOML layout. Every field is optional.
type fileConfig struct {
	Backend     string `toml:"backend"`
	DatabaseURL string `toml:"database_url"`
	SQLitePath  string `toml:"sqlite_path"`
	Upsert      string `toml:"upsert"`
	CacheTTL    string `toml:"cache_ttl"`
	GRPCAddr    string `toml:"grpc_addr"`
	HTTPAddr    string `toml:"http_addr"`
	NATSURL     string `toml:"nats_url"`
	AuthToken   string `toml:"auth_token"`
	LogLevel    string `toml:"log_level"`

	Backup struct {
		Interval   string `toml:"interval"`
		S3Bucket   string `toml:"s3_bucket"`
		S3Endpoint string `toml:"s3_endpoint"`
		S3Region   string `toml:"s3_region"`
		S3Key      string `toml:"s3_key"`
	} `toml:"backup"`
}

// Load reads the TOML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	var fc fileConfig
	if path != "" {
		md, err := toml.DecodeFile(path, &fc)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
		}
	}

	c := &Config{
		Backend:          envOrDefault("COGSTORE_BACKEND", or(fc.Backend, BackendPostgres)),
		DatabaseURL:      envOrDefault("COGSTORE_DATABASE_URL", fc.DatabaseURL),
		SQLitePath:       envOrDefault("COGSTORE_SQLITE_PATH", or(fc.SQLitePath, "cogstore.db")),
		GRPCAddr:         envOrDefault("COGSTORE_GRPC_ADDR", or(fc.GRPCAddr, ":9090")),
		HTTPAddr:         envOrDefault("COGSTORE_HTTP_ADDR", or(fc.HTTPAddr, ":8080")),
		NATSURL:          envOrDefault("COGSTORE_NATS_URL", fc.NATSURL),
		AuthToken:        envOrDefault("COGSTORE_AUTH_TOKEN", fc.AuthToken),
		BackupS3Bucket:   envOrDefault("COGSTORE_BACKUP_S3_BUCKET", fc.Backup.S3Bucket),
		BackupS3Endpoint: envOrDefault("COGSTORE_BACKUP_S3_ENDPOINT", fc.Backup.S3Endpoint),
		BackupS3Region:   envOrDefault("COGSTORE_BACKUP_S3_REGION", or(fc.Backup.S3Region, "us-east-1")),
		BackupS3Key:      envOrDefault("COGSTORE_BACKUP_S3_KEY", or(fc.Backup.S3Key, "cogstore/backup.jsonl")),
	}

	switch c.Backend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("COGSTORE_DATABASE_URL is required for the %s backend", c.Backend)
		}
	case BackendSQLite, BackendMemory:
	default:
		return nil, fmt.Errorf("COGSTORE_BACKEND: unknown backend %q", c.Backend)
	}

	upsert, err := store.ParseUpsertStrategy(envOrDefault("COGSTORE_UPSERT", fc.Upsert))
	if err != nil {
		return nil, fmt.Errorf("COGSTORE_UPSERT: %w", err)
	}
	c.Upsert = upsert

	if c.CacheTTL, err = parseDuration("COGSTORE_CACHE_TTL", or(fc.CacheTTL, "0")); err != nil {
		return nil, err
	}
	if c.BackupInterval, err = parseDuration("COGSTORE_BACKUP_INTERVAL", or(fc.Backup.Interval, "3m")); err != nil {
		return nil, err
	}

	if err := c.LogLevel.UnmarshalText([]byte(envOrDefault("LOG_LEVEL", or(fc.LogLevel, "info")))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	return c, nil
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
