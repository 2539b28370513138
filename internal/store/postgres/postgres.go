// Package postgres implements store.KeyValueStore backed by PostgreSQL.
//
// Documents live in a single json_config_store table with a text primary
// key and a JSONB data column. The schema is applied with embedded
// golang-migrate migrations when the store is opened.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/derpz-discord/math-tavern-bot/internal/model"
	"github.com/derpz-discord/math-tavern-bot/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.KeyValueStore backed by a PostgreSQL database.
type PostgresStore struct {
	db       *sql.DB
	strategy store.UpsertStrategy
}

// Compile-time check that PostgresStore implements store.KeyValueStore.
var _ store.KeyValueStore = (*PostgresStore)(nil)

// Option configures a PostgresStore.
type Option func(*PostgresStore)

// WithUpsertStrategy selects how Set and BatchSet write rows. The default is
// store.UpsertOnConflict.
func WithUpsertStrategy(s store.UpsertStrategy) Option {
	return func(p *PostgresStore) { p.strategy = s }
}

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewWithDB(db, opts...), nil
}

// NewWithDB wraps an already-open database. No migrations are run.
func NewWithDB(db *sql.DB, opts ...Option) *PostgresStore {
	s := &PostgresStore{db: db, strategy: store.UpsertOnConflict}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Strategy reports the upsert strategy in use.
func (s *PostgresStore) Strategy() store.UpsertStrategy {
	return s.strategy
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	doc, err := queryGet(ctx, s.db, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return doc, nil
}

func (s *PostgresStore) BatchGet(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	if len(keys) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	docs, err := queryBatchGet(ctx, s.db, keys)
	if err != nil {
		return nil, fmt.Errorf("batch get %d keys: %w", len(keys), err)
	}
	return docs, nil
}

func (s *PostgresStore) Scan(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	docs, err := queryScan(ctx, s.db, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	return docs, nil
}

// Records returns the full rows whose key starts with prefix, ordered by key.
func (s *PostgresStore) Records(ctx context.Context, prefix string) ([]*model.Record, error) {
	recs, err := queryRecords(ctx, s.db, prefix)
	if err != nil {
		return nil, fmt.Errorf("list records %q: %w", prefix, err)
	}
	return recs, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, doc json.RawMessage) error {
	if err := store.ValidateDocument(key, doc); err != nil {
		return err
	}
	if s.strategy == store.UpsertOnConflict {
		if err := queryUpsert(ctx, s.db, key, doc); err != nil {
			return fmt.Errorf("set %q: %w", key, err)
		}
		return nil
	}
	return s.BatchSet(ctx, map[string]json.RawMessage{key: doc})
}

func (s *PostgresStore) BatchSet(ctx context.Context, docs map[string]json.RawMessage) error {
	if len(docs) == 0 {
		return nil
	}
	for k, doc := range docs {
		if err := store.ValidateDocument(k, doc); err != nil {
			return err
		}
	}
	err := s.runInTransaction(ctx, func(tx executor) error {
		if s.strategy == store.UpsertSelectThenBranch {
			return querySelectThenBranch(ctx, tx, docs)
		}
		return queryBatchUpsert(ctx, tx, docs)
	})
	if err != nil {
		return fmt.Errorf("batch set %d keys (%s): %w", len(docs), s.strategy, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) (json.RawMessage, error) {
	doc, err := queryDelete(ctx, s.db, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete %q: %w", key, err)
	}
	return doc, nil
}

// runInTransaction begins a database transaction, calls fn, and commits on
// success or rolls back on error.
func (s *PostgresStore) runInTransaction(ctx context.Context, fn func(tx executor) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
