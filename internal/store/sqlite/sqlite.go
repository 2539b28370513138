// Package sqlite implements store.KeyValueStore on SQLite using
// modernc.org/sqlite. It is the durable backend for single-process hosts
// that do not run PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/derpz-discord/math-tavern-bot/internal/model"
	"github.com/derpz-discord/math-tavern-bot/internal/store"
)

// maxParams bounds the number of bound parameters per statement.
const maxParams = 900

// SQLiteStore implements store.KeyValueStore using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	strategy store.UpsertStrategy
	logger   *slog.Logger
}

// Compile-time check that SQLiteStore implements store.KeyValueStore.
var _ store.KeyValueStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path. Parent
// directories are created if needed and the schema is created if missing.
func NewSQLiteStore(path string, strategy store.UpsertStrategy) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "sqlite-store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows one writer at a time; a single connection turns
	// concurrent writers into queued ones instead of SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, strategy: strategy, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "upsert", strategy.String())
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS json_config_store (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL CHECK (json_valid(data)),
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM json_config_store WHERE id = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return json.RawMessage(data), nil
}

func (s *SQLiteStore) BatchGet(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	docs := make(map[string]json.RawMessage, len(keys))
	for start := 0; start < len(keys); start += maxParams {
		chunk := keys[start:min(start+maxParams, len(keys))]
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, data FROM json_config_store WHERE id IN (`+placeholders(len(chunk))+`)`,
			stringArgs(chunk)...,
		)
		if err != nil {
			return nil, fmt.Errorf("batch get %d keys: %w", len(keys), err)
		}
		err = scanDocsInto(rows, docs)
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("batch get %d keys: %w", len(keys), err)
		}
	}
	return docs, nil
}

// Scan matches the prefix with instr rather than LIKE, which is
// case-insensitive in SQLite and treats _ and % as wildcards.
func (s *SQLiteStore) Scan(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM json_config_store WHERE instr(id, ?) = 1 ORDER BY id`, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	defer rows.Close()
	docs := make(map[string]json.RawMessage)
	if err := scanDocsInto(rows, docs); err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	return docs, nil
}

// Records returns the full rows whose key starts with prefix, ordered by key.
func (s *SQLiteStore) Records(ctx context.Context, prefix string) ([]*model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data, version, created_at, updated_at
		FROM json_config_store WHERE instr(id, ?) = 1 ORDER BY id`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list records %q: %w", prefix, err)
	}
	defer rows.Close()

	var recs []*model.Record
	for rows.Next() {
		var (
			r    model.Record
			data string
		)
		if err := rows.Scan(&r.Key, &data, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.Data = json.RawMessage(data)
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) Set(ctx context.Context, key string, doc json.RawMessage) error {
	return s.BatchSet(ctx, map[string]json.RawMessage{key: doc})
}

func (s *SQLiteStore) BatchSet(ctx context.Context, docs map[string]json.RawMessage) error {
	if len(docs) == 0 {
		return nil
	}
	for k, doc := range docs {
		if err := store.ValidateDocument(k, doc); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if s.strategy == store.UpsertSelectThenBranch {
		err = selectThenBranch(ctx, tx, docs)
	} else {
		err = upsertOnConflict(ctx, tx, docs)
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("batch set %d keys (%s): %w", len(docs), s.strategy, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) (json.RawMessage, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM json_config_store WHERE id = ? RETURNING data`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete %q: %w", key, err)
	}
	return json.RawMessage(data), nil
}

func upsertOnConflict(ctx context.Context, tx *sql.Tx, docs map[string]json.RawMessage) error {
	keys := store.SortedKeys(docs)
	for start := 0; start < len(keys); start += maxParams / 2 {
		chunk := keys[start:min(start+maxParams/2, len(keys))]
		values := make([]string, len(chunk))
		args := make([]any, 0, 2*len(chunk))
		for i, k := range chunk {
			values[i] = "(?, ?)"
			args = append(args, k, string(docs[k]))
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO json_config_store (id, data)
			VALUES `+strings.Join(values, ", ")+`
			ON CONFLICT (id) DO UPDATE
			SET data = excluded.data,
				version = json_config_store.version + 1,
				updated_at = CURRENT_TIMESTAMP`,
			args...,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func selectThenBranch(ctx context.Context, tx *sql.Tx, docs map[string]json.RawMessage) error {
	keys := store.SortedKeys(docs)
	existing := make(map[string]json.RawMessage)
	for start := 0; start < len(keys); start += maxParams {
		chunk := keys[start:min(start+maxParams, len(keys))]
		rows, err := tx.QueryContext(ctx,
			`SELECT id, data FROM json_config_store WHERE id IN (`+placeholders(len(chunk))+`)`,
			stringArgs(chunk)...,
		)
		if err != nil {
			return fmt.Errorf("select existing: %w", err)
		}
		err = scanDocsInto(rows, existing)
		rows.Close()
		if err != nil {
			return fmt.Errorf("select existing: %w", err)
		}
	}

	for _, k := range keys {
		var err error
		if _, ok := existing[k]; ok {
			_, err = tx.ExecContext(ctx, `
				UPDATE json_config_store
				SET data = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?`, string(docs[k]), k)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO json_config_store (id, data) VALUES (?, ?)`, k, string(docs[k]))
		}
		if err != nil {
			return fmt.Errorf("write %q: %w", k, err)
		}
	}
	return nil
}

func scanDocsInto(rows *sql.Rows, docs map[string]json.RawMessage) error {
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return err
		}
		docs[id] = json.RawMessage(data)
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}
