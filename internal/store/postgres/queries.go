package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/derpz-discord/math-tavern-bot/internal/model"
	"github.com/derpz-discord/math-tavern-bot/internal/store"
)

// recordColumns is the column list used for SELECT statements returning full rows.
const recordColumns = `id, data, version, created_at, updated_at`

// maxRowsPerInsert bounds a multi-row INSERT well below PostgreSQL's
// 65535 bind-parameter limit.
const maxRowsPerInsert = 500

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryGet(ctx context.Context, db executor, key string) (json.RawMessage, error) {
	var data []byte
	err := db.QueryRowContext(ctx, `SELECT data FROM json_config_store WHERE id = $1`, key).Scan(&data)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func queryBatchGet(ctx context.Context, db executor, keys []string) (map[string]json.RawMessage, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, data FROM json_config_store WHERE id = ANY($1)`,
		pq.Array(keys),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocs(rows)
}

func queryScan(ctx context.Context, db executor, prefix string) (map[string]json.RawMessage, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, data FROM json_config_store WHERE id LIKE $1 ESCAPE '\' ORDER BY id`,
		likePrefix(prefix),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocs(rows)
}

func queryRecords(ctx context.Context, db executor, prefix string) ([]*model.Record, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM json_config_store WHERE id LIKE $1 ESCAPE '\' ORDER BY id`,
		likePrefix(prefix),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func queryUpsert(ctx context.Context, db executor, key string, doc json.RawMessage) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO json_config_store (id, data)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data,
			version = json_config_store.version + 1,
			updated_at = NOW()`,
		key, []byte(doc),
	)
	return err
}

// queryBatchUpsert writes every document with multi-row
// INSERT ... ON CONFLICT statements in ascending key order.
func queryBatchUpsert(ctx context.Context, db executor, docs map[string]json.RawMessage) error {
	keys := store.SortedKeys(docs)
	for start := 0; start < len(keys); start += maxRowsPerInsert {
		end := min(start+maxRowsPerInsert, len(keys))
		chunk := keys[start:end]

		values := make([]string, len(chunk))
		args := make([]any, 0, 2*len(chunk))
		for i, k := range chunk {
			values[i] = fmt.Sprintf("($%d, $%d)", 2*i+1, 2*i+2)
			args = append(args, k, []byte(docs[k]))
		}

		_, err := db.ExecContext(ctx, `
		INSERT INTO json_config_store (id, data)
		VALUES `+strings.Join(values, ", ")+`
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data,
			version = json_config_store.version + 1,
			updated_at = NOW()`,
			args...,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// querySelectThenBranch is the read-then-write upsert: it looks up which
// keys already exist, updates those one at a time and bulk-inserts the rest.
// See store.UpsertSelectThenBranch for the race this admits.
func querySelectThenBranch(ctx context.Context, db executor, docs map[string]json.RawMessage) error {
	keys := store.SortedKeys(docs)

	rows, err := db.QueryContext(ctx,
		`SELECT id FROM json_config_store WHERE id = ANY($1)`,
		pq.Array(keys),
	)
	if err != nil {
		return fmt.Errorf("select existing: %w", err)
	}
	existing, err := scanIDs(rows)
	rows.Close()
	if err != nil {
		return fmt.Errorf("select existing: %w", err)
	}

	var fresh []string
	for _, k := range keys {
		if !existing[k] {
			fresh = append(fresh, k)
			continue
		}
		_, err := db.ExecContext(ctx, `
			UPDATE json_config_store
			SET data = $2, version = version + 1, updated_at = NOW()
			WHERE id = $1`,
			k, []byte(docs[k]),
		)
		if err != nil {
			return fmt.Errorf("update %q: %w", k, err)
		}
	}

	for start := 0; start < len(fresh); start += maxRowsPerInsert {
		end := min(start+maxRowsPerInsert, len(fresh))
		chunk := fresh[start:end]

		values := make([]string, len(chunk))
		args := make([]any, 0, 2*len(chunk))
		for i, k := range chunk {
			values[i] = fmt.Sprintf("($%d, $%d)", 2*i+1, 2*i+2)
			args = append(args, k, []byte(docs[k]))
		}
		_, err := db.ExecContext(ctx,
			`INSERT INTO json_config_store (id, data) VALUES `+strings.Join(values, ", "),
			args...,
		)
		if err != nil {
			return fmt.Errorf("insert %d new keys: %w", len(chunk), err)
		}
	}
	return nil
}

func queryDelete(ctx context.Context, db executor, key string) (json.RawMessage, error) {
	var data []byte
	err := db.QueryRowContext(ctx,
		`DELETE FROM json_config_store WHERE id = $1 RETURNING data`, key,
	).Scan(&data)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
