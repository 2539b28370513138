package postgres

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/derpz-discord/math-tavern-bot/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRecord scans a single row into a model.Record.
// The row must contain columns in the order defined by recordColumns.
func scanRecord(row scannable) (*model.Record, error) {
	var r model.Record
	var data []byte
	if err := row.Scan(&r.Key, &data, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Data = json.RawMessage(data)
	return &r, nil
}

// scanRecords scans multiple rows into a slice of model.Record pointers.
func scanRecords(rows *sql.Rows) ([]*model.Record, error) {
	var recs []*model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// scanDocs scans (id, data) rows into a key -> document map.
func scanDocs(rows *sql.Rows) (map[string]json.RawMessage, error) {
	docs := make(map[string]json.RawMessage)
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		docs[id] = json.RawMessage(data)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// scanIDs scans single-column id rows into a set.
func scanIDs(rows *sql.Rows) (map[string]bool, error) {
	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// likePrefix escapes LIKE metacharacters in prefix and appends the
// trailing wildcard. The matching query uses ESCAPE '\'.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
