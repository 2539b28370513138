// Package backup dumps the configuration store as JSONL and restores it.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/derpz-discord/math-tavern-bot/internal/model"
	"github.com/derpz-discord/math-tavern-bot/internal/store"
)

const formatVersion = "1"

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	RecordCount int       `json:"record_count"`
}

// line wraps a single JSONL line with a type discriminator.
type line struct {
	Type string        `json:"type"`
	Data *model.Record `json:"data"`
}

// RecordLister is implemented by stores that keep row metadata. Exports
// from such stores carry version and timestamps.
type RecordLister interface {
	Records(ctx context.Context, prefix string) ([]*model.Record, error)
}

// ExportJSONL writes every document in kv as JSONL to w, sorted by key, and
// returns the number of records written.
func ExportJSONL(ctx context.Context, kv store.KeyValueStore, w io.Writer) (int, error) {
	records, err := listRecords(ctx, kv)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:     formatVersion,
		Type:        "header",
		Timestamp:   time.Now().UTC(),
		RecordCount: len(records),
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	for _, r := range records {
		if err := enc.Encode(line{Type: "record", Data: r}); err != nil {
			return 0, fmt.Errorf("encode record %s: %w", r.Key, err)
		}
	}
	return len(records), nil
}

func listRecords(ctx context.Context, kv store.KeyValueStore) ([]*model.Record, error) {
	if lister, ok := kv.(RecordLister); ok {
		records, err := lister.Records(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		return records, nil
	}

	docs, err := kv.Scan(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("scan store: %w", err)
	}
	records := make([]*model.Record, 0, len(docs))
	for _, key := range store.SortedKeys(docs) {
		records = append(records, &model.Record{Key: key, Data: docs[key]})
	}
	return records, nil
}

// ImportJSONL reads a dump written by ExportJSONL and writes every record
// into kv with one batch write. Existing documents with the same keys are
// replaced; other documents are left alone. It returns the number of
// records imported.
func ImportJSONL(ctx context.Context, kv store.KeyValueStore, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	docs := make(map[string]json.RawMessage)
	sawHeader := false
	n := 0
	for scanner.Scan() {
		n++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var l struct {
			Type    string          `json:"type"`
			Version string          `json:"version"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &l); err != nil {
			return 0, fmt.Errorf("line %d: %w", n, err)
		}
		switch l.Type {
		case "header":
			if l.Version != formatVersion {
				return 0, fmt.Errorf("line %d: unsupported dump version %q", n, l.Version)
			}
			sawHeader = true
		case "record":
			var rec model.Record
			if err := json.Unmarshal(l.Data, &rec); err != nil {
				return 0, fmt.Errorf("line %d: %w", n, err)
			}
			if rec.Key == "" {
				return 0, fmt.Errorf("line %d: record without key", n)
			}
			docs[rec.Key] = rec.Data
		default:
			return 0, fmt.Errorf("line %d: unknown record type %q", n, l.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read dump: %w", err)
	}
	if !sawHeader {
		return 0, errors.New("dump has no header")
	}

	if err := kv.BatchSet(ctx, docs); err != nil {
		return 0, fmt.Errorf("import %d records: %w", len(docs), err)
	}
	return len(docs), nil
}
