// Package storetest holds behavioural tests shared by every
// store.KeyValueStore implementation.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/derpz-discord/math-tavern-bot/internal/store"
)

// Factory returns a new, empty store. The store is closed by Run.
type Factory func(t *testing.T) store.KeyValueStore

// Run exercises the store.KeyValueStore contract against stores built by
// newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	for _, tc := range []struct {
		name string
		fn   func(t *testing.T, s store.KeyValueStore)
	}{
		{"GetMissing", testGetMissing},
		{"SetThenGet", testSetThenGet},
		{"SetOverwrites", testSetOverwrites},
		{"SetRejectsInvalidJSON", testSetRejectsInvalidJSON},
		{"BatchGetOnlyPresent", testBatchGetOnlyPresent},
		{"BatchGetEmpty", testBatchGetEmpty},
		{"BatchSetMixedNewAndExisting", testBatchSetMixed},
		{"BatchSetEmpty", testBatchSetEmpty},
		{"Scan", testScan},
		{"Delete", testDelete},
		{"ConcurrentSetSameKey", testConcurrentSetSameKey},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tc.fn(t, s)
		})
	}
}

// assertJSONEqual compares documents semantically, ignoring whitespace and
// key order.
func assertJSONEqual(t *testing.T, got, want json.RawMessage) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("unmarshal got %s: %v", got, err)
	}
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatalf("unmarshal want %s: %v", want, err)
	}
	gb, _ := json.Marshal(g)
	wb, _ := json.Marshal(w)
	if string(gb) != string(wb) {
		t.Errorf("document = %s, want %s", gb, wb)
	}
}

func testGetMissing(t *testing.T, s store.KeyValueStore) {
	_, err := s.Get(context.Background(), "1.Missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get missing key error = %v, want ErrNotFound", err)
	}
}

func testSetThenGet(t *testing.T, s store.KeyValueStore) {
	ctx := context.Background()
	doc := json.RawMessage(`{"channel_purge_interval": {"100": 3600}}`)
	if err := s.Set(ctx, "42.AutoPurge", doc); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "42.AutoPurge")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertJSONEqual(t, got, doc)
}

func testSetOverwrites(t *testing.T, s store.KeyValueStore) {
	ctx := context.Background()
	if err := s.Set(ctx, "1.Pin", json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "1.Pin", json.RawMessage(`{"v":2}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "1.Pin")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertJSONEqual(t, got, json.RawMessage(`{"v":2}`))
}

func testSetRejectsInvalidJSON(t *testing.T, s store.KeyValueStore) {
	err := s.Set(context.Background(), "1.Pin", json.RawMessage(`{"v":`))
	if !errors.Is(err, store.ErrInvalidDocument) {
		t.Fatalf("Set invalid JSON error = %v, want ErrInvalidDocument", err)
	}
}

func testBatchGetOnlyPresent(t *testing.T, s store.KeyValueStore) {
	ctx := context.Background()
	if err := s.Set(ctx, "1.Pin", json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.BatchGet(ctx, []string{"1.Pin", "2.Pin", "3.Pin"})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("BatchGet returned %d docs, want 1: %v", len(got), got)
	}
	assertJSONEqual(t, got["1.Pin"], json.RawMessage(`{"a":1}`))
}

func testBatchGetEmpty(t *testing.T, s store.KeyValueStore) {
	got, err := s.BatchGet(context.Background(), nil)
	if err != nil {
		t.Fatalf("BatchGet(nil): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("BatchGet(nil) = %v, want empty", got)
	}
}

func testBatchSetMixed(t *testing.T, s store.KeyValueStore) {
	ctx := context.Background()
	if err := s.Set(ctx, "1.Pin", json.RawMessage(`{"old":true}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	docs := map[string]json.RawMessage{
		"1.Pin": json.RawMessage(`{"old":false}`),
		"2.Pin": json.RawMessage(`{"new":true}`),
		"3.Pin": json.RawMessage(`[1,2,3]`),
	}
	if err := s.BatchSet(ctx, docs); err != nil {
		t.Fatalf("BatchSet: %v", err)
	}
	for k, want := range docs {
		got, err := s.Get(ctx, k)
		if err != nil {
			t.Fatalf("Get(%q): %v", k, err)
		}
		assertJSONEqual(t, got, want)
	}
}

func testBatchSetEmpty(t *testing.T, s store.KeyValueStore) {
	if err := s.BatchSet(context.Background(), map[string]json.RawMessage{}); err != nil {
		t.Fatalf("BatchSet(empty): %v", err)
	}
}

func testScan(t *testing.T, s store.KeyValueStore) {
	ctx := context.Background()
	docs := map[string]json.RawMessage{
		"1.Pin":       json.RawMessage(`{}`),
		"1.AutoPurge": json.RawMessage(`{}`),
		"10.Pin":      json.RawMessage(`{}`),
		"2.Pin":       json.RawMessage(`{}`),
		"1_weird.Pin": json.RawMessage(`{}`),
	}
	if err := s.BatchSet(ctx, docs); err != nil {
		t.Fatalf("BatchSet: %v", err)
	}
	got, err := s.Scan(ctx, "1.")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Scan(\"1.\") returned %d docs, want 2: %v", len(got), got)
	}
	for _, k := range []string{"1.Pin", "1.AutoPurge"} {
		if _, ok := got[k]; !ok {
			t.Errorf("Scan result missing %q", k)
		}
	}

	// LIKE wildcards in the prefix must match literally.
	literal, err := s.Scan(ctx, "1_")
	if err != nil {
		t.Fatalf("Scan(\"1_\"): %v", err)
	}
	if len(literal) != 1 {
		t.Errorf("Scan(\"1_\") returned %d docs, want 1: %v", len(literal), literal)
	}

	all, err := s.Scan(ctx, "")
	if err != nil {
		t.Fatalf("Scan(\"\"): %v", err)
	}
	if len(all) != len(docs) {
		t.Errorf("Scan(\"\") returned %d docs, want %d", len(all), len(docs))
	}
}

func testDelete(t *testing.T, s store.KeyValueStore) {
	ctx := context.Background()
	if err := s.Set(ctx, "1.Pin", json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	removed, err := s.Delete(ctx, "1.Pin")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	assertJSONEqual(t, removed, json.RawMessage(`{"a":1}`))

	if _, err := s.Get(ctx, "1.Pin"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
	if _, err := s.Delete(ctx, "1.Pin"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

// testConcurrentSetSameKey checks that racing writers leave exactly one of
// the submitted payloads behind, never a blend.
func testConcurrentSetSameKey(t *testing.T, s store.KeyValueStore) {
	ctx := context.Background()
	const writers = 8
	payloads := make(map[string]bool, writers)
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		doc := fmt.Sprintf(`{"writer":%d,"items":[%d,%d,%d]}`, i, i, i, i)
		payloads[doc] = true
		wg.Add(1)
		go func(doc string) {
			defer wg.Done()
			if err := s.Set(ctx, "7.AutoPurge", json.RawMessage(doc)); err != nil {
				errs <- err
			}
		}(doc)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Set: %v", err)
	}

	got, err := s.Get(ctx, "7.AutoPurge")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var v struct {
		Writer int   `json:"writer"`
		Items  []int `json:"items"`
	}
	if err := json.Unmarshal(got, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := fmt.Sprintf(`{"writer":%d,"items":[%d,%d,%d]}`, v.Writer, v.Writer, v.Writer, v.Writer)
	if !payloads[want] {
		t.Fatalf("stored document %s is not one of the written payloads", got)
	}
	for _, item := range v.Items {
		if item != v.Writer {
			t.Fatalf("stored document %s mixes payloads", got)
		}
	}
}
