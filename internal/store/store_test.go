package store

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseUpsertStrategy(t *testing.T) {
	for _, tc := range []struct {
		input   string
		want    UpsertStrategy
		wantErr bool
	}{
		{"", UpsertOnConflict, false},
		{"on-conflict", UpsertOnConflict, false},
		{"select-then-branch", UpsertSelectThenBranch, false},
		{"merge", 0, true},
	} {
		got, err := ParseUpsertStrategy(tc.input)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseUpsertStrategy(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseUpsertStrategy(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
	if s := UpsertSelectThenBranch.String(); s != "select-then-branch" {
		t.Errorf("String() = %q", s)
	}
}

func TestValidateDocument(t *testing.T) {
	if err := ValidateDocument("k", json.RawMessage(`{"a":1}`)); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}
	for _, doc := range []string{"", "{", "nope"} {
		if err := ValidateDocument("k", json.RawMessage(doc)); !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("ValidateDocument(%q) = %v, want ErrInvalidDocument", doc, err)
		}
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[string]json.RawMessage{"2.B": nil, "1.A": nil, "10.A": nil})
	want := []string{"1.A", "10.A", "2.B"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedKeys = %v, want %v", got, want)
		}
	}
}
