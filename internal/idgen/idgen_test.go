package idgen

import (
	"regexp"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	pattern := regexp.MustCompile(`^cs-[a-zA-Z0-9]{10}$`)
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id, err := Generate()
		if err != nil {
			t.Fatalf("Generate() error on iteration %d: %v", i, err)
		}
		if !pattern.MatchString(id) {
			t.Fatalf("Generate() = %q, does not match %s", id, pattern)
		}
		if seen[id] {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = true
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	id, err := GenerateWithPrefix("bot-")
	if err != nil {
		t.Fatalf("GenerateWithPrefix error: %v", err)
	}
	if !strings.HasPrefix(id, "bot-") || len(id) != len("bot-")+Length {
		t.Errorf("GenerateWithPrefix(\"bot-\") = %q", id)
	}
}

func TestInstanceID_Distinct(t *testing.T) {
	a, b := InstanceID(), InstanceID()
	if a == b {
		t.Fatalf("InstanceID returned %q twice", a)
	}
	if !strings.HasPrefix(a, DefaultPrefix) {
		t.Errorf("InstanceID() = %q, want prefix %q", a, DefaultPrefix)
	}
}
