package ui

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRender_NoColor(t *testing.T) {
	prev := noColor
	t.Cleanup(func() { noColor = prev })

	noColor = false
	if got := RenderKey("AutoPurge"); !strings.Contains(got, "\x1b[38;5;179m") {
		t.Errorf("RenderKey() = %q, want ANSI escape", got)
	}

	ForceNoColor()
	for _, fn := range []func(string) string{RenderAccent, RenderKey, RenderMuted, RenderError} {
		if got := fn("plain"); got != "plain" {
			t.Errorf("render with color disabled = %q, want %q", got, "plain")
		}
	}
}

func TestFormatDocument(t *testing.T) {
	doc := json.RawMessage(`{ "enabled" : true }`)
	if got := FormatDocument(doc, false); got != `{"enabled":true}` {
		t.Errorf("compact = %q", got)
	}
	if got := FormatDocument(doc, true); got != "{\n  \"enabled\": true\n}" {
		t.Errorf("pretty = %q", got)
	}
	if got := FormatDocument(json.RawMessage(`{bad`), true); got != `{bad` {
		t.Errorf("invalid = %q, want input unchanged", got)
	}
}

func TestShouldUseColor_NoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if ShouldUseColor() {
		t.Error("ShouldUseColor() = true with NO_COLOR set")
	}
}

func TestShouldUseColor_Force(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	if !ShouldUseColor() {
		t.Error("ShouldUseColor() = false with CLICOLOR_FORCE=1")
	}
}
