package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorKey    = 179 // amber
	colorMuted  = 245 // medium gray
	colorError  = 203 // red
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderKey returns s styled as a storage key or module name.
func RenderKey(s string) string { return render(colorKey, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderError returns s in the error (red) color.
func RenderError(s string) string { return render(colorError, s) }

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// FormatDocument renders a JSON document for display. When pretty is set the
// document is indented; otherwise it is compacted onto one line. Invalid JSON
// is returned unchanged.
func FormatDocument(doc json.RawMessage, pretty bool) string {
	var buf bytes.Buffer
	var err error
	if pretty {
		err = json.Indent(&buf, doc, "", "  ")
	} else {
		err = json.Compact(&buf, doc)
	}
	if err != nil {
		return string(doc)
	}
	return buf.String()
}
