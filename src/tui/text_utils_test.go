package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

func assertLinesFit(t *testing.T, text string, width int) {
	t.Helper()
	for i, line := range strings.Split(text, "\n") {
		if w := ansi.StringWidth(line); w > width {
			t.Errorf("line %d exceeds width %d: width=%d, content=%q", i, width, w, line)
		}
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
	}{
		{"short", "hello world", 20},
		{"exact", "hello world", 11},
		{"multiple lines", "hello world this is a test", 15},
		{"long word then short", "verylongwordthatdoesntfit short", 20},
		{"wide runes", "Hello 世界 this is a test with emoji 🎉 and more text", 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertLinesFit(t, Wrap(tt.text, tt.width), tt.width)
		})
	}
}

func TestWrap_FitsUnchanged(t *testing.T) {
	if got := Wrap("hello world", 11); got != "hello world" {
		t.Errorf("expected 'hello world', got %q", got)
	}
}

func TestWrap_BreaksLongKeys(t *testing.T) {
	// Task and correlation ids have no spaces.
	text := "gdk-task-9f8e7d6c5b4a39281706f5e4d3c2b1a0-a2a_subtask_0123456789abcdef"
	result := Wrap(text, 20)

	lines := strings.Split(result, "\n")
	if len(lines) < 2 {
		t.Fatalf("expected the key to be broken into multiple lines, got %q", result)
	}
	assertLinesFit(t, result, 20)
	if got := strings.ReplaceAll(result, "\n", ""); got != text {
		t.Errorf("content was modified during wrapping\nexpected: %s\ngot:      %s", text, got)
	}
}

func TestWrap_IgnoresEscapeSequences(t *testing.T) {
	text := "\x1b[31mdatabase unavailable\x1b[0m"
	if got := Wrap(text, 21); ansi.Strip(got) != "database unavailable" {
		t.Errorf("styled text that fits should not wrap, got %q", got)
	}
}

func TestWrap_Degenerate(t *testing.T) {
	if got := Wrap("", 20); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	if got := Wrap("hello world", 0); got != "hello world" {
		t.Errorf("expected original text for zero width, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		max      int
		ellipsis bool
		want     string
	}{
		{"fits", "short", 10, true, "short"},
		{"trimmed first", "  short  ", 5, true, "short"},
		{"ellipsis", "this is a very long text", 10, true, "this is..."},
		{"no ellipsis", "this is a very long text", 10, false, "this is a "},
		{"zero", "text", 0, true, ""},
		{"wide runes", "世界世界世界", 5, false, "世界"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.text, tt.max, tt.ellipsis); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
		})
	}
}

func TestTruncateAndPad(t *testing.T) {
	for _, text := range []string{"short", "exactly-10", "much longer than ten"} {
		if w := VisualWidth(TruncateAndPad(text, 10, true)); w != 10 {
			t.Errorf("TruncateAndPad(%q) width = %d, want 10", text, w)
		}
	}
}

func TestOneLine(t *testing.T) {
	got := OneLine("store unavailable:\n\t\x1b[1mconnection refused\x1b[0m ")
	if got != "store unavailable: connection refused" {
		t.Errorf("OneLine = %q", got)
	}
}
