package sanitize

import "testing"

func TestTruncateKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"short", "conv-1", "conv-1"},
		{"exact", "gdk-task-123", "gdk-task-123"},
		{"long", "gdk-task-0123456789abcdef", "gdk-task-012…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := TruncateKey(tt.input); result != tt.expected {
				t.Errorf("TruncateKey(%q) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "color codes",
			input:    "\x1b[31mERROR\x1b[0m: something failed",
			expected: "ERROR: something failed",
		},
		{
			name:     "no ANSI",
			input:    "plain text message",
			expected: "plain text message",
		},
		{
			name:     "multiple codes",
			input:    "\x1b[1m\x1b[31mbold red\x1b[0m normal",
			expected: "bold red normal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StripANSI(tt.input)
			if result != tt.expected {
				t.Errorf("StripANSI(%q) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{"fits", "hello", 10, "hello"},
		{"newlines collapse", "line one\n\nline   two", 0, "line one line two"},
		{"truncated", "What is the refund policy?", 10, "What is..."},
		{"tiny max", "abcdef", 2, "ab"},
		{"escapes removed", "\x1b[32mok\x1b[0m", 10, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := Preview(tt.input, tt.max); result != tt.expected {
				t.Errorf("Preview(%q, %d) = %q, expected %q", tt.input, tt.max, result, tt.expected)
			}
		})
	}
}
