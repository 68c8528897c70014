// Package sanitize prepares identifiers and message text for logs and tool output.
// Keys are truncated so logs never carry a full conversation or interaction id,
// and free text is stripped of terminal escapes before it is shown.
package sanitize

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// keyVisible is how many leading characters of a key survive truncation.
const keyVisible = 12

// TruncateKey shortens a key for logging. Short keys are returned unchanged.
func TruncateKey(key string) string {
	if len(key) <= keyVisible {
		return key
	}
	return key[:keyVisible] + "…"
}

// StripANSI removes ANSI escape sequences.
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// Preview returns s as a single line of at most max runes, for log lines and summaries.
func Preview(s string, max int) string {
	s = StripANSI(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
