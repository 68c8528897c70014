// Package archive writes raw envelopes to disk and feeds archived files
// back through the ingestion driver.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
)

const maxLabelLen = 64

// Sink writes one file per envelope: msg_<agent>_<ulid>.json. ULIDs sort by
// creation time, so a directory listing is in arrival order.
type Sink struct {
	dir string
}

// NewSink creates dir if needed.
func NewSink(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir %s: %w", dir, err)
	}
	return &Sink{dir: dir}, nil
}

func (s *Sink) Dir() string { return s.dir }

// Archive writes raw under a name derived from label. The file appears
// atomically; readers never see a partial envelope.
func (s *Sink) Archive(ctx context.Context, raw []byte, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := FileName(label, ulid.Make())

	tmp, err := os.CreateTemp(s.dir, ".msg-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(pretty(raw)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}

// FileName builds the archive file name for label and id.
func FileName(label string, id ulid.ULID) string {
	return "msg_" + cleanLabel(label) + "_" + id.String() + ".json"
}

func cleanLabel(label string) string {
	label = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, label)
	if len(label) > maxLabelLen {
		label = label[:maxLabelLen]
	}
	if label == "" {
		return "unknown"
	}
	return label
}

// pretty indents JSON envelopes and leaves anything else untouched.
func pretty(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return raw
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
