package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileSink persists each alert as its own JSON file, grounded on the
// teacher's outbox.Outbox append-only directory pattern
// (internal/outbox/outbox.go), adapted to spec.md §6.3's one-file-per-alert
// naming scheme instead of one shared JSONL file.
type FileSink struct {
	dir string
}

// NewFileSink targets dir for alert files, creating it on first Accept.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Accept writes a alert to <kind>_<asset>_<utcYYYYMMDD_HHMMSS>.json,
// per spec.md §6.3.
func (f *FileSink) Accept(ctx context.Context, a Alert) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("alerts: mkdir: %w", err)
	}

	ts := time.UnixMilli(a.Timestamp).UTC().Format("20060102_150405")
	asset := sanitizeForFilename(a.Asset)
	name := fmt.Sprintf("%s_%s_%s.json", strings.ToLower(string(a.Kind)), asset, ts)
	path := filepath.Join(f.dir, name)

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("alerts: encode: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".alert-*.tmp")
	if err != nil {
		return fmt.Errorf("alerts: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("alerts: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func sanitizeForFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
