package write

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TempPattern is the os.CreateTemp pattern used for in-progress files.
const TempPattern = ".vp-*"

// Temp is a temporary file created in the directory of its final target.
// It becomes visible at the target only on Commit.
type Temp struct {
	f       *os.File
	target  string
	modTime time.Time
	closed  bool
	done    bool
}

// CreateTemp creates an exclusive temporary sibling of target.
func CreateTemp(target string) (*Temp, error) {
	f, err := os.CreateTemp(filepath.Dir(target), TempPattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &Temp{f: f, target: target}, nil
}

// File returns the underlying temp file.
func (t *Temp) File() *os.File { return t.f }

// Name returns the temp file path.
func (t *Temp) Name() string { return t.f.Name() }

// Target returns the path the temp file is committed to.
func (t *Temp) Target() string { return t.target }

// Write implements io.Writer.
func (t *Temp) Write(p []byte) (int, error) { return t.f.Write(p) }

// SetModTime sets the modification time applied on Commit.
func (t *Temp) SetModTime(mt time.Time) { t.modTime = mt }

// Commit closes the temp file and renames it over the target. Rename
// replaces an existing target atomically. On failure the temp file is removed.
func (t *Temp) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	tmpPath := t.f.Name()

	if err := t.close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if !t.modTime.IsZero() {
		if err := os.Chtimes(tmpPath, t.modTime, t.modTime); err != nil {
			_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("chtimes: %w", err)
		}
	}
	if err := os.Rename(tmpPath, t.target); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", t.target, err)
	}
	return nil
}

// Discard closes and removes the temp file. It is a no-op after Commit.
func (t *Temp) Discard() error {
	if t.done {
		return nil
	}
	t.done = true
	_ = t.close() //nolint:errcheck // we're cleaning up
	return os.Remove(t.f.Name())
}

func (t *Temp) close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.f.Close()
}
