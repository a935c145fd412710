package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meigma/vp/internal/write"
)

// FileSink writes entries to the filesystem with atomic writes.
//
// Files are written to a temporary file in the same directory,
// then renamed to the final path on Commit. This ensures that
// partially written files are never visible at the final path.
//
// FileSink is safe for concurrent use by multiple goroutines.
type FileSink struct {
	destDir       string
	overwrite     bool
	preserveTimes bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithPreserveTimes sets file modification times from the archive index.
// By default, files use the current time.
func WithPreserveTimes(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveTimes = preserve
	}
}

// NewFileSink creates a FileSink that writes to destDir.
//
// destDir must be an absolute path or relative to the current directory.
// Parent directories are created automatically as needed.
func NewFileSink(destDir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{
		destDir: destDir,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir creates the directory at path below the destination.
func (s *FileSink) Dir(path string, _ time.Time) error {
	dir := s.destPath(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// ShouldProcess returns false if the file already exists and overwrite is disabled.
func (s *FileSink) ShouldProcess(entry *Entry) bool {
	if s.overwrite {
		return true
	}
	_, err := os.Stat(s.destPath(entry.Path))
	return os.IsNotExist(err)
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(entry *Entry) (Committer, error) {
	destPath := s.destPath(entry.Path)

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := write.CreateTemp(destPath)
	if err != nil {
		return nil, err
	}
	if s.preserveTimes && !entry.ModTime.IsZero() {
		tmp.SetModTime(entry.ModTime)
	}
	return tmp, nil
}

func (s *FileSink) destPath(path string) string {
	return filepath.Join(s.destDir, filepath.FromSlash(path))
}
