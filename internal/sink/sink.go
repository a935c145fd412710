// Package sink provides destinations for extracted archive content.
package sink

import (
	"io"
	"time"
)

// Entry describes one file being extracted.
type Entry struct {
	// Path is the slash-separated path relative to the extraction root.
	Path string

	// Size is the uncompressed length of the content.
	Size int64

	// ModTime is the timestamp recorded in the archive index.
	ModTime time.Time
}

// Sink receives decompressed file content during extraction.
//
// Implementations determine where content is written (filesystem, tar
// stream) and can filter which entries to process.
type Sink interface {
	// Dir is called for each directory before any of its contents.
	Dir(path string, modTime time.Time) error

	// ShouldProcess returns false if this entry should be skipped.
	ShouldProcess(entry *Entry) bool

	// Writer returns a writer for the entry's content.
	// The returned Committer must have Commit() called after a successful
	// write, or Discard() called on any error.
	Writer(entry *Entry) (Committer, error)
}

// Committer is a writer that can be committed or discarded.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}
