package vp

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/meigma/vp/internal/lz41"
	"github.com/meigma/vp/internal/pathutil"
	"github.com/meigma/vp/internal/write"
)

// Container is an in-memory VP archive tree, optionally backed by a file
// on disk.
//
// A Container is not safe for concurrent use. Reads of persisted file
// content open their own handles, so ExtractAll may run many workers.
type Container struct {
	root        *Node
	path        string
	compression bool

	skipCompression    []SkipCompressionFunc
	skipCompressionSet bool
	minCompressSize    int64
	level              int
	blockSize          int
	logger             *slog.Logger
}

func newContainer(opts []Option) *Container {
	c := &Container{
		minCompressSize: DefaultMinCompressSize,
		level:           lz41.DefaultLevel,
		blockSize:       lz41.DefaultBlockSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.root = c.newNode(KindDirectory, nil, "")
	return c
}

// New creates an empty container holding a single top-level "data"
// directory, with compression disabled.
func New(opts ...Option) *Container {
	c := newContainer(opts)
	c.root.insert(c.newDirectory(c.root, "data"))
	return c
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Container) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Root returns the synthetic root directory. It is never written to the
// index; its children are the top-level entries.
func (c *Container) Root() *Node { return c.root }

// Path returns the backing file path, or "" if the container was never
// loaded or saved.
func (c *Container) Path() string { return c.path }

// EnableCompression makes subsequent saves compress eligible files.
func (c *Container) EnableCompression() { c.compression = true }

// DisableCompression makes subsequent saves store every file
// uncompressed, decompressing existing compressed entries.
func (c *Container) DisableCompression() { c.compression = false }

// CompressionEnabled reports whether saves compress files.
func (c *Container) CompressionEnabled() bool { return c.compression }

// AddFolderToRoot adds the contents of dir as top-level entries, merging
// into existing top-level directories of the same name.
func (c *Container) AddFolderToRoot(dir string) error {
	return c.root.AddDirectoryRecursive(dir)
}

// Lookup returns the live node at the slash- or backslash-separated path,
// or nil. Components match case-insensitively, as the game does.
func (c *Container) Lookup(path string) *Node {
	n := c.root
	for _, part := range pathutil.Split(path) {
		if n.kind != KindDirectory {
			return nil
		}
		n = n.Child(part)
		if n == nil {
			return nil
		}
	}
	return n
}

// WalkFunc is called for each live directory and file. Returning
// fs.SkipDir from a directory skips its contents.
type WalkFunc func(path string, n *Node) error

// Walk visits live nodes depth-first in index order, skipping
// delete-marked subtrees and directory terminators.
func (c *Container) Walk(fn WalkFunc) error {
	err := walk(c.root, fn)
	if errors.Is(err, fs.SkipAll) {
		return nil
	}
	return err
}

func walk(dir *Node, fn WalkFunc) error {
	for _, ch := range dir.children {
		if ch.deleted || ch.kind == KindDirectoryEnd {
			continue
		}
		err := fn(ch.Path(), ch)
		if ch.kind == KindDirectory {
			if errors.Is(err, fs.SkipDir) {
				continue
			}
			if err != nil {
				return err
			}
			if err := walk(ch, fn); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// NumberFiles returns the number of live files.
func (c *Container) NumberFiles() int { return c.root.NumberOfFiles() }

// NumberFolders returns the number of live directories.
func (c *Container) NumberFolders() int {
	count := 0
	_ = c.Walk(func(_ string, n *Node) error { //nolint:errcheck // callback never fails
		if n.kind == KindDirectory {
			count++
		}
		return nil
	})
	return count
}

// skipCompressionFor reports whether n should be stored raw under the
// configured predicates.
func (c *Container) skipCompressionFor(n *Node, size int64) bool {
	if c.skipCompressionSet {
		return write.ShouldSkip(n.name, size, c.skipCompression)
	}
	return write.DefaultSkipCompression(c.minCompressSize)(n.name, size)
}

func (c *Container) codecOptions() lz41.Options {
	return lz41.Options{Level: c.level, BlockSize: c.blockSize}
}

// prune removes delete-marked nodes from the tree.
func prune(dir *Node) {
	kept := dir.children[:0]
	for _, ch := range dir.children {
		if ch.deleted {
			continue
		}
		if ch.kind == KindDirectory {
			prune(ch)
		}
		kept = append(kept, ch)
	}
	clear(dir.children[len(kept):])
	dir.children = kept
}
