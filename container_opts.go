package vp

import (
	"log/slog"

	"github.com/meigma/vp/internal/lz41"
	"github.com/meigma/vp/internal/write"
)

// SkipCompressionFunc returns true when a file should be stored uncompressed.
// It receives the stored name and the uncompressed size, is called once per
// file, and should be inexpensive.
type SkipCompressionFunc = write.SkipCompressionFunc

// DefaultSkipCompression returns a SkipCompressionFunc that skips files
// smaller than minSize and extensions on the default ignore list.
var DefaultSkipCompression = write.DefaultSkipCompression

// DefaultMinCompressSize is the default size threshold below which files are stored raw.
const DefaultMinCompressSize = write.DefaultMinCompressSize

// LZ41 block sizes accepted by WithBlockSize.
const (
	BlockSize64KB  = lz41.BlockSize64KB
	BlockSize256KB = lz41.BlockSize256KB
	BlockSize1MB   = lz41.BlockSize1MB
	BlockSize4MB   = lz41.BlockSize4MB
)

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger. A nil logger discards all output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		c.logger = logger
	}
}

// WithSkipCompression replaces the default skip predicates. If any
// predicate returns true, the file is stored uncompressed. Calling it with
// no arguments compresses every file.
func WithSkipCompression(fns ...SkipCompressionFunc) Option {
	return func(c *Container) {
		c.skipCompression = append([]SkipCompressionFunc(nil), fns...)
		c.skipCompressionSet = true
	}
}

// WithMinCompressSize changes the size threshold of the default skip
// predicate. It has no effect when WithSkipCompression is used.
func WithMinCompressSize(n int64) Option {
	return func(c *Container) {
		c.minCompressSize = n
	}
}

// WithCompressionLevel sets the LZ4 HC level, 1 (fastest) to 9 (smallest).
//
// Settings from the legacy 3..12 level scale carry over as follows: 3 to 9
// keep their number, including the shared default of 6, and 10 to 12 map
// to 9. Any other value uses the default.
func WithCompressionLevel(level int) Option {
	return func(c *Container) {
		if level > maxLevel && level <= legacyMaxLevel {
			level = maxLevel
		}
		c.level = level
	}
}

const (
	maxLevel       = 9
	legacyMaxLevel = 12
)

// WithBlockSize sets the LZ41 block size. Unsupported values use BlockSize1MB.
func WithBlockSize(n int) Option {
	return func(c *Container) {
		c.blockSize = n
	}
}
