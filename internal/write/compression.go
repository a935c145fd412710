package write

import (
	"path/filepath"
	"strings"
)

// DefaultMinCompressSize is the size below which files are stored raw by default.
const DefaultMinCompressSize = 10 * 1024

// SkipCompressionFunc returns true when a file should be stored uncompressed.
// It is called once per file with the stored name and the uncompressed size,
// and should be inexpensive.
type SkipCompressionFunc func(name string, size int64) bool

// DefaultSkipCompression returns a SkipCompressionFunc that skips small files
// and extensions that are already compressed or are not worth compressing.
func DefaultSkipCompression(minSize int64) SkipCompressionFunc {
	return func(name string, size int64) bool {
		if minSize > 0 && size < minSize {
			return true
		}
		return IgnoredExtension(name)
	}
}

// IgnoredExtension reports whether name carries an extension on the default
// ignore list. The comparison is case-insensitive.
func IgnoredExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	_, ok := defaultSkipCompressionExts[ext]
	return ok
}

// ShouldSkip checks if any predicate returns true for the given file.
func ShouldSkip(name string, size int64, predicates []SkipCompressionFunc) bool {
	for _, fn := range predicates {
		if fn == nil {
			continue
		}
		if fn(name, size) {
			return true
		}
	}
	return false
}

var defaultSkipCompressionExts = map[string]struct{}{
	".7z":       {},
	".appimage": {},
	".dll":      {},
	".doc":      {},
	".docx":     {},
	".eff":      {},
	".exe":      {},
	".ini":      {},
	".jpeg":     {},
	".json":     {},
	".mp4":      {},
	".ogg":      {},
	".pdf":      {},
	".png":      {},
	".so":       {},
	".token":    {},
	".vp":       {},
	".vpc":      {},
	".wav":      {},
	".xls":      {},
	".xlsx":     {},
}
