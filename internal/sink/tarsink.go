package sink

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ErrShortEntry is returned when fewer bytes than announced were written to a tar entry.
var ErrShortEntry = errors.New("sink: tar entry shorter than its header size")

// TarSink writes entries to a tar stream, optionally zstd-compressed.
//
// Entries are appended in call order, so a TarSink must be driven by a
// single goroutine. Close must be called to flush the stream.
type TarSink struct {
	tw        *tar.Writer
	enc       *zstd.Encoder
	zstdLevel int
	useZstd   bool
}

// TarSinkOption configures a TarSink.
type TarSinkOption func(*TarSink)

// WithZstd wraps the tar stream in zstd. The level uses the zstd command
// line scale (1 to 22) and is mapped to the nearest encoder speed.
func WithZstd(level int) TarSinkOption {
	return func(s *TarSink) {
		s.useZstd = true
		s.zstdLevel = level
	}
}

// NewTarSink creates a TarSink writing to w.
func NewTarSink(w io.Writer, opts ...TarSinkOption) (*TarSink, error) {
	s := &TarSink{}
	for _, opt := range opts {
		opt(s)
	}
	if s.useZstd {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(s.zstdLevel)))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		s.enc = enc
		w = enc
	}
	s.tw = tar.NewWriter(w)
	return s, nil
}

// Dir appends a directory header.
func (s *TarSink) Dir(path string, modTime time.Time) error {
	return s.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     path + "/",
		Mode:     0o755,
		ModTime:  modTime,
		Format:   tar.FormatPAX,
	})
}

// ShouldProcess always returns true.
func (s *TarSink) ShouldProcess(*Entry) bool { return true }

// Writer appends a file header and returns a Committer for its content.
func (s *TarSink) Writer(entry *Entry) (Committer, error) {
	if err := s.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     entry.Path,
		Size:     entry.Size,
		Mode:     0o644,
		ModTime:  entry.ModTime,
		Format:   tar.FormatPAX,
	}); err != nil {
		return nil, fmt.Errorf("write tar header %s: %w", entry.Path, err)
	}
	return &tarCommitter{tw: s.tw, want: entry.Size}, nil
}

// Close flushes the tar stream and the zstd encoder, if any.
func (s *TarSink) Close() error {
	if err := s.tw.Close(); err != nil {
		if s.enc != nil {
			_ = s.enc.Close() //nolint:errcheck // already failing
		}
		return fmt.Errorf("close tar writer: %w", err)
	}
	if s.enc != nil {
		if err := s.enc.Close(); err != nil {
			return fmt.Errorf("close zstd encoder: %w", err)
		}
	}
	return nil
}

type tarCommitter struct {
	tw   *tar.Writer
	want int64
	n    int64
}

func (c *tarCommitter) Write(p []byte) (int, error) {
	n, err := c.tw.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *tarCommitter) Commit() error {
	if c.n != c.want {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortEntry, c.n, c.want)
	}
	return nil
}

// Discard is a no-op: tar entries cannot be withdrawn once their header
// is written, so the caller must abandon the whole stream.
func (c *tarCommitter) Discard() error { return nil }
