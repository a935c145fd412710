package vp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"

	"github.com/meigma/vp/internal/file"
	"github.com/meigma/vp/internal/format"
	"github.com/meigma/vp/internal/lz41"
	"github.com/meigma/vp/internal/platform"
	"github.com/meigma/vp/internal/sizing"
	"github.com/meigma/vp/internal/write"
)

// errNoGain aborts an in-memory compression as soon as its output can no
// longer be smaller than the input.
var errNoGain = errors.New("compressed output not smaller than input")

// Save rebuilds the archive in place at the backing path.
func (c *Container) Save(ctx context.Context, opts ...SaveOption) error {
	if c.path == "" {
		return ErrNoBackingFile
	}
	return c.SaveAs(ctx, c.path, opts...)
}

// SaveAs writes the tree to path and makes it the backing file.
//
// The archive is built in a temporary file next to path and renamed over
// it only once complete, so path is never observed half written. Resident
// payloads are read from the current backing file and pending files from
// their source paths. After a successful save every node is resident in
// path and delete-marked nodes are pruned. On error, including
// cancellation, neither path nor the tree is modified.
func (c *Container) SaveAs(ctx context.Context, path string, opts ...SaveOption) (err error) {
	var cfg saveConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	total := c.NumberFiles()
	c.log().Info("saving archive", "path", path, "files", total, "compression", c.compression)

	var src *os.File
	if c.path != "" && c.hasResident() {
		src, err = os.Open(c.path)
		if err != nil {
			return fmt.Errorf("open backing file: %w", err)
		}
		defer func() {
			if src != nil {
				src.Close()
			}
		}()
	}

	tmp, err := write.CreateTemp(path)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Discard() //nolint:errcheck // best-effort cleanup
		}
	}()

	bw := bufio.NewWriterSize(tmp, 64*1024)
	s := &saver{
		c:     c,
		ctx:   ctx,
		cfg:   cfg,
		src:   src,
		out:   &file.CountingWriter{W: bw},
		buf:   make([]byte, file.DefaultBufferSize),
		total: total,
	}

	var placeholder [format.HeaderSize]byte
	if _, err := s.out.Write(placeholder[:]); err != nil {
		return err
	}
	if err := s.saveChildren(c.root); err != nil {
		return err
	}

	indexOffset, err := s.position()
	if err != nil {
		return err
	}
	count, err := sizing.ToInt32(int64(len(s.entries)), ErrSizeOverflow)
	if err != nil {
		return err
	}
	if err := format.WriteIndex(s.out, s.entries); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if _, err := s.position(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	h := format.Header{
		Version:       format.VersionPlain,
		IndexOffset:   indexOffset,
		NumberEntries: count,
	}
	if c.compression {
		h.Version = format.VersionCompressed
	}
	if err := format.WriteHeader(tmp.File(), h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if src != nil {
		closeErr := src.Close()
		src = nil
		if closeErr != nil {
			return closeErr
		}
	}
	if err := tmp.Commit(); err != nil {
		return err
	}

	for _, p := range s.placements {
		p.apply()
	}
	c.path = path
	prune(c.root)

	c.log().Info("saved archive", "path", path, "entries", len(s.entries), "size", s.out.N)
	return nil
}

// hasResident reports whether any live file must be read from the backing file.
func (c *Container) hasResident() bool {
	found := false
	_ = c.Walk(func(_ string, n *Node) error { //nolint:errcheck // only returns SkipAll
		if n.kind == KindFile && !n.IsPending() {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}

// placement records where a node landed in the new archive. It is applied
// to the tree only after the new archive replaced the target.
type placement struct {
	node    *Node
	offset  int64
	size    int64
	comp    *CompressionInfo
	rawName [format.NameSize]byte
}

func (p placement) apply() {
	n := p.node
	n.offset = p.offset
	n.rawName = p.rawName
	n.hasRaw = true
	if n.kind == KindFile {
		n.size = p.size
		n.comp = p.comp
		n.source = ""
	}
}

// saver holds state for one SaveAs call.
type saver struct {
	c   *Container
	ctx context.Context
	cfg saveConfig

	src *os.File // old backing file, read-only
	out *file.CountingWriter
	buf []byte

	entries    []format.Entry
	placements []placement
	done       int
	total      int
}

func (s *saver) position() (int32, error) {
	pos, err := sizing.ToInt32(s.out.N, ErrSizeOverflow)
	if err != nil {
		return 0, fmt.Errorf("%w: archive exceeds %d bytes", err, math.MaxInt32)
	}
	return pos, nil
}

func (s *saver) saveChildren(dir *Node) error {
	for _, n := range dir.children {
		if n.deleted {
			continue
		}
		if err := s.ctx.Err(); err != nil {
			return err
		}
		if err := s.saveNode(n); err != nil {
			return err
		}
	}
	return nil
}

func (s *saver) saveNode(n *Node) error {
	pos, err := s.position()
	if err != nil {
		return err
	}

	switch n.kind {
	case KindDirectory:
		s.record(n, pos, 0, nil)
		return s.saveChildren(n)
	case KindDirectoryEnd:
		s.record(n, pos, 0, nil)
		return nil
	}

	size, comp, err := s.saveFile(n)
	if err != nil {
		return fmt.Errorf("save %s: %w", n.Path(), err)
	}
	if _, err := s.position(); err != nil {
		return err
	}
	s.record(n, pos, size, comp)

	s.done++
	report(s.cfg.progress, ProgressEvent{
		Stage:      StageSaving,
		Path:       n.Path(),
		BytesDone:  uint64(s.out.N), //nolint:gosec // counter is non-negative
		FilesDone:  s.done,
		FilesTotal: s.total,
	})
	return nil
}

func (s *saver) record(n *Node, pos int32, size int64, comp *CompressionInfo) {
	e := format.Entry{
		Offset:    pos,
		Size:      int32(size), //nolint:gosec // checked by position after the payload
		Name:      n.name,
		Timestamp: n.timestamp,
	}
	if n.hasRaw {
		e.RawName = n.rawName
	}
	if format.DecodeName(e.RawName) != e.Name {
		e.RawName = format.EncodeName(e.Name)
	}
	s.entries = append(s.entries, e)
	s.placements = append(s.placements, placement{
		node:    n,
		offset:  int64(pos),
		size:    size,
		comp:    comp,
		rawName: e.RawName,
	})
}

// saveFile writes one payload and returns its stored size and compression.
func (s *saver) saveFile(n *Node) (int64, *CompressionInfo, error) {
	payload, closeFn, err := s.open(n)
	if err != nil {
		return 0, nil, err
	}
	defer closeFn()

	log := s.c.log().With("path", n.Path())
	comp := n.comp
	if n.IsPending() {
		comp, err = sniffCompression(payload, 0, payload.Size())
		if comp == nil && err != nil {
			return 0, nil, err
		}
		if err != nil {
			log.Warn("imported file has a damaged LZ41 trailer", "error", err)
		}
	}

	switch {
	case comp != nil && !s.c.compression:
		log.Debug("decompressing entry", "size", payload.Size(), "original_size", comp.OriginalSize)
		written, err := lz41.Decompress(s.ctx, payload, s.out)
		if err != nil {
			return 0, nil, decompressionErr(err)
		}
		return written, nil, nil

	case comp != nil:
		log.Debug("copying compressed entry", "size", payload.Size())
		written, err := file.CopyN(s.ctx, s.out, payload, payload.Size(), s.buf)
		return written, comp, err

	case s.c.compression && !s.c.skipCompressionFor(n, payload.Size()):
		stream, info, err := s.compress(payload)
		if err != nil {
			return 0, nil, err
		}
		if stream != nil {
			log.Debug("compressed entry", "size", payload.Size(), "compressed_size", len(stream))
			if _, err := s.out.Write(stream); err != nil {
				return 0, nil, err
			}
			return int64(len(stream)), info, nil
		}
		log.Debug("compression did not shrink entry, storing raw", "size", payload.Size())
	}

	if _, err := payload.Seek(0, io.SeekStart); err != nil {
		return 0, nil, err
	}
	written, err := file.CopyN(s.ctx, s.out, payload, payload.Size(), s.buf)
	return written, nil, err
}

// compress encodes payload into memory. It returns a nil stream when the
// result would not be strictly smaller than the input.
func (s *saver) compress(payload *io.SectionReader) ([]byte, *CompressionInfo, error) {
	size := payload.Size()
	lb := &limitedBuffer{limit: size - 1}
	lb.buf.Grow(int(min(size, 1<<20)))

	opts := s.c.codecOptions()
	if _, err := lz41.Compress(s.ctx, payload, lb, size, opts); err != nil {
		if errors.Is(err, errNoGain) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	info, ok, err := lz41.Probe(bytes.NewReader(lb.buf.Bytes()), 0, int64(lb.buf.Len()))
	if err != nil || !ok {
		return nil, nil, fmt.Errorf("%w: encoder produced an unreadable stream", ErrDecompression)
	}
	return lb.buf.Bytes(), &CompressionInfo{Codec: CodecLZ41, OriginalSize: info.OriginalSize, BlockSize: info.BlockSize}, nil
}

// open returns a reader over the payload of n and a function releasing it.
func (s *saver) open(n *Node) (*io.SectionReader, func(), error) {
	if !n.IsPending() {
		if s.src == nil {
			return nil, nil, fmt.Errorf("%w: no backing file for resident entry", ErrNotPersisted)
		}
		return io.NewSectionReader(s.src, n.offset, n.size), func() {}, nil
	}

	f, err := platform.OpenNoFollow(n.source)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.Size() != n.size {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s was %d bytes, now %d", ErrFileChanged, n.source, n.size, info.Size())
	}
	return io.NewSectionReader(f, 0, n.size), func() { f.Close() }, nil
}

// sniffCompression reports the compression of the size bytes at off in r.
// A payload starting with the LZ41 magic counts as compressed even when its
// trailer is damaged; the info then records the stored size as the original
// size and err wraps lz41.ErrCorrupt, so decoding it fails later.
func sniffCompression(r io.ReaderAt, off, size int64) (*CompressionInfo, error) {
	info, ok, err := lz41.Probe(r, off, size)
	switch {
	case !ok:
		return nil, err
	case errors.Is(err, lz41.ErrCorrupt):
		return &CompressionInfo{Codec: CodecLZ41, OriginalSize: size}, err
	case err != nil:
		return nil, err
	}
	return &CompressionInfo{Codec: CodecLZ41, OriginalSize: info.OriginalSize, BlockSize: info.BlockSize}, nil
}

func decompressionErr(err error) error {
	if errors.Is(err, lz41.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrDecompression, err)
	}
	return err
}

// limitedBuffer is a bytes.Buffer that fails with errNoGain once more than
// limit bytes are written.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len())+int64(len(p)) > b.limit {
		return 0, errNoGain
	}
	return b.buf.Write(p)
}
