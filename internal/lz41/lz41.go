// Package lz41 implements the LZ41 stream framing used for compressed VP
// entries, on top of independent LZ4 HC blocks.
//
// Layout of a stream of N blocks:
//
//	"LZ41" | block 0 | ... | block N-1 | offset[0..N] | N+1 | original size | block size
//
// All trailer fields are little-endian int32. offset[0] is 4 (the end of the
// magic) and offset[i+1] is the end of block i, so the trailer alone is
// enough to locate every block.
package lz41

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/pierrec/lz4/v4"
)

// Magic is the tag at the start of every LZ41 stream.
var Magic = [4]byte{'L', 'Z', '4', '1'}

// Supported block sizes, measured in uncompressed bytes.
const (
	BlockSize64KB  = 64 << 10
	BlockSize256KB = 256 << 10
	BlockSize1MB   = 1 << 20
	BlockSize4MB   = 4 << 20

	DefaultBlockSize = BlockSize1MB
)

// DefaultLevel is the HC compression level used when none (or an invalid one) is set.
const DefaultLevel = 6

const (
	magicSize   = 4
	trailerSize = 12
	// minStreamSize is magic + one offset + trailer.
	minStreamSize = magicSize + 4 + trailerSize
)

var (
	// ErrCorrupt is returned when a stream fails structural validation or
	// a block fails to decode.
	ErrCorrupt = errors.New("lz41: corrupt stream")

	// ErrEmptyInput is returned when asked to compress zero bytes.
	ErrEmptyInput = errors.New("lz41: empty input")

	// ErrTooLarge is returned when a stream would not fit the int32 trailer fields.
	ErrTooLarge = errors.New("lz41: input too large")
)

var levels = [...]lz4.CompressionLevel{
	lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
	lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

// Options configures compression.
type Options struct {
	// Level is the HC level, 1 (fastest) to 9 (smallest).
	// Out-of-range values fall back to DefaultLevel.
	Level int

	// BlockSize is one of the BlockSize constants.
	// Any other value falls back to DefaultBlockSize.
	BlockSize int
}

func (o Options) level() lz4.CompressionLevel {
	if o.Level < 1 || o.Level > len(levels) {
		return levels[DefaultLevel-1]
	}
	return levels[o.Level-1]
}

func (o Options) blockSize() int {
	if validBlockSize(o.BlockSize) {
		return o.BlockSize
	}
	return DefaultBlockSize
}

func validBlockSize(n int) bool {
	switch n {
	case BlockSize64KB, BlockSize256KB, BlockSize1MB, BlockSize4MB:
		return true
	default:
		return false
	}
}

// Info describes an LZ41 stream as recorded in its trailer.
type Info struct {
	// OriginalSize is the uncompressed length.
	OriginalSize int64

	// BlockSize is the uncompressed size of every block but the last.
	BlockSize int

	// Blocks is the number of compressed blocks.
	Blocks int
}

// Compress reads exactly size bytes from r and writes an LZ41 stream to w.
// It returns the number of compressed bytes written.
//
// The context is checked before each block.
func Compress(ctx context.Context, r io.Reader, w io.Writer, size int64, opts Options) (int64, error) {
	if size <= 0 {
		return 0, ErrEmptyInput
	}
	if size > math.MaxInt32 {
		return 0, ErrTooLarge
	}
	blockSize := opts.blockSize()
	level := opts.level()

	bw := bufio.NewWriter(w)
	in := make([]byte, blockSize)
	out := make([]byte, lz4.CompressBlockBound(blockSize))
	offsets := make([]int64, 1, size/int64(blockSize)+2)
	offsets[0] = magicSize

	if _, err := bw.Write(Magic[:]); err != nil {
		return 0, err
	}
	written := int64(magicSize)

	for remaining := size; remaining > 0; {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n := int(min(remaining, int64(blockSize)))
		if _, err := io.ReadFull(r, in[:n]); err != nil {
			return written, fmt.Errorf("lz41: read input: %w", err)
		}
		remaining -= int64(n)

		cn, err := lz4.CompressBlockHC(in[:n], out, level, nil, nil)
		if err != nil {
			return written, fmt.Errorf("lz41: compress block: %w", err)
		}
		if cn <= 0 {
			return written, errors.New("lz41: compress block: no output")
		}
		if _, err := bw.Write(out[:cn]); err != nil {
			return written, err
		}
		written += int64(cn)
		offsets = append(offsets, written)
	}

	trailer := make([]byte, 0, 4*len(offsets)+trailerSize)
	for _, off := range offsets {
		if off > math.MaxInt32 {
			return written, ErrTooLarge
		}
		trailer = binary.LittleEndian.AppendUint32(trailer, uint32(off)) //nolint:gosec // bounded above
	}
	trailer = binary.LittleEndian.AppendUint32(trailer, uint32(len(offsets))) //nolint:gosec // bounded by size/blockSize
	trailer = binary.LittleEndian.AppendUint32(trailer, uint32(size))         //nolint:gosec // bounded above
	trailer = binary.LittleEndian.AppendUint32(trailer, uint32(blockSize))    //nolint:gosec // fixed constants
	if _, err := bw.Write(trailer); err != nil {
		return written, err
	}
	written += int64(len(trailer))
	if written > math.MaxInt32 {
		return written, ErrTooLarge
	}

	if err := bw.Flush(); err != nil {
		return written, err
	}
	return written, nil
}

// Decompress decodes the LZ41 stream spanning all of src into w and returns
// the number of uncompressed bytes written.
//
// The context is checked before each block.
func Decompress(ctx context.Context, src *io.SectionReader, w io.Writer) (int64, error) {
	info, offsets, err := readTrailer(src, 0, src.Size())
	if err != nil {
		return 0, err
	}
	if info.OriginalSize == 0 {
		return 0, nil
	}

	bound := lz4.CompressBlockBound(info.BlockSize)
	cmp := make([]byte, bound)
	dec := make([]byte, info.BlockSize)
	var written int64
	for i := range info.Blocks {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		start, end := offsets[i], offsets[i+1]
		cn := int(end - start)
		if cn <= 0 || cn > bound {
			return written, fmt.Errorf("%w: block %d has invalid length %d", ErrCorrupt, i, cn)
		}
		if _, err := src.ReadAt(cmp[:cn], start); err != nil {
			return written, fmt.Errorf("%w: read block %d: %v", ErrCorrupt, i, err)
		}
		n, err := lz4.UncompressBlock(cmp[:cn], dec)
		if err != nil {
			return written, fmt.Errorf("%w: block %d: %v", ErrCorrupt, i, err)
		}
		want := int(min(info.OriginalSize-written, int64(info.BlockSize)))
		if n != want {
			return written, fmt.Errorf("%w: block %d decoded to %d bytes, expected %d", ErrCorrupt, i, n, want)
		}
		if _, err := w.Write(dec[:n]); err != nil {
			return written, err
		}
		written += int64(n)
	}
	if written != info.OriginalSize {
		return written, fmt.Errorf("%w: decoded %d bytes, expected %d", ErrCorrupt, written, info.OriginalSize)
	}
	return written, nil
}

// HasMagic reports whether the bytes at off in r start with the LZ41 magic.
func HasMagic(r io.ReaderAt, off int64) (bool, error) {
	var tag [magicSize]byte
	n, err := r.ReadAt(tag[:], off)
	if n < magicSize {
		if err == nil || err == io.EOF {
			return false, nil
		}
		return false, err
	}
	return tag == Magic, nil
}

// Probe inspects the size bytes at off in r. ok reports whether the range
// starts with the LZ41 magic. When it does but the framing is damaged, ok
// is still true and err wraps ErrCorrupt; any other err is a read failure.
func Probe(r io.ReaderAt, off, size int64) (info Info, ok bool, err error) {
	if size < magicSize {
		return Info{}, false, nil
	}
	has, err := HasMagic(r, off)
	if err != nil || !has {
		return Info{}, false, err
	}
	info, _, err = readTrailer(r, off, size)
	if err != nil {
		return Info{}, true, err
	}
	return info, true, nil
}

// readTrailer validates the stream framing within [off, off+size) of r and
// returns block offsets relative to off.
func readTrailer(r io.ReaderAt, off, size int64) (Info, []int64, error) {
	if size < minStreamSize {
		return Info{}, nil, fmt.Errorf("%w: stream of %d bytes is too short", ErrCorrupt, size)
	}
	has, err := HasMagic(r, off)
	if err != nil {
		return Info{}, nil, err
	}
	if !has {
		return Info{}, nil, fmt.Errorf("%w: header mismatch", ErrCorrupt)
	}

	var tail [trailerSize]byte
	if _, err := r.ReadAt(tail[:], off+size-trailerSize); err != nil {
		return Info{}, nil, fmt.Errorf("%w: read trailer: %v", ErrCorrupt, err)
	}
	numOffsets := int32At(tail[0:4])
	origSize := int32At(tail[4:8])
	blockSize := int32At(tail[8:12])

	if !validBlockSize(int(blockSize)) {
		return Info{}, nil, fmt.Errorf("%w: unsupported block size %d", ErrCorrupt, blockSize)
	}
	if origSize < 0 {
		return Info{}, nil, fmt.Errorf("%w: negative original size", ErrCorrupt)
	}
	blocks := (origSize + blockSize - 1) / blockSize
	if numOffsets != blocks+1 {
		return Info{}, nil, fmt.Errorf("%w: %d offsets for %d blocks", ErrCorrupt, numOffsets, blocks)
	}
	tableStart := size - trailerSize - 4*numOffsets
	if tableStart < magicSize {
		return Info{}, nil, fmt.Errorf("%w: offset table overruns stream", ErrCorrupt)
	}

	table := make([]byte, 4*numOffsets)
	if _, err := r.ReadAt(table, off+tableStart); err != nil {
		return Info{}, nil, fmt.Errorf("%w: read offset table: %v", ErrCorrupt, err)
	}
	offsets := make([]int64, numOffsets)
	for i := range offsets {
		offsets[i] = int64(binary.LittleEndian.Uint32(table[4*i:]))
	}
	if offsets[0] != magicSize {
		return Info{}, nil, fmt.Errorf("%w: first block offset %d", ErrCorrupt, offsets[0])
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			return Info{}, nil, fmt.Errorf("%w: block offsets not increasing", ErrCorrupt)
		}
	}
	if offsets[len(offsets)-1] != tableStart {
		return Info{}, nil, fmt.Errorf("%w: blocks end at %d, table starts at %d", ErrCorrupt, offsets[len(offsets)-1], tableStart)
	}

	return Info{
		OriginalSize: origSize,
		BlockSize:    int(blockSize),
		Blocks:       int(blocks),
	}, offsets, nil
}

func int32At(b []byte) int64 {
	return int64(int32(binary.LittleEndian.Uint32(b))) //nolint:gosec // two's complement round trip
}
