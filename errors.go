package vp

import (
	"errors"
	"fmt"

	"github.com/meigma/vp/internal/format"
)

// FormatError describes a structurally invalid archive. It matches
// [ErrFormat] with errors.Is.
type FormatError = format.FormatError

// Sentinel errors.
var (
	// ErrFormat is returned (wrapped in a *FormatError) when an archive is malformed.
	ErrFormat = format.ErrFormat

	// ErrLogic is the parent of errors caused by invalid use of the API.
	ErrLogic = errors.New("vp: invalid operation")

	// ErrNotDirectory is returned when a directory operation targets another kind of node.
	ErrNotDirectory = fmt.Errorf("%w: not a directory", ErrLogic)

	// ErrNotPersisted is returned when reading a file that has not been saved
	// into the backing archive yet.
	ErrNotPersisted = fmt.Errorf("%w: file is not persisted", ErrLogic)

	// ErrEmptyFile is returned when adding a zero-byte file. Such a record
	// would be indistinguishable from a directory in the index.
	ErrEmptyFile = fmt.Errorf("%w: empty file", ErrLogic)

	// ErrNoBackingFile is returned by Save on a container that was never loaded or saved.
	ErrNoBackingFile = fmt.Errorf("%w: no backing file", ErrLogic)

	// ErrInvalidName is returned for names that cannot be stored, such as
	// "" or the ".." close marker.
	ErrInvalidName = fmt.Errorf("%w: invalid name", ErrLogic)

	// ErrSizeOverflow is returned when an archive or entry exceeds the
	// signed 32-bit offsets of the format.
	ErrSizeOverflow = errors.New("vp: size overflow")

	// ErrDecompression is returned when a compressed payload fails to decode.
	ErrDecompression = errors.New("vp: decompression failed")

	// ErrUnsafePath is returned when extracting an entry whose name cannot be
	// materialized safely below the destination directory.
	ErrUnsafePath = errors.New("vp: unsafe entry path")

	// ErrFileChanged is returned when a pending import changed size between
	// being added and being saved.
	ErrFileChanged = errors.New("vp: source file changed")
)
