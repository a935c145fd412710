// Package format implements the fixed-width binary layout of VP archives:
// the 16-byte header and the 44-byte index records.
//
// All integers are little-endian int32. The index carries no parent
// pointers; nesting is expressed by directory records (size 0) that are
// closed by a ".." record.
package format

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// HeaderSize is the fixed binary size of the archive header.
	HeaderSize = 16 // 4 + 4 + 4 + 4 bytes

	// VersionPlain marks an archive written without compression support.
	VersionPlain int32 = 2

	// VersionCompressed marks an archive written with compression enabled.
	VersionCompressed int32 = 3
)

// Magic identifies a VP archive.
var Magic = [4]byte{'V', 'P', 'V', 'P'}

// Header is the archive header stored at offset 0.
type Header struct {
	Version       int32
	IndexOffset   int32
	NumberEntries int32
}

// Compressed reports whether the archive was written with compression enabled.
func (h Header) Compressed() bool {
	return h.Version >= VersionCompressed
}

// EncodeTo writes the header to the given buffer.
// The buffer must be at least HeaderSize bytes.
func (h Header) EncodeTo(buf []byte) {
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Version))         //nolint:gosec // two's complement round trip
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.IndexOffset))    //nolint:gosec // two's complement round trip
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.NumberEntries)) //nolint:gosec // two's complement round trip
}

// DecodeFrom reads the header from the given buffer.
// Does not validate the magic; use ReadHeader for validation.
func (h *Header) DecodeFrom(buf []byte) {
	h.Version = int32(binary.LittleEndian.Uint32(buf[4:8]))         //nolint:gosec // two's complement round trip
	h.IndexOffset = int32(binary.LittleEndian.Uint32(buf[8:12]))    //nolint:gosec // two's complement round trip
	h.NumberEntries = int32(binary.LittleEndian.Uint32(buf[12:16])) //nolint:gosec // two's complement round trip
}

// ReadHeader reads and validates the header at offset 0 of r.
func ReadHeader(r io.ReaderAt) (Header, error) {
	var buf [HeaderSize]byte
	n, err := r.ReadAt(buf[:], 0)
	if n < HeaderSize {
		if err == nil || err == io.EOF {
			return Header{}, &FormatError{Offset: 0, Reason: fmt.Sprintf("short header (%d of %d bytes)", n, HeaderSize)}
		}
		return Header{}, err
	}
	if [4]byte(buf[0:4]) != Magic {
		return Header{}, &FormatError{Offset: 0, Reason: fmt.Sprintf("header mismatch: expected %q, got %q", Magic[:], buf[0:4])}
	}
	var h Header
	h.DecodeFrom(buf[:])
	return h, nil
}

// WriteHeader writes the header at offset 0 of w.
func WriteHeader(w io.WriterAt, h Header) error {
	var buf [HeaderSize]byte
	h.EncodeTo(buf[:])
	_, err := w.WriteAt(buf[:], 0)
	return err
}
