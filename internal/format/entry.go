package format

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// EntrySize is the fixed binary size of one index record.
	EntrySize = 44 // 4 + 4 + 32 + 4 bytes

	// NameSize is the width of the NUL-padded name field.
	NameSize = 32

	// MaxNameLen is the longest name that fits with its NUL terminator.
	MaxNameLen = NameSize - 1

	// CloseMarker is the name of the record that closes a directory.
	CloseMarker = ".."
)

// Entry is one index record.
//
// Offset is meaningful only for file payloads. Size is zero for directory
// and close-marker records.
type Entry struct {
	Offset    int32
	Size      int32
	Name      string
	Timestamp int32

	// RawName holds the name field exactly as read, so an unchanged name is
	// written back byte for byte. It is ignored when it does not decode to Name.
	RawName [NameSize]byte
}

// IsDirectory reports whether the record opens a directory.
func (e *Entry) IsDirectory() bool {
	return e.Size == 0 && e.Name != CloseMarker
}

// IsCloseMarker reports whether the record closes a directory.
func (e *Entry) IsCloseMarker() bool {
	return e.Size == 0 && e.Name == CloseMarker
}

// EncodeTo writes the record to the given buffer.
// The buffer must be at least EntrySize bytes.
func (e *Entry) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.Offset)) //nolint:gosec // two's complement round trip
	binary.LittleEndian.PutUint32(buf[4:8], uint32(e.Size))   //nolint:gosec // two's complement round trip
	name := e.RawName
	if DecodeName(name) != e.Name {
		name = EncodeName(e.Name)
	}
	copy(buf[8:40], name[:])
	binary.LittleEndian.PutUint32(buf[40:44], uint32(e.Timestamp)) //nolint:gosec // two's complement round trip
}

// DecodeFrom reads the record from the given buffer.
func (e *Entry) DecodeFrom(buf []byte) {
	e.Offset = int32(binary.LittleEndian.Uint32(buf[0:4])) //nolint:gosec // two's complement round trip
	e.Size = int32(binary.LittleEndian.Uint32(buf[4:8]))   //nolint:gosec // two's complement round trip
	copy(e.RawName[:], buf[8:40])
	e.Name = DecodeName(e.RawName)
	e.Timestamp = int32(binary.LittleEndian.Uint32(buf[40:44])) //nolint:gosec // two's complement round trip
}

// StoredName returns name as it will be stored in an index record:
// non-ASCII bytes become '?' and anything beyond MaxNameLen is dropped.
func StoredName(name string) string {
	b := make([]byte, 0, min(len(name), MaxNameLen))
	for _, r := range name {
		if len(b) == MaxNameLen {
			break
		}
		if r == 0 {
			break
		}
		if r > 0x7f {
			r = '?'
		}
		b = append(b, byte(r))
	}
	return string(b)
}

// EncodeName encodes name into a NUL-padded name field, truncating silently.
func EncodeName(name string) [NameSize]byte {
	var field [NameSize]byte
	copy(field[:], StoredName(name))
	return field
}

// DecodeName returns the name stored in a name field, up to the first NUL.
func DecodeName(field [NameSize]byte) string {
	if i := bytes.IndexByte(field[:], 0); i >= 0 {
		return string(field[:i])
	}
	return string(field[:])
}

// ReadIndex reads index records from h.IndexOffset until the end of the
// archive. size is the total archive size in bytes.
func ReadIndex(r io.ReaderAt, size int64, h Header) ([]Entry, error) {
	if h.IndexOffset < HeaderSize {
		return nil, &FormatError{Offset: 8, Reason: fmt.Sprintf("index offset %d is below the header size", h.IndexOffset)}
	}
	start := int64(h.IndexOffset)
	if start > size {
		return nil, &FormatError{Offset: 8, Reason: fmt.Sprintf("index offset %d is beyond the end of the archive (%d bytes)", start, size)}
	}

	indexLen := size - start
	capHint := indexLen / EntrySize
	if h.NumberEntries > 0 && int64(h.NumberEntries) < capHint {
		capHint = int64(h.NumberEntries)
	}
	entries := make([]Entry, 0, capHint)

	br := bufio.NewReader(io.NewSectionReader(r, start, indexLen))
	var buf [EntrySize]byte
	pos := start
	for {
		n, err := io.ReadFull(br, buf[:])
		if err == io.EOF {
			return entries, nil
		}
		if err == io.ErrUnexpectedEOF {
			return nil, &FormatError{Offset: pos, Reason: fmt.Sprintf("truncated index record (%d of %d bytes)", n, EntrySize)}
		}
		if err != nil {
			return nil, err
		}
		var e Entry
		e.DecodeFrom(buf[:])
		entries = append(entries, e)
		pos += EntrySize
	}
}

// WriteIndex writes the records in order to w.
func WriteIndex(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	var buf [EntrySize]byte
	for i := range entries {
		entries[i].EncodeTo(buf[:])
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}
