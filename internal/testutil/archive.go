package testutil

import (
	"bytes"

	"github.com/meigma/vp/internal/format"
)

// RecordKind selects the record type emitted by BuildArchive.
type RecordKind int

const (
	File RecordKind = iota
	Dir
	End
)

// RawEntry describes one index record for BuildArchive.
type RawEntry struct {
	Kind      RecordKind
	Name      string
	Data      []byte
	Timestamp int32

	// Size and Offset override the computed record fields when non-zero.
	Size   int32
	Offset int32
}

// D is shorthand for a directory record.
func D(name string) RawEntry { return RawEntry{Kind: Dir, Name: name} }

// E is shorthand for a close marker.
func E() RawEntry { return RawEntry{Kind: End, Name: format.CloseMarker} }

// F is shorthand for a file record.
func F(name string, data []byte) RawEntry { return RawEntry{Kind: File, Name: name, Data: data} }

// BuildArchive lays out entries as a VP archive: header, payloads in record
// order, then the index. It does not validate nesting so malformed archives
// can be produced.
func BuildArchive(version int32, entries ...RawEntry) []byte {
	var body bytes.Buffer
	body.Write(make([]byte, format.HeaderSize))

	records := make([]format.Entry, 0, len(entries))
	for _, e := range entries {
		rec := format.Entry{Name: e.Name, Timestamp: e.Timestamp}
		rec.Offset = int32(body.Len()) //nolint:gosec // test archives are small
		if e.Kind == File {
			rec.Size = int32(len(e.Data)) //nolint:gosec // test archives are small
			body.Write(e.Data)
		}
		if e.Size != 0 {
			rec.Size = e.Size
		}
		if e.Offset != 0 {
			rec.Offset = e.Offset
		}
		records = append(records, rec)
	}

	indexOffset := int32(body.Len()) //nolint:gosec // test archives are small
	if err := format.WriteIndex(&body, records); err != nil {
		panic(err)
	}

	out := body.Bytes()
	format.Header{
		Version:       version,
		IndexOffset:   indexOffset,
		NumberEntries: int32(len(records)), //nolint:gosec // test archives are small
	}.EncodeTo(out)
	return out
}
