package format

import (
	"errors"
	"fmt"
)

// ErrFormat is matched by every FormatError via errors.Is.
var ErrFormat = errors.New("vp: invalid archive format")

// FormatError reports a structural problem in an archive.
type FormatError struct {
	// Offset is the byte position in the archive where the problem was found.
	Offset int64

	// Reason describes the problem.
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("vp: invalid archive at offset %d: %s", e.Offset, e.Reason)
}

// Is reports whether target is ErrFormat.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}
