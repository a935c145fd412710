// Package file provides context-aware streaming helpers shared by the
// rebuild and extraction engines.
package file

import (
	"context"
	"errors"
	"io"
)

// DefaultBufferSize is the chunk size used for passthrough copies.
const DefaultBufferSize = 32 * 1024

// ErrOverflow indicates a counter exceeded its maximum value.
var ErrOverflow = errors.New("counter overflow")

// CopyWithContext copies from src to dst until EOF or error, checking for
// context cancellation between reads. A chunk that has been read is always
// written before cancellation is honored. It returns the number of bytes written.
//
//nolint:gocognit // Follows stdlib io.Copy pattern; complexity is inherent to correct I/O handling
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	if len(buf) == 0 {
		buf = make([]byte, DefaultBufferSize)
	}
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
				if written < 0 {
					return written, ErrOverflow
				}
			}
			if ew != nil {
				return written, ew
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er == io.EOF {
				return written, nil
			}
			return written, er
		}
	}
}

// CopyN copies exactly n bytes from src to dst with cancellation checks.
// It returns io.ErrUnexpectedEOF if src ends early.
func CopyN(ctx context.Context, dst io.Writer, src io.Reader, n int64, buf []byte) (int64, error) {
	written, err := CopyWithContext(ctx, dst, io.LimitReader(src, n), buf)
	if err != nil {
		return written, err
	}
	if written != n {
		return written, io.ErrUnexpectedEOF
	}
	return written, nil
}
