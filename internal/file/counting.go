package file

import "io"

// CountingWriter wraps a writer and counts bytes written.
type CountingWriter struct {
	W io.Writer
	N int64
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.W.Write(p)
	if n > 0 {
		cw.N += int64(n)
		if cw.N < 0 {
			return n, ErrOverflow
		}
	}
	return n, err
}
