// Package testutil provides fixtures shared by the vp test suites.
package testutil

import (
	"bytes"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Compressible returns n bytes of repetitive text.
func Compressible(n int) []byte {
	line := []byte("#Ship Classes\n$Name: GTF Ulysses\n$Species: Terran\n+Length: 38 m\n")
	out := bytes.Repeat(line, n/len(line)+1)
	return out[:n]
}

// Incompressible returns n pseudo-random bytes derived from seed.
func Incompressible(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // test data
	out := make([]byte, n)
	for i := 0; i < n; i += 8 {
		v := r.Uint64()
		for j := 0; j < 8 && i+j < n; j++ {
			out[i+j] = byte(v >> (8 * j))
		}
	}
	return out
}

// WriteFiles creates the given files below dir. Keys are slash-separated
// relative paths; parent directories are created as needed.
func WriteFiles(tb testing.TB, dir string, files map[string][]byte) {
	tb.Helper()
	for name, data := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(tb, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(tb, os.WriteFile(path, data, 0o600))
	}
}

// ReadTree returns every regular file below dir keyed by slash-separated
// relative path.
func ReadTree(tb testing.TB, dir string) map[string][]byte {
	tb.Helper()
	out := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = data
		return nil
	})
	require.NoError(tb, err)
	return out
}
