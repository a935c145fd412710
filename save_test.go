package vp

import (
	"bytes"
	"context"
	"encoding/binary"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/vp/internal/format"
	"github.com/meigma/vp/internal/lz41"
	"github.com/meigma/vp/internal/testutil"
)

func readNode(t *testing.T, n *Node) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := n.ReadTo(context.Background(), &buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func readHeader(t *testing.T, path string) format.Header {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	h, err := format.ReadHeader(f)
	require.NoError(t, err)
	return h
}

func storedPrefix(t *testing.T, path string, n *Node, size int) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data[n.Offset() : n.Offset()+int64(size)]
}

// mixedSource is a mod tree with compressible, incompressible, small and
// ignored files.
func mixedSource(t *testing.T) (string, map[string][]byte) {
	t.Helper()
	files := map[string][]byte{
		"tables/ships.tbl":   testutil.Compressible(80 * 1024),
		"tables/weapons.tbl": testutil.Compressible(300),
		"effects/noise.dds":  testutil.Incompressible(40*1024, 7),
		"maps/m1.fs2":        testutil.Compressible(2*BlockSize1MB + 123),
		"mod.json":           testutil.Compressible(64 * 1024),
	}
	return writeSource(t, files), files
}

func TestSaveAsRoundTrip(t *testing.T) {
	t.Parallel()

	src, files := mixedSource(t)
	c := New()
	c.EnableCompression()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))
	first := saveTemp(t, c)

	h := readHeader(t, first)
	assert.Equal(t, format.VersionCompressed, h.Version)
	// Five files plus an open and a close record for data and its three subdirectories.
	assert.Equal(t, int32(13), h.NumberEntries)

	loaded, err := Load(first)
	require.NoError(t, err)
	assert.True(t, loaded.CompressionEnabled())
	assert.True(t, loaded.Lookup("data/tables/ships.tbl").Compressed())
	assert.True(t, loaded.Lookup("data/maps/m1.fs2").Compressed())
	assert.False(t, loaded.Lookup("data/tables/weapons.tbl").Compressed(), "below minimum size")
	assert.False(t, loaded.Lookup("data/effects/noise.dds").Compressed(), "incompressible")
	assert.False(t, loaded.Lookup("data/mod.json").Compressed(), "ignored extension")

	second := filepath.Join(t.TempDir(), "second.vp")
	require.NoError(t, loaded.SaveAs(context.Background(), second))

	reloaded, err := Load(second)
	require.NoError(t, err)
	for name, want := range files {
		n := reloaded.Lookup("data/" + name)
		require.NotNil(t, n, name)
		assert.Equal(t, want, readNode(t, n), name)
		assert.Equal(t, int64(len(want)), n.OriginalSize(), name)
	}
	assert.Equal(t, second, reloaded.Path())
}

func TestSaveShrinkInvariant(t *testing.T) {
	t.Parallel()

	src, _ := mixedSource(t)
	c := New(WithSkipCompression())
	c.EnableCompression()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))
	path := saveTemp(t, c)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, loaded.Walk(func(p string, n *Node) error {
		if n.Kind() != KindFile {
			return nil
		}
		if n.Compressed() {
			assert.Less(t, n.Size(), n.OriginalSize(), p)
		} else {
			assert.Equal(t, n.Size(), n.OriginalSize(), p)
		}
		return nil
	}))
	assert.False(t, loaded.Lookup("data/effects/noise.dds").Compressed())
	assert.True(t, loaded.Lookup("data/tables/weapons.tbl").Compressed(), "no predicates compress small files too")
}

func TestSaveIdempotent(t *testing.T) {
	t.Parallel()

	src, _ := mixedSource(t)
	c := New()
	c.EnableCompression()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))
	path := saveTemp(t, c)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, c.Save(context.Background()))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, loaded.Save(context.Background()))
	third, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestSaveNameTruncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("n", 36) + ".txt"
	require.Len(t, long, 40)
	src := writeSource(t, map[string][]byte{long: []byte("payload")})

	c := New()
	_, err := c.Lookup("data").AddFile(filepath.Join(src, long))
	require.NoError(t, err)
	path := saveTemp(t, c)

	loaded, err := Load(path)
	require.NoError(t, err)
	n := loaded.Lookup("data/" + long[:31])
	require.NotNil(t, n)
	assert.Equal(t, long[:31], n.Name())

	dest := t.TempDir()
	require.NoError(t, loaded.ExtractAll(context.Background(), dest))
	assert.Equal(t, map[string][]byte{"data/" + long[:31]: []byte("payload")}, testutil.ReadTree(t, dest))
}

func TestSaveDeletion(t *testing.T) {
	t.Parallel()

	src := writeSource(t, map[string][]byte{
		"maps/m1.fs2":        []byte("one"),
		"maps/sub/m2.fs2":    []byte("two"),
		"tables/ships.tbl":   []byte("ships"),
		"tables/weapons.tbl": []byte("weapons"),
	})
	c := New()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))
	path := saveTemp(t, c)

	loaded, err := Load(path)
	require.NoError(t, err)
	maps := loaded.Lookup("data/maps")
	require.NoError(t, maps.Delete())
	require.NoError(t, loaded.Lookup("data/tables/weapons.tbl").Delete())
	require.NoError(t, loaded.Save(context.Background()))

	assert.Equal(t, []string{"tables", ".."}, childNames(loaded.Lookup("data")), "pruned in memory")
	assert.Equal(t, []string{"ships.tbl", ".."}, childNames(loaded.Lookup("data/tables")))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, reloaded.Lookup("data/maps"))
	assert.Nil(t, reloaded.Lookup("data/maps/sub/m2.fs2"))
	assert.Nil(t, reloaded.Lookup("data/tables/weapons.tbl"))
	assert.Equal(t, 1, reloaded.NumberFiles())
	assert.Equal(t, []byte("ships"), readNode(t, reloaded.Lookup("data/tables/ships.tbl")))
	assert.Equal(t, int32(5), readHeader(t, path).NumberEntries)
}

func TestSaveScenarioIgnoredExtension(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"readme.txt":  testutil.Compressible(50_000),
		"config.json": testutil.Compressible(5_000),
	}
	src := writeSource(t, files)

	c := New()
	c.EnableCompression()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))
	path := saveTemp(t, c)

	txt := c.Lookup("data/readme.txt")
	assert.True(t, txt.Compressed())
	assert.Equal(t, lz41.Magic[:], storedPrefix(t, path, txt, 4))
	assert.Less(t, txt.Size(), int64(50_000))

	cfg := c.Lookup("data/config.json")
	assert.False(t, cfg.Compressed())
	assert.Equal(t, int64(5_000), cfg.Size())
	assert.NotEqual(t, lz41.Magic[:], storedPrefix(t, path, cfg, 4))

	dest := t.TempDir()
	require.NoError(t, c.ExtractAll(context.Background(), dest))
	assert.Equal(t, map[string][]byte{
		"data/readme.txt":  files["readme.txt"],
		"data/config.json": files["config.json"],
	}, testutil.ReadTree(t, dest))
}

func TestSaveScenarioIncompressible(t *testing.T) {
	t.Parallel()

	blob := testutil.Incompressible(20*1024, 42)
	src := writeSource(t, map[string][]byte{"blob.bin": blob})

	c := New()
	c.EnableCompression()
	_, err := c.Lookup("data").AddFile(filepath.Join(src, "blob.bin"))
	require.NoError(t, err)
	path := saveTemp(t, c)

	loaded, err := Load(path)
	require.NoError(t, err)
	n := loaded.Lookup("data/blob.bin")
	assert.False(t, n.Compressed())
	assert.Equal(t, int64(20*1024), n.Size())
	assert.NotEqual(t, lz41.Magic[:], storedPrefix(t, path, n, 4))
	assert.Equal(t, blob, readNode(t, n))
}

func TestSaveDecompressesWhenDisabled(t *testing.T) {
	t.Parallel()

	src, files := mixedSource(t)
	c := New()
	c.EnableCompression()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))
	path := saveTemp(t, c)

	loaded, err := Load(path)
	require.NoError(t, err)
	loaded.DisableCompression()
	plain := filepath.Join(t.TempDir(), "plain.vp")
	require.NoError(t, loaded.SaveAs(context.Background(), plain))

	ships := loaded.Lookup("data/tables/ships.tbl")
	assert.False(t, ships.Compressed(), "tree reflects the decompressed entry")
	assert.Equal(t, int64(len(files["tables/ships.tbl"])), ships.Size())
	assert.Equal(t, format.VersionPlain, readHeader(t, plain).Version)

	reloaded, err := Load(plain)
	require.NoError(t, err)
	require.NoError(t, reloaded.Walk(func(p string, n *Node) error {
		assert.False(t, n.Compressed(), p)
		return nil
	}))
	for name, want := range files {
		assert.Equal(t, want, readNode(t, reloaded.Lookup("data/"+name)), name)
	}
}

func TestSaveCopiesCompressedEntries(t *testing.T) {
	t.Parallel()

	src, _ := mixedSource(t)
	c := New()
	c.EnableCompression()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))
	first := saveTemp(t, c)
	before := c.Lookup("data/maps/m1.fs2")
	stored := storedPrefix(t, first, before, int(before.Size()))

	second := filepath.Join(t.TempDir(), "copy.vp")
	require.NoError(t, c.SaveAs(context.Background(), second))
	after := c.Lookup("data/maps/m1.fs2")
	assert.Equal(t, stored, storedPrefix(t, second, after, int(after.Size())))
}

func TestSavePendingCompressedImport(t *testing.T) {
	t.Parallel()

	original := testutil.Compressible(30 * 1024)
	var stream bytes.Buffer
	_, err := lz41.Compress(context.Background(), bytes.NewReader(original), &stream, int64(len(original)), lz41.Options{})
	require.NoError(t, err)
	src := writeSource(t, map[string][]byte{"ships.tbl": stream.Bytes()})

	c := New()
	c.EnableCompression()
	n, err := c.Lookup("data").AddFile(filepath.Join(src, "ships.tbl"))
	require.NoError(t, err)
	saveTemp(t, c)

	assert.True(t, n.Compressed())
	assert.Equal(t, int64(stream.Len()), n.Size(), "stored as-is")
	assert.Equal(t, original, readNode(t, n))
}

func TestSavePlacesNodes(t *testing.T) {
	t.Parallel()

	src := writeSource(t, map[string][]byte{"a.tbl": []byte("aaaa"), "b.tbl": []byte("bb")})
	c := New()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))
	a := c.Lookup("data/a.tbl")
	assert.True(t, a.IsPending())

	path := saveTemp(t, c)
	b := c.Lookup("data/b.tbl")
	assert.False(t, a.IsPending())
	assert.Empty(t, a.SourcePath())
	assert.Equal(t, int64(format.HeaderSize), a.Offset())
	assert.Equal(t, int64(format.HeaderSize+4), b.Offset())
	assert.Equal(t, path, c.Path())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	indexOffset := binary.LittleEndian.Uint32(data[8:12])
	assert.Equal(t, uint32(format.HeaderSize+6), indexOffset)
	assert.Len(t, data, format.HeaderSize+6+4*format.EntrySize)
}

func TestSaveWithoutBackingFile(t *testing.T) {
	t.Parallel()

	err := New().Save(context.Background())
	assert.ErrorIs(t, err, ErrNoBackingFile)
	assert.ErrorIs(t, err, ErrLogic)
}

func TestSaveEmptyContainer(t *testing.T) {
	t.Parallel()

	path := saveTemp(t, New())
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.NumberFiles())
	assert.Equal(t, []string{"data"}, childNames(loaded.Root()))
}

func assertUntouched(t *testing.T, dir, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSaveCanceledLeavesTargetUntouched(t *testing.T) {
	t.Parallel()

	src, _ := mixedSource(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "target.vp")
	require.NoError(t, os.WriteFile(path, []byte("previous contents"), 0o600))

	c := New()
	c.EnableCompression()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	err := c.SaveAs(ctx, path, SaveWithProgress(func(ProgressEvent) {
		once.Do(cancel)
	}))
	require.ErrorIs(t, err, context.Canceled)
	assertUntouched(t, dir, path, []byte("previous contents"))

	assert.Empty(t, c.Path())
	c.Walk(func(p string, n *Node) error { //nolint:errcheck // callback never fails
		if n.Kind() == KindFile {
			assert.True(t, n.IsPending(), p)
		}
		return nil
	})
}

func TestSaveFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	src := writeSource(t, map[string][]byte{"a.tbl": []byte("aaa"), "b.tbl": []byte("bbb")})
	c := New()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))
	path := saveTemp(t, c)
	saved, err := os.ReadFile(path)
	require.NoError(t, err)

	extra := writeSource(t, map[string][]byte{"c.tbl": []byte("ccc")})
	n, err := c.Lookup("data").AddFile(filepath.Join(extra, "c.tbl"))
	require.NoError(t, err)
	require.NoError(t, c.Lookup("data/a.tbl").Delete())
	require.NoError(t, os.Remove(filepath.Join(extra, "c.tbl")))

	err = c.Save(context.Background())
	require.ErrorIs(t, err, fs.ErrNotExist)
	assertUntouched(t, filepath.Dir(path), path, saved)

	assert.True(t, n.IsPending())
	assert.True(t, c.Lookup("data").Children()[0].IsDeleted(), "delete mark kept until a save succeeds")
	assert.Equal(t, []byte("bbb"), readNode(t, c.Lookup("data/b.tbl")))
}

func TestSaveDetectsChangedSource(t *testing.T) {
	t.Parallel()

	src := writeSource(t, map[string][]byte{"a.tbl": []byte("aaa")})
	c := New()
	_, err := c.Lookup("data").AddFile(filepath.Join(src, "a.tbl"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.tbl"), []byte("longer now"), 0o600))

	err = c.SaveAs(context.Background(), filepath.Join(t.TempDir(), "x.vp"))
	assert.ErrorIs(t, err, ErrFileChanged)
}

func TestSaveProgress(t *testing.T) {
	t.Parallel()

	src, files := mixedSource(t)
	c := New()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))

	var events []ProgressEvent
	saveTemp(t, c, SaveWithProgress(func(ev ProgressEvent) {
		events = append(events, ev)
	}))

	require.Len(t, events, len(files))
	for i, ev := range events {
		assert.Equal(t, StageSaving, ev.Stage)
		assert.Equal(t, i+1, ev.FilesDone)
		assert.Equal(t, len(files), ev.FilesTotal)
		assert.True(t, strings.HasPrefix(ev.Path, "data/"))
	}
	assert.Positive(t, events[len(events)-1].BytesDone)
}
