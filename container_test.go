package vp

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/vp/internal/format"
	"github.com/meigma/vp/internal/lz41"
	"github.com/meigma/vp/internal/testutil"
)

// writeSource creates files below a fresh temp dir and returns the dir.
func writeSource(t *testing.T, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, files)
	return dir
}

// saveTemp saves c to a new archive in a temp dir and returns its path.
func saveTemp(t *testing.T, c *Container, opts ...SaveOption) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.vp")
	require.NoError(t, c.SaveAs(context.Background(), path, opts...))
	return path
}

func childNames(n *Node) []string {
	var names []string
	for _, ch := range n.Children() {
		names = append(names, ch.Name())
	}
	return names
}

func TestNewContainer(t *testing.T) {
	t.Parallel()

	c := New()
	assert.False(t, c.CompressionEnabled())
	assert.Empty(t, c.Path())
	assert.Equal(t, 0, c.NumberFiles())
	assert.Equal(t, 1, c.NumberFolders())

	data := c.Lookup("data")
	require.NotNil(t, data)
	assert.Equal(t, KindDirectory, data.Kind())
	assert.Equal(t, []string{format.CloseMarker}, childNames(data))
	assert.Equal(t, KindDirectoryEnd, data.Children()[0].Kind())

	c.EnableCompression()
	assert.True(t, c.CompressionEnabled())
	c.DisableCompression()
	assert.False(t, c.CompressionEnabled())
}

func TestCompressionLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level int
		want  int
	}{
		{level: 1, want: 1},
		{level: 6, want: 6},
		{level: 9, want: 9},
		{level: 10, want: 9},
		{level: 12, want: 9},
		{level: 13, want: 13},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, New(WithCompressionLevel(tt.level)).codecOptions().Level, "level %d", tt.level)
	}
	assert.Equal(t, lz41.DefaultLevel, New().codecOptions().Level)
}

func TestChildOrdering(t *testing.T) {
	t.Parallel()

	src := writeSource(t, map[string][]byte{
		"b.tbl": []byte("b"),
		"A.tbl": []byte("a"),
		"c.tbl": []byte("c"),
	})

	c := New()
	data := c.Lookup("data")
	for _, name := range []string{"b.tbl", "c.tbl", "A.tbl"} {
		_, err := data.AddFile(filepath.Join(src, name))
		require.NoError(t, err)
	}
	_, err := data.CreateEmptyDirectory("zeta")
	require.NoError(t, err)
	_, err = data.CreateEmptyDirectory("Alpha")
	require.NoError(t, err)

	assert.Equal(t, []string{"Alpha", "zeta", "A.tbl", "b.tbl", "c.tbl", ".."}, childNames(data))
}

func TestCreateEmptyDirectory(t *testing.T) {
	t.Parallel()

	c := New()
	data := c.Lookup("data")

	maps, err := data.CreateEmptyDirectory("maps")
	require.NoError(t, err)
	assert.Equal(t, "data/maps", maps.Path())
	assert.Equal(t, []string{".."}, childNames(maps))

	again, err := data.CreateEmptyDirectory("maps")
	require.NoError(t, err)
	assert.Same(t, maps, again)

	_, err = data.CreateEmptyDirectory("..")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.ErrorIs(t, err, ErrLogic)

	_, err = maps.Children()[0].CreateEmptyDirectory("x")
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestAddFile(t *testing.T) {
	t.Parallel()

	src := writeSource(t, map[string][]byte{
		"ships.tbl":       []byte("first"),
		"other/ships.tbl": []byte("second version"),
		"empty.tbl":       nil,
	})

	c := New()
	data := c.Lookup("data")

	first, err := data.AddFile(filepath.Join(src, "ships.tbl"))
	require.NoError(t, err)
	assert.True(t, first.IsPending())
	assert.Equal(t, int64(5), first.Size())
	assert.Equal(t, "data/ships.tbl", first.Path())

	second, err := data.AddFile(filepath.Join(src, "other", "ships.tbl"))
	require.NoError(t, err)
	assert.True(t, first.IsDeleted(), "same-name file is replaced")
	assert.Same(t, second, c.Lookup("data/ships.tbl"))
	assert.Equal(t, 1, c.NumberFiles())

	_, err = data.AddFile(filepath.Join(src, "empty.tbl"))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = data.AddFile(filepath.Join(src, "missing.tbl"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = data.AddFile(filepath.Join(src, "other"))
	assert.ErrorIs(t, err, ErrLogic)

	_, err = second.AddFile(filepath.Join(src, "ships.tbl"))
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestAddFileNameNormalization(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("abcdefghij", 4) // 40 characters
	src := writeSource(t, map[string][]byte{
		long:       []byte("long name"),
		"café.txt": []byte("accent"),
	})

	c := New()
	data := c.Lookup("data")

	n, err := data.AddFile(filepath.Join(src, long))
	require.NoError(t, err)
	assert.Equal(t, long[:31], n.Name())

	n, err = data.AddFile(filepath.Join(src, "café.txt"))
	require.NoError(t, err)
	assert.Equal(t, "caf?.txt", n.Name())
}

func TestAddDirectoryRecursive(t *testing.T) {
	t.Parallel()

	src := writeSource(t, map[string][]byte{
		"maps/m1.fs2":      []byte("mission one"),
		"maps/m2.fs2":      []byte("mission two"),
		"tables/ships.tbl": []byte("ships"),
		"tables/empty.tbl": nil,
		"readme.txt":       []byte("readme"),
	})
	if err := os.Symlink(filepath.Join(src, "readme.txt"), filepath.Join(src, "link.txt")); err != nil {
		t.Logf("symlinks unavailable: %v", err)
	}

	c := New()
	data := c.Lookup("data")
	existing, err := data.CreateEmptyDirectory("maps")
	require.NoError(t, err)

	require.NoError(t, data.AddDirectoryRecursive(src))

	assert.Same(t, existing, c.Lookup("data/maps"), "existing directory is merged into")
	assert.Equal(t, []string{"m1.fs2", "m2.fs2", ".."}, childNames(existing))
	assert.NotNil(t, c.Lookup("data/tables/ships.tbl"))
	assert.Nil(t, c.Lookup("data/tables/empty.tbl"), "empty files are skipped")
	assert.Nil(t, c.Lookup("data/link.txt"), "symlinks are skipped")
	assert.NotNil(t, c.Lookup("data/readme.txt"))
	assert.Equal(t, 4, c.NumberFiles())
	assert.Equal(t, 3, c.NumberFolders())
}

func TestAddFolderToRoot(t *testing.T) {
	t.Parallel()

	src := writeSource(t, map[string][]byte{
		"data/tables/ships.tbl": []byte("ships"),
		"mod.ini":               []byte("[mod]"),
	})

	c := New()
	require.NoError(t, c.AddFolderToRoot(src))

	assert.Equal(t, []string{"data", "mod.ini"}, childNames(c.Root()))
	assert.NotNil(t, c.Lookup("data/tables/ships.tbl"))
	assert.Equal(t, 2, c.NumberFiles())
}

func TestDeleteAndRestore(t *testing.T) {
	t.Parallel()

	src := writeSource(t, map[string][]byte{
		"maps/m1.fs2": []byte("one"),
		"a.tbl":       []byte("a"),
	})
	c := New()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))

	maps := c.Lookup("data/maps")
	m1 := c.Lookup("data/maps/m1.fs2")
	require.NoError(t, maps.Delete())
	assert.True(t, maps.IsDeleted())
	assert.True(t, m1.IsDeleted(), "descendants of a deleted directory are deleted")
	assert.Nil(t, c.Lookup("data/maps"))
	assert.Equal(t, 1, c.NumberFiles())

	maps.Restore()
	assert.False(t, m1.IsDeleted())
	assert.Equal(t, 2, c.NumberFiles())

	assert.ErrorIs(t, c.Root().Delete(), ErrLogic)
	end := maps.Children()[len(maps.Children())-1]
	assert.ErrorIs(t, end.Delete(), ErrLogic)
}

func TestLookup(t *testing.T) {
	t.Parallel()

	src := writeSource(t, map[string][]byte{"Maps/Mission.fs2": []byte("m")})
	c := New()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))

	assert.NotNil(t, c.Lookup("data/Maps/Mission.fs2"))
	assert.NotNil(t, c.Lookup(`DATA\maps\mission.FS2`), "case-insensitive with backslashes")
	assert.Nil(t, c.Lookup("data/Maps/Mission.fs2/extra"))
	assert.Nil(t, c.Lookup("data/nope"))
	assert.Same(t, c.Root(), c.Lookup(""))
}

func TestWalk(t *testing.T) {
	t.Parallel()

	src := writeSource(t, map[string][]byte{
		"maps/m1.fs2":      []byte("one"),
		"tables/ships.tbl": []byte("ships"),
	})
	c := New()
	require.NoError(t, c.Lookup("data").AddDirectoryRecursive(src))

	var paths []string
	require.NoError(t, c.Walk(func(path string, _ *Node) error {
		paths = append(paths, path)
		return nil
	}))
	assert.Equal(t, []string{"data", "data/maps", "data/maps/m1.fs2", "data/tables", "data/tables/ships.tbl"}, paths)

	paths = nil
	require.NoError(t, c.Walk(func(path string, n *Node) error {
		paths = append(paths, path)
		if n.IsDir() && n.Name() == "maps" {
			return fs.SkipDir
		}
		return nil
	}))
	assert.Equal(t, []string{"data", "data/maps", "data/tables", "data/tables/ships.tbl"}, paths)
}
