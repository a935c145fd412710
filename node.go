package vp

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/meigma/vp/internal/format"
	"github.com/meigma/vp/internal/pathutil"
	"github.com/meigma/vp/internal/platform"
)

// Kind identifies the type of a tree node.
type Kind uint8

const (
	KindDirectory Kind = iota
	KindFile
	KindDirectoryEnd
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	case KindDirectoryEnd:
		return "directory end"
	default:
		return "unknown"
	}
}

// CodecLZ41 is the codec tag of LZ41-compressed payloads.
const CodecLZ41 = "LZ41"

// CompressionInfo describes a compressed payload.
type CompressionInfo struct {
	// Codec is the payload codec tag.
	Codec string

	// OriginalSize is the uncompressed length. It is the stored size when
	// the stream trailer is unreadable.
	OriginalSize int64

	// BlockSize is the uncompressed size of each codec block, or zero when
	// the stream trailer is unreadable.
	BlockSize int
}

// Node is a directory, file or directory terminator in a container tree.
//
// Directories own their children; the last child of every directory is its
// DirectoryEnd. A Node belongs to exactly one Container and is not safe for
// concurrent mutation.
type Node struct {
	c        *Container
	kind     Kind
	name     string
	rawName  [format.NameSize]byte
	hasRaw   bool
	parent   *Node
	children []*Node
	deleted  bool

	timestamp int32

	// offset and size locate the payload in the backing file. For pending
	// files size is the source file size and offset is unused.
	offset int64
	size   int64
	source string
	comp   *CompressionInfo
}

func (c *Container) newNode(kind Kind, parent *Node, name string) *Node {
	n := &Node{
		c:      c,
		kind:   kind,
		name:   format.StoredName(name),
		parent: parent,
	}
	if kind == KindDirectoryEnd {
		n.name = format.CloseMarker
	}
	return n
}

// newDirectory creates a directory with its terminator already in place.
func (c *Container) newDirectory(parent *Node, name string) *Node {
	d := c.newNode(KindDirectory, parent, name)
	d.children = []*Node{c.newNode(KindDirectoryEnd, d, "")}
	return d
}

// Kind returns the node type.
func (n *Node) Kind() Kind { return n.kind }

// IsDir reports whether n is a directory.
func (n *Node) IsDir() bool { return n.kind == KindDirectory }

// Name returns the name as stored in the index.
func (n *Node) Name() string { return n.name }

// Parent returns the containing directory, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Path returns the slash-separated path from the root.
// The root itself has an empty path.
func (n *Node) Path() string {
	if n.parent == nil {
		return ""
	}
	return pathutil.Join(n.parent.Path(), n.name)
}

// Children returns a copy of the child list, including delete-marked
// children and the trailing DirectoryEnd.
func (n *Node) Children() []*Node { return slices.Clone(n.children) }

// Child returns the live child with the given name, or nil. An exact
// match wins over a case-insensitive one.
func (n *Node) Child(name string) *Node {
	var fold *Node
	for _, ch := range n.children {
		if ch.deleted || ch.kind == KindDirectoryEnd {
			continue
		}
		if ch.name == name {
			return ch
		}
		if fold == nil && strings.EqualFold(ch.name, name) {
			fold = ch
		}
	}
	return fold
}

// Size returns the stored payload size, which is the compressed size for
// compressed files.
func (n *Node) Size() int64 { return n.size }

// OriginalSize returns the uncompressed payload size.
func (n *Node) OriginalSize() int64 {
	if n.comp != nil {
		return n.comp.OriginalSize
	}
	return n.size
}

// Offset returns the payload offset in the backing file. It is meaningless
// for pending files and for non-file nodes.
func (n *Node) Offset() int64 { return n.offset }

// Compression returns the payload compression, or nil if stored raw.
func (n *Node) Compression() *CompressionInfo {
	if n.comp == nil {
		return nil
	}
	ci := *n.comp
	return &ci
}

// Compressed reports whether the payload is compressed.
func (n *Node) Compressed() bool { return n.comp != nil }

// ModTime returns the index timestamp, or the zero time if none is recorded.
func (n *Node) ModTime() time.Time {
	if n.timestamp == 0 {
		return time.Time{}
	}
	return time.Unix(int64(n.timestamp), 0).UTC()
}

// IsPending reports whether n is a file that has not been saved yet.
func (n *Node) IsPending() bool { return n.source != "" }

// SourcePath returns the import path of a pending file.
func (n *Node) SourcePath() string { return n.source }

// IsDeleted reports whether n or any of its ancestors is delete-marked.
func (n *Node) IsDeleted() bool {
	for p := n; p != nil; p = p.parent {
		if p.deleted {
			return true
		}
	}
	return false
}

// Delete marks n, and with it its whole subtree, for removal on the next
// save.
func (n *Node) Delete() error {
	switch {
	case n.parent == nil:
		return fmt.Errorf("%w: cannot delete the root", ErrLogic)
	case n.kind == KindDirectoryEnd:
		return fmt.Errorf("%w: cannot delete a directory terminator", ErrLogic)
	}
	n.deleted = true
	return nil
}

// Restore clears the delete mark set by Delete.
func (n *Node) Restore() { n.deleted = false }

// NumberOfFiles returns 1 for a file, the number of live files in the
// subtree for a directory, and 0 otherwise.
func (n *Node) NumberOfFiles() int {
	switch n.kind {
	case KindFile:
		return 1
	case KindDirectory:
		count := 0
		for _, ch := range n.children {
			if !ch.deleted {
				count += ch.NumberOfFiles()
			}
		}
		return count
	default:
		return 0
	}
}

// CreateEmptyDirectory adds a directory named name to n and returns it.
// If a live directory with the same stored name exists it is returned instead.
func (n *Node) CreateEmptyDirectory(name string) (*Node, error) {
	if n.kind != KindDirectory {
		return nil, ErrNotDirectory
	}
	stored, err := validName(name)
	if err != nil {
		return nil, err
	}
	if d := n.liveChild(KindDirectory, stored); d != nil {
		return d, nil
	}
	d := n.c.newDirectory(n, stored)
	n.insert(d)
	return d, nil
}

// AddFile adds the regular file at path to n as a pending import. A live
// file with the same stored name is delete-marked and replaced.
func (n *Node) AddFile(path string) (*Node, error) {
	if n.kind != KindDirectory {
		return nil, ErrNotDirectory
	}
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	return n.addFileInfo(path, info)
}

func (n *Node) addFileInfo(path string, info fs.FileInfo) (*Node, error) {
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, fmt.Errorf("%s: %w", path, platform.ErrSymlink)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrLogic, path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	if info.Size() > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrSizeOverflow, path, info.Size())
	}
	stored, err := validName(filepath.Base(path))
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	if old := n.liveChild(KindFile, stored); old != nil {
		old.deleted = true
	}
	f := n.c.newNode(KindFile, n, stored)
	f.source = abs
	f.size = info.Size()
	f.timestamp = unixTimestamp(info.ModTime())
	n.insert(f)
	return f, nil
}

// AddDirectoryRecursive adds the contents of dir to n, creating or merging
// into subdirectories of the same name. Empty files, symlinks and other
// non-regular entries are skipped.
func (n *Node) AddDirectoryRecursive(dir string) error {
	if n.kind != KindDirectory {
		return ErrNotDirectory
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub, err := n.CreateEmptyDirectory(e.Name())
		if err != nil {
			if errors.Is(err, ErrInvalidName) {
				n.c.log().Warn("skipped directory", "path", filepath.Join(dir, e.Name()), "error", err)
				continue
			}
			return err
		}
		if err := sub.AddDirectoryRecursive(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !e.Type().IsRegular() {
			n.c.log().Debug("skipped non-regular file", "path", path, "type", e.Type().String())
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 {
			n.c.log().Debug("skipped empty file", "path", path)
			continue
		}
		if _, err := n.addFileInfo(path, info); err != nil {
			return err
		}
	}
	return nil
}

// liveChild returns the live child of the given kind with exactly name.
func (n *Node) liveChild(kind Kind, name string) *Node {
	for _, ch := range n.children {
		if !ch.deleted && ch.kind == kind && ch.name == name {
			return ch
		}
	}
	return nil
}

// insert places child before the first sibling that orders after it.
func (n *Node) insert(child *Node) {
	i := slices.IndexFunc(n.children, func(s *Node) bool {
		return compareNodes(s, child) > 0
	})
	if i < 0 {
		i = len(n.children)
	}
	n.children = slices.Insert(n.children, i, child)
}

// compareNodes orders directories before files before the terminator, then
// by case-insensitive name, then by exact name.
func compareNodes(a, b *Node) int {
	if c := cmp.Compare(a.kind, b.kind); c != 0 {
		return c
	}
	if c := strings.Compare(strings.ToLower(a.name), strings.ToLower(b.name)); c != 0 {
		return c
	}
	return strings.Compare(a.name, b.name)
}

func validName(name string) (string, error) {
	stored := format.StoredName(name)
	if stored == "" || stored == "." || stored == format.CloseMarker {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return stored, nil
}

func unixTimestamp(t time.Time) int32 {
	sec := t.Unix()
	if sec <= 0 || sec > math.MaxInt32 {
		return 0
	}
	return int32(sec)
}
