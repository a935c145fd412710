package vp

import (
	"fmt"
	"io"
	"os"

	"github.com/meigma/vp/internal/format"
)

// Load opens the archive at path and parses its tree.
// The file is only read; it is not kept open.
func Load(path string, opts ...Option) (*Container, error) {
	c := newContainer(opts)
	if err := c.Load(path); err != nil {
		return nil, err
	}
	return c, nil
}

// Load replaces the tree with the archive at path, which becomes the
// backing file. The container-level compression flag follows the archive
// version. On error the container is left unchanged.
func (c *Container) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	h, err := format.ReadHeader(f)
	if err != nil {
		return fmt.Errorf("read header %s: %w", path, err)
	}
	entries, err := format.ReadIndex(f, info.Size(), h)
	if err != nil {
		return fmt.Errorf("read index %s: %w", path, err)
	}
	if int(h.NumberEntries) != len(entries) {
		c.log().Warn("index entry count differs from header",
			"path", path, "header", h.NumberEntries, "records", len(entries))
	}

	root, err := c.parseIndex(f, info.Size(), int64(h.IndexOffset), entries)
	if err != nil {
		return fmt.Errorf("parse index %s: %w", path, err)
	}

	c.root = root
	c.path = path
	c.compression = h.Compressed()
	c.log().Debug("loaded archive", "path", path, "version", h.Version,
		"entries", len(entries), "files", c.NumberFiles())
	return nil
}

// parseIndex rebuilds the tree from the flat record list using an explicit
// stack of open directories. Compressed files are detected by probing the
// payload at each file offset.
func (c *Container) parseIndex(r io.ReaderAt, size, indexOffset int64, entries []format.Entry) (*Node, error) {
	root := c.newNode(KindDirectory, nil, "")
	stack := []*Node{root}

	for i := range entries {
		e := &entries[i]
		pos := indexOffset + int64(i)*format.EntrySize
		top := stack[len(stack)-1]

		if e.Size < 0 || e.Offset < 0 {
			return nil, &format.FormatError{Offset: pos, Reason: fmt.Sprintf("negative offset or size in record %q", e.Name)}
		}

		switch {
		case e.IsCloseMarker():
			if len(stack) == 1 {
				return nil, &format.FormatError{Offset: pos, Reason: "directory close without matching open"}
			}
			end := c.loadedNode(KindDirectoryEnd, top, e)
			top.children = append(top.children, end)
			stack = stack[:len(stack)-1]

		case e.IsDirectory():
			d := c.loadedNode(KindDirectory, top, e)
			top.children = append(top.children, d)
			stack = append(stack, d)

		default:
			off, n := int64(e.Offset), int64(e.Size)
			if off < format.HeaderSize || off+n > size {
				return nil, &format.FormatError{Offset: pos, Reason: fmt.Sprintf("payload of %q at [%d, %d) outside file of %d bytes", e.Name, off, off+n, size)}
			}
			f := c.loadedNode(KindFile, top, e)
			f.offset = off
			f.size = n
			ci, err := sniffCompression(r, off, n)
			if ci == nil && err != nil {
				return nil, fmt.Errorf("probe %q: %w", e.Name, err)
			}
			if err != nil {
				c.log().Warn("compressed entry has a damaged trailer", "name", e.Name, "error", err)
			}
			f.comp = ci
			top.children = append(top.children, f)
		}
	}

	if len(stack) > 1 {
		return nil, &format.FormatError{
			Offset: indexOffset + int64(len(entries))*format.EntrySize,
			Reason: fmt.Sprintf("directory %q is never closed", stack[len(stack)-1].Path()),
		}
	}
	return root, nil
}

// loadedNode builds a node from an index record, keeping the raw name bytes
// so an unmodified name is rewritten byte for byte.
func (c *Container) loadedNode(kind Kind, parent *Node, e *format.Entry) *Node {
	return &Node{
		c:         c,
		kind:      kind,
		name:      e.Name,
		rawName:   e.RawName,
		hasRaw:    true,
		parent:    parent,
		timestamp: e.Timestamp,
		offset:    int64(e.Offset),
	}
}
