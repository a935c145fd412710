// Package vp reads, edits and writes VP archives, the single-file
// containers used by FreeSpace 2 Open to ship game data.
//
// An archive is a 16-byte header, the concatenated file payloads, and a
// trailing index of fixed 44-byte records. The index holds no parent
// pointers: a zero-size record opens a directory and a zero-size ".."
// record closes the innermost open one. Individual payloads may be
// compressed with the LZ41 framing (independent LZ4 HC blocks); every
// payload is self-describing through its first four bytes.
//
// # Quick Start
//
// Load an archive and extract it:
//
//	c, err := vp.Load("core.vp")
//	if err != nil {
//	    return err
//	}
//	err = c.ExtractAll(ctx, "./out", vp.ExtractWithWorkers(4))
//
// Build a new compressed archive from a mod tree:
//
//	c := vp.New()
//	c.EnableCompression()
//	data := c.Lookup("data")
//	if err := data.AddDirectoryRecursive("./mod/data"); err != nil {
//	    return err
//	}
//	err := c.SaveAs(ctx, "mod.vp")
//
// # Editing
//
// All edits happen in memory. Nodes are delete-marked with [Node.Delete]
// and new files stay pending, read from their source path, until
// [Container.Save] or [Container.SaveAs] rebuilds the archive into a
// temporary sibling file and renames it over the target. A failed or
// cancelled save leaves both the target file and the in-memory tree as
// they were.
//
// # Compression
//
// With compression enabled, a save compresses each uncompressed file unless
// a skip predicate fires (by default: smaller than 10 KiB, or an extension
// on the ignore list), and keeps the result only if it is strictly smaller
// than the input. With compression disabled, a save decompresses every
// compressed entry. Already-compressed entries are copied through as-is.
package vp
