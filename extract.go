package vp

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/vp/internal/file"
	"github.com/meigma/vp/internal/format"
	"github.com/meigma/vp/internal/lz41"
	"github.com/meigma/vp/internal/pathutil"
	"github.com/meigma/vp/internal/sink"
)

// ExtractAll writes every live top-level entry below destDir, creating
// directories as needed and decompressing compressed files.
func (c *Container) ExtractAll(ctx context.Context, destDir string, opts ...ExtractOption) error {
	return c.root.Extract(ctx, destDir, opts...)
}

// Extract writes n below destDir: a directory becomes destDir/<name> with
// its subtree, a file becomes destDir/<name>, and the root extracts all
// top-level entries into destDir.
//
// Every file in the subtree must be persisted in the backing file;
// otherwise Extract fails with ErrNotPersisted before writing anything.
func (n *Node) Extract(ctx context.Context, destDir string, opts ...ExtractOption) error {
	var cfg extractConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	plan, err := n.planExtract()
	if err != nil {
		return err
	}

	fsink := sink.NewFileSink(destDir,
		sink.WithOverwrite(!cfg.skipExisting),
		sink.WithPreserveTimes(cfg.preserveTimes),
	)
	n.c.log().Info("extracting", "path", n.Path(), "dest", destDir, "files", len(plan.files), "workers", max(cfg.workers, 1))
	return n.c.runExtract(ctx, plan, fsink, cfg.workers, StageExtracting, cfg.progress)
}

// ReadTo streams the decompressed content of a persisted file to w and
// returns the number of bytes written.
func (n *Node) ReadTo(ctx context.Context, w io.Writer) (int64, error) {
	if err := n.checkPersisted(); err != nil {
		return 0, err
	}
	f, err := os.Open(n.c.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return n.copyPayload(ctx, f, w, nil)
}

func (n *Node) checkPersisted() error {
	if n.kind != KindFile {
		return fmt.Errorf("%w: %s is a %s, not a file", ErrLogic, n.Path(), n.kind)
	}
	if n.IsPending() || n.size == 0 || n.offset < format.HeaderSize || n.c.path == "" {
		return fmt.Errorf("%w: %s", ErrNotPersisted, n.Path())
	}
	return nil
}

// copyPayload writes the decompressed payload of n, read from the backing
// file r, to w.
func (n *Node) copyPayload(ctx context.Context, r io.ReaderAt, w io.Writer, buf []byte) (int64, error) {
	sec := io.NewSectionReader(r, n.offset, n.size)
	if n.comp != nil {
		written, err := lz41.Decompress(ctx, sec, w)
		if err != nil {
			return written, fmt.Errorf("%s: %w", n.Path(), decompressionErr(err))
		}
		return written, nil
	}
	return file.CopyN(ctx, w, sec, n.size, buf)
}

// extractPlan lists what to materialize, in walk order, with paths
// relative to the destination.
type extractPlan struct {
	dirs  []planned
	files []planned
}

type planned struct {
	rel  string
	node *Node
}

// planExtract validates the subtree below n and collects its directories
// and files.
func (n *Node) planExtract() (*extractPlan, error) {
	plan := &extractPlan{}
	switch {
	case n.parent == nil:
		if err := plan.add(n, ""); err != nil {
			return nil, err
		}
	case n.IsDeleted():
		return plan, nil
	default:
		if err := plan.addNode(n, ""); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func (p *extractPlan) add(dir *Node, rel string) error {
	for _, ch := range dir.children {
		if ch.deleted || ch.kind == KindDirectoryEnd {
			continue
		}
		if err := p.addNode(ch, rel); err != nil {
			return err
		}
	}
	return nil
}

func (p *extractPlan) addNode(n *Node, parentRel string) error {
	if n.kind == KindDirectoryEnd {
		return nil
	}
	if !pathutil.ValidComponent(n.name) {
		return fmt.Errorf("%w: %q", ErrUnsafePath, n.Path())
	}
	rel := pathutil.Join(parentRel, n.name)
	if n.kind == KindDirectory {
		p.dirs = append(p.dirs, planned{rel: rel, node: n})
		return p.add(n, rel)
	}
	if err := n.checkPersisted(); err != nil {
		return err
	}
	p.files = append(p.files, planned{rel: rel, node: n})
	return nil
}

// runExtract creates the planned directories in order and then writes the
// files through s with up to workers concurrent jobs. Each job reads
// through its own handle on the backing file.
func (c *Container) runExtract(ctx context.Context, plan *extractPlan, s sink.Sink, workers int, stage ProgressStage, progress ProgressFunc) error {
	for _, d := range plan.dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Dir(d.rel, d.node.ModTime()); err != nil {
			return err
		}
	}
	if len(plan.files) == 0 {
		return nil
	}

	if workers < 1 {
		workers = 1
	}
	total := len(plan.files)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range plan.files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := c.extractFile(gctx, s, f); err != nil {
				return err
			}
			report(progress, ProgressEvent{
				Stage:      stage,
				Path:       f.node.Path(),
				FilesDone:  int(done.Add(1)),
				FilesTotal: total,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Container) extractFile(ctx context.Context, s sink.Sink, f planned) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := &sink.Entry{
		Path:    f.rel,
		Size:    f.node.OriginalSize(),
		ModTime: f.node.ModTime(),
	}
	if !s.ShouldProcess(entry) {
		c.log().Debug("skipped existing file", "path", f.rel)
		return nil
	}

	src, err := os.Open(c.path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := s.Writer(entry)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = w.Discard() //nolint:errcheck // best-effort cleanup
		}
	}()

	if _, err := f.node.copyPayload(ctx, src, w, nil); err != nil {
		return err
	}
	return w.Commit()
}
