package vp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/vp/internal/lz41"
	"github.com/meigma/vp/internal/platform"
	"github.com/meigma/vp/internal/write"
)

// LooseSuffix is appended to loose files compressed by CompressLooseFiles.
const LooseSuffix = ".lz41"

// LooseStats summarizes a loose-file run.
type LooseStats struct {
	// Processed is the number of files converted.
	Processed int

	// Skipped is the number of files left as they were.
	Skipped int

	// BytesIn is the total input size of processed files.
	BytesIn int64

	// BytesOut is the total output size of processed files.
	BytesOut int64
}

// looseConfig holds configuration for loose-file operations.
type looseConfig struct {
	parallelism        int
	progress           ProgressFunc
	logger             *slog.Logger
	skipCompression    []SkipCompressionFunc
	skipCompressionSet bool
	level              int
	blockSize          int
}

// LooseOption configures CompressLooseFiles and DecompressLooseFiles.
type LooseOption func(*looseConfig)

// LooseWithParallelism sets how many files are processed concurrently.
// Values below 1 use runtime.NumCPU().
func LooseWithParallelism(n int) LooseOption {
	return func(cfg *looseConfig) {
		cfg.parallelism = n
	}
}

// LooseWithProgress sets a callback invoked after each file. It is called
// concurrently.
func LooseWithProgress(fn ProgressFunc) LooseOption {
	return func(cfg *looseConfig) {
		cfg.progress = fn
	}
}

// LooseWithLogger sets the logger. A nil logger discards all output.
func LooseWithLogger(logger *slog.Logger) LooseOption {
	return func(cfg *looseConfig) {
		cfg.logger = logger
	}
}

// LooseWithSkipCompression replaces the default skip predicates.
func LooseWithSkipCompression(fns ...SkipCompressionFunc) LooseOption {
	return func(cfg *looseConfig) {
		cfg.skipCompression = append([]SkipCompressionFunc(nil), fns...)
		cfg.skipCompressionSet = true
	}
}

// LooseWithCompressionLevel sets the LZ4 HC level, 1 to 9.
func LooseWithCompressionLevel(level int) LooseOption {
	return func(cfg *looseConfig) {
		cfg.level = level
	}
}

// LooseWithBlockSize sets the LZ41 block size used when compressing.
func LooseWithBlockSize(n int) LooseOption {
	return func(cfg *looseConfig) {
		cfg.blockSize = n
	}
}

func (cfg *looseConfig) log() *slog.Logger {
	if cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return cfg.logger
}

func (cfg *looseConfig) skip(name string, size int64) bool {
	if cfg.skipCompressionSet {
		return write.ShouldSkip(name, size, cfg.skipCompression)
	}
	return write.DefaultSkipCompression(DefaultMinCompressSize)(name, size)
}

// looseRun tracks shared state across the workers of one run.
type looseRun struct {
	cfg   looseConfig
	stage ProgressStage
	total int

	mu    sync.Mutex
	stats LooseStats
	done  int
}

func (r *looseRun) finish(path string, processed bool, in, out int64) {
	r.mu.Lock()
	if processed {
		r.stats.Processed++
		r.stats.BytesIn += in
		r.stats.BytesOut += out
	} else {
		r.stats.Skipped++
	}
	r.done++
	ev := ProgressEvent{Stage: r.stage, Path: path, FilesDone: r.done, FilesTotal: r.total}
	r.mu.Unlock()
	report(r.cfg.progress, ev)
}

// runLoose applies fn to every path with bounded parallelism. fn returns whether
// the file was converted and the input and output sizes.
func runLoose(ctx context.Context, paths []string, stage ProgressStage, opts []LooseOption,
	fn func(ctx context.Context, cfg *looseConfig, path string) (bool, int64, int64, error),
) (LooseStats, error) {
	r := &looseRun{stage: stage, total: len(paths)}
	for _, opt := range opts {
		opt(&r.cfg)
	}
	workers := r.cfg.parallelism
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	r.cfg.log().Info("processing loose files", "stage", stage.String(), "files", len(paths), "workers", workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ok, in, out, err := fn(gctx, &r.cfg, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			r.finish(path, ok, in, out)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.log().Info("loose files finished", "stage", stage.String(),
		"processed", r.stats.Processed, "skipped", r.stats.Skipped)
	return r.stats, err
}

// CompressLooseFiles compresses each file in paths to <path>.lz41 and
// removes the original. Files that already hold an LZ41 stream, files the
// skip predicates reject and files that would not shrink are left alone.
func CompressLooseFiles(ctx context.Context, paths []string, opts ...LooseOption) (LooseStats, error) {
	return runLoose(ctx, paths, StageCompressing, opts, compressLoose)
}

func compressLoose(ctx context.Context, cfg *looseConfig, path string) (bool, int64, int64, error) {
	f, err := platform.OpenNoFollow(path)
	if err != nil {
		return false, 0, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, 0, 0, err
	}
	log := cfg.log().With("path", path)
	size := info.Size()
	if !info.Mode().IsRegular() || size == 0 {
		log.Debug("skipped: not a regular non-empty file")
		return false, 0, 0, nil
	}
	if has, err := lz41.HasMagic(f, 0); err != nil || has {
		log.Debug("skipped: already compressed")
		return false, 0, 0, err
	}
	if cfg.skip(filepath.Base(path), size) {
		log.Debug("skipped by policy", "size", size)
		return false, 0, 0, nil
	}

	tmp, err := write.CreateTemp(path + LooseSuffix)
	if err != nil {
		return false, 0, 0, err
	}
	n, err := lz41.Compress(ctx, io.NewSectionReader(f, 0, size), tmp, size, lz41.Options{Level: cfg.level, BlockSize: cfg.blockSize})
	if err != nil {
		_ = tmp.Discard() //nolint:errcheck // best-effort cleanup
		return false, 0, 0, err
	}
	if n >= size {
		log.Debug("skipped: compression did not shrink file", "size", size, "compressed_size", n)
		return false, 0, 0, tmp.Discard()
	}

	tmp.SetModTime(info.ModTime())
	if err := tmp.Commit(); err != nil {
		return false, 0, 0, err
	}
	f.Close()
	if err := os.Remove(path); err != nil {
		return false, 0, 0, err
	}
	log.Debug("compressed", "size", size, "compressed_size", n)
	return true, size, n, nil
}

// DecompressLooseFiles restores each LZ41 file in paths whose name ends in
// .lz41 (case-insensitively) to the name without the suffix, removing the
// compressed file. Other files are skipped.
func DecompressLooseFiles(ctx context.Context, paths []string, opts ...LooseOption) (LooseStats, error) {
	return runLoose(ctx, paths, StageDecompressing, opts, decompressLoose)
}

func decompressLoose(ctx context.Context, cfg *looseConfig, path string) (bool, int64, int64, error) {
	log := cfg.log().With("path", path)
	if !strings.EqualFold(filepath.Ext(path), LooseSuffix) {
		log.Debug("skipped: no " + LooseSuffix + " suffix")
		return false, 0, 0, nil
	}

	f, err := platform.OpenNoFollow(path)
	if err != nil {
		return false, 0, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, 0, 0, err
	}
	if has, err := lz41.HasMagic(f, 0); err != nil || !has {
		log.Debug("skipped: not an LZ41 stream")
		return false, 0, 0, err
	}

	target := path[:len(path)-len(LooseSuffix)]
	tmp, err := write.CreateTemp(target)
	if err != nil {
		return false, 0, 0, err
	}
	n, err := lz41.Decompress(ctx, io.NewSectionReader(f, 0, info.Size()), tmp)
	if err != nil {
		_ = tmp.Discard() //nolint:errcheck // best-effort cleanup
		return false, 0, 0, decompressionErr(err)
	}

	tmp.SetModTime(info.ModTime())
	if err := tmp.Commit(); err != nil {
		return false, 0, 0, err
	}
	f.Close()
	if err := os.Remove(path); err != nil {
		return false, 0, 0, err
	}
	log.Debug("decompressed", "size", info.Size(), "original_size", n)
	return true, info.Size(), n, nil
}
