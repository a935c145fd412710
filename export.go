package vp

import (
	"context"
	"io"

	"github.com/meigma/vp/internal/sink"
)

// exportConfig holds configuration for ExportTar.
type exportConfig struct {
	zstd      bool
	zstdLevel int
	progress  ProgressFunc
}

// ExportOption configures ExportTar.
type ExportOption func(*exportConfig)

// ExportWithZstd compresses the tar stream with zstd. The level uses the
// zstd command line scale, e.g. 3 for the default.
func ExportWithZstd(level int) ExportOption {
	return func(cfg *exportConfig) {
		cfg.zstd = true
		cfg.zstdLevel = level
	}
}

// ExportWithProgress sets a callback invoked after each file is written.
func ExportWithProgress(fn ProgressFunc) ExportOption {
	return func(cfg *exportConfig) {
		cfg.progress = fn
	}
}

// ExportTar writes the live tree to w as a tar stream: directories first,
// then decompressed files, with modification times from the index. Every
// file must be persisted.
func (c *Container) ExportTar(ctx context.Context, w io.Writer, opts ...ExportOption) error {
	var cfg exportConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	plan, err := c.root.planExtract()
	if err != nil {
		return err
	}

	var sinkOpts []sink.TarSinkOption
	if cfg.zstd {
		sinkOpts = append(sinkOpts, sink.WithZstd(cfg.zstdLevel))
	}
	ts, err := sink.NewTarSink(w, sinkOpts...)
	if err != nil {
		return err
	}

	c.log().Info("exporting tar", "files", len(plan.files), "zstd", cfg.zstd)
	if err := c.runExtract(ctx, plan, ts, 1, StageExporting, cfg.progress); err != nil {
		_ = ts.Close() //nolint:errcheck // already failing
		return err
	}
	return ts.Close()
}
