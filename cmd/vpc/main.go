// Command vpc inspects, builds and edits VP archives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/meigma/vp"
)

const usage = `usage: vpc [-v] <command> [arguments]

commands:
  ls [-digest] FILE                 list entries
  extract [-workers N] [-skip-existing] [-times] FILE DIR
                                    extract every entry below DIR
  pack [-compress] DIR FILE         build FILE from the contents of DIR
  compress FILE [OUT]               rebuild with compression enabled
  decompress FILE [OUT]             rebuild with compression disabled
  rm FILE PATH...                   remove entries and rebuild
  export [-zstd] FILE OUT.tar       write the tree as a tar stream
  loose-compress PATH...            compress loose files to PATH.lz41
  loose-decompress PATH...          restore PATH.lz41 files
`

type command func(ctx context.Context, logger *slog.Logger, args []string) error

var commands = map[string]command{
	"ls":               runList,
	"extract":          runExtract,
	"pack":             runPack,
	"compress":         runRebuild(true),
	"decompress":       runRebuild(false),
	"rm":               runRemove,
	"export":           runExport,
	"loose-compress":   runLoose(vp.CompressLooseFiles),
	"loose-decompress": runLoose(vp.DecompressLooseFiles),
}

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "vpc: unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cmd(ctx, logger, flag.Args()[1:]); err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "vpc %s: %v\n\n", flag.Arg(0), err)
			flag.Usage()
			os.Exit(2) //nolint:gocritic // stop only releases the signal handler
		}
		logger.Error("command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string, minArgs, maxArgs int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, usageError(err.Error())
	}
	rest := fs.Args()
	if len(rest) < minArgs || (maxArgs >= 0 && len(rest) > maxArgs) {
		return nil, usageError("wrong number of arguments")
	}
	return rest, nil
}

func progressLogger(logger *slog.Logger) vp.ProgressFunc {
	return func(ev vp.ProgressEvent) {
		logger.Debug(ev.Stage.String(), "path", ev.Path, "done", ev.FilesDone, "total", ev.FilesTotal)
	}
}

func runList(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := newFlagSet("ls")
	withDigest := fs.Bool("digest", false, "print content digests")
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}

	c, err := vp.Load(rest[0], vp.WithLogger(logger))
	if err != nil {
		return err
	}

	w := os.Stdout
	err = c.Walk(func(path string, n *vp.Node) error {
		if n.IsDir() {
			_, err := fmt.Fprintf(w, "%-10s %10s %10s  %s/\n", "dir", "-", "-", path)
			return err
		}
		codec := "raw"
		if ci := n.Compression(); ci != nil {
			codec = ci.Codec
		}
		line := fmt.Sprintf("%-10s %10d %10d  %s", codec, n.Size(), n.OriginalSize(), path)
		if *withDigest {
			d, err := n.Digest(ctx)
			if err != nil {
				return err
			}
			line += "  " + d.String()
		}
		_, err := fmt.Fprintln(w, line)
		return err
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d files, %d directories, compression %t\n",
		c.NumberFiles(), c.NumberFolders(), c.CompressionEnabled())
	return err
}

func runExtract(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := newFlagSet("extract")
	workers := fs.Int("workers", 1, "number of files written concurrently")
	skipExisting := fs.Bool("skip-existing", false, "keep files already present in DIR")
	times := fs.Bool("times", false, "set modification times from the archive")
	rest, err := parse(fs, args, 2, 2)
	if err != nil {
		return err
	}

	c, err := vp.Load(rest[0], vp.WithLogger(logger))
	if err != nil {
		return err
	}
	return c.ExtractAll(ctx, rest[1],
		vp.ExtractWithWorkers(*workers),
		vp.ExtractWithSkipExisting(*skipExisting),
		vp.ExtractWithPreserveTimes(*times),
		vp.ExtractWithProgress(progressLogger(logger)),
	)
}

func runPack(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := newFlagSet("pack")
	compress := fs.Bool("compress", false, "compress eligible files")
	rest, err := parse(fs, args, 2, 2)
	if err != nil {
		return err
	}

	c := vp.New(vp.WithLogger(logger))
	if *compress {
		c.EnableCompression()
	}
	if err := c.AddFolderToRoot(rest[0]); err != nil {
		return err
	}
	return c.SaveAs(ctx, rest[1], vp.SaveWithProgress(progressLogger(logger)))
}

func runRebuild(compress bool) command {
	return func(ctx context.Context, logger *slog.Logger, args []string) error {
		rest, err := parse(newFlagSet("rebuild"), args, 1, 2)
		if err != nil {
			return err
		}
		c, err := vp.Load(rest[0], vp.WithLogger(logger))
		if err != nil {
			return err
		}
		if compress {
			c.EnableCompression()
		} else {
			c.DisableCompression()
		}
		out := rest[0]
		if len(rest) == 2 {
			out = rest[1]
		}
		return c.SaveAs(ctx, out, vp.SaveWithProgress(progressLogger(logger)))
	}
}

func runRemove(ctx context.Context, logger *slog.Logger, args []string) error {
	rest, err := parse(newFlagSet("rm"), args, 2, -1)
	if err != nil {
		return err
	}
	c, err := vp.Load(rest[0], vp.WithLogger(logger))
	if err != nil {
		return err
	}
	for _, p := range rest[1:] {
		n := c.Lookup(p)
		if n == nil || n == c.Root() {
			return fmt.Errorf("%s: no such entry", p)
		}
		if err := n.Delete(); err != nil {
			return err
		}
		logger.Info("removing", "path", n.Path(), "files", n.NumberOfFiles())
	}
	return c.Save(ctx)
}

func runExport(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := newFlagSet("export")
	zstdLevel := fs.Int("zstd", 0, "compress the tar stream at this zstd level (0 disables)")
	rest, err := parse(fs, args, 2, 2)
	if err != nil {
		return err
	}

	c, err := vp.Load(rest[0], vp.WithLogger(logger))
	if err != nil {
		return err
	}
	opts := []vp.ExportOption{vp.ExportWithProgress(progressLogger(logger))}
	if *zstdLevel > 0 {
		opts = append(opts, vp.ExportWithZstd(*zstdLevel))
	}

	out, err := os.Create(rest[1])
	if err != nil {
		return err
	}
	if err := c.ExportTar(ctx, out, opts...); err != nil {
		_ = out.Close()        //nolint:errcheck // already failing
		_ = os.Remove(rest[1]) //nolint:errcheck // best-effort cleanup
		return err
	}
	return out.Close()
}

func runLoose(fn func(context.Context, []string, ...vp.LooseOption) (vp.LooseStats, error)) command {
	return func(ctx context.Context, logger *slog.Logger, args []string) error {
		fs := newFlagSet("loose")
		parallelism := fs.Int("j", 0, "files processed concurrently (0 uses all CPUs)")
		rest, err := parse(fs, args, 1, -1)
		if err != nil {
			return err
		}
		stats, err := fn(ctx, rest,
			vp.LooseWithLogger(logger),
			vp.LooseWithParallelism(*parallelism),
			vp.LooseWithProgress(progressLogger(logger)),
		)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(os.Stdout, "%d processed, %d skipped, %s in, %s out\n",
			stats.Processed, stats.Skipped, humanBytes(stats.BytesIn), humanBytes(stats.BytesOut))
		return err
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
