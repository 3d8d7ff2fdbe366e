// Command docpipeline runs documents through the processing pipeline.
//
//	docpipeline process [flags] <file>...   process files, one JSON line each
//	docpipeline watch [flags] <dir>         process files dropped into a spool directory
//	docpipeline mcp [flags]                 serve the pipeline tools over MCP stdio
//	docpipeline formats                     list supported extensions
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/docpipeline/extract"
	"github.com/hazyhaar/docpipeline/kit"
	"github.com/hazyhaar/docpipeline/pipeline"
	"github.com/hazyhaar/docpipeline/watch"
)

const version = "2.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "process":
		err = cmdProcess(ctx, os.Args[2:])
	case "watch":
		err = cmdWatch(ctx, os.Args[2:])
	case "mcp":
		err = cmdMCP(ctx, os.Args[2:])
	case "formats":
		fmt.Println(strings.Join(extract.SupportedExtensions(), " "))
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error("docpipeline", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `docpipeline - ingest, extract, normalize, classify, store and trigger on documents

usage:
  docpipeline process [-config file] [-concurrency n] [-full] [-user id] <file>...
  docpipeline watch   [-config file] [-interval d] [-settle d] [-user id] <dir>
  docpipeline mcp     [-config file]
  docpipeline formats

process   Runs each file through the pipeline and prints one JSON summary per line.
watch     Polls <dir>, processes each settled file, moves it to done/ or failed/.
mcp       Serves docpipeline_process and docpipeline_formats over stdio.
formats   Lists the extensions with a dedicated extractor.
`)
}

// setup loads the configuration and installs the JSON logger on stderr.
func setup(cfgPath, levelOverride string) (*pipeline.Config, *slog.Logger, error) {
	cfg := pipeline.DefaultConfig()
	if cfgPath != "" {
		var err error
		if cfg, err = pipeline.LoadConfig(cfgPath); err != nil {
			return nil, nil, err
		}
	}
	if levelOverride != "" {
		cfg.Pipeline.LogLevel = levelOverride
	}
	lvl, err := pipeline.ParseLevel(cfg.Pipeline.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func cmdProcess(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML configuration file")
	logLevel := fs.String("log-level", "", "debug, info, warn or error (overrides config)")
	concurrency := fs.Int("concurrency", 4, "documents processed in parallel")
	full := fs.Bool("full", false, "print every stage record instead of the summary")
	skipScan := fs.Bool("skip-scan", false, "skip the malware scan")
	stopOnError := fs.Bool("stop-on-error", false, "stop a document at a failed extract")
	user := fs.String("user", "", "owner recorded in document metadata")
	department := fs.String("department", "", "department recorded in document metadata")
	project := fs.String("project", "", "project recorded in document metadata")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("process requires at least one file")
	}
	cfg, logger, err := setup(*cfgPath, *logLevel)
	if err != nil {
		return err
	}
	p, err := pipeline.New(*cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}
	defer p.Close()

	ctx = kit.WithTransport(ctx, "cli")
	opts := pipeline.RunOptions{
		UserID:      *user,
		Department:  *department,
		ProjectID:   *project,
		SkipScan:    *skipScan,
		StopOnError: *stopOnError,
	}

	var (
		mu     sync.Mutex
		enc    = json.NewEncoder(os.Stdout)
		failed atomic.Int32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, *concurrency))
	for _, path := range fs.Args() {
		g.Go(func() error {
			data, err := readFile(path, cfg.Ingest.MaxFileBytes())
			if err != nil {
				logger.Error("docpipeline: read", "path", path, "error", err)
				failed.Add(1)
				return nil
			}
			rec := p.Run(kit.EnsureRequestID(gctx), data, filepath.Base(path), opts)
			if !rec.Success {
				failed.Add(1)
			}
			var out any = rec.Summary()
			if *full {
				out = rec
			}
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(out)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d documents failed", n, fs.NArg())
	}
	return nil
}

func cmdWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML configuration file")
	logLevel := fs.String("log-level", "", "debug, info, warn or error (overrides config)")
	interval := fs.Duration("interval", time.Second, "spool directory polling interval")
	settle := fs.Duration("settle", 2*time.Second, "time a file must stay unchanged before processing")
	doneDir := fs.String("done", "", "directory for processed files (default <dir>/done)")
	failedDir := fs.String("failed", "", "directory for failed files (default <dir>/failed)")
	skipScan := fs.Bool("skip-scan", false, "skip the malware scan")
	user := fs.String("user", "", "owner recorded in document metadata")
	department := fs.String("department", "", "department recorded in document metadata")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("watch requires exactly one directory")
	}
	cfg, logger, err := setup(*cfgPath, *logLevel)
	if err != nil {
		return err
	}
	p, err := pipeline.New(*cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}
	defer p.Close()

	ctx = kit.WithTransport(ctx, "spool")
	opts := pipeline.RunOptions{UserID: *user, Department: *department, SkipScan: *skipScan}
	enc := json.NewEncoder(os.Stdout)
	w := watch.New(fs.Arg(0), watch.Options{
		Interval:  *interval,
		Settle:    *settle,
		DoneDir:   *doneDir,
		FailedDir: *failedDir,
		Logger:    logger,
	})
	return w.Run(ctx, func(ctx context.Context, path string) error {
		data, err := readFile(path, cfg.Ingest.MaxFileBytes())
		if err != nil {
			return err
		}
		rec := p.Run(kit.EnsureRequestID(ctx), data, filepath.Base(path), opts)
		if err := enc.Encode(rec.Summary()); err != nil {
			return err
		}
		if !rec.Success {
			return fmt.Errorf("%s: %s", rec.FileID, strings.Join(rec.Errors, "; "))
		}
		return nil
	})
}

// readFile reads at most one byte past limit so ingest reports oversize
// files itself.
func readFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func cmdMCP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML configuration file")
	logLevel := fs.String("log-level", "", "debug, info, warn or error (overrides config)")
	fs.Parse(args)

	cfg, logger, err := setup(*cfgPath, *logLevel)
	if err != nil {
		return err
	}
	p, err := pipeline.New(*cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}
	defer p.Close()

	srv := mcp.NewServer(&mcp.Implementation{Name: "docpipeline", Version: version}, nil)
	p.RegisterMCP(srv)
	logger.Info("docpipeline: MCP stdio server starting")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
