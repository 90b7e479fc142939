// Command polygraphd indexes a source repository into a code-intelligence
// graph and serves structural queries over MCP (stdio by default, HTTP with
// -addr).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/polygraph/engine/internal/config"
	"github.com/polygraph/engine/internal/content"
	"github.com/polygraph/engine/internal/lang"
	"github.com/polygraph/engine/internal/logging"
	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/pipeline"
	"github.com/polygraph/engine/internal/query"
	"github.com/polygraph/engine/internal/scan"
	"github.com/polygraph/engine/internal/storage"
	"github.com/polygraph/engine/internal/store"
	"github.com/polygraph/engine/internal/tools"
)

type cliFlags struct {
	ProjectRoot string
	Addr        string
	Snapshot    bool
	Verbose     bool
	Version     bool
}

// version is set by the linker at build time.
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var flags cliFlags

	fs := flag.NewFlagSet("polygraphd", flag.ContinueOnError)
	fs.StringVar(&flags.ProjectRoot, "project-root", ".", "path to the repository to index")
	fs.StringVar(&flags.Addr, "addr", "", "serve MCP over HTTP on this address instead of stdio")
	fs.BoolVar(&flags.Snapshot, "snapshot", false, "write a graph snapshot after the initial index")
	fs.BoolVar(&flags.Verbose, "verbose", false, "enable debug logging")
	fs.BoolVar(&flags.Version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if flags.Version {
		fmt.Println(version)
		return nil
	}

	level := logging.INFO
	if flags.Verbose {
		level = logging.DEBUG
	}
	logging.Init(logging.Config{Level: level})
	log := logging.Default()

	projectRoot := flags.ProjectRoot
	if !filepath.IsAbs(projectRoot) {
		abs, err := filepath.Abs(projectRoot)
		if err != nil {
			return fmt.Errorf("resolving project root: %w", err)
		}
		projectRoot = abs
	}

	cfg, err := config.Load(projectRoot)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repoID := model.ComputeRepositoryID(projectRoot)
	st := store.New()
	idx := content.New()
	adapter := lang.NewTreeSitterAdapter()
	defer adapter.Close()

	scanner := scan.New(projectRoot, scan.Config{
		DependencyMode: cfg.DependencyMode,
		MaxFileBytes:   cfg.MaxFileBytes,
		Parallelism:    cfg.ScanParallelism,
	})
	start := time.Now()
	files, err := scanner.Scan(ctx, func(p scan.Progress) {
		if p.LastError != nil {
			log.Warn("scan error", "err", p.LastError)
		}
	})
	if err != nil {
		return fmt.Errorf("scanning %s: %w", projectRoot, err)
	}

	known := make([]string, len(files))
	for i, f := range files {
		known[i] = f.Path
	}
	resolver := lang.NewResolver(projectRoot, known)
	pl := pipeline.New(repoID, projectRoot, st, idx, adapter, resolver)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(projectRoot, f.Path))
		if err != nil {
			log.Warn("read failed", "path", f.Path, "err", err)
			continue
		}
		if result := pl.Apply(pipeline.Change{Path: f.Path, Kind: pipeline.Added}, data); result.Err != nil {
			log.Warn("index failed", "path", f.Path, "err", result.Err)
		}
	}
	stats := st.Stats()
	log.Info("repository indexed",
		"repo", repoID[:12], "files", stats.FileCount,
		"nodes", stats.NodeCount, "edges", stats.EdgeCount,
		"elapsed", time.Since(start))

	storageRoot := cfg.StorageRoot
	if !filepath.IsAbs(storageRoot) {
		storageRoot = filepath.Join(projectRoot, storageRoot)
	}
	cache := storage.NewCache(cfg.CacheMaxBytes)
	manager := storage.NewManager(
		storage.NewFileGraphStorage(storageRoot),
		storage.NewMemAnalysisStorage(),
		cache,
	)
	if flags.Snapshot {
		if err := manager.Snapshot(repoID, st, map[string]string{"root": projectRoot}); err != nil {
			log.Error("snapshot failed", "err", err)
		} else {
			log.Info("snapshot written", "dir", storageRoot)
		}
	}

	engine := query.New(st, idx, cfg.TraversalMaxDepth)
	svc := tools.New(repoID, st, engine, idx, pl, cache, cfg)

	if flags.Addr != "" {
		log.Info("serving MCP over HTTP", "addr", flags.Addr)
		return tools.RunServer(ctx, svc, flags.Addr)
	}
	log.Info("serving MCP on stdio", "project", projectRoot)
	return tools.RunServerStdio(ctx, svc)
}
