package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/docdex/docdex/internal/embedder"
	"github.com/docdex/docdex/internal/indexer"
	"github.com/docdex/docdex/internal/mcp"
	"github.com/docdex/docdex/internal/reranker"
	"github.com/docdex/docdex/internal/searcher"
	"github.com/docdex/docdex/internal/storage"
	"github.com/docdex/docdex/internal/watcher"
	"github.com/docdex/docdex/pkg/config"
	"github.com/docdex/docdex/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const dbFileName = "docdex.db"

func main() {
	configPath := flag.String("config", "docdex.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and build information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("docdex MCP server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		fmt.Printf("Vector Extension: %v\n", storage.VectorExtensionAvailable)
		os.Exit(0)
	}

	// stdout carries the MCP protocol; everything else goes to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(logger, *configPath); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath string) error {
	cfg := types.DefaultConfig()
	if err := config.LoadOrDefault(configPath, &cfg); err != nil {
		return err
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		stateDir = filepath.Join(home, ".docdex")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	logger.Info("docdex starting",
		"version", version,
		"build_mode", storage.BuildMode,
		"driver", storage.DriverName,
		"vector_extension", storage.VectorExtensionAvailable,
		"state_dir", stateDir,
		"root", root)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(filepath.Join(stateDir, dbFileName))
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.MigrateLegacy(ctx, stateDir, logger); err != nil {
		logger.Warn("legacy migration incomplete", "error", err)
	}

	embedders := embedder.NewService(embedder.NewFromEnv)
	defer func() { _ = embedders.Close() }()

	var rerankers *reranker.Service
	if cfg.Retrieval.Rerank {
		rerankers = reranker.NewService(reranker.NewFromEnv)
		defer func() { _ = rerankers.Close() }()
	}

	pipeline := indexer.New(store, embedders, root, &cfg, logger)
	orch := searcher.New(store, embedders, rerankers, cfg.Retrieval, filepath.Base(root), logger)
	server := mcp.NewServer(store, pipeline, orch, &cfg, logger)

	if hasWatchedSources(cfg.Sources) {
		w := watcher.New(pipeline, root, stateDir, cfg.Sources, logger)
		go func() {
			if watchErr := w.Run(ctx); watchErr != nil {
				logger.Error("watcher exited", "error", watchErr)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("mcp server ready, listening on stdio")
		errChan <- server.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopped")
	return nil
}

func hasWatchedSources(sources []types.Source) bool {
	for _, src := range sources {
		if src.Watch {
			return true
		}
	}
	return false
}
