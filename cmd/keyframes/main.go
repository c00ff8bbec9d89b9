package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vjranagit/keyframes/internal/config"
	"github.com/vjranagit/keyframes/pkg/api"
	"github.com/vjranagit/keyframes/pkg/curveset"
	"github.com/vjranagit/keyframes/pkg/storage"
	"github.com/vjranagit/keyframes/pkg/types"
)

const (
	version = "0.1.0"
)

const usage = `keyframes v%s
Error-bounded animation curve reduction

Usage:
  keyframes serve    [-config file]
  keyframes optimize [-config file] -in clip.json [-out curves.json] [-store]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, version)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = serve(os.Args[2:])
	case "optimize":
		err = optimize(os.Args[2:])
	case "version":
		fmt.Printf("keyframes v%s\n", version)
	default:
		fmt.Fprintf(os.Stderr, usage, version)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "keyframes: %v\n", err)
		os.Exit(1)
	}
}

// setup loads and validates the configuration and builds the logger
func setup(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return cfg, logger, nil
}

// openArchive opens the configured archive, or returns nil when storage is
// disabled.
func openArchive(cfg *config.Config, logger *slog.Logger) (storage.Archive, error) {
	if !cfg.Storage.Enabled {
		logger.Info("storage disabled, curve sets will not be persisted")
		return nil, nil
	}

	logger.Info("initializing archive",
		"path", cfg.Storage.Path,
		"compression_level", cfg.Storage.CompressionLevel,
	)
	archive, err := storage.NewArchive(cfg.ToStorageConfig(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if cfg.Storage.CacheCapacity > 0 {
		return storage.NewCachedArchive(archive, cfg.Storage.CacheCapacity, cfg.Storage.CacheTTL), nil
	}
	return archive, nil
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	fs.Parse(args)

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}

	logger.Info("configuration loaded",
		"listen_addr", cfg.Server.ListenAddr,
		"tolerance_factor", cfg.Optimizer.ToleranceFactor,
		"workers", cfg.Optimizer.Workers,
	)

	archive, err := openArchive(cfg, logger)
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
	}

	builder := curveset.NewBuilder(cfg.ToBuilderConfig(logger))
	server := api.NewServer(api.Config{
		Addr:         cfg.Server.ListenAddr,
		Timeout:      cfg.Server.Timeout,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	}, builder, archive)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", cfg.Server.ListenAddr)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping server")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}

	logger.Info("server stopped")
	return nil
}

func optimize(args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	in := fs.String("in", "", "sampled clip JSON, - for stdin")
	out := fs.String("out", "-", "output file, - for stdout")
	store := fs.Bool("store", false, "also store the curve set in the archive")
	fs.Parse(args)

	if *in == "" {
		return errors.New("optimize: -in is required")
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}

	clip, err := readClip(*in)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	builder := curveset.NewBuilder(cfg.ToBuilderConfig(logger))
	set, stats, err := builder.Build(ctx, clip)
	if err != nil {
		return fmt.Errorf("failed to optimize %s: %w", *in, err)
	}

	if *store {
		if !cfg.Storage.Enabled {
			return errors.New("optimize: -store requires storage to be enabled")
		}
		archive, err := openArchive(cfg, logger)
		if err != nil {
			return err
		}
		defer archive.Close()

		if err := archive.Put(ctx, clip.Name, set); err != nil {
			return err
		}
		logger.Info("curve set stored", "clip", clip.Name)
	}

	return writeResponse(*out, &types.CurveSetResponse{
		Clip:     clip.Name,
		Channels: set.Channels(),
		Stats:    &stats,
	})
}

func readClip(path string) (*types.Clip, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open clip: %w", err)
		}
		defer f.Close()
		r = f
	}

	var clip types.Clip
	if err := json.NewDecoder(r).Decode(&clip); err != nil {
		return nil, fmt.Errorf("failed to decode clip %s: %w", path, err)
	}
	return &clip, nil
}

func writeResponse(path string, resp *types.CurveSetResponse) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
