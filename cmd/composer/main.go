package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heimdex/heimdex-composer/internal/api"
	"github.com/heimdex/heimdex-composer/internal/compose"
	"github.com/heimdex/heimdex-composer/internal/config"
	"github.com/heimdex/heimdex-composer/internal/db"
	"github.com/heimdex/heimdex-composer/internal/fetch"
	"github.com/heimdex/heimdex-composer/internal/logging"
	"github.com/heimdex/heimdex-composer/internal/presets"
	"github.com/heimdex/heimdex-composer/internal/runs"
	"github.com/heimdex/heimdex-composer/internal/scratch"
	"github.com/heimdex/heimdex-composer/internal/transcode"
	"github.com/heimdex/heimdex-composer/internal/watcher"
)

const (
	doctorTimeout = 15 * time.Second
	probeTimeout  = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting heimdex composer",
		"version", config.Version,
		"commit", config.GitCommit,
		"scratch_dir", cfg.ScratchDir(),
	)

	space, err := scratch.New(cfg.ScratchDir(), logging.WithComponent(logger, "scratch"))
	if err != nil {
		return fmt.Errorf("failed to initialize scratch space: %w", err)
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := runs.NewRepository(database.Conn())
	recorder := runs.NewRecorder(repo, logging.WithComponent(logger, "runs"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := presets.NewRegistry(cfg.DefaultPreset(), logging.WithComponent(logger, "presets"))
	var presetWatcher *watcher.FileWatcher
	if path := cfg.PresetsFile(); path != "" {
		if err := registry.LoadFile(path); err != nil {
			return fmt.Errorf("failed to load presets: %w", err)
		}
		presetWatcher = watcher.NewFileWatcher(logging.WithComponent(logger, "watcher"))
		presetWatcher.OnChange(func(p string, event watcher.EventType) {
			if event == watcher.EventDelete {
				logger.Warn("presets file removed, keeping loaded presets", "path", p)
				return
			}
			_ = registry.Reload()
		})
		if err := presetWatcher.Watch(ctx, path); err != nil {
			logger.Warn("presets hot reload disabled", "error", err)
		}
	}
	defaultPreset, ok := registry.Get("")
	if !ok {
		return fmt.Errorf("default preset %q not defined", cfg.DefaultPreset())
	}

	execRunner := transcode.NewExecRunner(logging.WithComponent(logger, "ffmpeg"))
	prober := transcode.NewProber(execRunner, cfg.FFprobePath(), probeTimeout)
	normalizer := transcode.NewNormalizer(execRunner, prober, cfg.FFmpegPath(), cfg.NormalizeTimeout(), logger)
	concatenator := transcode.NewConcatenator(execRunner, cfg.FFmpegPath(), cfg.ConcatTimeout(), logger)

	doctor := transcode.NewCachedDoctor(
		transcode.NewDoctor(execRunner, cfg.FFmpegPath(), cfg.FFprobePath(),
			defaultPreset.Spec.VideoCodec, defaultPreset.Spec.AudioCodec),
		logger,
	)
	initCtx, initCancel := context.WithTimeout(ctx, doctorTimeout)
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else {
		logger.Info("transcoder capabilities detected",
			"ffmpeg", caps.FFmpegVersion,
			"ffprobe", caps.FFprobeVersion,
			"ready", caps.Ready(),
		)
	}
	initCancel()

	orchestrator, err := compose.New(compose.Config{
		Scratch:       space,
		BatchSize:     cfg.BatchSize(),
		MaxBatchSize:  cfg.MaxBatchSize(),
		MaxSegments:   cfg.MaxSegments(),
		FetchTimeout:  cfg.FetchTimeout(),
		FetchMaxBytes: cfg.FetchMaxBytes(),
		Spec:          defaultPreset.Spec,
		Policy:        defaultPreset.Policy,
	}, fetch.NewClient(logger), normalizer, concatenator, logger)
	if err != nil {
		return err
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:              cfg.Port(),
		Composer:          orchestrator,
		Presets:           registry,
		Runs:              repo,
		Recorder:          recorder,
		Database:          database,
		Doctor:            doctor,
		Scratch:           space,
		Logger:            logger,
		StartTime:         startTime,
		Version:           config.Version,
		AuthToken:         cfg.AuthToken(),
		SegmentDuration:   cfg.SegmentDuration(),
		MaxConcurrentRuns: cfg.MaxConcurrentRuns(),
		MinFreeBytes:      cfg.MinFreeBytes(),
		BaseContext:       ctx,
	})
	if cfg.AuthToken() == "" {
		logger.Warn("COMPOSER_AUTH_TOKEN not set, API is unauthenticated")
	}
	logger.Info("composer ready",
		"addr", apiServer.Addr(),
		"default_preset", defaultPreset.Name,
		"max_concurrent_runs", cfg.MaxConcurrentRuns(),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			return err
		}
	}

	logger.Info("initiating graceful shutdown")

	// In-flight compositions get a grace period before their contexts are
	// cancelled and their ffmpeg process groups killed.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown timed out, cancelling in-flight runs", "error", err)
		cancel()
		forceCtx, forceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := apiServer.Shutdown(forceCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", "error", err)
		}
		forceCancel()
	}
	cancel()
	if presetWatcher != nil {
		presetWatcher.Stop()
	}

	logger.Info("shutdown complete")
	return nil
}
