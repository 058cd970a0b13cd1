package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"craftworker/config"
	"craftworker/core/audio"
	"craftworker/logger"
	"craftworker/server"
)

const lockFileName = "worker.lock"

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the transcoding worker",
	Long:  `Start the HTTP and websocket server that accepts transcoding jobs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Load()
	initLogger(cfg)
	defer logger.Sync()

	if err := checkDistinctDirs(cfg); err != nil {
		return err
	}
	for _, dir := range []string{cfg.CacheDir, cfg.ScratchDir, cfg.InputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	// one worker per scratch directory
	lock := flock.New(filepath.Join(cfg.ScratchDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another worker is already using %s", cfg.ScratchDir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("Failed to release worker lock", logger.ErrorField(err))
		}
	}()

	if n, err := audio.SweepScratch(cfg.ScratchDir, time.Now()); err != nil {
		logger.Warn("Scratch sweep failed", logger.ErrorField(err))
	} else if n > 0 {
		logger.Info("Removed stale merge outputs", logger.Int("count", n))
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := buildWorker(ctx, cfg)
	if err != nil {
		return err
	}
	defer w.Close()

	go func() {
		if err := w.cache.Watch(ctx); err != nil {
			logger.Warn("Part cache watcher stopped", logger.ErrorField(err))
		}
	}()
	go func() {
		if err := w.bus.Run(ctx); err != nil {
			logger.Error("Kill listener stopped", logger.ErrorField(err))
		}
	}()

	srv := server.New(w.orchestrator, w.bus, w.verifier)
	return srv.ListenAndServe(ctx, cfg.HTTPAddr)
}

// checkDistinctDirs refuses configurations where the scratch directory overlaps cached or caller files.
func checkDistinctDirs(cfg *config.Config) error {
	dirs := map[string]string{}
	for _, d := range []struct{ name, path string }{
		{"CACHE_DIR", cfg.CacheDir},
		{"SCRATCH_DIR", cfg.ScratchDir},
		{"INPUT_DIR", cfg.InputDir},
	} {
		abs, err := filepath.Abs(d.path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", d.name, err)
		}
		if other, ok := dirs[abs]; ok {
			return fmt.Errorf("%s and %s both point to %s", other, d.name, abs)
		}
		dirs[abs] = d.name
	}
	return nil
}

func initLogger(cfg *config.Config) {
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   true,
	})
}
