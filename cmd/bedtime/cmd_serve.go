package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/user/bedtime/internal/api"
	"github.com/user/bedtime/internal/scheduler"
	"github.com/user/bedtime/internal/telegram"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bedtime daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

const pidFileName = "bedtime.pid"

func writePIDFile(dataDir string) (string, error) {
	path := filepath.Join(dataDir, pidFileName)
	if err := os.WriteFile(path, fmt.Appendf(nil, "%d\n", os.Getpid()), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

// reexec replaces the process with a fresh copy of itself. It only returns
// on failure, after restoring the PID file.
func reexec(pidPath, dataDir string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	os.Remove(pidPath)
	execErr := syscall.Exec(exe, os.Args, os.Environ())
	if _, err := writePIDFile(dataDir); err != nil {
		slog.Error("restore PID file", "error", err)
	}
	return fmt.Errorf("re-exec %s: %w", exe, execErr)
}

const sweepJobName = "orphan-audio-sweep"

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	limiter := newLimiter(cfg)

	slog.Info("bedtime started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"store_driver", cfg.Store.Driver,
		"llm_provider", cfg.LLM.Provider,
		"models", cfg.LLM.Models,
		"pid_file", pidPath,
	)
	if cfg.LLM.APIKey == "" {
		slog.Warn("llm.api_key is empty; stories will use the fallback text")
	}

	// Maintenance
	retention := cfg.TempAudioRetention()
	sched := scheduler.New(scheduler.Job{
		Name:     sweepJobName,
		Schedule: cfg.Maintenance.OrphanSweepSchedule,
		Run: func(ctx context.Context) error {
			removed, err := a.service.SweepAudio(ctx, a.blobs, retention)
			slog.Info("orphaned audio sweep", "removed", removed)
			return err
		},
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Telegram
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, a.service, limiter, cfg.Telegram.GenerateAudio)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// HTTP API
	if cfg.HTTP.Enabled {
		gin.SetMode(gin.ReleaseMode)
		srv := api.NewServer(a.service, limiter, api.Options{
			MediaRoot:     a.blobs.Root(),
			LLMConfigured: cfg.LLM.APIKey != "",
			TTSConfigured: cfg.TTS.APIKey != "",
		})
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http server started", "listen", cfg.HTTP.Listen, "public_url", cfg.HTTP.PublicURL)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
			defer done()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http shutdown", "error", err)
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	stopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-hup:
			slog.Info("SIGHUP received, reloading")
			if err := reexec(pidPath, cfg.DataDir); err != nil {
				slog.Error("restart failed, continuing with current process", "error", err)
			}
		case <-stopCtx.Done():
			if ctx.Err() != nil {
				return errors.New("http server stopped unexpectedly")
			}
			slog.Info("bedtime stopping")
			return nil
		}
	}
}
