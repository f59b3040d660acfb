package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/bedtime/internal/config"
)

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)
}

var errNotRunning = errors.New("bedtime daemon is not running")

// daemonPID returns the PID recorded in the data dir if that process is alive.
func daemonPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(filepath.Join(cfg.DataDir, pidFileName))
	if errors.Is(err, os.ErrNotExist) {
		return 0, errNotRunning
	}
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("corrupt PID file %q", strings.TrimSpace(string(data)))
	}
	// FindProcess always succeeds on unix; signal 0 probes liveness.
	proc, _ := os.FindProcess(pid)
	if proc.Signal(syscall.Signal(0)) != nil {
		return 0, fmt.Errorf("%w (stale PID %d)", errNotRunning, pid)
	}
	return pid, nil
}

func signalDaemon(sig syscall.Signal, verb string) error {
	pid, err := daemonPID(loadConfig())
	if err != nil {
		return err
	}
	proc, _ := os.FindProcess(pid)
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("send %s to %d: %w", sig, pid, err)
	}
	fmt.Fprintf(os.Stdout, "Asked daemon (PID %d) to %s.\n", pid, verb)
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(syscall.SIGTERM, "stop")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running daemon in place (reloads config)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(syscall.SIGHUP, "restart")
	},
}

// daemonHealth mirrors the /api/health response.
type daemonHealth struct {
	Status        string `json:"status"`
	Stories       int    `json:"stories"`
	LLMConfigured bool   `json:"llmConfigured"`
	TTSConfigured bool   `json:"ttsConfigured"`
	UptimeSeconds int64  `json:"uptime"`
}

func fetchHealth(ctx context.Context, listen string) (*daemonHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+listen+"/api/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health returned %s", resp.Status)
	}
	var h daemonHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &h, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running and healthy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		pid, err := daemonPID(cfg)
		if err != nil {
			return err
		}
		out := struct {
			PID    int           `json:"pid" yaml:"pid"`
			Health *daemonHealth `json:"health,omitempty" yaml:"health,omitempty"`
			Error  string        `json:"error,omitempty" yaml:"error,omitempty"`
		}{PID: pid}
		if cfg.HTTP.Enabled {
			if out.Health, err = fetchHealth(cmd.Context(), cfg.HTTP.Listen); err != nil {
				out.Error = err.Error()
			}
		}
		return render(os.Stdout, outputFormat, out, func(w io.Writer) error {
			fmt.Fprintf(w, "Running (PID %d)\n", out.PID)
			switch {
			case out.Health != nil:
				h := out.Health
				fmt.Fprintf(w, "HTTP:    %s on %s, up %s\n", h.Status, cfg.HTTP.Listen, time.Duration(h.UptimeSeconds)*time.Second)
				fmt.Fprintf(w, "Stories: %d\n", h.Stories)
				fmt.Fprintf(w, "LLM:     configured=%t\nTTS:     configured=%t\n", h.LLMConfigured, h.TTSConfigured)
			case out.Error != "":
				fmt.Fprintf(w, "HTTP:    unreachable (%s)\n", out.Error)
			default:
				fmt.Fprintln(w, "HTTP:    disabled")
			}
			return nil
		})
	},
}
