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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/specgap/internal/api"
	"github.com/kalambet/specgap/internal/audit"
	"github.com/kalambet/specgap/internal/chunker"
	"github.com/kalambet/specgap/internal/config"
	"github.com/kalambet/specgap/internal/council"
	"github.com/kalambet/specgap/internal/gemini"
	"github.com/kalambet/specgap/internal/queue"
	"github.com/kalambet/specgap/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the specgap server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running specgap server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show specgap system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "specgap.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "specgap version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			warnf("specgap is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		warnf("specgap is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the analysis pipeline: generator client, condenser, admission
	// queue, and the orchestrating audit service.
	client := gemini.New(cfg.Gemini.BaseURL, cfg.Gemini.Model)
	gen := &gemini.Generator{
		Client: client,
		Keys: gemini.Keys{
			Primary: cfg.Gemini.APIKey,
			Rounds:  [3]string{cfg.Gemini.Round1Key, cfg.Gemini.Round2Key, cfg.Gemini.Round3Key},
		},
	}

	batchDelay, err := time.ParseDuration(cfg.Gemini.RequestDelay)
	if err != nil {
		slog.Warn("invalid request delay, using default 2s", "value", cfg.Gemini.RequestDelay, "error", err)
		batchDelay = 2 * time.Second
	}

	qm := queue.NewManager(queue.Options{
		Timeout:     time.Duration(cfg.Queue.TimeoutSeconds) * time.Second,
		AvgDuration: time.Duration(cfg.Queue.AvgSeconds) * time.Second,
		Retention:   time.Duration(cfg.Queue.RetentionMinutes) * time.Minute,
		DailyLimit:  cfg.Queue.DailyLimit,
		Charge:      chargePolicy(cfg.Queue.ChargePolicy),
	})

	svc := audit.NewService(audit.Options{
		Queue:     qm,
		Condenser: chunker.NewCondenser(gen, batchDelay),
		Generator: gen,
		Council: council.Options{
			MaxRetries:      cfg.Analysis.MaxRetries,
			MaxContextChars: cfg.Analysis.MaxContextChars,
		},
		Sink:            store,
		MaxContextChars: cfg.Analysis.MaxContextChars,
		Timeout:         time.Duration(cfg.Queue.TimeoutSeconds) * time.Second,
	})

	// Start the audit worker.
	go svc.Run(ctx)

	deps := api.Deps{Service: svc, Queue: qm, Store: store}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// Build and start MCP server (stdio transport in a goroutine).
	stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "specgap listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func chargePolicy(s string) queue.ChargePolicy {
	if s == "success" {
		return queue.ChargeOnSuccess
	}
	return queue.ChargeOnCompletion
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		failf("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		failf("specgap is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		failf("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		failf("could not stop specgap (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	successf("Sent stop signal to specgap (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		failf("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		field("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			field("Server", "running on port %d", cfg.Server.Port)
		} else {
			field("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	field("Model", "%s", cfg.Gemini.Model)
	field("Daily limit", "%d analyses", cfg.Queue.DailyLimit)
	field("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
