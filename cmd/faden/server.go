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

	"faden/internal/api"
	"faden/internal/config"
	"faden/internal/engine"
	"faden/internal/gateway"
	"faden/internal/persist"
	"faden/internal/provider"
	"faden/internal/ratelimit"
	"faden/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the faden server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running faden server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show faden server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "faden.pid")
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
	fmt.Fprintf(os.Stderr, "faden version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.LogLevel, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse a double start: probe the health endpoint before claiming the port.
	pidPath := pidFilePath(cfg.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("faden is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("faden is already running on port %d", cfg.Port)
		return fmt.Errorf("server already running on port %d", cfg.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the authoritative store and the fallback cache.
	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	cache, err := persist.NewFileCache(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("opening fallback cache: %w", err)
	}
	adapter := persist.NewAdapter(store, cache)

	// The provider is optional at startup: without a key the gateway answers
	// with a configuration error instead of the process refusing to boot.
	var completer provider.Completer
	if cfg.OpenRouterAPIKey != "" {
		completer = provider.New(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.Referer, cfg.AppTitle)
	} else {
		slog.Warn("no provider API key configured, chat requests will fail until one is set")
	}

	gw := gateway.New(completer, ratelimit.New(), cfg.DefaultModel, cfg.VisionModel)
	registry := engine.NewRegistry(engine.Deps{
		Store:    adapter,
		Stars:    store,
		Memories: store,
		Gateway:  gw,
		ClientID: "local",
	})

	handler := api.NewHandler(api.Deps{
		Gateway:  gw,
		Registry: registry,
		Threads:  adapter,
		Memories: store,
		Stars:    store,
		Mode:     func() persist.Mode { return adapter.Mode() },
		Token:    cfg.AuthToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server on stdio, alongside HTTP.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Threads: adapter, Memories: store})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "faden listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("faden is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop faden (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to faden (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		switch {
		case resp.StatusCode != 200:
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		case resp.Header.Get("X-Faden-Degraded") == "true":
			printStatus("Server", "running on port %d", cfg.Port)
			printWarning("degraded mode: the remote store is unreachable, writes stay in the local cache")
		default:
			printStatus("Server", "running on port %d", cfg.Port)
		}
	}

	if cfg.OpenRouterAPIKey == "" {
		printStatus("Provider", "not configured")
	} else {
		printStatus("Provider", "%s", cfg.OpenRouterBaseURL)
	}
	printStatus("Default model", "%s", cfg.DefaultModel)
	printStatus("Vision model", "%s", cfg.VisionModel)
	printStatus("Data dir", "%s", cfg.DataDir)
	return nil
}
