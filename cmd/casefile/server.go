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

	"github.com/kalambet/casefile/internal/api"
	"github.com/kalambet/casefile/internal/config"
	"github.com/kalambet/casefile/internal/conversation"
	"github.com/kalambet/casefile/internal/extraction"
	"github.com/kalambet/casefile/internal/flows"
	"github.com/kalambet/casefile/internal/graph"
	"github.com/kalambet/casefile/internal/remote"
	"github.com/kalambet/casefile/internal/retry"
	"github.com/kalambet/casefile/internal/vault"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the casefile daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running casefile daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show casefile system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "casefile.pid")
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
	fmt.Fprintf(os.Stderr, "casefile version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Check if a daemon is already running before claiming the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("casefile is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("casefile is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage: blob vaults for conversations and reports, graph for
	// extracted entities.
	conversationVault, err := vault.NewFileStore(filepath.Join(cfg.Storage.DataDir, "conversations"))
	if err != nil {
		return fmt.Errorf("opening conversation vault: %w", err)
	}
	reportVault, err := vault.NewFileStore(filepath.Join(cfg.Storage.DataDir, "reports"))
	if err != nil {
		return fmt.Errorf("opening report vault: %w", err)
	}
	graphStore, err := graph.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening entity graph: %w", err)
	}
	defer func() {
		if err := graphStore.Close(); err != nil {
			slog.Warn("closing entity graph", "error", err)
		}
	}()

	// Remote client with a retry observer that logs every retried attempt.
	observer := retry.ObserverFunc(func(attempt int, delay time.Duration, reason retry.Reason, err error) {
		slog.Warn("remote call retried", "attempt", attempt, "delay", delay, "reason", reason.String(), "error", err)
	})
	remoteClient := remote.New(cfg.Remote.BaseURL, cfg.Remote.APIKey, observer)

	conversations := conversation.NewStore(conversationVault)
	pipeline := extraction.NewPipeline(remoteClient, graphStore)
	runner := flows.NewRunner(conversations, remoteClient, pipeline, reportVault)
	defer runner.CancelAll()

	appHandler := api.NewAppHandler(api.AppDeps{
		Runner:        runner,
		Conversations: conversations,
		Entities:      graphStore,
		Token:         cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// MCP server over stdio, alongside the HTTP API.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Runner:        runner,
		Conversations: conversations,
		Entities:      graphStore,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "casefile listening on %s\n", addr)
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

	// Stop job polls first so their final saves land before shutdown.
	runner.CancelAll()

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

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("casefile is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop casefile (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to casefile (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Remote service", "%s", cfg.Remote.BaseURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	if running {
		c := &apiClient{
			baseURL:    serverURL,
			token:      cfg.Server.APIToken,
			httpClient: client,
		}
		ctx := context.Background()
		if convResp, err := c.get(ctx, "/conversations"); err == nil {
			var summaries []conversationSummary
			if decodeJSON(convResp, &summaries) == nil {
				printStatus("Conversations", "%d", len(summaries))
			}
		}
		if entResp, err := c.get(ctx, "/entities"); err == nil {
			var entities []entityView
			if decodeJSON(entResp, &entities) == nil {
				printStatus("Entities", "%d", len(entities))
			}
		}
	}

	return nil
}
