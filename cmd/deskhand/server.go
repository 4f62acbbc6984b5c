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

	"github.com/deskhand-io/deskhand/internal/api"
	"github.com/deskhand-io/deskhand/internal/config"
	"github.com/deskhand-io/deskhand/internal/index"
	"github.com/deskhand-io/deskhand/internal/ingest"
	"github.com/deskhand-io/deskhand/internal/llm"
	"github.com/deskhand-io/deskhand/internal/pipeline"
	"github.com/deskhand-io/deskhand/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the deskhand server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running deskhand server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show deskhand system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "deskhand.pid")
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

func buildProvider(cfg config.Config) (llm.Provider, error) {
	switch cfg.Provider.Name {
	case "openai":
		var opts []llm.OpenAIOption
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, llm.WithOpenAIBaseURL(cfg.OpenAI.BaseURL))
		}
		if cfg.OpenAI.Model != "" {
			opts = append(opts, llm.WithOpenAIModel(cfg.OpenAI.Model))
		}
		return llm.NewOpenAI(cfg.OpenAI.APIKey, opts...), nil
	case "alephalpha":
		var opts []llm.AlephAlphaOption
		if cfg.AlephAlpha.BaseURL != "" {
			opts = append(opts, llm.WithAlephAlphaBaseURL(cfg.AlephAlpha.BaseURL))
		}
		if cfg.AlephAlpha.Model != "" {
			opts = append(opts, llm.WithAlephAlphaModel(cfg.AlephAlpha.Model))
		}
		return llm.NewAlephAlpha(cfg.AlephAlpha.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "deskhand version %s\n", version)

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
			printWarning("deskhand is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("deskhand is already running on port %d", cfg.Server.Port)
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

	// Build the corpus index. An empty corpus is fine at startup; the index
	// stays unbuilt until resolved tickets are imported.
	indexMgr := index.NewManager(store)
	if err := indexMgr.Refresh(ctx); err != nil {
		if errors.Is(err, index.ErrEmptyCorpus) {
			slog.Info("no resolved tickets yet, index will build after import")
		} else {
			return fmt.Errorf("building corpus index: %w", err)
		}
	}

	// Build the generation pipeline.
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	timeout, err := time.ParseDuration(cfg.Provider.Timeout)
	if err != nil {
		slog.Warn("invalid provider timeout, using default 30s", "value", cfg.Provider.Timeout, "error", err)
		timeout = 30 * time.Second
	}
	gateway := llm.NewGateway(provider, llm.GatewayConfig{
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
		Timeout:     timeout,
	})
	resolver := pipeline.NewResolver(gateway, pipeline.Options{
		TopK:             cfg.Retrieval.TopK,
		MinScore:         cfg.Retrieval.MinScore,
		MaxPromptMatches: cfg.Retrieval.MaxPromptMatches,
	})

	deps := api.Deps{
		Store:    store,
		Index:    indexMgr,
		Resolver: resolver,
		Token:    cfg.Server.APIToken,
	}
	handler := api.NewHandler(deps)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start the corpus rebuild worker.
	worker := ingest.NewWorker(store, indexMgr, 500*time.Millisecond)
	go worker.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "deskhand listening on %s\n", addr)
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

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("deskhand is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop deskhand (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to deskhand (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
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

	printStatus("Provider", "%s", cfg.Provider.Name)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	if running {
		apiClient := &apiClient{baseURL: serverURL, token: cfg.Server.APIToken, httpClient: client}
		statusResp, err := apiClient.get(ctx, "/corpus/status")
		if err == nil {
			var status api.CorpusStatus
			if decodeJSON(statusResp, &status) == nil {
				if status.IndexReady {
					printStatus("Index", "%d tickets, %d terms, built %s",
						status.IndexedTickets, status.VocabularySize, status.BuiltAt.Format(time.RFC3339))
				} else {
					printStatus("Index", "not built")
				}
				printStatus("Tickets", "%d resolved, %d open", status.ResolvedTickets, status.OpenTickets)
			}
		}
	}

	return nil
}
