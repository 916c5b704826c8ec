package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalstat/catalog"
	"github.com/petal-labs/petalstat/config"
	"github.com/petal-labs/petalstat/server"
)

// writeTimeoutSlack is added to the longest tool deadline when deriving the
// HTTP write timeout.
const writeTimeoutSlack = 15 * time.Second

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tool calls over stdio, HTTP or MCP",
		Long: "Serve tool calls. The stdio transport reads one JSON request per line " +
			"and writes one JSON response per line; http exposes POST /call and the " +
			"catalogue routes; mcp speaks the Model Context Protocol over stdio.",
		RunE: runServe,
	}

	addEngineFlags(cmd)
	cmd.Flags().String("transport", config.TransportStdio, "Transport: stdio | http | mcp")
	cmd.Flags().String("addr", "127.0.0.1:8080", "HTTP listen address")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 0, "HTTP write timeout (default: longest tool timeout plus slack)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), logLevelFor(cmd, cfg.LogLevel), cfg.LogFormat)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg, logger, engineOptions{withMetrics: cfg.Transport == config.TransportHTTP})
	if err != nil {
		return err
	}
	defer eng.Close()

	logger.Info("petalstat starting",
		"transport", cfg.Transport,
		"catalogue", describeSource(eng.catalog),
		"tools", eng.catalog.Registry.Len(),
		"max_concurrent", cfg.MaxConcurrent,
	)

	switch cfg.Transport {
	case config.TransportHTTP:
		return serveHTTP(ctx, cmd, cfg, eng)
	case config.TransportMCP:
		return serveMCP(ctx, cmd, eng)
	default:
		return serveStdio(ctx, cmd, eng)
	}
}

func serveStdio(ctx context.Context, cmd *cobra.Command, eng *engine) error {
	stdio := server.NewStdioServer(server.StdioConfig{
		Engine: eng.dispatcher,
		Logger: eng.logger,
	})
	err := stdio.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil && !errors.Is(err, context.Canceled) {
		return exitError(exitRuntime, "stdio transport: %v", err)
	}
	eng.logger.Info("stdio transport closed")
	return nil
}

func serveMCP(ctx context.Context, cmd *cobra.Command, eng *engine) error {
	mcpServer := server.NewMCPServer(eng.dispatcher, cmd.Root().Version)
	err := server.ServeMCP(ctx, mcpServer)
	if err != nil && !errors.Is(err, context.Canceled) {
		return exitError(exitRuntime, "mcp transport: %v", err)
	}
	return nil
}

func serveHTTP(ctx context.Context, cmd *cobra.Command, cfg *config.Config, eng *engine) error {
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	if writeTimeout <= 0 {
		writeTimeout = eng.longestTimeout(cfg.ToolTimeout) + writeTimeoutSlack
	}

	index, err := catalog.NewIndex(eng.catalog.Registry)
	if err != nil {
		return exitError(exitRuntime, "building catalogue index: %v", err)
	}
	defer func() { _ = index.Close() }()

	srv := server.NewServer(server.ServerConfig{
		Engine:     eng.dispatcher,
		Index:      index,
		Metrics:    eng.metrics,
		MCP:        server.NewMCPHandler(server.NewMCPServer(eng.dispatcher, cmd.Root().Version)),
		CORSOrigin: corsOrigin,
		MaxBody:    cfg.MaxBodyBytes,
		Logger:     eng.logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		eng.logger.Info("petalstat listening", "addr", cfg.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		eng.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}
