// Package main implements the Grail MCP (Model Context Protocol) server.
//
// The server exposes guarded DQL query tools: every query is checked against a
// per-session bytes-scanned budget, tool calls are rate limited, and results
// are summarized with scan statistics and a chart-worthiness hint.
//
// The server communicates using the MCP protocol over stdio. Logs go to stderr.
//
// Configuration is provided through environment variables:
//   - GRAIL_ENVIRONMENT_URL: The environment base URL (required)
//   - GRAIL_PLATFORM_TOKEN: Platform token, or use the OAuth variables below
//   - GRAIL_OAUTH_CLIENT_ID / GRAIL_OAUTH_CLIENT_SECRET: OAuth client credentials
//   - GRAIL_BUDGET_LIMIT_GB: (Optional) Session budget for bytes scanned
//   - ENVIRONMENT: (Optional) Set to "production" for production logging
//
// Example usage:
//
//	export GRAIL_ENVIRONMENT_URL="https://<env-id>.apps.dynatrace.com"
//	export GRAIL_PLATFORM_TOKEN="<token>"
//	./grail-mcp-server
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tareqmamari/grail-mcp-server/internal/config"
	"github.com/tareqmamari/grail-mcp-server/internal/server"
	"github.com/tareqmamari/grail-mcp-server/internal/tracing"
)

// Build information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
	builtBy = "manual"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file if it exists (optional, for development)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName:    "grail-mcp-server",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Enabled:        cfg.EnableTracing,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	logger.Info("Starting Grail MCP Server",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("built_by", builtBy),
		zap.String("endpoint", cfg.EnvironmentURL),
		zap.Any("budget_limit_gb", cfg.BudgetLimit()),
	)

	mcpServer, err := server.New(cfg, logger, version)
	if err != nil {
		logger.Fatal("Failed to create MCP server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- mcpServer.Start(ctx)
	}()

	select {
	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
		}
		return
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	logger.Info("Initiating graceful shutdown", zap.Duration("timeout", shutdownTimeout))
	select {
	case <-serverDone:
		logger.Info("Server shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("Shutdown timeout exceeded, forcing exit", zap.Duration("timeout", shutdownTimeout))
	}
}

// initLogger builds a zap logger writing to stderr, since stdout carries MCP.
// ENVIRONMENT=production selects the production preset; LOG_FORMAT and
// LOG_LEVEL override the encoding and level.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Environment == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	if cfg.LogFormat != "" {
		zcfg.Encoding = cfg.LogFormat
	}
	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}
