//go:build integration

// Package integration provides integration tests for the Grail MCP server.
// These tests need a reachable environment and make real API calls.
//
// To run integration tests:
//
//	export GRAIL_ENVIRONMENT_URL=https://<env-id>.apps.dynatrace.com
//	export GRAIL_PLATFORM_TOKEN=<token>
//	go test -v -tags=integration ./tests/integration/...
package integration

import (
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/grail-mcp-server/internal/auth"
	"github.com/tareqmamari/grail-mcp-server/internal/budget"
	"github.com/tareqmamari/grail-mcp-server/internal/client"
	"github.com/tareqmamari/grail-mcp-server/internal/config"
	"github.com/tareqmamari/grail-mcp-server/internal/grail"
	"github.com/tareqmamari/grail-mcp-server/internal/metrics"
	"github.com/tareqmamari/grail-mcp-server/internal/query"
)

// TestContext holds shared test resources
type TestContext struct {
	Client  *client.Client
	Grail   *grail.Client
	Engine  *query.Engine
	Budgets *budget.Registry
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func init() {
	_ = godotenv.Load("../../.env")
}

// NewTestContext wires a real client, Grail API and engine from the environment.
// The test is skipped when no environment is configured.
func NewTestContext(t *testing.T) *TestContext {
	t.Helper()

	url := os.Getenv("GRAIL_ENVIRONMENT_URL")
	token := os.Getenv("GRAIL_PLATFORM_TOKEN")
	clientID := os.Getenv("GRAIL_OAUTH_CLIENT_ID")
	if url == "" || (token == "" && clientID == "") {
		t.Skip("GRAIL_ENVIRONMENT_URL and GRAIL_PLATFORM_TOKEN (or OAuth credentials) must be set")
	}

	logger, err := zap.NewDevelopment()
	require.NoError(t, err, "Failed to create logger")

	cfg := &config.Config{
		EnvironmentURL:    url,
		PlatformToken:     token,
		OAuthClientID:     clientID,
		OAuthClientSecret: os.Getenv("GRAIL_OAUTH_CLIENT_SECRET"),
		OAuthTokenURL:     os.Getenv("GRAIL_OAUTH_TOKEN_URL"),
		Timeout:           30 * time.Second,
		MaxRetries:        3,
		RetryWaitMin:      time.Second,
		RetryWaitMax:      5 * time.Second,
		EnableRateLimit:   true,
		RateLimit:         10,
		RateLimitBurst:    20,
		MaxIdleConns:      10,
		IdleConnTimeout:   90 * time.Second,
		TLSVerify:         true,
	}

	authenticator, err := auth.New(auth.Options{
		PlatformToken:     cfg.PlatformToken,
		OAuthClientID:     cfg.OAuthClientID,
		OAuthClientSecret: cfg.OAuthClientSecret,
		OAuthTokenURL:     cfg.OAuthTokenURL,
	}, logger)
	require.NoError(t, err, "Failed to create authenticator")

	m := metrics.New(logger, prometheus.NewRegistry())
	apiClient := client.New(cfg, authenticator, logger, "integration", client.WithMetrics(m))
	t.Cleanup(func() { _ = apiClient.Close() })

	grailClient := grail.New(apiClient, logger)
	budgets := budget.NewRegistry()

	return &TestContext{
		Client: apiClient,
		Grail:  grailClient,
		Engine: query.NewEngine(grailClient, budgets,
			query.WithLogger(logger),
			query.WithMetrics(m),
			query.WithPollInterval(time.Second),
			query.WithQueryTimeout(2*time.Minute),
		),
		Budgets: budgets,
		Metrics: m,
		Logger:  logger,
	}
}

func skipIfShort(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}
