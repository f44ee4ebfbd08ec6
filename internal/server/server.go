// Package server provides the MCP server that exposes guarded Grail queries.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/tareqmamari/grail-mcp-server/internal/audit"
	"github.com/tareqmamari/grail-mcp-server/internal/auth"
	"github.com/tareqmamari/grail-mcp-server/internal/budget"
	"github.com/tareqmamari/grail-mcp-server/internal/cache"
	"github.com/tareqmamari/grail-mcp-server/internal/client"
	"github.com/tareqmamari/grail-mcp-server/internal/config"
	"github.com/tareqmamari/grail-mcp-server/internal/grail"
	"github.com/tareqmamari/grail-mcp-server/internal/health"
	"github.com/tareqmamari/grail-mcp-server/internal/metrics"
	"github.com/tareqmamari/grail-mcp-server/internal/prompts"
	"github.com/tareqmamari/grail-mcp-server/internal/query"
	"github.com/tareqmamari/grail-mcp-server/internal/ratelimit"
	"github.com/tareqmamari/grail-mcp-server/internal/resources"
	"github.com/tareqmamari/grail-mcp-server/internal/tools"
)

// pingStatement is verified by the health check to prove the query API is reachable.
const pingStatement = "fetch logs | limit 1"

// Server represents the MCP server
type Server struct {
	mcpServer    *mcp.Server
	apiClient    *client.Client
	config       *config.Config
	logger       *zap.Logger
	metrics      *metrics.Metrics
	registry     *prometheus.Registry
	budgets      *budget.Registry
	audit        *audit.Logger
	version      string
	healthServer *health.Server
}

// New creates a new MCP server instance.
func New(cfg *config.Config, logger *zap.Logger, version string) (*Server, error) {
	authenticator, err := auth.New(auth.Options{
		PlatformToken:     cfg.PlatformToken,
		OAuthClientID:     cfg.OAuthClientID,
		OAuthClientSecret: cfg.OAuthClientSecret,
		OAuthTokenURL:     cfg.OAuthTokenURL,
		OAuthScopes:       cfg.OAuthScopes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsTracker := metrics.New(logger, registry)

	apiClient := client.New(cfg, authenticator, logger, version, client.WithMetrics(metricsTracker))
	grailClient := grail.New(apiClient, logger)
	verifier := grail.NewCachedVerifier(grailClient,
		cache.New[*grail.VerifyResult](grail.DefaultVerifyCacheSize, grail.DefaultVerifyCacheTTL))

	budgets := budget.NewRegistry()
	engine := query.NewEngine(grailClient, budgets,
		query.WithLogger(logger),
		query.WithMetrics(metricsTracker),
		query.WithPollInterval(cfg.PollInterval),
		query.WithMaxPollAttempts(cfg.MaxPollAttempts),
		query.WithQueryTimeout(cfg.QueryTimeout),
	)

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "Grail MCP Server",
		Version: version,
	}, &mcp.ServerOptions{
		HasTools:     true,
		HasPrompts:   true,
		HasResources: true,
	})

	s := &Server{
		mcpServer: mcpServer,
		apiClient: apiClient,
		config:    cfg,
		logger:    logger,
		metrics:   metricsTracker,
		registry:  registry,
		budgets:   budgets,
		audit:     audit.NewLogger(logger, cfg.EnableAuditLog),
		version:   version,
	}

	if cfg.HealthPort > 0 {
		checker := health.New(authenticator, health.PingFunc(func(ctx context.Context) error {
			_, err := grailClient.Verify(ctx, pingStatement)
			return err
		}), logger)
		var gatherer prometheus.Gatherer
		if cfg.MetricsEndpoint {
			gatherer = registry
		}
		s.healthServer = health.NewServer(checker, logger, cfg.HealthPort, cfg.HealthBindAddr, gatherer)
	}

	limiter := ratelimit.New(cfg.ToolRateLimitCalls, cfg.ToolRateLimitWindow)
	s.registerTools(tools.NewWrapper(limiter, metricsTracker, s.audit, logger), tools.Deps{
		Executor:      engine,
		Verifier:      verifier,
		Budgets:       budgets,
		BudgetLimitGB: cfg.BudgetLimit(),
		Logger:        logger,
	})
	s.registerPrompts()
	s.registerResources()

	return s, nil
}

// registerTools registers all available MCP tools behind the shared wrapper
func (s *Server) registerTools(wrapper *tools.Wrapper, deps tools.Deps) {
	all := tools.GetAllTools(deps)
	for _, t := range all {
		s.mcpServer.AddTool(&mcp.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
			Annotations: t.Annotations(),
		}, wrapper.Handler(t))
		s.logger.Debug("Registered tool", zap.String("tool", t.Name()))
	}
	s.logger.Info("Registered all MCP tools", zap.Int("count", len(all)))
}

// registerPrompts registers all available MCP prompts
func (s *Server) registerPrompts() {
	registry := prompts.NewRegistry(s.logger)

	for _, p := range registry.GetPrompts() {
		s.mcpServer.AddPrompt(p.Prompt, p.Handler)
		s.logger.Debug("Registered prompt", zap.String("prompt", p.Prompt.Name))
	}

	s.logger.Info("Registered all MCP prompts", zap.Int("count", len(registry.GetPrompts())))
}

// registerResources registers all available MCP resources
func (s *Server) registerResources() {
	registry := resources.NewRegistry(s.config, s.metrics, s.budgets, s.audit, s.logger, s.version)

	for _, r := range registry.GetResources() {
		s.mcpServer.AddResource(r.Resource, r.Handler)
		s.logger.Debug("Registered resource", zap.String("uri", r.Resource.URI))
	}

	s.logger.Info("Registered all MCP resources", zap.Int("count", len(registry.GetResources())))
}

// Start serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// Run serves MCP over the given transport.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("Starting MCP server", zap.String("version", s.version))

	if s.healthServer != nil {
		go func() {
			if err := s.healthServer.Start(); err != nil {
				s.logger.Error("Health server error", zap.Error(err))
			}
		}()
		s.healthServer.SetReady(true)
	}

	defer func() {
		s.metrics.LogStats()

		if s.healthServer != nil {
			s.healthServer.SetReady(false)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.healthServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("Failed to shutdown health server", zap.Error(err))
			}
		}

		if err := s.apiClient.Close(); err != nil {
			s.logger.Error("Failed to close API client", zap.Error(err))
		}
	}()

	return s.mcpServer.Run(ctx, transport)
}

// GetMetrics returns the server's metrics tracker for external access
func (s *Server) GetMetrics() *metrics.Metrics {
	return s.metrics
}
