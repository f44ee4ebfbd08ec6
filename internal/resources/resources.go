// Package resources provides MCP resource handlers for the Grail MCP server.
// Resources expose read-only data to MCP clients for context and status information.
package resources

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/grail-mcp-server/internal/audit"
	"github.com/tareqmamari/grail-mcp-server/internal/budget"
	"github.com/tareqmamari/grail-mcp-server/internal/config"
	"github.com/tareqmamari/grail-mcp-server/internal/metrics"
)

// Resource URIs.
const (
	ConfigURI  = "config://current"
	MetricsURI = "metrics://server"
	BudgetURI  = "budget://session"
	AuditURI   = "audit://recent"
)

// recentAuditEntries is how many audit entries audit://recent returns.
const recentAuditEntries = 50

// Registry holds all registered resources and their handlers
type Registry struct {
	config  *config.Config
	metrics *metrics.Metrics
	budgets *budget.Registry
	audit   *audit.Logger
	logger  *zap.Logger
	version string
}

// NewRegistry creates a new resource registry
func NewRegistry(cfg *config.Config, m *metrics.Metrics, budgets *budget.Registry, a *audit.Logger, logger *zap.Logger, version string) *Registry {
	return &Registry{
		config:  cfg,
		metrics: m,
		budgets: budgets,
		audit:   a,
		logger:  logger,
		version: version,
	}
}

// RegisteredResource represents a resource with its definition and handler
type RegisteredResource struct {
	Resource *mcp.Resource
	Handler  mcp.ResourceHandler
}

// GetResources returns all registered resources with their handlers
func (r *Registry) GetResources() []RegisteredResource {
	return []RegisteredResource{
		r.configResource(),
		r.metricsResource(),
		r.budgetResource(),
		r.auditResource(),
	}
}

// jsonResource builds a handler that serves the value returned by build as JSON.
func (r *Registry) jsonResource(uri string, build func() interface{}) mcp.ResourceHandler {
	return func(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		content, err := json.MarshalIndent(build(), "", "  ")
		if err != nil {
			r.logger.Error("Failed to marshal resource", zap.String("uri", uri), zap.Error(err))
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      uri,
					MIMEType: "application/json",
					Text:     string(content),
				},
			},
		}, nil
	}
}

func (r *Registry) configResource() RegisteredResource {
	return RegisteredResource{
		Resource: &mcp.Resource{
			URI:         ConfigURI,
			Name:        ConfigURI,
			Title:       "Server Configuration",
			Description: "Current server configuration (secrets masked)",
			MIMEType:    "application/json",
		},
		Handler: r.jsonResource(ConfigURI, func() interface{} {
			c := r.config
			return map[string]interface{}{
				"environment_url":        c.EnvironmentURL,
				"auth_mode":              authMode(c),
				"timeout":                c.Timeout.String(),
				"max_retries":            c.MaxRetries,
				"rate_limit":             c.RateLimit,
				"rate_limit_burst":       c.RateLimitBurst,
				"rate_limit_enabled":     c.EnableRateLimit,
				"tool_rate_limit_calls":  c.ToolRateLimitCalls,
				"tool_rate_limit_window": c.ToolRateLimitWindow.String(),
				"poll_interval":          c.PollInterval.String(),
				"max_poll_attempts":      c.MaxPollAttempts,
				"query_timeout":          c.QueryTimeout.String(),
				"budget_limit_gb":        c.BudgetLimitGB,
				"tls_verify":             c.TLSVerify,
				"tracing_enabled":        c.EnableTracing,
				"audit_log_enabled":      c.EnableAuditLog,
				"log_level":              c.LogLevel,
				"log_format":             c.LogFormat,
				"server_version":         r.version,
			}
		}),
	}
}

func authMode(c *config.Config) string {
	if c.PlatformToken != "" {
		return "platform_token"
	}
	return "oauth_client_credentials"
}

func (r *Registry) metricsResource() RegisteredResource {
	return RegisteredResource{
		Resource: &mcp.Resource{
			URI:         MetricsURI,
			Name:        MetricsURI,
			Title:       "Server Metrics",
			Description: "Request counts, query outcomes, bytes scanned and tool usage",
			MIMEType:    "application/json",
		},
		Handler: r.jsonResource(MetricsURI, func() interface{} {
			stats := r.metrics.GetStats()
			return map[string]interface{}{
				"requests": map[string]interface{}{
					"total":      stats.TotalRequests,
					"successful": stats.SuccessfulRequests,
					"failed":     stats.FailedRequests,
					"retried":    stats.RetriedRequests,
				},
				"latency": map[string]interface{}{
					"average_ms": stats.AverageLatency.Milliseconds(),
					"max_ms":     stats.MaxLatency.Milliseconds(),
				},
				"queries": map[string]interface{}{
					"by_outcome":        stats.QueriesByOutcome,
					"polls":             stats.QueryPolls,
					"bytes_scanned":     stats.BytesScanned,
					"budget_rejections": stats.BudgetRejections,
				},
				"rate_limiting": map[string]interface{}{
					"hits": stats.RateLimitHits,
				},
				"errors_by_status": stats.ErrorsByStatus,
				"tools": map[string]interface{}{
					"usage":  stats.ToolUsage,
					"errors": stats.ToolErrors,
				},
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}
		}),
	}
}

func (r *Registry) budgetResource() RegisteredResource {
	return RegisteredResource{
		Resource: &mcp.Resource{
			URI:         BudgetURI,
			Name:        BudgetURI,
			Title:       "Session Query Budget",
			Description: "Bytes scanned in this session against the configured budget",
			MIMEType:    "application/json",
		},
		Handler: r.jsonResource(BudgetURI, func() interface{} {
			limit := r.config.BudgetLimit()
			if limit == nil {
				return map[string]interface{}{"enabled": false}
			}
			limitBytes, err := budget.GBToBytes(*limit)
			if err != nil {
				return map[string]interface{}{"enabled": false, "error": err.Error()}
			}

			state := budget.State{LimitBytes: &limitBytes}
			if t, ok := r.budgets.Lookup(limitBytes); ok {
				state = t.State()
			}
			return map[string]interface{}{
				"enabled":         true,
				"consumed_bytes":  state.ConsumedBytes,
				"limit_bytes":     limitBytes,
				"remaining_bytes": state.RemainingBytes(),
				"used_percent":    state.UsedPercent(),
				"exceeded":        state.IsExceeded(),
				"consumed":        budget.FormatGB(state.ConsumedBytes),
				"limit":           budget.FormatGB(limitBytes),
			}
		}),
	}
}

func (r *Registry) auditResource() RegisteredResource {
	return RegisteredResource{
		Resource: &mcp.Resource{
			URI:         AuditURI,
			Name:        AuditURI,
			Title:       "Recent Tool Calls",
			Description: "The most recent audited tool calls with their outcome",
			MIMEType:    "application/json",
		},
		Handler: r.jsonResource(AuditURI, func() interface{} {
			return map[string]interface{}{
				"enabled": r.audit.IsEnabled(),
				"stats":   r.audit.GetStats(),
				"entries": r.audit.GetRecentEntries(recentAuditEntries),
			}
		}),
	}
}
