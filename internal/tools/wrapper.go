package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/grail-mcp-server/internal/audit"
	mcperrors "github.com/tareqmamari/grail-mcp-server/internal/errors"
	"github.com/tareqmamari/grail-mcp-server/internal/metrics"
	"github.com/tareqmamari/grail-mcp-server/internal/ratelimit"
	"github.com/tareqmamari/grail-mcp-server/internal/tracing"
)

// Wrapper turns a Tool into an MCP handler guarded by the shared tool-call
// rate limiter, with tracing, metrics and audit around every call.
type Wrapper struct {
	limiter *ratelimit.SlidingWindow
	metrics *metrics.Metrics
	audit   *audit.Logger
	logger  *zap.Logger
}

// NewWrapper creates a wrapper. A nil limiter disables tool-call limiting.
func NewWrapper(limiter *ratelimit.SlidingWindow, m *metrics.Metrics, a *audit.Logger, logger *zap.Logger) *Wrapper {
	return &Wrapper{
		limiter: limiter,
		metrics: m,
		audit:   a,
		logger:  logger.Named("tools"),
	}
}

// Handler returns the MCP handler for t.
func (w *Wrapper) Handler(t Tool) mcp.ToolHandler {
	name := t.Name()
	operation := string(categoryOf(t))

	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		if w.limiter != nil && !w.limiter.TryAcquire() {
			w.metrics.RecordRateLimitHit()
			w.audit.Log(ctx, audit.Entry{
				Tool:      name,
				Operation: operation,
				ErrorCode: string(mcperrors.CodeRateLimitExceeded),
				Duration:  time.Since(start),
			})
			w.logger.Warn("Tool call rate limited", zap.String("tool", name))
			return NewRateLimitResult(w.limiter.MaxCalls(), int(w.limiter.Window().Seconds())), nil
		}

		ctx, span := tracing.ToolSpan(ctx, name)
		defer span.End()
		ctx, report := withReport(ctx)

		result := w.call(ctx, t, req)
		duration := time.Since(start)
		success := !result.IsError

		w.metrics.RecordToolExecution(name, success, duration)
		entry := audit.Entry{
			Tool:         name,
			Operation:    operation,
			Success:      success,
			Duration:     duration,
			ResultCount:  report.ResultCount,
			BytesScanned: report.BytesScanned,
		}
		if !success {
			entry.ErrorCode = report.ErrorCode
			entry.ErrorMsg = resultText(result)
			tracing.RecordError(span, errors.New(entry.ErrorMsg))
		} else {
			tracing.SetSuccess(span)
		}
		w.audit.Log(ctx, entry)

		return result, nil
	}
}

// call decodes the arguments and runs the tool. Go errors become error results.
func (w *Wrapper) call(ctx context.Context, t Tool, req *mcp.CallToolRequest) *mcp.CallToolResult {
	var args map[string]interface{}
	if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			markFailed(ctx, mcperrors.CodeInvalidInput)
			return NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err))
		}
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		w.logger.Error("Tool execution failed",
			zap.String("tool", t.Name()),
			zap.Error(err),
		)
		markFailed(ctx, mcperrors.CodeInternalError)
		return NewToolResultError(fmt.Sprintf("Error: %v", err))
	}
	if result == nil {
		return NewToolResultError("")
	}
	return result
}

// resultText returns the first text block of a result.
func resultText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
