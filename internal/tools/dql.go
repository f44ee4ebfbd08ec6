package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/grail-mcp-server/internal/budget"
	mcperrors "github.com/tareqmamari/grail-mcp-server/internal/errors"
	"github.com/tareqmamari/grail-mcp-server/internal/query"
)

// Defaults for execute_dql arguments.
const (
	DefaultRecordLimit       = 100
	DefaultRecordSizeLimitMB = 1.0
	bytesPerMB               = 1_000_000
)

// ExecuteDQLTool runs a DQL statement through the guarded query engine.
type ExecuteDQLTool struct {
	*BaseTool
}

// NewExecuteDQLTool creates a new tool instance
func NewExecuteDQLTool(deps Deps) *ExecuteDQLTool {
	return &ExecuteDQLTool{BaseTool: NewBaseTool(deps)}
}

// Name returns the tool name
func (t *ExecuteDQLTool) Name() string {
	return "execute_dql"
}

// Annotations returns tool hints for LLMs
func (t *ExecuteDQLTool) Annotations() *mcp.ToolAnnotations {
	return QueryAnnotations("Execute DQL")
}

// Description returns the tool description
func (t *ExecuteDQLTool) Description() string {
	return `Get logs, metrics, spans or events from Grail by executing a DQL statement.

Always run verify_dql before executing a statement. A valid statement looks like:
fetch logs | filter <condition> | summarize count(), by:{field}

Every execution scans data and counts against the session query budget. Once the budget
is exceeded further queries are refused until reset_query_budget is called.

The response lists scanned records and bytes, warnings, the result columns and the
records as a JSON block.`
}

// InputSchema returns the input schema
func (t *ExecuteDQLTool) InputSchema() interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"dqlStatement": map[string]interface{}{
				"type":        "string",
				"description": "The DQL statement to execute",
				"minLength":   1,
				"examples": []string{
					"fetch logs | filter loglevel == \"ERROR\" | limit 10",
					"timeseries avg(dt.host.cpu.usage), by:{dt.entity.host}",
				},
			},
			"recordLimit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of records to return",
				"minimum":     1,
				"default":     DefaultRecordLimit,
			},
			"recordSizeLimitMB": map[string]interface{}{
				"type":        "number",
				"description": "Maximum size of the returned records in megabytes (must be greater than 0)",
				"minimum":     0,
				"default":     DefaultRecordSizeLimitMB,
			},
			"timeframeStart": map[string]interface{}{
				"type":        "string",
				"description": "Default timeframe start when the statement has none (ISO 8601 or relative, e.g. now()-2h)",
			},
			"timeframeEnd": map[string]interface{}{
				"type":        "string",
				"description": "Default timeframe end when the statement has none",
			},
		},
		"required": []string{"dqlStatement"},
	}
}

// Category groups the tool for audit entries.
func (t *ExecuteDQLTool) Category() ToolCategory {
	return CategoryQuery
}

// Execute executes the tool
func (t *ExecuteDQLTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	req, errResult := t.buildRequest(arguments)
	if errResult != nil {
		markFailed(ctx, mcperrors.CodeInvalidInput)
		return errResult, nil
	}

	res, err := t.deps.Executor.Execute(ctx, req, t.deps.BudgetLimitGB)
	if err != nil {
		t.logger.Debug("DQL execution failed", zap.Error(err))
		return failed(ctx, err), nil
	}
	if res == nil {
		return NewToolResultText("The query finished without returning a result. It may have been cancelled or its result expired; run it again if needed."), nil
	}

	if r := reportFrom(ctx); r != nil {
		r.ResultCount = len(res.Records)
		r.BytesScanned = res.Metadata.ScannedBytes
	}

	tracker, err := t.sessionTracker()
	if err != nil {
		return failed(ctx, mcperrors.NewInvalidInput(err.Error())), nil
	}
	var session *budget.State
	if tracker != nil {
		s := tracker.State()
		session = &s
	}

	text, err := formatExecuteResult(res, session)
	if err != nil {
		return nil, err
	}
	return NewToolResultText(text), nil
}

func (t *ExecuteDQLTool) buildRequest(arguments map[string]interface{}) (query.Request, *mcp.CallToolResult) {
	statement, err := GetStringParam(arguments, "dqlStatement", true)
	if err != nil {
		return query.Request{}, NewToolResultError(err.Error())
	}
	if strings.TrimSpace(statement) == "" {
		return query.Request{}, NewToolResultError("dqlStatement must not be empty")
	}

	limit, err := GetIntParam(arguments, "recordLimit", false, DefaultRecordLimit)
	if err != nil {
		return query.Request{}, NewToolResultError(err.Error())
	}
	if limit <= 0 {
		return query.Request{}, NewToolResultError("recordLimit must be greater than 0")
	}

	sizeMB, err := GetFloatParam(arguments, "recordSizeLimitMB", false, DefaultRecordSizeLimitMB)
	if err != nil {
		return query.Request{}, NewToolResultError(err.Error())
	}
	if sizeMB <= 0 {
		return query.Request{}, NewToolResultError("recordSizeLimitMB must be greater than 0")
	}
	maxBytes := int64(sizeMB * bytesPerMB)

	start, err := GetStringParam(arguments, "timeframeStart", false)
	if err != nil {
		return query.Request{}, NewToolResultError(err.Error())
	}
	end, err := GetStringParam(arguments, "timeframeEnd", false)
	if err != nil {
		return query.Request{}, NewToolResultError(err.Error())
	}

	return query.Request{
		Query:                 statement,
		MaxResultRecords:      &limit,
		MaxResultBytes:        &maxBytes,
		DefaultTimeframeStart: start,
		DefaultTimeframeEnd:   end,
	}, nil
}

// VerifyDQLTool checks a DQL statement without executing it.
type VerifyDQLTool struct {
	*BaseTool
}

// NewVerifyDQLTool creates a new tool instance
func NewVerifyDQLTool(deps Deps) *VerifyDQLTool {
	return &VerifyDQLTool{BaseTool: NewBaseTool(deps)}
}

// Name returns the tool name
func (t *VerifyDQLTool) Name() string {
	return "verify_dql"
}

// Annotations returns tool hints for LLMs
func (t *VerifyDQLTool) Annotations() *mcp.ToolAnnotations {
	return VerifyAnnotations("Verify DQL")
}

// Description returns the tool description
func (t *VerifyDQLTool) Description() string {
	return `Verify a DQL statement on Grail before executing it. Verification scans no data
and does not count against the query budget.`
}

// InputSchema returns the input schema
func (t *VerifyDQLTool) InputSchema() interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"dqlStatement": map[string]interface{}{
				"type":        "string",
				"description": "The DQL statement to verify",
				"minLength":   1,
			},
		},
		"required": []string{"dqlStatement"},
	}
}

// Category groups the tool for audit entries.
func (t *VerifyDQLTool) Category() ToolCategory {
	return CategoryVerify
}

// Execute executes the tool
func (t *VerifyDQLTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	statement, err := GetStringParam(arguments, "dqlStatement", true)
	if err == nil && strings.TrimSpace(statement) == "" {
		err = fmt.Errorf("dqlStatement must not be empty")
	}
	if err != nil {
		markFailed(ctx, mcperrors.CodeInvalidInput)
		return NewToolResultError(err.Error()), nil
	}

	res, err := t.deps.Verifier.Verify(ctx, statement)
	if err != nil {
		return failed(ctx, err), nil
	}

	var sb strings.Builder
	sb.WriteString("DQL Statement Verification:\n")
	if len(res.Notifications) > 0 {
		sb.WriteString("Please consider the following notifications for adapting your DQL statement:\n")
		for _, n := range res.Notifications {
			fmt.Fprintf(&sb, "* %s: %s\n", severityLabel(n.Severity), n.Message)
		}
	}
	if res.Valid {
		sb.WriteString("The DQL statement is valid - you can use the \"execute_dql\" tool.\n")
	} else {
		sb.WriteString("The DQL statement is invalid. Please adapt your statement.\n")
	}
	return NewToolResultText(sb.String()), nil
}
