package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/grail-mcp-server/internal/budget"
	mcperrors "github.com/tareqmamari/grail-mcp-server/internal/errors"
)

const noBudgetMessage = "No query budget is configured. Set GRAIL_BUDGET_LIMIT_GB to limit the bytes scanned per session."

// GetQueryBudgetTool reports how much of the session budget has been scanned.
type GetQueryBudgetTool struct {
	*BaseTool
}

// NewGetQueryBudgetTool creates a new tool instance
func NewGetQueryBudgetTool(deps Deps) *GetQueryBudgetTool {
	return &GetQueryBudgetTool{BaseTool: NewBaseTool(deps)}
}

// Name returns the tool name
func (t *GetQueryBudgetTool) Name() string {
	return "get_query_budget"
}

// Annotations returns tool hints for LLMs
func (t *GetQueryBudgetTool) Annotations() *mcp.ToolAnnotations {
	return ReadOnlyAnnotations("Get Query Budget")
}

// Description returns the tool description
func (t *GetQueryBudgetTool) Description() string {
	return "Show the bytes scanned by DQL queries in this session against the configured query budget."
}

// InputSchema returns the input schema
func (t *GetQueryBudgetTool) InputSchema() interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// Category groups the tool for audit entries.
func (t *GetQueryBudgetTool) Category() ToolCategory {
	return CategoryBudget
}

// Execute executes the tool
func (t *GetQueryBudgetTool) Execute(ctx context.Context, _ map[string]interface{}) (*mcp.CallToolResult, error) {
	tracker, err := t.sessionTracker()
	if err != nil {
		return failed(ctx, mcperrors.NewInvalidInput(err.Error())), nil
	}
	if tracker == nil {
		return NewToolResultText(noBudgetMessage), nil
	}
	return NewToolResultText(formatBudgetState(tracker.State())), nil
}

// ResetQueryBudgetTool clears the session consumption so queries may run again.
type ResetQueryBudgetTool struct {
	*BaseTool
}

// NewResetQueryBudgetTool creates a new tool instance
func NewResetQueryBudgetTool(deps Deps) *ResetQueryBudgetTool {
	return &ResetQueryBudgetTool{BaseTool: NewBaseTool(deps)}
}

// Name returns the tool name
func (t *ResetQueryBudgetTool) Name() string {
	return "reset_query_budget"
}

// Annotations returns tool hints for LLMs
func (t *ResetQueryBudgetTool) Annotations() *mcp.ToolAnnotations {
	return ResetAnnotations("Reset Query Budget")
}

// Description returns the tool description
func (t *ResetQueryBudgetTool) Description() string {
	return `Reset the bytes-scanned counter of the session query budget to zero.

Only call this when the user explicitly asks to continue querying after the budget was exceeded.`
}

// InputSchema returns the input schema
func (t *ResetQueryBudgetTool) InputSchema() interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// Category groups the tool for audit entries.
func (t *ResetQueryBudgetTool) Category() ToolCategory {
	return CategoryBudget
}

// Execute executes the tool
func (t *ResetQueryBudgetTool) Execute(ctx context.Context, _ map[string]interface{}) (*mcp.CallToolResult, error) {
	tracker, err := t.sessionTracker()
	if err != nil {
		return failed(ctx, mcperrors.NewInvalidInput(err.Error())), nil
	}
	if tracker == nil {
		return NewToolResultText(noBudgetMessage), nil
	}

	before := tracker.State()
	tracker.Reset()
	t.logger.Info("Query budget reset",
		zap.Int64("previously_consumed_bytes", before.ConsumedBytes),
	)
	return NewToolResultText(fmt.Sprintf(
		"Query budget reset. %s had been scanned in this session; the counter is now %s.",
		budget.FormatGB(before.ConsumedBytes), budget.FormatGB(0),
	)), nil
}
