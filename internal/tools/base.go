package tools

import (
	"context"

	"go.uber.org/zap"

	"github.com/tareqmamari/grail-mcp-server/internal/budget"
	"github.com/tareqmamari/grail-mcp-server/internal/grail"
	"github.com/tareqmamari/grail-mcp-server/internal/query"
)

// Executor runs a query to completion under an optional budget.
type Executor interface {
	Execute(ctx context.Context, req query.Request, budgetLimitGB *float64) (*query.Result, error)
}

// Verifier checks a statement without running it.
type Verifier interface {
	Verify(ctx context.Context, statement string) (*grail.VerifyResult, error)
}

// Deps are the shared collaborators handed to every tool.
type Deps struct {
	Executor Executor
	Verifier Verifier
	Budgets  *budget.Registry
	// BudgetLimitGB is the session budget; nil means queries are not budgeted.
	BudgetLimitGB *float64
	Logger        *zap.Logger
}

// BaseTool provides common functionality for all tools
type BaseTool struct {
	deps   Deps
	logger *zap.Logger
}

// NewBaseTool creates a new base tool
func NewBaseTool(deps Deps) *BaseTool {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseTool{deps: deps, logger: logger}
}

// sessionTracker returns the tracker for the configured session budget, or nil.
func (t *BaseTool) sessionTracker() (*budget.Tracker, error) {
	if t.deps.BudgetLimitGB == nil || t.deps.Budgets == nil {
		return nil, nil
	}
	return t.deps.Budgets.TrackerForGB(*t.deps.BudgetLimitGB)
}
