package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcperrors "github.com/tareqmamari/grail-mcp-server/internal/errors"
)

type reportKey struct{}

// callReport collects per-call figures a tool hands back to the wrapper for auditing.
type callReport struct {
	ResultCount  int
	BytesScanned int64
	ErrorCode    string
}

func withReport(ctx context.Context) (context.Context, *callReport) {
	r := &callReport{}
	return context.WithValue(ctx, reportKey{}, r), r
}

// reportFrom returns the report attached by the wrapper, or nil outside a wrapped call.
func reportFrom(ctx context.Context) *callReport {
	r, _ := ctx.Value(reportKey{}).(*callReport)
	return r
}

// markFailed records the error code of a failed call.
func markFailed(ctx context.Context, code mcperrors.ErrorCode) {
	if r := reportFrom(ctx); r != nil {
		r.ErrorCode = string(code)
	}
}

// failed records err on the call report and renders it as a tool result.
func failed(ctx context.Context, err error) *mcp.CallToolResult {
	code := mcperrors.CodeInternalError
	if se, ok := mcperrors.As(err); ok {
		code = se.Code
	}
	markFailed(ctx, code)
	return HandleError(err)
}
