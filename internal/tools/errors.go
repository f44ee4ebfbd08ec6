package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcperrors "github.com/tareqmamari/grail-mcp-server/internal/errors"
)

// NewToolResultText creates a successful tool result with a single text block.
func NewToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// NewToolResultError creates a new tool result with an error message
func NewToolResultError(message string) *mcp.CallToolResult {
	if message == "" {
		message = "An unknown error occurred"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
		IsError: true,
	}
}

// NewToolResultErrorWithSuggestion creates a tool result with an error and recovery guidance
func NewToolResultErrorWithSuggestion(message, suggestion string) *mcp.CallToolResult {
	if suggestion == "" {
		return NewToolResultError(message)
	}
	return NewToolResultError(fmt.Sprintf("%s\n\n💡 **Suggestion:** %s", message, suggestion))
}

// NewRateLimitResult is returned when the tool-call window is full.
func NewRateLimitResult(maxCalls, windowSeconds int) *mcp.CallToolResult {
	return NewToolResultError(fmt.Sprintf(
		"Rate limit exceeded: Maximum %d tool calls per %d seconds. Please try again later.",
		maxCalls, windowSeconds,
	))
}

// HandleError translates an error into a tool result the model can act on.
func HandleError(err error) *mcp.CallToolResult {
	if errors.Is(err, context.Canceled) {
		return NewToolResultError("Request was cancelled")
	}

	se, ok := mcperrors.As(err)
	if !ok {
		return NewToolResultError(fmt.Sprintf("Error: %v", err))
	}

	switch se.Code {
	case mcperrors.CodeServiceError:
		return serviceErrorResult(se)
	case mcperrors.CodeExecutionTimeout:
		return NewToolResultErrorWithSuggestion(
			fmt.Sprintf("Query timed out and was cancelled: %v", se.Cause),
			se.Suggestion,
		)
	default:
		return NewToolResultErrorWithSuggestion(se.Message, se.Suggestion)
	}
}

// serviceErrorResult renders a query-service failure with its HTTP status.
func serviceErrorResult(se *mcperrors.StructuredError) *mcp.CallToolResult {
	status := mcperrors.StatusCode(se)
	if status == 0 {
		msg := se.Message
		if se.Cause != nil {
			msg = fmt.Sprintf("%s: %v", msg, se.Cause)
		}
		return NewToolResultErrorWithSuggestion("Client Request Error: "+msg, se.Suggestion)
	}

	msg := fmt.Sprintf("Client Request Error: %s with HTTP status: %d.", se.Message, status)
	switch status {
	case http.StatusUnauthorized:
		msg += " The platform token or OAuth credentials were rejected."
	case http.StatusForbidden:
		msg += " Note: Your platform token or OAuth client is missing the required scopes."
	}
	return NewToolResultErrorWithSuggestion(msg, se.Suggestion)
}
