// Package tools provides the MCP tools for running and guarding Grail queries.
package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool defines the interface that all MCP tools must implement.
type Tool interface {
	// Name returns the unique identifier for this tool
	Name() string

	// Description returns a human-readable description of what this tool does
	Description() string

	// InputSchema returns the JSON Schema for the tool's input parameters
	InputSchema() interface{}

	// Execute runs the tool with the given arguments and returns the result.
	// Domain failures come back as an error result, not a Go error.
	Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error)

	// Annotations returns optional hints about tool behavior for LLMs.
	Annotations() *mcp.ToolAnnotations
}

// ToolCategory represents the functional category of a tool
type ToolCategory string

const (
	CategoryQuery  ToolCategory = "query"
	CategoryVerify ToolCategory = "verify"
	CategoryBudget ToolCategory = "budget"
)

// Categorized is implemented by tools that report their category for audit entries.
type Categorized interface {
	Category() ToolCategory
}

// categoryOf returns the tool's category, defaulting to query.
func categoryOf(t Tool) ToolCategory {
	if c, ok := t.(Categorized); ok {
		return c.Category()
	}
	return CategoryQuery
}
