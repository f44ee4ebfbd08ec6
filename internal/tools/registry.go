package tools

// GetAllTools returns every MCP tool served by this server.
func GetAllTools(deps Deps) []Tool {
	return []Tool{
		// Query tools
		NewVerifyDQLTool(deps),
		NewExecuteDQLTool(deps),

		// Budget tools
		NewGetQueryBudgetTool(deps),
		NewResetQueryBudgetTool(deps),
	}
}
