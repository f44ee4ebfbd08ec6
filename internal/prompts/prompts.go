// Package prompts provides pre-built prompts for common Grail query workflows.
package prompts

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// PromptDefinition represents a prompt with its metadata and handler
type PromptDefinition struct {
	// Prompt is the MCP prompt metadata
	Prompt *mcp.Prompt
	// Handler is the function that generates the prompt content
	Handler mcp.PromptHandler
}

// Registry holds all registered prompts
type Registry struct {
	logger  *zap.Logger
	prompts []*PromptDefinition
}

// NewRegistry creates a new prompt registry with all available prompts
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger: logger,
	}
	r.registerPrompts()
	return r
}

// GetPrompts returns all registered prompt definitions
func (r *Registry) GetPrompts() []*PromptDefinition {
	return r.prompts
}

func (r *Registry) registerPrompts() {
	r.prompts = []*PromptDefinition{
		r.investigateErrorsPrompt(),
		r.chartTimeseriesPrompt(),
		r.budgetedExplorationPrompt(),
	}
}

// Helper to create a prompt result with user role
func createPromptResult(description, content string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{
			{
				Role: "user",
				Content: &mcp.TextContent{
					Text: content,
				},
			},
		},
	}
}

// getStringArg safely extracts a string argument with a default value
func getStringArg(req *mcp.GetPromptRequest, key, defaultVal string) string {
	if req == nil || req.Params == nil {
		return defaultVal
	}
	if val, ok := req.Params.Arguments[key]; ok && val != "" {
		return val
	}
	return defaultVal
}

func (r *Registry) investigateErrorsPrompt() *PromptDefinition {
	return &PromptDefinition{
		Prompt: &mcp.Prompt{
			Name:        "investigate_errors",
			Title:       "Investigate Error Logs",
			Description: "Guide through finding and grouping recent error logs with DQL",
			Arguments: []*mcp.PromptArgument{
				{
					Name:        "time_range",
					Description: "How far back to look, as a DQL duration (e.g. '1h', '24h')",
					Required:    false,
				},
				{
					Name:        "service",
					Description: "Optional service name to narrow the search",
					Required:    false,
				},
			},
		},
		Handler: func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			timeRange := getStringArg(req, "time_range", "1h")
			filter := `loglevel == "ERROR"`
			if service := getStringArg(req, "service", ""); service != "" {
				filter = fmt.Sprintf(`%s and service.name == %q`, filter, service)
			}

			content := fmt.Sprintf(`Let's investigate recent error logs in Grail.

1. Verify the statement first with verify_dql:
   fetch logs, from:now()-%[1]s | filter %[2]s | summarize count(), by:{dt.source_entity}
2. Run it with execute_dql and look at which sources produce the most errors.
3. For the noisiest source, fetch a small sample:
   fetch logs, from:now()-%[1]s | filter %[2]s | sort timestamp desc | limit 20
4. Summarize the recurring messages and suggest a likely cause.

Keep the timeframe narrow. Every execution counts against the session query budget;
check get_query_budget if a query reports a budget warning.`, timeRange, filter)

			return createPromptResult("Investigate error logs workflow", content), nil
		},
	}
}

func (r *Registry) chartTimeseriesPrompt() *PromptDefinition {
	return &PromptDefinition{
		Prompt: &mcp.Prompt{
			Name:        "chart_timeseries",
			Title:       "Chart a Metric",
			Description: "Build a timeseries query whose result can be rendered as a chart",
			Arguments: []*mcp.PromptArgument{
				{
					Name:        "metric",
					Description: "Metric key to chart (e.g. dt.host.cpu.usage)",
					Required:    true,
				},
				{
					Name:        "time_range",
					Description: "Timeframe as a DQL duration (default '2h')",
					Required:    false,
				},
			},
		},
		Handler: func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			metric := getStringArg(req, "metric", "")
			if metric == "" {
				return nil, fmt.Errorf("missing required argument: metric")
			}
			timeRange := getStringArg(req, "time_range", "2h")

			content := fmt.Sprintf(`I want to chart the metric %[1]s over the last %[2]s.

1. Verify: timeseries avg(%[1]s), from:now()-%[2]s
2. Execute it with execute_dql.
3. The response says whether the result contains time-series data. If it does, describe
   the trend; if it does not, adjust the statement so it returns a timeframe column with
   numeric series values.`, metric, timeRange)

			return createPromptResult("Chart a metric workflow", content), nil
		},
	}
}

func (r *Registry) budgetedExplorationPrompt() *PromptDefinition {
	return &PromptDefinition{
		Prompt: &mcp.Prompt{
			Name:        "budgeted_exploration",
			Title:       "Explore Data on a Budget",
			Description: "Explore an unfamiliar data set while keeping scanned bytes low",
			Arguments: []*mcp.PromptArgument{
				{
					Name:        "data_object",
					Description: "What to fetch: logs, spans, events or bizevents",
					Required:    false,
				},
			},
		},
		Handler: func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			dataObject := getStringArg(req, "data_object", "logs")

			content := fmt.Sprintf(`Help me explore %[1]s without scanning more data than needed.

1. Call get_query_budget to see how much of the session budget is left.
2. Start with a small sample: fetch %[1]s, from:now()-15m | limit 10
3. Look at the columns listed in the response and pick the interesting fields.
4. Aggregate instead of fetching raw records: fetch %[1]s, from:now()-1h | summarize count(), by:{<field>}
5. Only widen the timeframe when the narrow query was useful. Stop and ask me before
   calling reset_query_budget.`, dataObject)

			return createPromptResult("Budgeted data exploration workflow", content), nil
		},
	}
}
