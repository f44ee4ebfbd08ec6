package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tareqmamari/grail-mcp-server/internal/budget"
	"github.com/tareqmamari/grail-mcp-server/internal/query"
	"github.com/tareqmamari/grail-mcp-server/internal/schema"
)

// budgetWarnPercent is where execute_dql starts warning about the session budget.
const budgetWarnPercent = 80.0

// severityLabel renders "WARNING" as "Warning".
func severityLabel(severity string) string {
	if severity == "" {
		return "Info"
	}
	// Casers carry state and are not shared between goroutines.
	return cases.Title(language.English).String(strings.ToLower(severity))
}

// formatExecuteResult renders a query result as markdown with a trailing json block.
// session is nil when no budget is configured.
func formatExecuteResult(res *query.Result, session *budget.State) (string, error) {
	var sb strings.Builder
	md := res.Metadata

	sb.WriteString("📊 **DQL Query Results**\n\n")
	fmt.Fprintf(&sb, "- **Scanned Records:** %d\n", md.ScannedRecords)
	fmt.Fprintf(&sb, "- **Scanned Bytes:** %s", budget.FormatGB(md.ScannedBytes))
	if session != nil && session.LimitBytes != nil {
		fmt.Fprintf(&sb, " (Session total: %s / %s limit)",
			budget.FormatGB(session.ConsumedBytes), budget.FormatGB(*session.LimitBytes))
	}
	sb.WriteString("\n")
	if md.ExecutionTime > 0 {
		fmt.Fprintf(&sb, "- **Execution Time:** %s\n", md.ExecutionTime)
	}

	if md.Sampled {
		sb.WriteString("    - ⚠️ **Sampling Warning:** Results are sampled and may not include every matching record.\n")
	}
	if session != nil && session.LimitBytes != nil {
		switch used := session.UsedPercent(); {
		case session.IsExceeded():
			fmt.Fprintf(&sb, "    - ⚠️ **Budget Exceeded:** The session has scanned %s, above the %s limit. Further queries are blocked until the budget is reset.\n",
				budget.FormatGB(session.ConsumedBytes), budget.FormatGB(*session.LimitBytes))
		case used >= budgetWarnPercent:
			fmt.Fprintf(&sb, "    - ⚠️ **Budget Warning:** %.1f%% of the %s session budget is used.\n",
				used, budget.FormatGB(*session.LimitBytes))
		}
	}
	if md.ScannedBytes == 0 {
		sb.WriteString("    - 💡 **No data consumed:** This query did not scan any bytes.\n")
	}

	for _, n := range md.Notifications {
		fmt.Fprintf(&sb, "- **%s:** %s\n", severityLabel(n.Severity), n.Message)
	}

	fmt.Fprintf(&sb, "\n- **Returned Records:** %d\n", len(res.Records))
	if res.IsChartWorthy() {
		sb.WriteString("- **Chart:** The result contains time-series data and can be visualized as a chart.\n")
	} else {
		sb.WriteString("- **Chart:** The result does not contain time-series data.\n")
	}

	if columns := schema.Columns(res.Types); len(columns) > 0 {
		sb.WriteString("\n**Columns:**\n")
		for _, c := range columns {
			fmt.Fprintf(&sb, "- %s (%s)\n", c.Name, c.Type)
		}
	}

	records, err := json.MarshalIndent(res.Records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode records: %w", err)
	}
	sb.WriteString("\n```json\n")
	sb.Write(records)
	sb.WriteString("\n```\n")
	return sb.String(), nil
}

// formatBudgetState renders a tracker state for the budget tools.
func formatBudgetState(s budget.State) string {
	var sb strings.Builder
	sb.WriteString("📊 **Query Budget**\n\n")
	fmt.Fprintf(&sb, "- **Consumed:** %s\n", budget.FormatGB(s.ConsumedBytes))
	if s.LimitBytes == nil {
		sb.WriteString("- **Limit:** none\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "- **Limit:** %s\n", budget.FormatGB(*s.LimitBytes))
	fmt.Fprintf(&sb, "- **Remaining:** %s\n", budget.FormatGB(s.RemainingBytes()))
	fmt.Fprintf(&sb, "- **Used:** %.1f%%\n", s.UsedPercent())
	if s.IsExceeded() {
		sb.WriteString("\n⚠️ The budget is exceeded. Queries are blocked until reset_query_budget is called.\n")
	}
	return sb.String()
}
