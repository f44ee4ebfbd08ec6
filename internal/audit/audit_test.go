package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLog_Disabled(t *testing.T) {
	l := NewLogger(zap.NewNop(), false)
	l.Log(context.Background(), Entry{Tool: "execute_dql"})

	assert.False(t, l.IsEnabled())
	assert.Empty(t, l.GetRecentEntries(0))
}

func TestLog_FillsIDAndTimestamp(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)
	l.Log(context.Background(), Entry{Tool: "execute_dql", Operation: "query", Success: true})

	entries := l.GetRecentEntries(1)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].ID, 36)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Empty(t, entries[0].TraceID, "no active span")
}

func TestGetRecentEntries_NewestFirst(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)
	for i := 0; i < 5; i++ {
		l.Log(context.Background(), Entry{Tool: fmt.Sprintf("tool-%d", i)})
	}

	entries := l.GetRecentEntries(2)
	require.Len(t, entries, 2)
	assert.Equal(t, "tool-4", entries[0].Tool)
	assert.Equal(t, "tool-3", entries[1].Tool)

	assert.Len(t, l.GetRecentEntries(100), 5)
}

func TestLog_RingDropsOldest(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)
	l.maxEntries = 3
	for i := 0; i < 5; i++ {
		l.Log(context.Background(), Entry{Tool: fmt.Sprintf("tool-%d", i)})
	}

	entries := l.GetRecentEntries(0)
	require.Len(t, entries, 3)
	assert.Equal(t, "tool-2", entries[2].Tool)
}

func TestGetEntriesByTool(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)
	l.Log(context.Background(), Entry{Tool: "execute_dql"})
	l.Log(context.Background(), Entry{Tool: "verify_dql"})
	l.Log(context.Background(), Entry{Tool: "execute_dql"})

	assert.Len(t, l.GetEntriesByTool("execute_dql", 10), 2)
	assert.Len(t, l.GetEntriesByTool("execute_dql", 1), 1)
	assert.Empty(t, l.GetEntriesByTool("reset_query_budget", 10))
}

func TestGetStats(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)
	l.Log(context.Background(), Entry{Tool: "execute_dql", Success: true, Duration: 2 * time.Second, BytesScanned: 100})
	l.Log(context.Background(), Entry{Tool: "execute_dql", Success: false, ErrorCode: "BUDGET_EXCEEDED"})

	stats := l.GetStats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)
	assert.Equal(t, time.Second, stats.AverageDuration)
	assert.Equal(t, int64(100), stats.TotalBytesScanned)
	assert.Equal(t, 1, stats.ErrorCounts["BUDGET_EXCEEDED"])
	assert.Contains(t, stats.ToJSON(), `"total_entries": 2`)

	l.Clear()
	assert.Zero(t, l.GetStats().TotalEntries)
}

func TestLog_MasksCredentialsInErrors(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)
	l.Log(context.Background(), Entry{
		Tool:     "execute_dql",
		ErrorMsg: "Client Request Error: token dt0s16.ABC.DEFGHIJ rejected",
	})

	entries := l.GetRecentEntries(1)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].ErrorMsg, "DEFGHIJ")
	assert.Contains(t, entries[0].ErrorMsg, "***REDACTED***")
}
