package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/grail-mcp-server/internal/config"
)

const completedBody = `{
	"state": "SUCCEEDED",
	"result": {
		"records": [{"timestamp": "2025-01-01T00:00:00Z", "count": 3}],
		"types": [{"indexRange": [0, 0], "mappings": {"timestamp": {"type": "timestamp"}, "count": {"type": "long"}}}],
		"metadata": {"grail": {"scannedBytes": 250000000, "scannedRecords": 10}}
	}
}`

func newTestConfig(url string) *config.Config {
	return &config.Config{
		EnvironmentURL:      url,
		PlatformToken:       "dt0s16.TEST",
		Timeout:             5 * time.Second,
		MaxRetries:          1,
		RetryWaitMin:        time.Millisecond,
		RetryWaitMax:        5 * time.Millisecond,
		TLSVerify:           true,
		ToolRateLimitCalls:  5,
		ToolRateLimitWindow: 20 * time.Second,
		PollInterval:        time.Millisecond,
		QueryTimeout:        5 * time.Second,
		BudgetLimitGB:       1,
		EnableAuditLog:      true,
	}
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx, serverTransport)
	}()

	c := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := c.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()
		cancel()
		<-done
	})
	return session
}

func TestServer_ListsTools(t *testing.T) {
	s, err := New(newTestConfig("http://127.0.0.1:1"), zap.NewNop(), "test")
	require.NoError(t, err)
	session := connect(t, s)

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"execute_dql", "get_query_budget", "reset_query_budget", "verify_dql"}, names)
}

func TestServer_ExecuteDQLEndToEnd(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer dt0s16.TEST", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/platform/storage/query/v1/query:execute":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"state":"RUNNING","requestToken":"tok-1"}`))
		case "/platform/storage/query/v1/query:poll":
			_, _ = w.Write([]byte(completedBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(api.Close)

	s, err := New(newTestConfig(api.URL), zap.NewNop(), "test")
	require.NoError(t, err)
	session := connect(t, s)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "execute_dql",
		Arguments: map[string]any{"dqlStatement": "fetch logs | summarize count()"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text := res.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, "- **Scanned Bytes:** 0.25 GB (Session total: 0.25 GB / 1.00 GB limit)")

	stats := s.GetMetrics().GetStats()
	assert.Equal(t, int64(250_000_000), stats.BytesScanned)
	assert.Equal(t, uint64(1), stats.ToolUsage["execute_dql"])

	res, err = session.CallTool(context.Background(), &mcp.CallToolParams{Name: "get_query_budget"})
	require.NoError(t, err)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "- **Used:** 25.0%")
}

func TestServer_ReadsBudgetResource(t *testing.T) {
	s, err := New(newTestConfig("http://127.0.0.1:1"), zap.NewNop(), "test")
	require.NoError(t, err)
	session := connect(t, s)

	res, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: "budget://session"})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Contains(t, res.Contents[0].Text, `"enabled": true`)
}

func TestNew_RequiresCredentials(t *testing.T) {
	cfg := newTestConfig("http://127.0.0.1:1")
	cfg.PlatformToken = ""

	_, err := New(cfg, zap.NewNop(), "test")
	assert.Error(t, err)
}
