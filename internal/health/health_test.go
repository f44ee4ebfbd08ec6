package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeValidator struct{ err error }

func (f fakeValidator) ValidateToken() error { return f.err }

func okPing(context.Context) error { return nil }

func TestCheckAll(t *testing.T) {
	tests := []struct {
		name    string
		authErr error
		ping    PingFunc
		want    Status
	}{
		{name: "all healthy", ping: okPing, want: StatusHealthy},
		{name: "auth failing", authErr: errors.New("invalid token"), ping: okPing, want: StatusUnhealthy},
		{
			name: "api unreachable",
			ping: func(context.Context) error { return errors.New("connection refused") },
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(fakeValidator{err: tt.authErr}, tt.ping, zap.NewNop())
			status, checks := c.CheckAll(context.Background())

			assert.Equal(t, tt.want, status)
			require.Len(t, checks, 2)
			assert.Equal(t, "authentication", checks[0].Name)
			assert.Equal(t, "api_connectivity", checks[1].Name)
		})
	}
}

func TestCheckAll_PingGetsDeadline(t *testing.T) {
	var hasDeadline bool
	c := New(fakeValidator{}, PingFunc(func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	}), zap.NewNop())

	c.CheckAll(context.Background())
	assert.True(t, hasDeadline)
}

func TestOverall(t *testing.T) {
	assert.Equal(t, StatusDegraded, overall([]Check{{Status: StatusHealthy}, {Status: StatusDegraded}}))
	assert.Equal(t, StatusUnhealthy, overall([]Check{{Status: StatusDegraded}, {Status: StatusUnhealthy}}))
	assert.Equal(t, StatusHealthy, overall(nil))
}

func TestServerEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"}).Inc()

	s := NewServer(New(fakeValidator{}, PingFunc(okPing), zap.NewNop()), zap.NewNop(), 0, "", reg)
	h := s.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())

	assert.Equal(t, http.StatusServiceUnavailable, get("/ready").Code)
	s.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/ready").Code)

	rec = get("/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)

	rec = get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_total 1")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/live", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_UnhealthyReturns503(t *testing.T) {
	s := NewServer(New(fakeValidator{err: errors.New("expired")}, PingFunc(okPing), zap.NewNop()), zap.NewNop(), 0, "", nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
