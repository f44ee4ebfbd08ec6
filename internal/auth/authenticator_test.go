package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTokenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NoError(t, r.ParseForm())
		if r.Form.Get("client_id") != "client-1" || r.Form.Get("client_secret") != "secret-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "storage:logs:read storage:buckets:read", r.Form.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "oauth-token-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantMode Mode
		wantErr  bool
	}{
		{
			name:     "platform token",
			opts:     Options{PlatformToken: "dt0s16.test-token"}, //nolint:gosec // test value, not a real secret
			wantMode: ModePlatformToken,
		},
		{
			name: "platform token wins over oauth",
			opts: Options{
				PlatformToken:     "dt0s16.test-token", //nolint:gosec // test value, not a real secret
				OAuthClientID:     "client-1",
				OAuthClientSecret: "secret-1",
				OAuthTokenURL:     "https://sso.example.com/token",
			},
			wantMode: ModePlatformToken,
		},
		{
			name: "oauth client credentials",
			opts: Options{
				OAuthClientID:     "client-1",
				OAuthClientSecret: "secret-1",
				OAuthTokenURL:     "https://sso.example.com/token",
			},
			wantMode: ModeOAuth,
		},
		{
			name:    "oauth without token url",
			opts:    Options{OAuthClientID: "client-1", OAuthClientSecret: "secret-1"},
			wantErr: true,
		},
		{
			name:    "oauth without secret",
			opts:    Options{OAuthClientID: "client-1", OAuthTokenURL: "https://sso.example.com/token"},
			wantErr: true,
		},
		{
			name:    "no credentials",
			opts:    Options{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.opts, zap.NewNop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, a.Mode())
		})
	}
}

func TestAuthenticate_PlatformToken(t *testing.T) {
	a, err := New(Options{PlatformToken: "dt0s16.test-token"}, zap.NewNop()) //nolint:gosec // test value
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "https://example.com", nil)
	require.NoError(t, err)

	require.NoError(t, a.Authenticate(req))
	assert.Equal(t, "Bearer dt0s16.test-token", req.Header.Get("Authorization"))
	assert.NoError(t, a.ValidateToken())
}

func TestAuthenticate_OAuthCachesToken(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits)

	a, err := New(Options{
		OAuthClientID:     "client-1",
		OAuthClientSecret: "secret-1",
		OAuthTokenURL:     srv.URL,
		OAuthScopes:       []string{"storage:logs:read", "storage:buckets:read"},
	}, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodPost, "https://example.com/query", nil)
		require.NoError(t, err)
		require.NoError(t, a.Authenticate(req))
		assert.Equal(t, "Bearer oauth-token-1", req.Header.Get("Authorization"))
	}

	assert.Equal(t, int32(1), hits.Load(), "token should be fetched once and reused")
}

func TestAuthenticate_OAuthFailure(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits)

	a, err := New(Options{
		OAuthClientID:     "client-1",
		OAuthClientSecret: "wrong",
		OAuthTokenURL:     srv.URL,
	}, zap.NewNop())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "https://example.com", nil)
	require.NoError(t, err)

	assert.Error(t, a.Authenticate(req))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Error(t, a.ValidateToken())
}

func TestAuthenticateNilRequest(t *testing.T) {
	a, err := New(Options{PlatformToken: "test-token"}, zap.NewNop())
	require.NoError(t, err)

	assert.Error(t, a.Authenticate(nil))
}
