// Package auth adds platform credentials to outbound requests. A static platform
// token is used when configured; otherwise an OAuth client-credentials grant
// supplies and refreshes bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/IBM/go-sdk-core/v5/core"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Mode names the credential source in use.
type Mode string

const (
	// ModePlatformToken sends a static bearer token.
	ModePlatformToken Mode = "platform_token"
	// ModeOAuth exchanges client credentials for short-lived tokens.
	ModeOAuth Mode = "oauth_client_credentials"
)

// Options selects and configures a credential source.
type Options struct {
	PlatformToken     string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string
	OAuthScopes       []string
}

// Authenticator handles request authentication
type Authenticator struct {
	mode   Mode
	bearer core.Authenticator
	source oauth2.TokenSource
	logger *zap.Logger

	mu        sync.Mutex
	lastToken *oauth2.Token
}

// New creates an authenticator. A platform token takes precedence over OAuth
// client credentials.
func New(opts Options, logger *zap.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.PlatformToken != "" {
		bearer, err := core.NewBearerTokenAuthenticator(opts.PlatformToken)
		if err != nil {
			return nil, fmt.Errorf("failed to validate platform token authenticator: %w", err)
		}
		logger.Info("Using platform token authentication")
		return &Authenticator{mode: ModePlatformToken, bearer: bearer, logger: logger}, nil
	}

	if opts.OAuthClientID == "" || opts.OAuthClientSecret == "" {
		return nil, errors.New("either a platform token or OAuth client id and secret is required")
	}
	if opts.OAuthTokenURL == "" {
		return nil, errors.New("OAuth token URL is required for client-credentials authentication")
	}

	cc := &clientcredentials.Config{
		ClientID:     opts.OAuthClientID,
		ClientSecret: opts.OAuthClientSecret,
		TokenURL:     opts.OAuthTokenURL,
		Scopes:       opts.OAuthScopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	logger.Info("Using OAuth client-credentials authentication",
		zap.String("token_url", opts.OAuthTokenURL),
		zap.Strings("scopes", opts.OAuthScopes),
	)

	return &Authenticator{
		mode:   ModeOAuth,
		source: cc.TokenSource(context.Background()),
		logger: logger,
	}, nil
}

// Mode returns the credential source in use.
func (a *Authenticator) Mode() Mode {
	return a.mode
}

// Authenticate adds authentication to an HTTP request
func (a *Authenticator) Authenticate(req *http.Request) error {
	if req == nil {
		return fmt.Errorf("request cannot be nil")
	}

	if a.bearer != nil {
		if err := a.bearer.Authenticate(req); err != nil {
			a.logger.Error("Authentication failed", zap.Error(err))
			return fmt.Errorf("authentication failed: %w", err)
		}
		return nil
	}

	token, err := a.token()
	if err != nil {
		return err
	}
	token.SetAuthHeader(req)
	return nil
}

func (a *Authenticator) token() (*oauth2.Token, error) {
	// The client-credentials source caches and refreshes tokens itself.
	token, err := a.source.Token()
	if err != nil {
		a.logger.Error("Failed to obtain OAuth token", zap.Error(err))
		return nil, fmt.Errorf("failed to obtain OAuth token: %w", err)
	}

	a.mu.Lock()
	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		a.logger.Debug("Obtained OAuth token", zap.Time("expiry", token.Expiry))
	}
	a.lastToken = token
	a.mu.Unlock()

	return token, nil
}

// ValidateToken checks that credentials can be turned into a token. Static
// tokens are accepted as-is.
func (a *Authenticator) ValidateToken() error {
	if a.bearer != nil {
		return a.bearer.Validate()
	}
	_, err := a.token()
	return err
}
