// Package config provides configuration management for the Grail MCP server.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tareqmamari/grail-mcp-server/internal/security"
)

// Config holds all configuration for the MCP server
type Config struct {
	// Query service
	EnvironmentURL string `json:"environment_url"`
	PlatformToken  string `json:"platform_token,omitempty"` // Not stored in files, from env only

	// OAuth client credentials, used when no platform token is set
	OAuthClientID     string   `json:"oauth_client_id,omitempty"`
	OAuthClientSecret string   `json:"oauth_client_secret,omitempty"` // env only
	OAuthTokenURL     string   `json:"oauth_token_url,omitempty"`
	OAuthScopes       []string `json:"oauth_scopes,omitempty"`

	// HTTP Client Configuration
	Timeout         time.Duration `json:"timeout"`
	MaxRetries      int           `json:"max_retries"`
	RetryWaitMin    time.Duration `json:"retry_wait_min"`
	RetryWaitMax    time.Duration `json:"retry_wait_max"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	IdleConnTimeout time.Duration `json:"idle_conn_timeout"`

	// Outbound rate limiting (token bucket, requests per second)
	RateLimit       int  `json:"rate_limit"`
	RateLimitBurst  int  `json:"rate_limit_burst"`
	EnableRateLimit bool `json:"enable_rate_limit"`

	// Tool call throttling (sliding window)
	ToolRateLimitCalls  int           `json:"tool_rate_limit_calls"`
	ToolRateLimitWindow time.Duration `json:"tool_rate_limit_window"`

	// Query execution
	PollInterval    time.Duration `json:"poll_interval"`
	MaxPollAttempts int           `json:"max_poll_attempts"` // 0 = unlimited
	QueryTimeout    time.Duration `json:"query_timeout"`
	BudgetLimitGB   float64       `json:"budget_limit_gb"` // 0 = unlimited

	// Security
	TLSVerify bool `json:"tls_verify"`

	// Observability
	EnableTracing   bool   `json:"enable_tracing"`
	EnableAuditLog  bool   `json:"enable_audit_log"`
	MetricsEndpoint bool   `json:"metrics_endpoint"`
	HealthPort      int    `json:"health_port"` // 0 disables the health server
	HealthBindAddr  string `json:"health_bind_addr"`
	Environment     string `json:"environment"`

	// Logging
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"` // json or console
}

// Load configuration from environment variables and config file
func Load() (*Config, error) {
	cfg := &Config{
		Timeout:             30 * time.Second,
		MaxRetries:          3,
		RetryWaitMin:        1 * time.Second,
		RetryWaitMax:        30 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		RateLimit:           20,
		RateLimitBurst:      10,
		EnableRateLimit:     true,
		ToolRateLimitCalls:  5,
		ToolRateLimitWindow: 20 * time.Second,
		PollInterval:        2 * time.Second,
		MaxPollAttempts:     0,
		QueryTimeout:        5 * time.Minute,
		BudgetLimitGB:       1000,
		TLSVerify:           true,
		EnableTracing:       false,
		EnableAuditLog:      true,
		MetricsEndpoint:     false,
		HealthPort:          0,
		HealthBindAddr:      "127.0.0.1",
		Environment:         "production",
		LogLevel:            "info",
		LogFormat:           "json",
	}

	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Environment variables take precedence over the file
	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid file path: path traversal detected")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 -- path is validated above
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Secrets only come from the environment.
	token, secret := cfg.PlatformToken, cfg.OAuthClientSecret
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.PlatformToken, cfg.OAuthClientSecret = token, secret
	return nil
}

// envLoader collects parse errors so a typo in one variable is reported
// instead of silently falling back to a default.
type envLoader struct {
	errs []error
}

func (l *envLoader) string(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (l *envLoader) duration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (l *envLoader) int(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (l *envLoader) float(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

func (l *envLoader) bool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func loadFromEnv(cfg *Config) error {
	l := &envLoader{}

	l.string("GRAIL_ENVIRONMENT_URL", &cfg.EnvironmentURL)
	l.string("GRAIL_PLATFORM_TOKEN", &cfg.PlatformToken)
	l.string("GRAIL_OAUTH_CLIENT_ID", &cfg.OAuthClientID)
	l.string("GRAIL_OAUTH_CLIENT_SECRET", &cfg.OAuthClientSecret)
	l.string("GRAIL_OAUTH_TOKEN_URL", &cfg.OAuthTokenURL)
	if v := os.Getenv("GRAIL_OAUTH_SCOPES"); v != "" {
		cfg.OAuthScopes = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}

	l.duration("GRAIL_TIMEOUT", &cfg.Timeout)
	l.int("GRAIL_MAX_RETRIES", &cfg.MaxRetries)
	l.int("GRAIL_RATE_LIMIT", &cfg.RateLimit)
	l.int("GRAIL_RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	l.bool("GRAIL_ENABLE_RATE_LIMIT", &cfg.EnableRateLimit)

	l.int("GRAIL_TOOL_RATE_LIMIT_CALLS", &cfg.ToolRateLimitCalls)
	l.duration("GRAIL_TOOL_RATE_LIMIT_WINDOW", &cfg.ToolRateLimitWindow)

	l.duration("GRAIL_POLL_INTERVAL", &cfg.PollInterval)
	l.int("GRAIL_MAX_POLL_ATTEMPTS", &cfg.MaxPollAttempts)
	l.duration("GRAIL_QUERY_TIMEOUT", &cfg.QueryTimeout)
	l.float("GRAIL_BUDGET_LIMIT_GB", &cfg.BudgetLimitGB)

	l.bool("GRAIL_TLS_VERIFY", &cfg.TLSVerify)
	l.bool("GRAIL_ENABLE_TRACING", &cfg.EnableTracing)
	l.bool("GRAIL_ENABLE_AUDIT_LOG", &cfg.EnableAuditLog)
	l.bool("GRAIL_METRICS_ENDPOINT", &cfg.MetricsEndpoint)
	l.int("GRAIL_HEALTH_PORT", &cfg.HealthPort)
	l.string("GRAIL_HEALTH_BIND_ADDR", &cfg.HealthBindAddr)
	l.string("ENVIRONMENT", &cfg.Environment)

	l.string("LOG_LEVEL", &cfg.LogLevel)
	l.string("LOG_FORMAT", &cfg.LogFormat)

	if len(l.errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(l.errs...))
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.EnvironmentURL == "" {
		return errors.New("GRAIL_ENVIRONMENT_URL is required")
	}
	u, err := url.Parse(c.EnvironmentURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("GRAIL_ENVIRONMENT_URL is not an absolute URL: %q", c.EnvironmentURL)
	}
	if c.PlatformToken == "" && (c.OAuthClientID == "" || c.OAuthClientSecret == "") {
		return errors.New("GRAIL_PLATFORM_TOKEN or GRAIL_OAUTH_CLIENT_ID and GRAIL_OAUTH_CLIENT_SECRET are required")
	}
	if c.PlatformToken == "" && c.OAuthTokenURL == "" {
		return errors.New("GRAIL_OAUTH_TOKEN_URL is required for OAuth client credentials")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be non-negative")
	}
	if c.RateLimit <= 0 && c.EnableRateLimit {
		return errors.New("rate_limit must be positive when rate limiting is enabled")
	}
	if c.ToolRateLimitCalls <= 0 {
		return errors.New("tool_rate_limit_calls must be positive")
	}
	if c.ToolRateLimitWindow <= 0 {
		return errors.New("tool_rate_limit_window must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if c.MaxPollAttempts < 0 {
		return errors.New("max_poll_attempts must be non-negative")
	}
	if c.QueryTimeout < 0 {
		return errors.New("query_timeout must be non-negative")
	}
	if c.BudgetLimitGB < 0 {
		return errors.New("budget_limit_gb must be non-negative")
	}
	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("invalid health port: %d", c.HealthPort)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

// BudgetLimit returns the session budget in GB, or nil when unlimited.
func (c *Config) BudgetLimit() *float64 {
	if c.BudgetLimitGB <= 0 {
		return nil
	}
	limit := c.BudgetLimitGB
	return &limit
}

// Redact returns a copy of the config with sensitive data removed
func (c *Config) Redact() *Config {
	redacted := *c
	redacted.PlatformToken = MaskSecret(c.PlatformToken)
	redacted.OAuthClientSecret = MaskSecret(c.OAuthClientSecret)
	return &redacted
}

// MaskSecret returns a masked version of a secret for safe logging
func MaskSecret(secret string) string {
	return security.MaskToken(secret)
}
