// Package client provides the HTTP transport used to reach the query service.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tareqmamari/grail-mcp-server/internal/config"
	"github.com/tareqmamari/grail-mcp-server/internal/metrics"
	"github.com/tareqmamari/grail-mcp-server/internal/security"
	"github.com/tareqmamari/grail-mcp-server/internal/tracing"
)

// maxRetryAfter caps server-provided Retry-After values.
const maxRetryAfter = time.Hour

// Authenticator is the interface for adding authentication to requests
type Authenticator interface {
	Authenticate(req *http.Request) error
}

// Client is an HTTP client for the query service
type Client struct {
	httpClient    *http.Client
	config        *config.Config
	logger        *zap.Logger
	metrics       *metrics.Metrics
	rateLimiter   *rate.Limiter
	authenticator Authenticator
	version       string
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a new API client
func New(cfg *config.Config, authenticator Authenticator, logger *zap.Logger, version string, opts ...Option) *Client {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if !cfg.TLSVerify {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 -- opt-in for test environments
		logger.Warn("TLS certificate verification is DISABLED - this is insecure and should only be used for testing",
			zap.String("environment_url", cfg.EnvironmentURL),
		)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     tlsConfig,
	}

	var rateLimiter *rate.Limiter
	if cfg.EnableRateLimit {
		rateLimiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)
	}

	if version == "" {
		version = "dev"
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		config:        cfg,
		logger:        logger.Named("http"),
		rateLimiter:   rateLimiter,
		authenticator: authenticator,
		version:       version,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request represents an HTTP request
type Request struct {
	Method    string
	Path      string
	Query     map[string]string
	Body      interface{}
	Headers   map[string]string
	RequestID string // Generated when empty
	// Retryable allows the request to be re-sent on transient failures.
	// Leave it false for requests that start work on the server.
	Retryable bool
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	RequestID  string
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Do executes an HTTP request. Retryable requests are retried with backoff on
// transient network errors and on 429/5xx responses. When retries run out on a
// retryable status, the last response is returned without an error.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, span := tracing.APISpan(ctx, req.Method, req.Path)
	defer span.End()
	span.SetAttributes(attribute.String("http.request_id", req.RequestID))

	maxRetries := 0
	if req.Retryable {
		maxRetries = c.config.MaxRetries
	}

	var lastErr error
	var lastResp *Response
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			waitTime := c.calculateRetryWait(attempt, lastResp)
			c.logger.Debug("Retrying request",
				zap.Int("attempt", attempt),
				zap.Duration("wait", waitTime),
				zap.String("request_id", req.RequestID),
			)
			if c.metrics != nil {
				c.metrics.RecordRetry()
			}

			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				tracing.RecordError(span, ctx.Err())
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequest(ctx, req)
		if err != nil {
			lastErr, lastResp = err, nil
			if isRetryable(err) && attempt < maxRetries {
				continue
			}
			tracing.RecordError(span, err)
			if attempt > 0 {
				return nil, fmt.Errorf("max retries exceeded: %w", err)
			}
			return nil, err
		}

		if shouldRetry(resp.StatusCode) && attempt < maxRetries {
			lastErr, lastResp = fmt.Errorf("HTTP %d", resp.StatusCode), resp
			continue
		}

		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		if resp.IsSuccess() {
			tracing.SetSuccess(span)
		}
		return resp, nil
	}

	// Unreachable: the last attempt always returns.
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, req *Request) (*Response, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	requestURL := strings.TrimRight(c.config.EnvironmentURL, "/") + req.Path
	if len(req.Query) > 0 {
		params := url.Values{}
		for k, v := range req.Query {
			params.Add(k, v)
		}
		requestURL = requestURL + "?" + params.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", fmt.Sprintf("grail-mcp-server/%s", c.version))
	httpReq.Header.Set(tracing.RequestIDHeader, req.RequestID)

	if c.authenticator != nil {
		if err := c.authenticator.Authenticate(httpReq); err != nil {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.Debug("Executing HTTP request",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.String("request_id", req.RequestID),
		zap.Any("headers", security.MaskSensitiveHeaders(httpReq.Header)),
	)

	startTime := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("HTTP request failed",
			zap.Error(err),
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Duration("duration", duration),
		)
		if c.metrics != nil {
			c.metrics.RecordRequest(false, duration, 0)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", zap.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	success := httpResp.StatusCode >= 200 && httpResp.StatusCode < 300
	if c.metrics != nil {
		c.metrics.RecordRequest(success, duration, httpResp.StatusCode)
	}

	c.logger.Debug("HTTP request completed",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", duration),
		zap.Int("response_size", len(body)),
	)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
		RequestID:  req.RequestID,
	}, nil
}

// calculateRetryWait honours Retry-After on 429 responses and otherwise uses
// exponential backoff. Both add up to 25% jitter.
func (c *Client) calculateRetryWait(attempt int, lastResp *Response) time.Duration {
	var base time.Duration
	if lastResp != nil && lastResp.StatusCode == http.StatusTooManyRequests {
		base = c.parseRetryAfter(lastResp.Headers)
		if base > c.config.RetryWaitMax {
			base = c.config.RetryWaitMax
		}
	}
	if base == 0 {
		shift := min(attempt-1, 30)
		base = c.config.RetryWaitMin * time.Duration(1<<shift)
		if base > c.config.RetryWaitMax || base <= 0 {
			base = c.config.RetryWaitMax
		}
	}

	if quarter := int64(base / 4); quarter > 0 {
		base += time.Duration(rand.Int64N(quarter + 1)) // #nosec G404 -- jitter only
	}
	return base
}

// parseRetryAfter reads a delta-seconds Retry-After header. Zero means absent or invalid.
func (c *Client) parseRetryAfter(headers http.Header) time.Duration {
	v := headers.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(v, 64)
	if err != nil || seconds <= 0 {
		if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				return min(d, maxRetryAfter)
			}
		}
		return 0
	}
	d := time.Duration(seconds * float64(time.Second))
	return min(d, maxRetryAfter)
}

// isRetryable determines if an error is retryable (transient network errors)
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ENETUNREACH) ||
			errors.Is(opErr.Err, syscall.EHOSTUNREACH) ||
			errors.Is(opErr.Err, syscall.ETIMEDOUT) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"tls handshake timeout",
		"eof",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// shouldRetry determines if an HTTP status code should trigger a retry
func shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Close closes the client and releases resources
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
