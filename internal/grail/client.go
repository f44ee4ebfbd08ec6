// Package grail implements the query service over the platform's storage query REST API.
package grail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/tareqmamari/grail-mcp-server/internal/client"
	mcperrors "github.com/tareqmamari/grail-mcp-server/internal/errors"
	"github.com/tareqmamari/grail-mcp-server/internal/query"
)

// API paths, relative to the environment URL.
const (
	basePath    = "/platform/storage/query/v1"
	executePath = basePath + "/query:execute"
	pollPath    = basePath + "/query:poll"
	cancelPath  = basePath + "/query:cancel"
	verifyPath  = basePath + "/query:verify"
)

// Doer sends requests to the environment.
type Doer interface {
	Do(ctx context.Context, req *client.Request) (*client.Response, error)
}

// Client talks to the query API. It implements query.Service.
type Client struct {
	http   Doer
	logger *zap.Logger
}

var _ query.Service = (*Client)(nil)

// New creates a query API client.
func New(doer Doer, logger *zap.Logger) *Client {
	return &Client{http: doer, logger: logger.Named("grail")}
}

// Submit starts a query. Submits are never retried by the transport.
func (c *Client) Submit(ctx context.Context, req query.Request) (*query.Handle, error) {
	var resp queryResponse
	if err := c.call(ctx, "submit query", &client.Request{
		Method: http.MethodPost,
		Path:   executePath,
		Body:   newExecuteRequest(req),
	}, &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("Query submitted",
		zap.String("state", resp.State),
		zap.Bool("has_result", resp.Result != nil),
		zap.String("request_token", resp.RequestToken),
	)
	return resp.handle(), nil
}

// Poll fetches the state of a running query.
func (c *Client) Poll(ctx context.Context, token string) (*query.Handle, error) {
	var resp queryResponse
	if err := c.call(ctx, "poll query", &client.Request{
		Method:    http.MethodGet,
		Path:      pollPath,
		Query:     map[string]string{"request-token": token},
		Retryable: true,
	}, &resp); err != nil {
		return nil, err
	}
	h := resp.handle()
	if h.Token == "" {
		h.Token = token
	}
	return h, nil
}

// Cancel stops a running query. A query that already finished is not an error.
func (c *Client) Cancel(ctx context.Context, token string) error {
	resp, err := c.http.Do(ctx, &client.Request{
		Method:    http.MethodPost,
		Path:      cancelPath,
		Query:     map[string]string{"request-token": token},
		Retryable: true,
	})
	if err != nil {
		return mcperrors.NewServiceError("cancel query", 0, "").WithCause(err)
	}
	if resp.IsSuccess() || resp.StatusCode == http.StatusGone {
		return nil
	}
	return mcperrors.FromHTTPStatus("cancel query", resp.StatusCode, string(resp.Body))
}

// Verify checks a statement without running it.
func (c *Client) Verify(ctx context.Context, statement string) (*VerifyResult, error) {
	var resp VerifyResult
	if err := c.call(ctx, "verify query", &client.Request{
		Method:    http.MethodPost,
		Path:      verifyPath,
		Body:      verifyRequest{Query: statement},
		Retryable: true,
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// call sends req and decodes a successful response into out.
func (c *Client) call(ctx context.Context, operation string, req *client.Request, out interface{}) error {
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return mcperrors.NewServiceError(operation, 0, "").WithCause(err)
	}
	if !resp.IsSuccess() {
		c.logger.Warn("Query API returned an error",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("request_id", resp.RequestID),
		)
		return mcperrors.FromHTTPStatus(operation, resp.StatusCode, errorMessage(resp.Body))
	}
	if len(resp.Body) == 0 {
		return mcperrors.NewServiceError(operation, resp.StatusCode, "empty response body")
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return mcperrors.NewServiceError(operation, resp.StatusCode, "malformed response body").
			WithCause(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// errorMessage pulls the message out of an API error envelope, falling back to the raw body.
func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Details struct {
				ErrorMessage string `json:"errorMessage"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if msg := envelope.Error.Details.ErrorMessage; msg != "" {
			return msg
		}
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
	}
	const maxLen = 500
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}
