package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// slowThreshold marks a failed connectivity check as degraded rather than unhealthy.
const slowThreshold = 3 * time.Second

// Check represents a health check result
type Check struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// TokenValidator is satisfied by the authenticator.
type TokenValidator interface {
	ValidateToken() error
}

// Pinger checks that the query API is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker performs health checks
type Checker struct {
	auth    TokenValidator
	api     Pinger
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a new health checker
func New(auth TokenValidator, api Pinger, logger *zap.Logger) *Checker {
	return &Checker{
		auth:    auth,
		api:     api,
		timeout: 5 * time.Second,
		logger:  logger.Named("health"),
	}
}

// CheckAll runs every check concurrently and folds them into one status.
func (c *Checker) CheckAll(ctx context.Context) (Status, []Check) {
	checks := make([]Check, 2)

	var g errgroup.Group
	g.Go(func() error {
		checks[0] = c.checkAuthentication()
		return nil
	})
	g.Go(func() error {
		checks[1] = c.checkAPIConnectivity(ctx)
		return nil
	})
	_ = g.Wait()

	return overall(checks), checks
}

func overall(checks []Check) Status {
	status := StatusHealthy
	for _, check := range checks {
		if check.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if check.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}

func (c *Checker) checkAuthentication() Check {
	start := time.Now()
	check := Check{
		Name:      "authentication",
		Timestamp: start,
	}

	err := c.auth.ValidateToken()
	check.Duration = time.Since(start)

	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Authentication failed: %v", err)
		c.logger.Error("Health check failed: authentication",
			zap.Error(err),
			zap.Duration("duration", check.Duration),
		)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Authentication successful"
	c.logger.Debug("Health check passed: authentication",
		zap.Duration("duration", check.Duration),
	)
	return check
}

func (c *Checker) checkAPIConnectivity(ctx context.Context) Check {
	start := time.Now()
	check := Check{
		Name:      "api_connectivity",
		Timestamp: start,
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.api.Ping(checkCtx)
	check.Duration = time.Since(start)

	if err != nil {
		if check.Duration > slowThreshold {
			check.Status = StatusDegraded
			check.Message = "API responding slowly"
		} else {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("API unreachable: %v", err)
		}
		c.logger.Warn("Health check failed: API connectivity",
			zap.Error(err),
			zap.Duration("duration", check.Duration),
		)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "API reachable"
	c.logger.Debug("Health check passed: API connectivity",
		zap.Duration("duration", check.Duration),
	)
	return check
}
