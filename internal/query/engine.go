package query

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tareqmamari/grail-mcp-server/internal/budget"
	mcperrors "github.com/tareqmamari/grail-mcp-server/internal/errors"
	"github.com/tareqmamari/grail-mcp-server/internal/metrics"
	"github.com/tareqmamari/grail-mcp-server/internal/tracing"
)

// Defaults for the poll loop.
const (
	DefaultPollInterval  = 2 * time.Second
	DefaultCancelTimeout = time.Second
)

// Engine executes queries to completion. It holds no per-query state and is
// safe for concurrent use; budgets are shared through the registry.
type Engine struct {
	service         Service
	budgets         *budget.Registry
	logger          *zap.Logger
	metrics         *metrics.Metrics
	pollInterval    time.Duration
	maxPollAttempts int
	queryTimeout    time.Duration
	cancelTimeout   time.Duration
	wait            func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics enables query metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPollInterval sets the wait before each poll.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithMaxPollAttempts bounds the number of polls per query. Zero means unlimited.
func WithMaxPollAttempts(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxPollAttempts = n
		}
	}
}

// WithQueryTimeout bounds the total time of one execution. Zero means no bound
// beyond the caller's context.
func WithQueryTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.queryTimeout = d
		}
	}
}

// NewEngine creates an engine over service. budgets may be nil when no caller
// passes a budget limit.
func NewEngine(service Service, budgets *budget.Registry, opts ...Option) *Engine {
	e := &Engine{
		service:       service,
		budgets:       budgets,
		logger:        zap.NewNop(),
		pollInterval:  DefaultPollInterval,
		cancelTimeout: DefaultCancelTimeout,
		wait:          sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.budgets == nil {
		e.budgets = budget.NewRegistry()
	}
	e.logger = e.logger.Named("query")
	return e
}

// Execute submits req and waits for its result.
//
// When budgetLimitGB is set, the tracker for that limit is checked before the
// query is submitted and charged with the scanned bytes once it completes.
// The check is a pre-check only: queries running concurrently may together
// push consumption past the limit, and the next query is then refused.
//
// A nil result with a nil error means the query ended without producing a
// result (for example FAILED or RESULT_GONE); the reason is logged.
func (e *Engine) Execute(ctx context.Context, req Request, budgetLimitGB *float64) (*Result, error) {
	start := time.Now()
	ctx, span := tracing.QuerySpan(ctx, budgetLimitGB != nil)
	defer span.End()

	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	var tracker *budget.Tracker
	if budgetLimitGB != nil {
		t, err := e.budgets.TrackerForGB(*budgetLimitGB)
		if err != nil {
			return nil, mcperrors.NewInvalidInput(err.Error())
		}
		if state := t.State(); state.IsExceeded() {
			e.logger.Warn("Query refused, budget exceeded",
				zap.Int64("consumed_bytes", state.ConsumedBytes),
				zap.Int64("limit_bytes", *state.LimitBytes),
			)
			if e.metrics != nil {
				e.metrics.RecordBudgetRejection()
			}
			err := mcperrors.NewBudgetExceeded(state.ConsumedBytes, *state.LimitBytes)
			tracing.RecordError(span, err)
			return nil, err
		}
		tracker = t
	}

	handle, err := e.service.Submit(ctx, req)
	if err != nil {
		err = serviceError("submit query", err)
		e.finish(span, metrics.OutcomeError, start, err)
		return nil, err
	}

	result, err := e.await(ctx, handle)
	if err != nil {
		outcome := metrics.OutcomeError
		switch {
		case isCode(err, mcperrors.CodeExecutionAborted):
			outcome = metrics.OutcomeAborted
		case isCode(err, mcperrors.CodeExecutionTimeout):
			outcome = metrics.OutcomeTimeout
		}
		e.finish(span, outcome, start, err)
		return nil, err
	}
	if result == nil {
		e.finish(span, metrics.OutcomeNoResult, start, nil)
		return nil, nil
	}

	md := result.Metadata
	e.logger.Info("Query metadata",
		zap.Int64("scanned_bytes", md.ScannedBytes),
		zap.Int64("scanned_records", md.ScannedRecords),
		zap.Duration("execution_time", md.ExecutionTime),
		zap.String("query_id", md.QueryID),
		zap.Bool("sampled", md.Sampled),
	)
	span.SetAttributes(
		attribute.Int64("query.scanned_bytes", md.ScannedBytes),
		attribute.String("query.id", md.QueryID),
	)

	if md.ScannedBytes < 0 {
		e.logger.Warn("Ignoring negative scanned bytes", zap.Int64("scanned_bytes", md.ScannedBytes))
	} else if tracker != nil {
		tracker.AddBytesScanned(md.ScannedBytes)
	}
	if e.metrics != nil {
		e.metrics.RecordBytesScanned(md.ScannedBytes)
	}

	e.finish(span, metrics.OutcomeSucceeded, start, nil)
	return result, nil
}

// await follows a handle until a result is available or the query ends.
// The first poll always happens, even if the submit state is terminal.
func (e *Engine) await(ctx context.Context, handle *Handle) (*Result, error) {
	if handle == nil {
		e.logger.Error("Query service returned an empty response")
		return nil, nil
	}
	if handle.Result != nil {
		return handle.Result, nil
	}
	token := handle.Token
	if token == "" {
		e.logger.Error("Query returned neither a result nor a request token",
			zap.String("state", string(handle.State)),
		)
		return nil, nil
	}

	state := handle.State
	for attempt := 1; ; attempt++ {
		if e.maxPollAttempts > 0 && attempt > e.maxPollAttempts {
			return nil, e.abandon(ctx, token, fmt.Errorf("no result after %d polls", e.maxPollAttempts))
		}
		if err := e.wait(ctx, e.pollInterval); err != nil {
			return nil, e.abandon(ctx, token, err)
		}

		next, err := e.service.Poll(ctx, token)
		if e.metrics != nil {
			e.metrics.RecordPoll()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, e.abandon(ctx, token, ctx.Err())
			}
			return nil, serviceError("poll query", err)
		}
		if next == nil {
			e.logger.Error("Poll returned an empty response", zap.String("request_token", token))
			return nil, nil
		}
		if next.Result != nil {
			e.logger.Debug("Polled result available",
				zap.String("request_token", token),
				zap.Int("polls", attempt),
			)
			return next.Result, nil
		}

		state = next.State
		if !state.IsRunning() {
			break
		}
	}

	if state == StateAborted {
		return nil, mcperrors.NewExecutionAborted(token)
	}
	e.logger.Warn("Query ended without a result",
		zap.String("request_token", token),
		zap.String("state", string(state)),
	)
	return nil, nil
}

// abandon cancels a running query and returns a timeout error wrapping cause.
// The cancel runs on a context detached from ctx, which is usually already done.
func (e *Engine) abandon(ctx context.Context, token string, cause error) error {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cancelTimeout)
	defer cancel()

	if err := e.service.Cancel(cancelCtx, token); err != nil {
		e.logger.Warn("Failed to cancel abandoned query",
			zap.String("request_token", token),
			zap.Error(err),
		)
	} else {
		e.logger.Info("Cancelled abandoned query", zap.String("request_token", token))
	}
	return mcperrors.NewExecutionTimeout(token, cause)
}

func (e *Engine) finish(span trace.Span, outcome string, start time.Time, err error) {
	span.SetAttributes(attribute.String("query.outcome", outcome))
	if err != nil {
		tracing.RecordError(span, err)
	} else {
		tracing.SetSuccess(span)
	}
	if e.metrics != nil {
		e.metrics.RecordQueryOutcome(outcome, time.Since(start))
	}
}

// serviceError keeps structured errors from the service and wraps anything else.
func serviceError(operation string, err error) error {
	if se, ok := mcperrors.As(err); ok {
		return se
	}
	return mcperrors.NewServiceError(operation, 0, "").WithCause(err)
}

func isCode(err error, code mcperrors.ErrorCode) bool {
	se, ok := mcperrors.As(err)
	return ok && se.Code == code
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
