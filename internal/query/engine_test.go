package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tareqmamari/grail-mcp-server/internal/budget"
	mcperrors "github.com/tareqmamari/grail-mcp-server/internal/errors"
	"github.com/tareqmamari/grail-mcp-server/internal/metrics"
	"github.com/tareqmamari/grail-mcp-server/internal/schema"
)

type pollResponse struct {
	handle *Handle
	err    error
}

type fakeService struct {
	mu sync.Mutex

	submitHandle *Handle
	submitErr    error
	polls        []pollResponse
	cancelErr    error

	submitCalls  int
	pollCalls    int
	cancelTokens []string
	cancelCtxErr error
}

func (f *fakeService) Submit(_ context.Context, _ Request) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	return f.submitHandle, f.submitErr
}

func (f *fakeService) Poll(_ context.Context, token string) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if len(f.polls) == 0 {
		return &Handle{Token: token, State: StateRunning}, nil
	}
	next := f.polls[0]
	if len(f.polls) > 1 {
		f.polls = f.polls[1:]
	}
	return next.handle, next.err
}

func (f *fakeService) Cancel(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelTokens = append(f.cancelTokens, token)
	f.cancelCtxErr = ctx.Err()
	return f.cancelErr
}

func (f *fakeService) counts() (submits, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls, f.pollCalls
}

// waitRecorder replaces the timer wait; it returns immediately unless ctx is done.
type waitRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (w *waitRecorder) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.waits = append(w.waits, d)
	w.mu.Unlock()
	return ctx.Err()
}

func newTestEngine(svc Service, budgets *budget.Registry, opts ...Option) (*Engine, *waitRecorder) {
	rec := &waitRecorder{}
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	e := NewEngine(svc, budgets, opts...)
	e.wait = rec.wait
	return e, rec
}

func resultWithBytes(n int64) *Result {
	return &Result{
		Records: []Record{{"host": "h1", "count": 3}},
		Types: []schema.RangedFieldTypes{{Mappings: map[string]schema.FieldType{
			"host":  schema.Scalar(schema.KindString),
			"count": schema.Scalar(schema.KindLong),
		}}},
		Metadata: Metadata{ScannedBytes: n, ScannedRecords: 10, QueryID: "q-1"},
	}
}

func gb(v float64) *float64 {
	return &v
}

func TestExecute_FastPath(t *testing.T) {
	svc := &fakeService{submitHandle: &Handle{Result: resultWithBytes(500), State: StateSucceeded}}
	registry := budget.NewRegistry()
	engine, rec := newTestEngine(svc, registry)

	result, err := engine.Execute(context.Background(), Request{Query: "fetch logs"}, gb(0.001))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Len(t, result.Records, 1)
	assert.Equal(t, int64(500), result.Metadata.ScannedBytes)
	assert.Empty(t, rec.waits, "no wait when submit returns a result")

	_, polls := svc.counts()
	assert.Zero(t, polls)

	tracker, ok := registry.Lookup(1_000_000)
	require.True(t, ok)
	assert.Equal(t, int64(500), tracker.State().ConsumedBytes)
}

func TestExecute_SlowPathPollsUntilResult(t *testing.T) {
	svc := &fakeService{
		submitHandle: &Handle{Token: "tok-1", State: StateRunning},
		polls: []pollResponse{
			{handle: &Handle{Token: "tok-1", State: StateRunning}},
			{handle: &Handle{Result: resultWithBytes(1000), State: StateSucceeded}},
		},
	}
	registry := budget.NewRegistry()
	engine, rec := newTestEngine(svc, registry, WithPollInterval(2*time.Second))

	result, err := engine.Execute(context.Background(), Request{Query: "fetch logs"}, gb(1))
	require.NoError(t, err)
	require.NotNil(t, result)

	_, polls := svc.counts()
	assert.Equal(t, 2, polls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.waits)

	tracker, ok := registry.Lookup(1_000_000_000)
	require.True(t, ok)
	assert.Equal(t, int64(1000), tracker.State().ConsumedBytes)
}

func TestExecute_BudgetExceededBlocksSubmit(t *testing.T) {
	svc := &fakeService{submitHandle: &Handle{Result: resultWithBytes(1_200_000), State: StateSucceeded}}
	registry := budget.NewRegistry()
	m := metrics.New(zap.NewNop(), prometheus.NewRegistry())
	engine, _ := newTestEngine(svc, registry, WithMetrics(m))

	// First query lands above the 0.001 GB limit and is allowed.
	_, err := engine.Execute(context.Background(), Request{Query: "fetch logs"}, gb(0.001))
	require.NoError(t, err)

	_, err = engine.Execute(context.Background(), Request{Query: "fetch logs"}, gb(0.001))
	require.Error(t, err)
	assert.ErrorIs(t, err, mcperrors.ErrBudgetExceeded)

	submits, _ := svc.counts()
	assert.Equal(t, 1, submits, "the refused query must not reach the service")
	assert.Equal(t, uint64(1), m.GetStats().BudgetRejections)
}

func TestExecute_ExactlyAtLimitIsAllowed(t *testing.T) {
	svc := &fakeService{submitHandle: &Handle{Result: resultWithBytes(1_000_000), State: StateSucceeded}}
	engine, _ := newTestEngine(svc, budget.NewRegistry())

	_, err := engine.Execute(context.Background(), Request{Query: "q"}, gb(0.001))
	require.NoError(t, err)
	_, err = engine.Execute(context.Background(), Request{Query: "q"}, gb(0.001))
	require.NoError(t, err)

	_, err = engine.Execute(context.Background(), Request{Query: "q"}, gb(0.001))
	assert.ErrorIs(t, err, mcperrors.ErrBudgetExceeded)
}

func TestExecute_WithoutBudgetCreatesNoTracker(t *testing.T) {
	svc := &fakeService{submitHandle: &Handle{Result: resultWithBytes(5_000_000_000), State: StateSucceeded}}
	registry := budget.NewRegistry()
	engine, _ := newTestEngine(svc, registry)

	for i := 0; i < 3; i++ {
		result, err := engine.Execute(context.Background(), Request{Query: "q"}, nil)
		require.NoError(t, err)
		require.NotNil(t, result)
	}
	assert.Zero(t, registry.Len())
}

func TestExecute_DifferentLimitsUseSeparateTrackers(t *testing.T) {
	svc := &fakeService{submitHandle: &Handle{Result: resultWithBytes(2_000_000), State: StateSucceeded}}
	registry := budget.NewRegistry()
	engine, _ := newTestEngine(svc, registry)

	_, err := engine.Execute(context.Background(), Request{Query: "q"}, gb(0.001))
	require.NoError(t, err)

	_, err = engine.Execute(context.Background(), Request{Query: "q"}, gb(1))
	require.NoError(t, err, "an exceeded tracker for another limit must not block")
	assert.Equal(t, 2, registry.Len())
}

func TestExecute_InvalidBudget(t *testing.T) {
	svc := &fakeService{}
	engine, _ := newTestEngine(svc, nil)

	_, err := engine.Execute(context.Background(), Request{Query: "q"}, gb(-1))
	require.Error(t, err)

	se, ok := mcperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, mcperrors.CodeInvalidInput, se.Code)
	submits, _ := svc.counts()
	assert.Zero(t, submits)
}

func TestExecute_NoTokenNoResult(t *testing.T) {
	tests := []struct {
		name   string
		handle *Handle
	}{
		{name: "empty handle", handle: &Handle{}},
		{name: "aborted at submit", handle: &Handle{State: StateAborted}},
		{name: "nil handle", handle: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{submitHandle: tt.handle}
			engine, rec := newTestEngine(svc, nil)

			result, err := engine.Execute(context.Background(), Request{Query: "q"}, nil)
			assert.NoError(t, err)
			assert.Nil(t, result)
			assert.Empty(t, rec.waits)
		})
	}
}

func TestExecute_TerminalStateWithoutResult(t *testing.T) {
	for _, state := range []State{StateFailed, StateResultGone, StateCancelled} {
		t.Run(string(state), func(t *testing.T) {
			svc := &fakeService{
				submitHandle: &Handle{Token: "tok", State: StateNotStarted},
				polls:        []pollResponse{{handle: &Handle{Token: "tok", State: state}}},
			}
			registry := budget.NewRegistry()
			engine, _ := newTestEngine(svc, registry)

			result, err := engine.Execute(context.Background(), Request{Query: "q"}, gb(1))
			assert.NoError(t, err)
			assert.Nil(t, result)

			tracker, ok := registry.Lookup(1_000_000_000)
			require.True(t, ok)
			assert.Zero(t, tracker.State().ConsumedBytes)
		})
	}
}

func TestExecute_PollsAtLeastOnce(t *testing.T) {
	svc := &fakeService{
		submitHandle: &Handle{Token: "tok", State: StateSucceeded},
		polls:        []pollResponse{{handle: &Handle{Result: resultWithBytes(7), State: StateSucceeded}}},
	}
	engine, _ := newTestEngine(svc, nil)

	result, err := engine.Execute(context.Background(), Request{Query: "q"}, nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	_, polls := svc.counts()
	assert.Equal(t, 1, polls)
}

func TestExecute_AbortedWhilePolling(t *testing.T) {
	svc := &fakeService{
		submitHandle: &Handle{Token: "tok", State: StateRunning},
		polls:        []pollResponse{{handle: &Handle{Token: "tok", State: StateAborted}}},
	}
	engine, _ := newTestEngine(svc, nil)

	result, err := engine.Execute(context.Background(), Request{Query: "q"}, nil)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, mcperrors.ErrExecutionAborted)
}

func TestExecute_SubmitErrorPropagates(t *testing.T) {
	svc := &fakeService{submitErr: mcperrors.NewServiceError("submit query", 400, "bad query")}
	engine, _ := newTestEngine(svc, nil)

	_, err := engine.Execute(context.Background(), Request{Query: "q"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, mcperrors.ErrService)
	assert.Equal(t, 400, mcperrors.StatusCode(err))
}

func TestExecute_TransportErrorBecomesServiceError(t *testing.T) {
	cause := errors.New("connection reset")
	svc := &fakeService{
		submitHandle: &Handle{Token: "tok", State: StateRunning},
		polls:        []pollResponse{{err: cause}},
	}
	engine, _ := newTestEngine(svc, nil)

	_, err := engine.Execute(context.Background(), Request{Query: "q"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, mcperrors.ErrService)
	assert.ErrorIs(t, err, cause)

	_, polls := svc.counts()
	assert.Equal(t, 1, polls, "service errors are not retried by the engine")
}

func TestExecute_MaxPollAttemptsCancelsQuery(t *testing.T) {
	svc := &fakeService{submitHandle: &Handle{Token: "tok-9", State: StateRunning}}
	engine, _ := newTestEngine(svc, nil, WithMaxPollAttempts(3))

	_, err := engine.Execute(context.Background(), Request{Query: "q"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, mcperrors.ErrExecutionTimeout)

	_, polls := svc.counts()
	assert.Equal(t, 3, polls)
	assert.Equal(t, []string{"tok-9"}, svc.cancelTokens)
}

func TestExecute_CancelFailureDoesNotMaskTimeout(t *testing.T) {
	svc := &fakeService{
		submitHandle: &Handle{Token: "tok", State: StateRunning},
		cancelErr:    errors.New("cancel failed"),
	}
	engine, _ := newTestEngine(svc, nil, WithMaxPollAttempts(1))

	_, err := engine.Execute(context.Background(), Request{Query: "q"}, nil)
	assert.ErrorIs(t, err, mcperrors.ErrExecutionTimeout)
	assert.NotContains(t, err.Error(), "cancel failed")
}

func TestExecute_ContextCancelledWhileWaiting(t *testing.T) {
	svc := &fakeService{submitHandle: &Handle{Token: "tok", State: StateRunning}}
	engine, _ := newTestEngine(svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Execute(ctx, Request{Query: "q"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, mcperrors.ErrExecutionTimeout)
	assert.ErrorIs(t, err, context.Canceled)

	_, polls := svc.counts()
	assert.Zero(t, polls)
	require.Equal(t, []string{"tok"}, svc.cancelTokens)
	assert.NoError(t, svc.cancelCtxErr, "cancel must run on a live context")
}

func TestExecute_QueryTimeoutWithRealTimer(t *testing.T) {
	svc := &fakeService{submitHandle: &Handle{Token: "tok", State: StateRunning}}
	engine := NewEngine(svc, nil,
		WithLogger(zap.NewNop()),
		WithPollInterval(time.Hour),
		WithQueryTimeout(20*time.Millisecond),
	)

	start := time.Now()
	_, err := engine.Execute(context.Background(), Request{Query: "q"}, nil)
	assert.ErrorIs(t, err, mcperrors.ErrExecutionTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_ConcurrentQueriesShareBudget(t *testing.T) {
	svc := &fakeService{submitHandle: &Handle{Result: resultWithBytes(100), State: StateSucceeded}}
	registry := budget.NewRegistry()
	engine, _ := newTestEngine(svc, registry)

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := engine.Execute(context.Background(), Request{Query: "q"}, gb(1))
			return err
		})
	}
	require.NoError(t, g.Wait())

	tracker, ok := registry.Lookup(1_000_000_000)
	require.True(t, ok)
	assert.Equal(t, int64(5000), tracker.State().ConsumedBytes)
}

func TestExecute_RecordsMetrics(t *testing.T) {
	svc := &fakeService{
		submitHandle: &Handle{Token: "tok", State: StateRunning},
		polls:        []pollResponse{{handle: &Handle{Result: resultWithBytes(42), State: StateSucceeded}}},
	}
	m := metrics.New(zap.NewNop(), prometheus.NewRegistry())
	engine, _ := newTestEngine(svc, nil, WithMetrics(m))

	_, err := engine.Execute(context.Background(), Request{Query: "q"}, nil)
	require.NoError(t, err)

	stats := m.GetStats()
	assert.Equal(t, uint64(1), stats.QueryPolls)
	assert.Equal(t, int64(42), stats.BytesScanned)
	assert.Equal(t, uint64(1), stats.QueriesByOutcome[metrics.OutcomeSucceeded])
}

func TestResult_IsChartWorthy(t *testing.T) {
	r := &Result{Types: []schema.RangedFieldTypes{{Mappings: map[string]schema.FieldType{
		"timestamp": schema.Scalar(schema.KindTimestamp),
		"value":     schema.Scalar(schema.KindDouble),
	}}}}
	assert.True(t, r.IsChartWorthy())
	assert.False(t, resultWithBytes(1).IsChartWorthy())
}

func TestState_IsRunning(t *testing.T) {
	assert.True(t, StateNotStarted.IsRunning())
	assert.True(t, StateRunning.IsRunning())
	assert.False(t, StateSucceeded.IsRunning())
	assert.False(t, StateAborted.IsRunning())
}
