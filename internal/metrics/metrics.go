// Package metrics provides metrics collection and reporting for the MCP server.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const namespace = "grail_mcp"

// Prometheus metric labels
const (
	labelTool    = "tool"
	labelStatus  = "status"
	labelOutcome = "outcome"
)

// Query outcomes reported by the engine.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeNoResult  = "no_result"
	OutcomeAborted   = "aborted"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
	OutcomeBudget    = "budget_exceeded"
)

// Metrics tracks operational metrics with both internal counters and Prometheus metrics
type Metrics struct {
	// HTTP request metrics
	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
	failedRequests     atomic.Uint64
	retriedRequests    atomic.Uint64

	// Latency tracking
	totalLatency atomic.Int64 // microseconds
	latencyCount atomic.Uint64
	maxLatency   atomic.Int64

	// Guards
	rateLimitHits     atomic.Uint64
	budgetRejections  atomic.Uint64
	bytesScanned      atomic.Int64
	queryPolls        atomic.Uint64
	queriesByOutcome  sync.Map // string -> *atomic.Uint64
	errorsMu          sync.RWMutex
	errorsByStatus    map[int]uint64
	toolsMu           sync.RWMutex
	toolUsage         map[string]uint64
	toolErrors        map[string]uint64

	logger *zap.Logger

	promRequestsTotal    prometheus.Counter
	promRequestsFailed   prometheus.Counter
	promRequestsRetried  prometheus.Counter
	promRequestLatency   prometheus.Histogram
	promErrorsByStatus   *prometheus.CounterVec
	promRateLimitHits    prometheus.Counter
	promBudgetRejections prometheus.Counter
	promBytesScanned     prometheus.Counter
	promQueryPolls       prometheus.Counter
	promQueries          *prometheus.CounterVec
	promQueryDuration    prometheus.Histogram
	promToolCalls        *prometheus.CounterVec
	promToolErrors       *prometheus.CounterVec
	promToolLatency      *prometheus.HistogramVec
}

// New creates a metrics tracker registered with reg. Pass prometheus.NewRegistry()
// in tests so every instance gets its own collectors.
func New(logger *zap.Logger, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		errorsByStatus: make(map[int]uint64),
		toolUsage:      make(map[string]uint64),
		toolErrors:     make(map[string]uint64),
		logger:         logger,

		promRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests made to the query service",
		}),
		promRequestsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_failed_total",
			Help:      "Total number of failed HTTP requests",
		}),
		promRequestsRetried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_retried_total",
			Help:      "Total number of retried HTTP requests",
		}),
		promRequestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}),
		promErrorsByStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_by_status_total",
			Help:      "Errors by HTTP status code",
		}, []string{labelStatus}),
		promRateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Tool calls rejected by the sliding-window rate limiter",
		}),
		promBudgetRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_rejections_total",
			Help:      "Queries refused because their bytes-scanned budget was exceeded",
		}),
		promBytesScanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_scanned_total",
			Help:      "Bytes scanned by completed queries",
		}),
		promQueryPolls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_polls_total",
			Help:      "Poll requests issued for running queries",
		}),
		promQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Query executions by outcome",
		}, []string{labelOutcome}),
		promQueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Wall-clock time of query executions including polling",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7m
		}),
		promToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls, labeled by tool name",
		}, []string{labelTool}),
		promToolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_errors_total",
			Help:      "Total number of tool errors, labeled by tool name",
		}, []string{labelTool}),
		promToolLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_latency_seconds",
			Help:      "Tool execution latency in seconds, labeled by tool name",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{labelTool}),
	}
}

// RecordRequest records an outbound HTTP request
func (m *Metrics) RecordRequest(success bool, latency time.Duration, statusCode int) {
	m.totalRequests.Add(1)
	m.promRequestsTotal.Inc()
	m.promRequestLatency.Observe(latency.Seconds())

	if success {
		m.successfulRequests.Add(1)
	} else {
		m.failedRequests.Add(1)
		m.promRequestsFailed.Inc()
		m.recordErrorStatus(statusCode)
	}

	latencyUs := latency.Microseconds()
	m.totalLatency.Add(latencyUs)
	m.latencyCount.Add(1)
	for {
		currentMax := m.maxLatency.Load()
		if latencyUs <= currentMax || m.maxLatency.CompareAndSwap(currentMax, latencyUs) {
			break
		}
	}
}

// RecordRetry records a retry attempt
func (m *Metrics) RecordRetry() {
	m.retriedRequests.Add(1)
	m.promRequestsRetried.Inc()
}

// RecordRateLimitHit records a tool call rejected by the rate limiter
func (m *Metrics) RecordRateLimitHit() {
	m.rateLimitHits.Add(1)
	m.promRateLimitHits.Inc()
}

// RecordBudgetRejection records a query refused by the budget pre-check
func (m *Metrics) RecordBudgetRejection() {
	m.budgetRejections.Add(1)
	m.promBudgetRejections.Inc()
	m.RecordQueryOutcome(OutcomeBudget, 0)
}

// RecordBytesScanned adds the bytes scanned by a completed query
func (m *Metrics) RecordBytesScanned(n int64) {
	if n <= 0 {
		return
	}
	m.bytesScanned.Add(n)
	m.promBytesScanned.Add(float64(n))
}

// RecordPoll records one poll request
func (m *Metrics) RecordPoll() {
	m.queryPolls.Add(1)
	m.promQueryPolls.Inc()
}

// RecordQueryOutcome records how a query execution ended
func (m *Metrics) RecordQueryOutcome(outcome string, elapsed time.Duration) {
	counter, _ := m.queriesByOutcome.LoadOrStore(outcome, new(atomic.Uint64))
	counter.(*atomic.Uint64).Add(1)
	m.promQueries.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.promQueryDuration.Observe(elapsed.Seconds())
	}
}

// RecordToolExecution records a tool invocation
func (m *Metrics) RecordToolExecution(toolName string, success bool, latency time.Duration) {
	m.toolsMu.Lock()
	m.toolUsage[toolName]++
	if !success {
		m.toolErrors[toolName]++
	}
	m.toolsMu.Unlock()

	m.promToolCalls.WithLabelValues(toolName).Inc()
	m.promToolLatency.WithLabelValues(toolName).Observe(latency.Seconds())
	if !success {
		m.promToolErrors.WithLabelValues(toolName).Inc()
	}
}

func (m *Metrics) recordErrorStatus(statusCode int) {
	if statusCode == 0 {
		return
	}

	m.errorsMu.Lock()
	m.errorsByStatus[statusCode]++
	m.errorsMu.Unlock()

	m.promErrorsByStatus.WithLabelValues(fmt.Sprintf("%d", statusCode)).Inc()
}

// Stats represents current metrics
type Stats struct {
	TotalRequests      uint64
	SuccessfulRequests uint64
	FailedRequests     uint64
	RetriedRequests    uint64
	AverageLatency     time.Duration
	MaxLatency         time.Duration
	RateLimitHits      uint64
	BudgetRejections   uint64
	BytesScanned       int64
	QueryPolls         uint64
	QueriesByOutcome   map[string]uint64
	ErrorsByStatus     map[int]uint64
	ToolUsage          map[string]uint64
	ToolErrors         map[string]uint64
}

// GetStats returns current statistics
func (m *Metrics) GetStats() Stats {
	m.errorsMu.RLock()
	errorsByStatus := make(map[int]uint64, len(m.errorsByStatus))
	for k, v := range m.errorsByStatus {
		errorsByStatus[k] = v
	}
	m.errorsMu.RUnlock()

	m.toolsMu.RLock()
	toolUsage := make(map[string]uint64, len(m.toolUsage))
	toolErrors := make(map[string]uint64, len(m.toolErrors))
	for k, v := range m.toolUsage {
		toolUsage[k] = v
	}
	for k, v := range m.toolErrors {
		toolErrors[k] = v
	}
	m.toolsMu.RUnlock()

	outcomes := make(map[string]uint64)
	m.queriesByOutcome.Range(func(k, v any) bool {
		outcomes[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})

	var avgLatency time.Duration
	if n := m.latencyCount.Load(); n > 0 {
		avgLatency = time.Duration(float64(m.totalLatency.Load())/float64(n)) * time.Microsecond
	}

	return Stats{
		TotalRequests:      m.totalRequests.Load(),
		SuccessfulRequests: m.successfulRequests.Load(),
		FailedRequests:     m.failedRequests.Load(),
		RetriedRequests:    m.retriedRequests.Load(),
		AverageLatency:     avgLatency,
		MaxLatency:         time.Duration(m.maxLatency.Load()) * time.Microsecond,
		RateLimitHits:      m.rateLimitHits.Load(),
		BudgetRejections:   m.budgetRejections.Load(),
		BytesScanned:       m.bytesScanned.Load(),
		QueryPolls:         m.queryPolls.Load(),
		QueriesByOutcome:   outcomes,
		ErrorsByStatus:     errorsByStatus,
		ToolUsage:          toolUsage,
		ToolErrors:         toolErrors,
	}
}

// LogStats logs current statistics
func (m *Metrics) LogStats() {
	stats := m.GetStats()

	m.logger.Info("Operational metrics",
		zap.Uint64("total_requests", stats.TotalRequests),
		zap.Uint64("failed_requests", stats.FailedRequests),
		zap.Uint64("retried_requests", stats.RetriedRequests),
		zap.Duration("avg_latency", stats.AverageLatency),
		zap.Uint64("rate_limit_hits", stats.RateLimitHits),
		zap.Uint64("budget_rejections", stats.BudgetRejections),
		zap.Int64("bytes_scanned", stats.BytesScanned),
		zap.Uint64("query_polls", stats.QueryPolls),
		zap.Any("queries_by_outcome", stats.QueriesByOutcome),
		zap.Any("errors_by_status", stats.ErrorsByStatus),
		zap.Any("tool_usage", stats.ToolUsage),
	)
}
