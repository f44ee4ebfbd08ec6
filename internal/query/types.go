// Package query runs analytical queries to completion through a submit/poll/cancel
// service and guards them with a bytes-scanned budget.
package query

import (
	"context"
	"time"

	"github.com/tareqmamari/grail-mcp-server/internal/schema"
)

// State is the execution state reported by the query service.
type State string

// Query states.
const (
	StateNotStarted State = "NOT_STARTED"
	StateRunning    State = "RUNNING"
	StateSucceeded  State = "SUCCEEDED"
	StateResultGone State = "RESULT_GONE"
	StateCancelled  State = "CANCELLED"
	StateFailed     State = "FAILED"
	StateAborted    State = "ABORTED"
)

// IsRunning reports whether the query may still produce a result.
func (s State) IsRunning() bool {
	return s == StateNotStarted || s == StateRunning
}

// Request describes a query to submit.
type Request struct {
	Query                 string
	MaxResultRecords      *int
	MaxResultBytes        *int64
	DefaultTimeframeStart string
	DefaultTimeframeEnd   string
	FetchTimeoutSeconds   *int
}

// Record is one result row.
type Record = map[string]any

// Notification is a message attached to a result or a verification.
type Notification struct {
	Severity         string `json:"severity"`
	NotificationType string `json:"notificationType,omitempty"`
	Message          string `json:"message"`
}

// Metadata carries the execution statistics of a result.
type Metadata struct {
	ScannedBytes   int64
	ScannedRecords int64
	ExecutionTime  time.Duration
	QueryID        string
	Sampled        bool
	Notifications  []Notification
}

// Result is a completed query result.
type Result struct {
	Records  []Record
	Types    []schema.RangedFieldTypes
	Metadata Metadata
}

// IsChartWorthy reports whether the result looks like time-series data.
func (r *Result) IsChartWorthy() bool {
	return schema.IsChartWorthy(r.Types)
}

// Handle is what the service returns for a submit or poll. Either Result is set,
// or Token identifies a query that is still being executed.
type Handle struct {
	Result *Result
	Token  string
	State  State
}

// Service is the query API the engine drives.
type Service interface {
	Submit(ctx context.Context, req Request) (*Handle, error)
	Poll(ctx context.Context, token string) (*Handle, error)
	Cancel(ctx context.Context, token string) error
}
