package grail

import (
	"time"

	"github.com/tareqmamari/grail-mcp-server/internal/query"
	"github.com/tareqmamari/grail-mcp-server/internal/schema"
)

// executeRequest is the body of query:execute.
type executeRequest struct {
	Query                 string `json:"query"`
	DefaultTimeframeStart string `json:"defaultTimeframeStart,omitempty"`
	DefaultTimeframeEnd   string `json:"defaultTimeframeEnd,omitempty"`
	MaxResultRecords      *int   `json:"maxResultRecords,omitempty"`
	MaxResultBytes        *int64 `json:"maxResultBytes,omitempty"`
	FetchTimeoutSeconds   *int   `json:"fetchTimeoutSeconds,omitempty"`
}

// queryResponse is returned by execute, poll and cancel.
type queryResponse struct {
	State        string       `json:"state"`
	RequestToken string       `json:"requestToken,omitempty"`
	Progress     *int         `json:"progress,omitempty"`
	TTLSeconds   *int         `json:"ttlSeconds,omitempty"`
	Result       *queryResult `json:"result,omitempty"`
}

type queryResult struct {
	Records  []query.Record            `json:"records"`
	Types    []schema.RangedFieldTypes `json:"types"`
	Metadata resultMetadata            `json:"metadata"`
}

type resultMetadata struct {
	Grail *grailMetadata `json:"grail,omitempty"`
}

type grailMetadata struct {
	CanonicalQuery            string               `json:"canonicalQuery,omitempty"`
	QueryID                   string               `json:"queryId,omitempty"`
	ScannedBytes              int64                `json:"scannedBytes"`
	ScannedRecords            int64                `json:"scannedRecords"`
	ScannedDataPoints         int64                `json:"scannedDataPoints,omitempty"`
	ExecutionTimeMilliseconds int64                `json:"executionTimeMilliseconds"`
	Sampled                   bool                 `json:"sampled"`
	Notifications             []query.Notification `json:"notifications,omitempty"`
}

// verifyRequest is the body of query:verify.
type verifyRequest struct {
	Query string `json:"query"`
}

// VerifyResult reports whether a statement is valid and why not.
type VerifyResult struct {
	Valid         bool                 `json:"valid"`
	Notifications []query.Notification `json:"notifications,omitempty"`
}

func newExecuteRequest(req query.Request) executeRequest {
	return executeRequest{
		Query:                 req.Query,
		DefaultTimeframeStart: req.DefaultTimeframeStart,
		DefaultTimeframeEnd:   req.DefaultTimeframeEnd,
		MaxResultRecords:      req.MaxResultRecords,
		MaxResultBytes:        req.MaxResultBytes,
		FetchTimeoutSeconds:   req.FetchTimeoutSeconds,
	}
}

func (r *queryResponse) handle() *query.Handle {
	h := &query.Handle{
		Token: r.RequestToken,
		State: query.State(r.State),
	}
	if r.Result != nil {
		h.Result = r.Result.toResult()
	}
	return h
}

func (r *queryResult) toResult() *query.Result {
	res := &query.Result{
		Records: r.Records,
		Types:   r.Types,
	}
	if res.Records == nil {
		res.Records = []query.Record{}
	}
	if g := r.Metadata.Grail; g != nil {
		res.Metadata = query.Metadata{
			ScannedBytes:   g.ScannedBytes,
			ScannedRecords: g.ScannedRecords,
			ExecutionTime:  time.Duration(g.ExecutionTimeMilliseconds) * time.Millisecond,
			QueryID:        g.QueryID,
			Sampled:        g.Sampled,
			Notifications:  g.Notifications,
		}
	}
	return res
}
