// Package budget tracks how many bytes queries have scanned in a session and
// whether a caller-declared ceiling has been crossed.
//
// A Tracker is a pure counter. It does not know which queries contributed
// which bytes. Trackers are obtained from a Registry, which hands out one
// tracker per limit value and is injected into the query engine.
package budget

import (
	"fmt"
	"math"
	"sync"
)

// BytesPerGB is the decimal gigabyte used for budget limits.
const BytesPerGB = 1_000_000_000

// State is a point-in-time view of a tracker.
type State struct {
	ConsumedBytes int64  `json:"consumed_bytes"`
	LimitBytes    *int64 `json:"limit_bytes,omitempty"`
}

// IsExceeded reports whether consumption is strictly above the limit.
// A query landing exactly on the limit is allowed; the next one is not.
func (s State) IsExceeded() bool {
	if s.LimitBytes == nil {
		return false
	}
	return s.ConsumedBytes > *s.LimitBytes
}

// RemainingBytes returns the bytes left before the limit, floored at zero.
// Unlimited trackers return -1.
func (s State) RemainingBytes() int64 {
	if s.LimitBytes == nil {
		return -1
	}
	if remaining := *s.LimitBytes - s.ConsumedBytes; remaining > 0 {
		return remaining
	}
	return 0
}

// UsedPercent returns consumption as a percentage of the limit, or 0 when unlimited.
func (s State) UsedPercent() float64 {
	if s.LimitBytes == nil || *s.LimitBytes <= 0 {
		return 0
	}
	return float64(s.ConsumedBytes) / float64(*s.LimitBytes) * 100
}

// Tracker accumulates scanned bytes. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	consumed int64
	limit    *int64
}

// NewTracker creates a tracker. A nil limit means unlimited.
func NewTracker(limitBytes *int64) *Tracker {
	t := &Tracker{}
	if limitBytes != nil {
		l := *limitBytes
		t.limit = &l
	}
	return t
}

// AddBytesScanned adds n to the consumed total. Negative values are ignored;
// the total never decreases except through Reset.
func (t *Tracker) AddBytesScanned(n int64) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumed > math.MaxInt64-n {
		t.consumed = math.MaxInt64
		return
	}
	t.consumed += n
}

// State returns the current consumption and limit.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := State{ConsumedBytes: t.consumed}
	if t.limit != nil {
		l := *t.limit
		s.LimitBytes = &l
	}
	return s
}

// IsExceeded is shorthand for State().IsExceeded().
func (t *Tracker) IsExceeded() bool {
	return t.State().IsExceeded()
}

// Reset sets consumption back to zero.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consumed = 0
}

// Registry hands out one tracker per limit value. Trackers are created lazily
// on first use and live until Reset.
type Registry struct {
	mu       sync.Mutex
	trackers map[int64]*Tracker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[int64]*Tracker)}
}

// Tracker returns the tracker for limitBytes, creating it on first use.
func (r *Registry) Tracker(limitBytes int64) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[limitBytes]; ok {
		return t
	}
	t := NewTracker(&limitBytes)
	r.trackers[limitBytes] = t
	return t
}

// TrackerForGB converts a limit in gigabytes and returns its tracker.
func (r *Registry) TrackerForGB(limitGB float64) (*Tracker, error) {
	limitBytes, err := GBToBytes(limitGB)
	if err != nil {
		return nil, err
	}
	return r.Tracker(limitBytes), nil
}

// Lookup returns the tracker for limitBytes without creating one.
func (r *Registry) Lookup(limitBytes int64) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[limitBytes]
	return t, ok
}

// Len returns the number of trackers created so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

// Reset drops all trackers. Subsequent lookups start from zero.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers = make(map[int64]*Tracker)
}

// GBToBytes converts a gigabyte limit into bytes.
func GBToBytes(limitGB float64) (int64, error) {
	if math.IsNaN(limitGB) || math.IsInf(limitGB, 0) || limitGB < 0 {
		return 0, fmt.Errorf("invalid budget limit: %v GB", limitGB)
	}
	bytes := limitGB * BytesPerGB
	if bytes >= math.MaxInt64 {
		return math.MaxInt64, nil
	}
	return int64(math.Round(bytes)), nil
}

// FormatGB renders a byte count as gigabytes with two decimals.
func FormatGB(bytes int64) string {
	return fmt.Sprintf("%.2f GB", float64(bytes)/BytesPerGB)
}
