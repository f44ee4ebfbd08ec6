// Package audit records tool executions: what ran, whether it succeeded and
// how many bytes it scanned.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tareqmamari/grail-mcp-server/internal/security"
	"github.com/tareqmamari/grail-mcp-server/internal/tracing"
)

// DefaultMaxEntries is the size of the in-memory ring.
const DefaultMaxEntries = 1000

// Entry represents a single audit log entry
type Entry struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	TraceID      string        `json:"trace_id,omitempty"`
	SpanID       string        `json:"span_id,omitempty"`
	Tool         string        `json:"tool"`
	Operation    string        `json:"operation"` // query, verify, budget
	Success      bool          `json:"success"`
	Duration     time.Duration `json:"duration"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMsg     string        `json:"error_message,omitempty"`
	ResultCount  int           `json:"result_count,omitempty"`
	BytesScanned int64         `json:"bytes_scanned,omitempty"`
}

// Logger handles audit logging
type Logger struct {
	enabled bool
	logger  *zap.Logger

	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
}

// NewLogger creates a new audit logger
func NewLogger(logger *zap.Logger, enabled bool) *Logger {
	return &Logger{
		enabled:    enabled,
		logger:     logger.Named("audit"),
		entries:    make([]Entry, 0, 64),
		maxEntries: DefaultMaxEntries,
	}
}

// Log records an audit entry
func (l *Logger) Log(ctx context.Context, entry Entry) {
	if !l.enabled {
		return
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	info := tracing.FromContext(ctx)
	if info.TraceID != "" {
		entry.TraceID = info.TraceID
		entry.SpanID = info.SpanID
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.ErrorMsg = security.MaskSensitiveData(entry.ErrorMsg)

	fields := []zap.Field{
		zap.String("id", entry.ID),
		zap.String("tool", entry.Tool),
		zap.String("operation", entry.Operation),
		zap.Bool("success", entry.Success),
		zap.Duration("duration", entry.Duration),
	}
	if entry.TraceID != "" {
		fields = append(fields, zap.String("trace_id", entry.TraceID))
	}
	if entry.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", entry.ErrorCode))
	}
	if entry.ErrorMsg != "" {
		fields = append(fields, zap.String("error_message", entry.ErrorMsg))
	}
	if entry.ResultCount > 0 {
		fields = append(fields, zap.Int("result_count", entry.ResultCount))
	}
	if entry.BytesScanned > 0 {
		fields = append(fields, zap.Int64("bytes_scanned", entry.BytesScanned))
	}
	l.logger.Info("audit", fields...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.maxEntries {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
}

// GetRecentEntries returns up to limit entries, newest first. A non-positive
// limit returns everything.
func (l *Logger) GetRecentEntries(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}

	result := make([]Entry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, l.entries[i])
	}
	return result
}

// GetEntriesByTool returns audit entries for a specific tool, newest first
func (l *Logger) GetEntriesByTool(toolName string, limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Entry
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if l.entries[i].Tool == toolName {
			result = append(result, l.entries[i])
		}
	}
	return result
}

// Stats contains aggregated audit statistics
type Stats struct {
	TotalEntries      int            `json:"total_entries"`
	SuccessRate       float64        `json:"success_rate_pct"`
	AverageDuration   time.Duration  `json:"average_duration"`
	TotalBytesScanned int64          `json:"total_bytes_scanned"`
	ToolUsage         map[string]int `json:"tool_usage"`
	ErrorCounts       map[string]int `json:"error_counts"`
}

// GetStats returns statistics about audit entries
func (l *Logger) GetStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		TotalEntries: len(l.entries),
		ToolUsage:    make(map[string]int),
		ErrorCounts:  make(map[string]int),
	}

	var successCount int
	var totalDuration time.Duration
	for _, entry := range l.entries {
		stats.ToolUsage[entry.Tool]++
		stats.TotalBytesScanned += entry.BytesScanned
		if entry.Success {
			successCount++
		} else if entry.ErrorCode != "" {
			stats.ErrorCounts[entry.ErrorCode]++
		}
		totalDuration += entry.Duration
	}

	if len(l.entries) > 0 {
		stats.SuccessRate = float64(successCount) / float64(len(l.entries)) * 100
		stats.AverageDuration = totalDuration / time.Duration(len(l.entries))
	}
	return stats
}

// ToJSON returns the stats as JSON
func (s Stats) ToJSON() string {
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// Clear clears all audit entries
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// IsEnabled returns whether audit logging is enabled
func (l *Logger) IsEnabled() bool {
	return l.enabled
}
