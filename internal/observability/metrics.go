package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	itemCount    map[string]int64
	snapshots    int64
	warnings     int64
	emitAttempts int64
	emitDuration time.Duration
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Requests        map[string]int64 `json:"requests"`
	Errors          map[string]int64 `json:"errors"`
	Items           map[string]int64 `json:"items"`
	Snapshots       int64            `json:"snapshots_emitted"`
	Warnings        int64            `json:"warnings"`
	EmitAttempts    int64            `json:"emit_attempts"`
	EmitDurationSec float64          `json:"emit_duration_seconds"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		itemCount:    make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordItem counts one item outcome by status, and its emitted snapshots and warnings.
func (m *Metrics) RecordItem(status string, snapshots, warnings int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.itemCount[status]++
	m.snapshots += int64(snapshots)
	m.warnings += int64(warnings)
}

// RecordEmit tracks one emission including all of its retries.
func (m *Metrics) RecordEmit(attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitAttempts += int64(attempts)
	m.emitDuration += duration
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Requests:        copyCounts(m.requestCount),
		Errors:          copyCounts(m.errorCount),
		Items:           copyCounts(m.itemCount),
		Snapshots:       m.snapshots,
		Warnings:        m.warnings,
		EmitAttempts:    m.emitAttempts,
		EmitDurationSec: m.emitDuration.Seconds(),
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
