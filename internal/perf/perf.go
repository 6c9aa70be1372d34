// Package perf captures per-operation timing and success counts.
package perf

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// OperationStats aggregates recordings for one component/operation pair.
type OperationStats struct {
	Component     string
	Operation     string
	Count         int64
	Failures      int64
	TotalDuration time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
}

// Avg returns the mean duration across recordings.
func (s OperationStats) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Count)
}

// Monitor keeps in-memory operation stats and mirrors each recording to
// slog at debug level. No external metrics sink.
type Monitor struct {
	mu    sync.RWMutex
	stats map[string]*OperationStats
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		stats: make(map[string]*OperationStats),
	}
}

// RecordOperation records one completed operation.
func (m *Monitor) RecordOperation(component, operation string, success bool, duration time.Duration, attrs map[string]string) {
	key := component + "." + operation

	m.mu.Lock()
	s, ok := m.stats[key]
	if !ok {
		s = &OperationStats{Component: component, Operation: operation}
		m.stats[key] = s
	}
	s.Count++
	if !success {
		s.Failures++
	}
	s.TotalDuration += duration
	if s.MinDuration == 0 || duration < s.MinDuration {
		s.MinDuration = duration
	}
	if duration > s.MaxDuration {
		s.MaxDuration = duration
	}
	m.mu.Unlock()

	args := []any{
		"component", component,
		"operation", operation,
		"success", success,
		"duration", duration,
	}
	for k, v := range attrs {
		args = append(args, k, v)
	}
	slog.Debug("operation recorded", args...)
}

// Timer measures one operation from StartTimer to Stop.
type Timer struct {
	monitor   *Monitor
	component string
	operation string
	start     time.Time
}

// StartTimer begins timing an operation.
func (m *Monitor) StartTimer(component, operation string) *Timer {
	return &Timer{
		monitor:   m,
		component: component,
		operation: operation,
		start:     time.Now(),
	}
}

// Stop records the elapsed time.
func (t *Timer) Stop(success bool, attrs map[string]string) {
	t.monitor.RecordOperation(t.component, t.operation, success, time.Since(t.start), attrs)
}

// Snapshot returns a copy of all stats, ordered by component then
// operation.
func (m *Monitor) Snapshot() []OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]OperationStats, 0, len(m.stats))
	for _, s := range m.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Component != out[j].Component {
			return out[i].Component < out[j].Component
		}
		return out[i].Operation < out[j].Operation
	})
	return out
}

// Reset clears all stats.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = make(map[string]*OperationStats)
}

// DefaultMonitor is the process-wide monitor.
var DefaultMonitor = NewMonitor()

// RecordOperation records on the default monitor.
func RecordOperation(component, operation string, success bool, duration time.Duration, attrs map[string]string) {
	DefaultMonitor.RecordOperation(component, operation, success, duration, attrs)
}

// StartTimer starts a timer on the default monitor.
func StartTimer(component, operation string) *Timer {
	return DefaultMonitor.StartTimer(component, operation)
}

// Snapshot returns the default monitor's stats.
func Snapshot() []OperationStats {
	return DefaultMonitor.Snapshot()
}
