package types

import (
	"sort"
	"time"
)

// Well-known metric names. Sources report whatever subset they can observe;
// consumers must treat every metric as optional.
const (
	MetricCPUPercent     = "cpu.percent"
	MetricCPUQueueLength = "cpu.queue_length"

	MetricMemoryAvailableMB     = "memory.available_mb"
	MetricMemoryPageLifeSeconds = "memory.page_life_expectancy"

	MetricDiskQueueLength   = "disk.queue_length"
	MetricDiskReadLatencyMs = "disk.read_latency_ms"
	MetricDiskStalledFiles  = "disk.stalled_files"

	MetricEngineAvgWaitMs       = "engine.avg_wait_ms"
	MetricEngineBlockedSessions = "engine.blocked_sessions"
	MetricEngineActiveRequests  = "engine.active_requests"
	MetricEngineCPUWaitCount    = "engine.cpu_wait_count"

	// EngineWaitPrefix prefixes per-class wait share metrics:
	// engine.wait.<class>.pct holds the percentage of total wait time.
	EngineWaitPrefix = "engine.wait."
	EngineWaitSuffix = ".pct"
)

// EngineWaitMetric returns the metric name for a wait class share.
func EngineWaitMetric(class string) string {
	return EngineWaitPrefix + class + EngineWaitSuffix
}

// MetricsSnapshot is an immutable point-in-time sample of named numeric metrics.
type MetricsSnapshot struct {
	Timestamp time.Time
	Source    string
	values    map[string]float64
}

// NewSnapshot copies values into a new snapshot.
func NewSnapshot(ts time.Time, source string, values map[string]float64) *MetricsSnapshot {
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &MetricsSnapshot{Timestamp: ts, Source: source, values: copied}
}

// Value returns the named metric and whether it was reported.
func (s *MetricsSnapshot) Value(name string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.values[name]
	return v, ok
}

// Len returns the number of metrics in the snapshot.
func (s *MetricsSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Names returns the metric names in sorted order.
func (s *MetricsSnapshot) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Values returns a copy of all metrics.
func (s *MetricsSnapshot) Values() map[string]float64 {
	out := make(map[string]float64, s.Len())
	if s == nil {
		return out
	}
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Merge returns a new snapshot holding the union of both metric sets.
// Values from other win on conflict. The later timestamp is kept.
func (s *MetricsSnapshot) Merge(other *MetricsSnapshot) *MetricsSnapshot {
	if other == nil {
		return s
	}
	if s == nil {
		return other
	}
	merged := s.Values()
	for k, v := range other.values {
		merged[k] = v
	}
	ts := s.Timestamp
	if other.Timestamp.After(ts) {
		ts = other.Timestamp
	}
	source := s.Source
	if other.Source != "" && other.Source != source {
		if source == "" {
			source = other.Source
		} else {
			source = source + "+" + other.Source
		}
	}
	return &MetricsSnapshot{Timestamp: ts, Source: source, values: merged}
}
