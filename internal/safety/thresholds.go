package safety

import (
	"fmt"
	"time"

	"github.com/steveyegge/sleuth/internal/types"
)

// Thresholds are the ceilings the monitor enforces. They are fixed at construction.
type Thresholds struct {
	MaxCPUPercent    float64       `yaml:"max_cpu_percent"`
	MaxWaitMs        float64       `yaml:"max_wait_ms"`
	MaxBlockingCount int           `yaml:"max_blocking_count"`
	MaxDuration      time.Duration `yaml:"max_duration"`
	SampleInterval   time.Duration `yaml:"sample_interval"`
	// TripCount is the number of violating cycles that marks the run unsafe.
	TripCount int `yaml:"violation_trip_count"`
	// HistoryWindow bounds how long samples are retained.
	HistoryWindow time.Duration `yaml:"history_window"`
	// StopTimeout bounds how long Stop waits for the sampling loop to exit.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// DefaultThresholds returns conservative production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxCPUPercent:    80,
		MaxWaitMs:        1000,
		MaxBlockingCount: 5,
		MaxDuration:      30 * time.Minute,
		SampleInterval:   10 * time.Second,
		TripCount:        3,
		HistoryWindow:    time.Hour,
		StopTimeout:      5 * time.Second,
	}
}

// Validate checks that every ceiling is usable.
func (t Thresholds) Validate() error {
	switch {
	case t.MaxCPUPercent <= 0 || t.MaxCPUPercent > 100:
		return fmt.Errorf("max_cpu_percent must be in (0, 100], got %.1f", t.MaxCPUPercent)
	case t.MaxWaitMs <= 0:
		return fmt.Errorf("max_wait_ms must be positive, got %.1f", t.MaxWaitMs)
	case t.MaxBlockingCount < 0:
		return fmt.Errorf("max_blocking_count must be non-negative, got %d", t.MaxBlockingCount)
	case t.MaxDuration <= 0:
		return fmt.Errorf("max_duration must be positive, got %v", t.MaxDuration)
	case t.SampleInterval <= 0:
		return fmt.Errorf("sample_interval must be positive, got %v", t.SampleInterval)
	case t.TripCount < 1:
		return fmt.Errorf("violation_trip_count must be at least 1, got %d", t.TripCount)
	case t.HistoryWindow <= 0:
		return fmt.Errorf("history_window must be positive, got %v", t.HistoryWindow)
	case t.StopTimeout <= 0:
		return fmt.Errorf("stop_timeout must be positive, got %v", t.StopTimeout)
	}
	return nil
}

// Check returns a description of every threshold snap exceeds.
// Metrics missing from snap are not checked.
func (t Thresholds) Check(snap *types.MetricsSnapshot) []string {
	var violations []string
	if cpu, ok := snap.Value(types.MetricCPUPercent); ok && cpu > t.MaxCPUPercent {
		violations = append(violations,
			fmt.Sprintf("High CPU usage: %.1f%% (threshold: %.0f%%)", cpu, t.MaxCPUPercent))
	}
	if wait, ok := snap.Value(types.MetricEngineAvgWaitMs); ok && wait > t.MaxWaitMs {
		violations = append(violations,
			fmt.Sprintf("High wait times: %.1fms (threshold: %.0fms)", wait, t.MaxWaitMs))
	}
	if blocked, ok := snap.Value(types.MetricEngineBlockedSessions); ok && int(blocked) > t.MaxBlockingCount {
		violations = append(violations,
			fmt.Sprintf("Blocking sessions: %d (threshold: %d)", int(blocked), t.MaxBlockingCount))
	}
	return violations
}
