package safety

import (
	"time"

	"github.com/steveyegge/sleuth/internal/types"
)

// State is the monitor lifecycle state.
type State int

const (
	StateNotStarted State = iota
	StateMonitoring
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateMonitoring:
		return "MONITORING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Sample is one successful sampling cycle.
type Sample struct {
	Timestamp  time.Time
	Snapshot   *types.MetricsSnapshot
	Violations []string
}

// Totals accumulate over the whole run, independent of the history window.
type Totals struct {
	Samples       int
	FailedSamples int
	CPUSamples    int
	CPUSum        float64
	CPUPeak       float64
	WaitSamples   int
	WaitSum       float64
	WaitPeak      float64
	BlockingPeak  int
}

func (t *Totals) add(snap *types.MetricsSnapshot) {
	t.Samples++
	if v, ok := snap.Value(types.MetricCPUPercent); ok {
		t.CPUSamples++
		t.CPUSum += v
		if v > t.CPUPeak {
			t.CPUPeak = v
		}
	}
	if v, ok := snap.Value(types.MetricEngineAvgWaitMs); ok {
		t.WaitSamples++
		t.WaitSum += v
		if v > t.WaitPeak {
			t.WaitPeak = v
		}
	}
	if v, ok := snap.Value(types.MetricEngineBlockedSessions); ok && int(v) > t.BlockingPeak {
		t.BlockingPeak = int(v)
	}
}

// Status is an immutable view of the monitor. A new value is published
// after every cycle; readers never observe a partially updated record.
type Status struct {
	State               State
	IsMonitoring        bool
	IsSafe              bool
	ViolationCount      int
	LastViolationReason string
	LastViolationAt     time.Time
	UnsafeReason        string
	StartedAt           time.Time
	StoppedAt           time.Time
	// Samples is the rolling history, oldest first. Do not modify.
	Samples []Sample
	Totals  Totals
}

func (s *Status) clone() *Status {
	cp := *s
	return &cp
}

// Recent returns up to n of the newest samples.
func (s *Status) Recent(n int) []Sample {
	if n <= 0 || len(s.Samples) == 0 {
		return nil
	}
	if n > len(s.Samples) {
		n = len(s.Samples)
	}
	return s.Samples[len(s.Samples)-n:]
}

// pruneBefore returns the samples newer than cutoff in a fresh slice.
func pruneBefore(samples []Sample, cutoff time.Time) []Sample {
	i := 0
	for i < len(samples) && !samples[i].Timestamp.After(cutoff) {
		i++
	}
	out := make([]Sample, len(samples)-i, len(samples)-i+1)
	copy(out, samples[i:])
	return out
}

// Summary is returned by Stop.
type Summary struct {
	State               State         `json:"state"`
	Duration            time.Duration `json:"duration"`
	ViolationCount      int           `json:"violation_count"`
	SamplesCollected    int           `json:"samples_collected"`
	FailedSamples       int           `json:"failed_samples"`
	AvgCPUPercent       float64       `json:"avg_cpu_percent"`
	PeakCPUPercent      float64       `json:"peak_cpu_percent"`
	AvgWaitMs           float64       `json:"avg_wait_ms"`
	PeakWaitMs          float64       `json:"peak_wait_ms"`
	PeakBlocking        int           `json:"peak_blocking"`
	WasSafe             bool          `json:"was_safe"`
	UnsafeReason        string        `json:"unsafe_reason,omitempty"`
	LastViolationReason string        `json:"last_violation_reason,omitempty"`
}

func summarize(s *Status) Summary {
	sum := Summary{
		State:               s.State,
		ViolationCount:      s.ViolationCount,
		SamplesCollected:    s.Totals.Samples,
		FailedSamples:       s.Totals.FailedSamples,
		PeakCPUPercent:      s.Totals.CPUPeak,
		PeakWaitMs:          s.Totals.WaitPeak,
		PeakBlocking:        s.Totals.BlockingPeak,
		WasSafe:             s.IsSafe,
		UnsafeReason:        s.UnsafeReason,
		LastViolationReason: s.LastViolationReason,
	}
	if !s.StartedAt.IsZero() && !s.StoppedAt.IsZero() {
		sum.Duration = s.StoppedAt.Sub(s.StartedAt)
	}
	if s.Totals.CPUSamples > 0 {
		sum.AvgCPUPercent = s.Totals.CPUSum / float64(s.Totals.CPUSamples)
	}
	if s.Totals.WaitSamples > 0 {
		sum.AvgWaitMs = s.Totals.WaitSum / float64(s.Totals.WaitSamples)
	}
	return sum
}
