// Package safety watches the monitored system while an investigation runs and
// declares the run unsafe when it starts to hurt the workload it observes.
package safety

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/steveyegge/sleuth/internal/metrics"
	"github.com/steveyegge/sleuth/internal/types"
)

// ErrStopped is returned by Start on a monitor that has already been stopped.
var ErrStopped = errors.New("safety monitor already stopped")

// ErrNotMonitoring is returned by CurrentSample outside of a monitoring run.
var ErrNotMonitoring = errors.New("safety monitor is not running")

// Observer receives per-cycle outcomes, typically for metrics export.
type Observer interface {
	SafetySample(ok bool, violations int)
	SafetyTripped(reason string)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Monitor) { m.log = log.With().Str("component", "safety").Logger() }
}

// WithOnViolation registers a callback fired after every cycle with at least one violation.
func WithOnViolation(fn func(violations []string, status *Status)) Option {
	return func(m *Monitor) { m.onViolation = fn }
}

// WithOnUnsafe registers a callback fired once when the run is declared unsafe.
func WithOnUnsafe(fn func(reason string)) Option {
	return func(m *Monitor) { m.onUnsafe = fn }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observer = o }
}

// withTicks replaces the sampling timer with an externally driven channel.
func withTicks(ch <-chan time.Time) Option {
	return func(m *Monitor) { m.ticks = ch }
}

// Monitor samples a metrics source on an interval and enforces Thresholds.
//
// The sampling goroutine is the only writer of the published Status while
// monitoring. Readers load the current pointer and never block on it.
type Monitor struct {
	source     metrics.Source
	thresholds Thresholds

	now         func() time.Time
	log         zerolog.Logger
	onViolation func([]string, *Status)
	onUnsafe    func(string)
	observer    Observer
	ticks       <-chan time.Time

	status atomic.Pointer[Status]

	// mu serializes Start and Stop.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor that has not started sampling.
func NewMonitor(source metrics.Source, thresholds Thresholds, opts ...Option) (*Monitor, error) {
	if source == nil {
		return nil, fmt.Errorf("metrics source is required")
	}
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid safety thresholds: %w", err)
	}
	m := &Monitor{
		source:     source,
		thresholds: thresholds,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.status.Store(&Status{State: StateNotStarted, IsSafe: true})
	return m, nil
}

// Thresholds returns the configured ceilings.
func (m *Monitor) Thresholds() Thresholds { return m.thresholds }

// Start begins background sampling. The first sample is taken immediately.
// Starting a running monitor logs a warning and does nothing.
func (m *Monitor) Start(ctx context.Context) error {
	return m.StartWith(ctx, nil)
}

// StartWith is Start with first standing in for the first cycle's sample, so a
// snapshot the caller has just collected is not fetched again. A nil first
// behaves like Start.
func (m *Monitor) StartWith(ctx context.Context, first *types.MetricsSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.status.Load().State {
	case StateMonitoring:
		m.log.Warn().Msg("safety monitoring already active")
		return nil
	case StateStopped:
		return ErrStopped
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.status.Store(&Status{
		State:        StateMonitoring,
		IsMonitoring: true,
		IsSafe:       true,
		StartedAt:    m.now(),
	})

	go m.monitoringLoop(loopCtx, m.done, first)

	m.log.Info().
		Dur("interval", m.thresholds.SampleInterval).
		Float64("max_cpu_percent", m.thresholds.MaxCPUPercent).
		Float64("max_wait_ms", m.thresholds.MaxWaitMs).
		Int("max_blocking", m.thresholds.MaxBlockingCount).
		Msg("safety monitoring started")
	return nil
}

// Stop ends sampling and returns a summary of the run. It waits at most
// StopTimeout for the sampling loop; a cycle still in flight after that is discarded.
// Stopping a monitor that is not running returns a summary of its current state.
func (m *Monitor) Stop() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.Load().State != StateMonitoring {
		return summarize(m.status.Load())
	}

	m.cancel()
	select {
	case <-m.done:
	case <-time.After(m.thresholds.StopTimeout):
		m.log.Warn().Dur("timeout", m.thresholds.StopTimeout).Msg("safety monitor loop did not exit in time")
	}

	var final *Status
	for {
		cur := m.status.Load()
		final = cur.clone()
		final.State = StateStopped
		final.IsMonitoring = false
		final.StoppedAt = m.now()
		if m.status.CompareAndSwap(cur, final) {
			break
		}
	}

	summary := summarize(final)
	m.log.Info().
		Dur("duration", summary.Duration).
		Int("samples", summary.SamplesCollected).
		Int("violations", summary.ViolationCount).
		Bool("safe", summary.WasSafe).
		Msg("safety monitoring stopped")
	return summary
}

// IsSafe reports whether the run is still considered safe. It never blocks.
func (m *Monitor) IsSafe() bool { return m.status.Load().IsSafe }

// Reason returns why the run was declared unsafe, or "" while safe.
func (m *Monitor) Reason() string { return m.status.Load().UnsafeReason }

// Status returns the latest published status. Callers must not modify it.
func (m *Monitor) Status() *Status { return m.status.Load() }

// State returns the lifecycle state.
func (m *Monitor) State() State { return m.status.Load().State }

// CurrentSample takes an on-demand snapshot without recording it.
func (m *Monitor) CurrentSample(ctx context.Context) (*types.MetricsSnapshot, error) {
	if m.State() != StateMonitoring {
		return nil, ErrNotMonitoring
	}
	return m.source.Snapshot(ctx)
}

func (m *Monitor) monitoringLoop(ctx context.Context, done chan struct{}, first *types.MetricsSnapshot) {
	defer close(done)

	if first != nil {
		m.record(first, nil)
	} else {
		m.runCycle(ctx)
	}

	ticks := m.ticks
	var timer *time.Timer
	if ticks == nil {
		timer = time.NewTimer(m.thresholds.SampleInterval)
		defer timer.Stop()
		ticks = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			m.runCycle(ctx)
			if timer != nil {
				timer.Reset(m.thresholds.SampleInterval)
			}
		}
	}
}

// runCycle takes one sample and records it.
func (m *Monitor) runCycle(ctx context.Context) {
	if m.status.Load().State != StateMonitoring {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.thresholds.SampleInterval)
	snap, err := m.source.Snapshot(fetchCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	m.record(snap, err)
}

// record evaluates one fetch result and publishes the next status.
func (m *Monitor) record(snap *types.MetricsSnapshot, err error) {
	cur := m.status.Load()
	if cur.State != StateMonitoring {
		return
	}

	now := m.now()
	next := cur.clone()
	next.Samples = pruneBefore(cur.Samples, now.Add(-m.thresholds.HistoryWindow))
	var violations []string
	tripped := ""

	if err != nil {
		next.Totals.FailedSamples++
		m.log.Warn().Err(err).Msg("failed to collect safety sample")
	} else {
		violations = m.thresholds.Check(snap)
		next.Samples = append(next.Samples, Sample{
			Timestamp:  now,
			Snapshot:   snap,
			Violations: violations,
		})
		next.Totals.add(snap)

		if len(violations) > 0 {
			next.ViolationCount++
			next.LastViolationReason = strings.Join(violations, "; ")
			next.LastViolationAt = now
			m.log.Warn().
				Int("violation_count", next.ViolationCount).
				Strs("violations", violations).
				Msg("performance threshold violated")

			if next.IsSafe && next.ViolationCount >= m.thresholds.TripCount {
				tripped = fmt.Sprintf("Multiple performance violations (%d): %s",
					next.ViolationCount, next.LastViolationReason)
			}
		}
	}

	if tripped == "" && next.IsSafe && now.Sub(next.StartedAt) > m.thresholds.MaxDuration {
		tripped = fmt.Sprintf("Maximum analysis duration exceeded (%.0f minutes)", m.thresholds.MaxDuration.Minutes())
	}
	if tripped != "" {
		next.IsSafe = false
		next.UnsafeReason = tripped
	}

	if !m.status.CompareAndSwap(cur, next) {
		// Stop finalized the status while this cycle was in flight.
		return
	}

	if m.observer != nil {
		m.observer.SafetySample(err == nil, len(violations))
	}
	if len(violations) > 0 && m.onViolation != nil {
		m.callback("violation", func() { m.onViolation(violations, next) })
	}
	if tripped != "" {
		m.log.Error().Str("reason", tripped).Msg("investigation declared unsafe")
		if m.observer != nil {
			m.observer.SafetyTripped(tripped)
		}
		if m.onUnsafe != nil {
			m.callback("unsafe", func() { m.onUnsafe(tripped) })
		}
	}
}

// callback runs fn, logging instead of propagating a panic so that a faulty
// handler cannot stop sampling.
func (m *Monitor) callback(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("callback", name).Interface("panic", r).Msg("safety callback panicked")
		}
	}()
	fn()
}
