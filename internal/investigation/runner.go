// Package investigation runs one complete investigation: it samples the
// target, starts a safety monitor, drives the dialog and persists the report.
package investigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/steveyegge/sleuth/internal/ai"
	"github.com/steveyegge/sleuth/internal/dialog"
	"github.com/steveyegge/sleuth/internal/metrics"
	"github.com/steveyegge/sleuth/internal/report"
	"github.com/steveyegge/sleuth/internal/safety"
	"github.com/steveyegge/sleuth/internal/scorer"
	"github.com/steveyegge/sleuth/internal/storage"
	"github.com/steveyegge/sleuth/internal/telemetry"
	"github.com/steveyegge/sleuth/internal/types"
)

// ErrNoStore is returned by history lookups when the runner has no store.
var ErrNoStore = errors.New("no audit store configured")

// errReasoningDisabled is what the offline reasoner returns if it is ever reached.
var errReasoningDisabled = errors.New("reasoning disabled")

// Deps configure a Runner.
type Deps struct {
	Dialog dialog.Config
	Safety safety.Thresholds
	// Source supplies both the investigated snapshot and the safety samples.
	Source metrics.Source
	// Reasoner is optional. Without one the investigation is local-only.
	Reasoner dialog.Reasoner
	// Scorer defaults to the heuristic scorer with Dialog.TopN.
	Scorer dialog.Scorer
	// Store is optional; turns and reports are persisted when set.
	Store storage.Store
	// Telemetry is optional.
	Telemetry *telemetry.Metrics
	// DisableSafety skips the safety monitor.
	DisableSafety bool
	Logger        zerolog.Logger
}

// Runner executes investigations. Runs are serialized.
type Runner struct {
	deps Deps
	log  zerolog.Logger

	// mu serializes runs; the pointers may be read while a run is in progress.
	mu      sync.Mutex
	monitor atomic.Pointer[safety.Monitor]
	last    atomic.Pointer[report.Report]
}

// New creates a Runner.
func New(deps Deps) (*Runner, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("metrics source is required")
	}
	if err := deps.Dialog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dialog config: %w", err)
	}
	if !deps.DisableSafety {
		if err := deps.Safety.Validate(); err != nil {
			return nil, fmt.Errorf("invalid safety thresholds: %w", err)
		}
	}
	if deps.Scorer == nil {
		opts := scorer.DefaultOptions()
		opts.TopN = deps.Dialog.TopN
		deps.Scorer = scorer.New(opts)
	}
	if deps.Reasoner == nil {
		// Local-only: a zero turn budget finishes right after scoring.
		deps.Dialog.TurnBudget = 0
		deps.Reasoner = offlineReasoner{}
	}
	return &Runner{
		deps: deps,
		log:  deps.Logger.With().Str("component", "investigation").Logger(),
	}, nil
}

// Run samples the source and investigates the result. The sample also serves
// as the safety monitor's first cycle.
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	snap, err := r.deps.Source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}
	return r.run(ctx, snap, snap)
}

// RunSnapshot investigates snap. The safety monitor samples the live source
// for the duration of the run.
func (r *Runner) RunSnapshot(ctx context.Context, snap *types.MetricsSnapshot) (*report.Report, error) {
	return r.run(ctx, snap, nil)
}

// run investigates snap. first, when set, is a live sample taken just now.
func (r *Runner) run(ctx context.Context, snap, first *types.MetricsSnapshot) (*report.Report, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		signal  dialog.SafetySignal
		monitor *safety.Monitor
	)
	if !r.deps.DisableSafety {
		m, err := r.newMonitor()
		if err != nil {
			return nil, err
		}
		if err := m.StartWith(ctx, first); err != nil {
			return nil, fmt.Errorf("failed to start safety monitor: %w", err)
		}
		monitor = m
		signal = m
		r.monitor.Store(m)
	}

	orch, err := dialog.New(r.deps.Dialog, dialog.Deps{
		Scorer:   r.deps.Scorer,
		Reasoner: r.deps.Reasoner,
		Safety:   signal,
		Hooks:    r.hooks(),
		Logger:   r.deps.Logger,
	})
	if err != nil {
		if monitor != nil {
			monitor.Stop()
		}
		return nil, err
	}

	if r.deps.Telemetry != nil {
		r.deps.Telemetry.InvestigationStarted()
	}

	dc, err := orch.Investigate(ctx, snap)
	var summary *safety.Summary
	if monitor != nil {
		s := monitor.Stop()
		summary = &s
	}
	if err != nil {
		return nil, err
	}

	rep, err := report.Build(dc, summary)
	if err != nil {
		return nil, err
	}

	if r.deps.Store != nil {
		// The context may already be canceled; the report is still worth keeping.
		if err := r.deps.Store.SaveReport(context.WithoutCancel(ctx), rep); err != nil {
			r.log.Warn().Err(err).Str("session", rep.SessionID).Msg("failed to persist report")
		}
	}
	r.last.Store(rep)
	return rep, nil
}

// Last returns the most recent report produced by this runner, or nil.
func (r *Runner) Last() *report.Report {
	return r.last.Load()
}

// SafetyStatus returns the status of the most recent safety monitor, or nil
// when none has run.
func (r *Runner) SafetyStatus() *safety.Status {
	m := r.monitor.Load()
	if m == nil {
		return nil
	}
	return m.Status()
}

// Watch runs a standalone safety monitor until ctx is done or the monitor
// declares the target unsafe, and returns its summary. onViolation, when set,
// receives every cycle that crossed a threshold.
func (r *Runner) Watch(ctx context.Context, onViolation func([]string, *safety.Status)) (safety.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []safety.Option{safety.WithOnUnsafe(func(string) { cancel() })}
	if onViolation != nil {
		opts = append(opts, safety.WithOnViolation(onViolation))
	}
	m, err := r.newMonitor(opts...)
	if err != nil {
		return safety.Summary{}, err
	}
	if err := m.Start(ctx); err != nil {
		return safety.Summary{}, fmt.Errorf("failed to start safety monitor: %w", err)
	}
	r.monitor.Store(m)

	<-ctx.Done()
	return m.Stop(), nil
}

// History lists persisted investigations, newest first.
func (r *Runner) History(ctx context.Context, limit int) ([]storage.InvestigationRecord, error) {
	if r.deps.Store == nil {
		return nil, ErrNoStore
	}
	return r.deps.Store.ListInvestigations(ctx, limit)
}

// Report loads a persisted report.
func (r *Runner) Report(ctx context.Context, sessionID string) (*report.Report, error) {
	if r.deps.Store == nil {
		return nil, ErrNoStore
	}
	return r.deps.Store.GetReport(ctx, sessionID)
}

func (r *Runner) newMonitor(extra ...safety.Option) (*safety.Monitor, error) {
	opts := []safety.Option{safety.WithLogger(r.deps.Logger)}
	if r.deps.Telemetry != nil {
		opts = append(opts, safety.WithObserver(r.deps.Telemetry))
	}
	opts = append(opts, extra...)
	m, err := safety.NewMonitor(r.deps.Source, r.deps.Safety, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create safety monitor: %w", err)
	}
	return m, nil
}

func (r *Runner) hooks() dialog.Hooks {
	return dialog.Hooks{
		OnTurn: func(ctx context.Context, dc *dialog.DialogContext, turn dialog.Turn) {
			if r.deps.Telemetry != nil {
				r.deps.Telemetry.ObserveTurn(turn)
			}
			if r.deps.Store != nil {
				if err := r.deps.Store.SaveTurn(context.WithoutCancel(ctx), dc.SessionID, turn); err != nil {
					r.log.Warn().Err(err).
						Str("session", dc.SessionID).
						Int("turn", turn.Number).
						Msg("failed to persist turn")
				}
			}
		},
		OnFinish: func(_ context.Context, dc *dialog.DialogContext) {
			if r.deps.Telemetry != nil {
				r.deps.Telemetry.ObserveInvestigation(dc)
			}
		},
	}
}

type offlineReasoner struct{}

func (offlineReasoner) Complete(context.Context, string, int64) (ai.Completion, error) {
	return ai.Completion{}, fmt.Errorf("%w: %w", types.ErrReasoningFailure, errReasoningDisabled)
}
