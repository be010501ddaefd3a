// Package dialog drives a bounded, confidence-gated exchange with a reasoning
// service to refine the local bottleneck hypotheses.
//
// An investigation is a small state machine. It starts ACTIVE and ends in
// exactly one of COMPLETED, ABORTED, BUDGET_EXHAUSTED or TURN_LIMIT_REACHED.
// The safety signal is polled at the start of every turn, which is the only
// cancellation point; a reasoning call already in flight runs until it
// returns or its turn timeout expires.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/steveyegge/sleuth/internal/ai"
	"github.com/steveyegge/sleuth/internal/types"
	"golang.org/x/time/rate"
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Scorer   Scorer   // required
	Reasoner Reasoner // required
	Safety   SafetySignal
	Hooks    Hooks
	Logger   zerolog.Logger
	// Now overrides the clock used for timestamps.
	Now func() time.Time
}

// Orchestrator runs investigations. It holds no per-investigation state and
// may be reused, but each Investigate call runs on the caller's goroutine.
type Orchestrator struct {
	cfg      Config
	scorer   Scorer
	reasoner Reasoner
	safety   SafetySignal
	hooks    Hooks
	now      func() time.Time
	log      zerolog.Logger
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dialog config: %w", err)
	}
	if deps.Scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if deps.Reasoner == nil {
		return nil, fmt.Errorf("reasoner is required")
	}
	o := &Orchestrator{
		cfg:      cfg,
		scorer:   deps.Scorer,
		reasoner: deps.Reasoner,
		safety:   deps.Safety,
		hooks:    deps.Hooks,
		now:      deps.Now,
		log:      deps.Logger.With().Str("component", "dialog").Logger(),
	}
	if o.safety == nil {
		o.safety = alwaysSafe{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Config returns the orchestrator configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Investigate scores snap locally and, if that is not conclusive, consults
// the reasoning service turn by turn. The returned context always carries a
// terminal status; the error is reserved for invalid arguments.
func (o *Orchestrator) Investigate(ctx context.Context, snap *types.MetricsSnapshot) (*DialogContext, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot is required")
	}

	dc := &DialogContext{
		SessionID:  uuid.NewString(),
		StartTime:  o.now(),
		CostBudget: o.cfg.CostBudget,
		TurnBudget: o.cfg.TurnBudget,
		Status:     StatusActive,
	}
	log := o.log.With().Str("session", dc.SessionID).Logger()
	ctx = ai.WithSession(ctx, dc.SessionID)

	local := o.scorer.Score(snap)
	dc.Candidates = cloneCandidates(local.Candidates)
	dc.LocalConfidence = local.Confidence
	dc.OverallConfidence = local.Confidence

	log.Info().
		Int("candidates", len(dc.Candidates)).
		Float64("confidence", local.Confidence).
		Str("source", snap.Source).
		Msg("local scoring complete")

	if local.Confidence >= o.cfg.ConfidenceThreshold {
		dc.setTerminal(StatusCompleted, "", o.now())
		o.finish(ctx, log, dc)
		return dc, nil
	}

	var limiter *rate.Limiter
	if o.cfg.TurnDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(o.cfg.TurnDelay), 1)
	}
	asked := make(map[string]bool)

	for !dc.Status.Terminal() {
		o.turn(ctx, log, dc, asked, limiter)
	}

	o.finish(ctx, log, dc)
	return dc, nil
}

// turn runs one iteration of the dialog loop and may set a terminal status.
func (o *Orchestrator) turn(ctx context.Context, log zerolog.Logger, dc *DialogContext, asked map[string]bool, limiter *rate.Limiter) {
	if o.checkPreconditions(ctx, dc) {
		return
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			dc.setTerminal(StatusAborted, fmt.Sprintf("investigation canceled: %v", err), o.now())
			return
		}
		// The pause may have outlived the safe window.
		if o.checkPreconditions(ctx, dc) {
			return
		}
	}

	questions := pickQuestions(dc.Candidates, asked, o.cfg.QuestionsPerTurn)
	prompt := buildPrompt(dc, questions)
	remaining := dc.CostBudget - dc.CostUsed

	start := o.now()
	completion, err := o.complete(ctx, prompt, remaining)
	cost := completion.CostUsed
	if cost < 0 {
		cost = 0
	}
	dc.CostUsed += cost

	for _, q := range questions {
		key := normalizeQuestion(q)
		if !asked[key] {
			asked[key] = true
			dc.AskedQuestions = append(dc.AskedQuestions, q)
		}
	}

	turn := Turn{
		Number:    dc.CurrentTurn + 1,
		Prompt:    prompt,
		Response:  completion.Content,
		CostUsed:  cost,
		Timestamp: start,
		Duration:  o.now().Sub(start),
		Questions: questions,
	}

	var resp Response
	var reason string
	budgetBound := false
	switch {
	case !o.safety.IsSafe():
		// A verdict that arrived during the call wins over the turn's result.
		if err != nil {
			turn.Error = o.failureReason(err)
		}
	case errors.Is(err, types.ErrBudgetExceeded):
		budgetBound = true
		turn.Error = err.Error()
	case err != nil:
		reason = o.failureReason(err)
	default:
		if resp, err = parseResponse(completion.Content); err != nil {
			reason = fmt.Sprintf("unusable reasoning response: %v", err)
		}
	}
	if reason != "" {
		turn.Error = reason
	}
	turn.Answers = resp.Answers

	dc.Transcript = append(dc.Transcript, turn)
	dc.CurrentTurn++

	log.Info().
		Int("turn", turn.Number).
		Int64("cost", cost).
		Int64("cost_used", dc.CostUsed).
		Int("findings", len(resp.Findings)).
		Dur("duration", turn.Duration).
		Msg("reasoning turn complete")

	if o.hooks.OnTurn != nil {
		o.hooks.OnTurn(ctx, dc, turn)
	}

	if reason != "" {
		dc.setTerminal(StatusAborted, reason, o.now())
		return
	}
	if !o.safety.IsSafe() {
		dc.setTerminal(StatusAborted, o.safetyReason(), o.now())
		return
	}
	if budgetBound {
		dc.setTerminal(StatusBudgetExhausted,
			fmt.Sprintf("cost budget exhausted (%d/%d): %v", dc.CostUsed, dc.CostBudget, err), o.now())
		return
	}

	dc.Candidates = merge(dc.Candidates, resp.Findings, o.cfg.TopN)
	dc.OverallConfidence = overallConfidence(dc.Candidates)

	switch {
	case dc.CostUsed >= dc.CostBudget:
		dc.setTerminal(StatusBudgetExhausted,
			fmt.Sprintf("cost budget exhausted (%d/%d)", dc.CostUsed, dc.CostBudget), o.now())
	case dc.OverallConfidence >= o.cfg.ConfidenceThreshold:
		dc.setTerminal(StatusCompleted, "", o.now())
	case dc.CurrentTurn >= dc.TurnBudget:
		dc.setTerminal(StatusTurnLimitReached,
			fmt.Sprintf("turn budget reached (%d turns)", dc.TurnBudget), o.now())
	}
}

// checkPreconditions applies the start-of-turn gates and reports whether a
// terminal status was set.
func (o *Orchestrator) checkPreconditions(ctx context.Context, dc *DialogContext) bool {
	switch {
	case !o.safety.IsSafe():
		dc.setTerminal(StatusAborted, o.safetyReason(), o.now())
	case ctx.Err() != nil:
		dc.setTerminal(StatusAborted, fmt.Sprintf("investigation canceled: %v", ctx.Err()), o.now())
	case dc.CostUsed >= dc.CostBudget:
		dc.setTerminal(StatusBudgetExhausted,
			fmt.Sprintf("cost budget exhausted (%d/%d)", dc.CostUsed, dc.CostBudget), o.now())
	case dc.CurrentTurn >= dc.TurnBudget:
		dc.setTerminal(StatusTurnLimitReached,
			fmt.Sprintf("turn budget reached (%d turns)", dc.TurnBudget), o.now())
	default:
		return false
	}
	return true
}

type completeResult struct {
	completion ai.Completion
	err        error
}

// complete calls the reasoner under the turn timeout. A reasoner that ignores
// its context is abandoned when the deadline passes; its late result is dropped.
func (o *Orchestrator) complete(ctx context.Context, prompt string, maxCost int64) (ai.Completion, error) {
	turnCtx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	done := make(chan completeResult, 1)
	go func() {
		c, err := o.reasoner.Complete(turnCtx, prompt, maxCost)
		done <- completeResult{completion: c, err: err}
	}()

	select {
	case r := <-done:
		return r.completion, r.err
	case <-turnCtx.Done():
		return ai.Completion{}, turnCtx.Err()
	}
}

func (o *Orchestrator) failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("reasoning service timed out after %v", o.cfg.TurnTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Sprintf("investigation canceled: %v", err)
	}
	return fmt.Sprintf("reasoning service failure: %v", err)
}

func (o *Orchestrator) safetyReason() string {
	if r := o.safety.Reason(); r != "" {
		return fmt.Sprintf("%v: %s", types.ErrSafetyViolation, r)
	}
	return types.ErrSafetyViolation.Error()
}

func (o *Orchestrator) finish(ctx context.Context, log zerolog.Logger, dc *DialogContext) {
	event := log.Info()
	if dc.Status == StatusAborted {
		event = log.Warn().Str("reason", dc.AbortReason)
	}
	event.
		Str("status", string(dc.Status)).
		Int("turns", dc.CurrentTurn).
		Int64("cost_used", dc.CostUsed).
		Float64("confidence", dc.OverallConfidence).
		Dur("duration", dc.Duration()).
		Msg("investigation finished")

	if o.hooks.OnFinish != nil {
		o.hooks.OnFinish(ctx, dc)
	}
}

func cloneCandidates(in []types.BottleneckCandidate) []types.BottleneckCandidate {
	out := make([]types.BottleneckCandidate, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

type alwaysSafe struct{}

func (alwaysSafe) IsSafe() bool   { return true }
func (alwaysSafe) Reason() string { return "" }
