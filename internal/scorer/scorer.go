// Package scorer ranks bottleneck hypotheses from a single metrics snapshot
// using fixed local heuristics. It never performs I/O.
package scorer

import (
	"github.com/steveyegge/sleuth/internal/types"
)

const (
	// DefaultTopN is the number of candidates kept after ranking.
	DefaultTopN = 5
	// DefaultConfidenceFloor is the minimum confidence a sub-scorer must reach to emit a candidate.
	DefaultConfidenceFloor = 0.5
	// DefaultRegressionRatio is the relative change against a baseline that counts as a regression.
	DefaultRegressionRatio = 0.5

	baselineBoost = 0.1
)

// Options tunes candidate selection.
type Options struct {
	TopN            int
	ConfidenceFloor float64
	// RegressionRatio is the fractional worsening versus the baseline
	// snapshot that adds a small confidence boost. Zero disables it.
	RegressionRatio float64
}

// DefaultOptions returns the standard scorer options.
func DefaultOptions() Options {
	return Options{
		TopN:            DefaultTopN,
		ConfidenceFloor: DefaultConfidenceFloor,
		RegressionRatio: DefaultRegressionRatio,
	}
}

// Result is the scorer output: ranked candidates and the aggregate confidence.
type Result struct {
	Candidates []types.BottleneckCandidate
	// Confidence is the maximum candidate confidence, or 0 when no candidate qualified.
	Confidence float64
}

// Scorer applies the heuristics with fixed options and an optional baseline.
type Scorer struct {
	opts     Options
	baseline *types.MetricsSnapshot
}

// New creates a Scorer. Zero-valued option fields fall back to defaults.
func New(opts Options) *Scorer {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if opts.ConfidenceFloor <= 0 {
		opts.ConfidenceFloor = DefaultConfidenceFloor
	}
	return &Scorer{opts: opts}
}

// WithBaseline returns a copy of the scorer that compares against baseline.
func (s *Scorer) WithBaseline(baseline *types.MetricsSnapshot) *Scorer {
	cp := *s
	cp.baseline = baseline
	return &cp
}

// Score runs every sub-scorer over snap.
func (s *Scorer) Score(snap *types.MetricsSnapshot) Result {
	return Score(snap, s.baseline, s.opts)
}

// Score runs every sub-scorer over snap and returns the ranked top candidates.
// Metrics missing from snap disable only the conditions that depend on them.
func Score(snap, baseline *types.MetricsSnapshot, opts Options) Result {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if opts.ConfidenceFloor <= 0 {
		opts.ConfidenceFloor = DefaultConfidenceFloor
	}
	if snap == nil || snap.Len() == 0 {
		return Result{}
	}

	ev := &evaluator{snap: snap, baseline: baseline, ratio: opts.RegressionRatio}

	var cands []types.BottleneckCandidate
	for _, analyze := range []func(*evaluator) []types.BottleneckCandidate{
		analyzeCPU,
		analyzeMemory,
		analyzeDisk,
		analyzeEngineWaits,
		analyzeLockContention,
	} {
		for _, c := range analyze(ev) {
			if c.Confidence >= opts.ConfidenceFloor {
				cands = append(cands, c)
			}
		}
	}

	types.RankCandidates(cands)
	if len(cands) > opts.TopN {
		cands = cands[:opts.TopN]
	}

	var agg float64
	for _, c := range cands {
		if c.Confidence > agg {
			agg = c.Confidence
		}
	}
	return Result{Candidates: cands, Confidence: agg}
}
