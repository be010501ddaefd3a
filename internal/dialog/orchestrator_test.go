package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sleuth/internal/ai"
	"github.com/steveyegge/sleuth/internal/scorer"
	"github.com/steveyegge/sleuth/internal/types"
)

type stubScorer struct {
	result scorer.Result
}

func (s stubScorer) Score(*types.MetricsSnapshot) scorer.Result { return s.result }

func localResult(cands ...types.BottleneckCandidate) scorer.Result {
	r := scorer.Result{Candidates: cands}
	for _, c := range cands {
		if c.Confidence > r.Confidence {
			r.Confidence = c.Confidence
		}
	}
	return r
}

func cpuCandidate(conf float64) types.BottleneckCandidate {
	return types.BottleneckCandidate{
		Component:   types.ComponentCPU,
		Label:       "resource_contention",
		Description: "CPU saturation",
		Confidence:  conf,
		Severity:    5,
		Origin:      types.OriginLocal,
		SuggestedQuestions: []string{
			"Which queries consume the most CPU?",
			"Is there a plan regression?",
		},
	}
}

type reply struct {
	content string
	cost    int64
	err     error
}

// scriptedReasoner replays replies in order and repeats the last one.
type scriptedReasoner struct {
	mu       sync.Mutex
	replies  []reply
	prompts  []string
	maxCosts []int64
	before   func(call int)
}

func (r *scriptedReasoner) Complete(_ context.Context, prompt string, maxCost int64) (ai.Completion, error) {
	r.mu.Lock()
	call := len(r.prompts)
	r.prompts = append(r.prompts, prompt)
	r.maxCosts = append(r.maxCosts, maxCost)
	rep := r.replies[len(r.replies)-1]
	if call < len(r.replies) {
		rep = r.replies[call]
	}
	before := r.before
	r.mu.Unlock()

	if before != nil {
		before(call)
	}
	return ai.Completion{Content: rep.content, CostUsed: rep.cost}, rep.err
}

func (r *scriptedReasoner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prompts)
}

type flagSafety struct {
	unsafe atomic.Bool
	reason string
}

func (f *flagSafety) IsSafe() bool { return !f.unsafe.Load() }
func (f *flagSafety) Reason() string {
	if f.unsafe.Load() {
		return f.reason
	}
	return ""
}

func findingsJSON(t *testing.T, findings ...Finding) string {
	t.Helper()
	data, err := json.Marshal(Response{Findings: findings})
	require.NoError(t, err)
	return string(data)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TurnDelay = 0
	cfg.TurnTimeout = time.Second
	cfg.CostBudget = 1000
	return cfg
}

func newOrchestrator(t *testing.T, cfg Config, deps Deps) *Orchestrator {
	t.Helper()
	o, err := New(cfg, deps)
	require.NoError(t, err)
	return o
}

func testSnapshot() *types.MetricsSnapshot {
	return types.NewSnapshot(time.Now(), "test", map[string]float64{types.MetricCPUPercent: 95})
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.ConfidenceThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.ConfidenceThreshold = 1.1 }},
		{"zero cost budget", func(c *Config) { c.CostBudget = 0 }},
		{"negative turn budget", func(c *Config) { c.TurnBudget = -1 }},
		{"zero questions", func(c *Config) { c.QuestionsPerTurn = 0 }},
		{"zero timeout", func(c *Config) { c.TurnTimeout = 0 }},
		{"negative delay", func(c *Config) { c.TurnDelay = -time.Second }},
		{"zero top n", func(c *Config) { c.TopN = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(testConfig(), Deps{Reasoner: &scriptedReasoner{}})
	assert.Error(t, err)
	_, err = New(testConfig(), Deps{Scorer: stubScorer{}})
	assert.Error(t, err)
	bad := testConfig()
	bad.QuestionsPerTurn = 0
	_, err = New(bad, Deps{Scorer: stubScorer{}, Reasoner: &scriptedReasoner{}})
	assert.Error(t, err)
}

func TestInvestigateRejectsNilSnapshot(t *testing.T) {
	o := newOrchestrator(t, testConfig(), Deps{Scorer: stubScorer{}, Reasoner: &scriptedReasoner{}})
	_, err := o.Investigate(context.Background(), nil)
	assert.Error(t, err)
}

func TestConfidentLocalScoreSkipsReasoning(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []reply{{content: "{}"}}}
	o := newOrchestrator(t, testConfig(), Deps{
		Scorer:   scorer.New(scorer.DefaultOptions()),
		Reasoner: reasoner,
	})
	snap := types.NewSnapshot(time.Now(), "test", map[string]float64{
		types.MetricCPUPercent:         95,
		types.MetricCPUQueueLength:     4,
		types.MetricEngineCPUWaitCount: 12,
	})

	dc, err := o.Investigate(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, dc.Status)
	assert.Zero(t, reasoner.calls())
	assert.Zero(t, dc.CostUsed)
	assert.Zero(t, dc.CurrentTurn)
	assert.Empty(t, dc.Transcript)
	assert.GreaterOrEqual(t, dc.OverallConfidence, 0.8)
	assert.NotEmpty(t, dc.SessionID)
	assert.False(t, dc.EndTime.IsZero())
}

func TestBudgetExhaustedAfterOneTurn(t *testing.T) {
	cfg := testConfig()
	reasoner := &scriptedReasoner{replies: []reply{{
		content: findingsJSON(t, Finding{Component: "Disk", Label: "slow_reads", Confidence: 0.3}),
		cost:    cfg.CostBudget,
	}}}
	o := newOrchestrator(t, cfg, Deps{Scorer: stubScorer{localResult(cpuCandidate(0.55))}, Reasoner: reasoner})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusBudgetExhausted, dc.Status)
	assert.Equal(t, 1, reasoner.calls())
	assert.Equal(t, 1, dc.CurrentTurn)
	assert.Equal(t, cfg.CostBudget, dc.CostUsed)
	assert.Equal(t, []int64{cfg.CostBudget}, reasoner.maxCosts)

	// Partial results from the exhausting turn are kept.
	require.Len(t, dc.Candidates, 2)
	assert.Equal(t, "disk/slow_reads", dc.Candidates[1].Key())
}

func TestBudgetExhaustedWinsOverThreshold(t *testing.T) {
	cfg := testConfig()
	reasoner := &scriptedReasoner{replies: []reply{{
		content: findingsJSON(t, Finding{Component: "CPU", Label: "resource_contention", Confidence: 1}),
		cost:    cfg.CostBudget + 50,
	}}}
	o := newOrchestrator(t, cfg, Deps{Scorer: stubScorer{localResult(cpuCandidate(0.7))}, Reasoner: reasoner})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusBudgetExhausted, dc.Status)
	assert.InDelta(t, 0.85, dc.OverallConfidence, 1e-9)
}

func TestTurnLimitReached(t *testing.T) {
	for _, n := range []int{1, 3, 8} {
		cfg := testConfig()
		cfg.TurnBudget = n
		reasoner := &scriptedReasoner{replies: []reply{{
			content: findingsJSON(t, Finding{Component: "CPU", Label: "resource_contention", Confidence: 0.2}),
			cost:    10,
		}}}
		o := newOrchestrator(t, cfg, Deps{Scorer: stubScorer{localResult(cpuCandidate(0.55))}, Reasoner: reasoner})

		dc, err := o.Investigate(context.Background(), testSnapshot())
		require.NoError(t, err)
		assert.Equal(t, StatusTurnLimitReached, dc.Status, "turn budget %d", n)
		assert.Equal(t, n, reasoner.calls())
		assert.Equal(t, n, dc.CurrentTurn)
		assert.Len(t, dc.Transcript, n)
		assert.Equal(t, int64(10*n), dc.CostUsed)
	}
}

func TestZeroTurnBudgetMakesNoCalls(t *testing.T) {
	cfg := testConfig()
	cfg.TurnBudget = 0
	reasoner := &scriptedReasoner{replies: []reply{{content: "{}"}}}
	o := newOrchestrator(t, cfg, Deps{Scorer: stubScorer{localResult(cpuCandidate(0.55))}, Reasoner: reasoner})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusTurnLimitReached, dc.Status)
	assert.Zero(t, reasoner.calls())
}

func TestUnsafeBeforeTurnAborts(t *testing.T) {
	safety := &flagSafety{reason: "Multiple performance violations (3): High CPU usage: 95.0% (threshold: 80%)"}
	safety.unsafe.Store(true)
	reasoner := &scriptedReasoner{replies: []reply{{content: "{}"}}}
	o := newOrchestrator(t, testConfig(), Deps{
		Scorer:   stubScorer{localResult(cpuCandidate(0.55))},
		Reasoner: reasoner,
		Safety:   safety,
	})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, dc.Status)
	assert.Contains(t, dc.AbortReason, safety.reason)
	assert.Zero(t, reasoner.calls())
	assert.Zero(t, dc.CostUsed)
	// Local candidates are still reported.
	assert.Len(t, dc.Candidates, 1)
}

func TestUnsafeDuringTurnDiscardsResult(t *testing.T) {
	safety := &flagSafety{reason: "Maximum analysis duration exceeded (30 minutes)"}
	reasoner := &scriptedReasoner{
		replies: []reply{{
			content: findingsJSON(t, Finding{Component: "CPU", Label: "resource_contention", Confidence: 1}),
			cost:    40,
		}},
		before: func(int) { safety.unsafe.Store(true) },
	}
	o := newOrchestrator(t, testConfig(), Deps{
		Scorer:   stubScorer{localResult(cpuCandidate(0.7))},
		Reasoner: reasoner,
		Safety:   safety,
	})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, dc.Status)
	assert.Contains(t, dc.AbortReason, "Maximum analysis duration exceeded")
	assert.Equal(t, 1, reasoner.calls())
	assert.Equal(t, int64(40), dc.CostUsed, "spend is recorded even when the result is discarded")
	require.Len(t, dc.Transcript, 1)
	assert.Equal(t, 0.7, dc.Candidates[0].Confidence, "the late result is not merged")
}

func TestUnsafeDuringFailedTurnReportsSafety(t *testing.T) {
	safety := &flagSafety{reason: "memory usage above 90%"}
	reasoner := &scriptedReasoner{
		replies: []reply{{cost: 10, err: errors.New("connection reset")}},
		before:  func(int) { safety.unsafe.Store(true) },
	}
	o := newOrchestrator(t, testConfig(), Deps{
		Scorer:   stubScorer{localResult(cpuCandidate(0.55))},
		Reasoner: reasoner,
		Safety:   safety,
	})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, dc.Status)
	assert.Contains(t, dc.AbortReason, "memory usage above 90%")
	assert.NotContains(t, dc.AbortReason, "connection reset")
	require.Len(t, dc.Transcript, 1)
	assert.Contains(t, dc.Transcript[0].Error, "connection reset")
}

func TestBudgetBoundCallEndsBudgetExhausted(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []reply{{
		content: `{"findings":[{"compo`,
		cost:    300,
		err:     fmt.Errorf("%w: reply truncated at 250 output tokens", types.ErrBudgetExceeded),
	}}}
	o := newOrchestrator(t, testConfig(), Deps{Scorer: stubScorer{localResult(cpuCandidate(0.55))}, Reasoner: reasoner})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusBudgetExhausted, dc.Status)
	assert.Contains(t, dc.AbortReason, "reply truncated")
	assert.NotContains(t, dc.AbortReason, "unusable")
	assert.Equal(t, 1, reasoner.calls())
	assert.Equal(t, int64(300), dc.CostUsed)
	assert.Equal(t, 0.55, dc.Candidates[0].Confidence)
}

func TestSingleTurnRaisesConfidenceToCompletion(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []reply{{
		content: findingsJSON(t, Finding{
			Component:      "cpu",
			Label:          "resource_contention",
			Description:    "A runaway report query saturates all cores",
			Confidence:     1.0,
			Recommendation: "Add an index on orders(created_at)",
		}),
		cost: 120,
	}}}
	o := newOrchestrator(t, testConfig(), Deps{Scorer: stubScorer{localResult(cpuCandidate(0.7))}, Reasoner: reasoner})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, dc.Status)
	assert.Equal(t, 1, dc.CurrentTurn)
	assert.Equal(t, 1, reasoner.calls())
	assert.GreaterOrEqual(t, dc.OverallConfidence, 0.8)

	require.Len(t, dc.Candidates, 1)
	cpu := dc.Candidates[0]
	assert.InDelta(t, 0.85, cpu.Confidence, 1e-9)
	assert.Equal(t, "A runaway report query saturates all cores", cpu.Description)
	assert.Equal(t, "Add an index on orders(created_at)", cpu.Recommendation)
	assert.Equal(t, types.OriginLocal, cpu.Origin)
}

func TestWeakLocalScoreNeedsTwoMatchingTurns(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []reply{{
		content: findingsJSON(t, Finding{Component: "CPU", Label: "resource_contention", Confidence: 1.0}),
		cost:    100,
	}}}
	o := newOrchestrator(t, testConfig(), Deps{Scorer: stubScorer{localResult(cpuCandidate(0.55))}, Reasoner: reasoner})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, dc.Status)
	assert.Equal(t, 2, dc.CurrentTurn)
	assert.InDelta(t, 0.8875, dc.OverallConfidence, 1e-9)
}

func TestNewConfidentFindingCompletesInOneTurn(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []reply{{
		content: findingsJSON(t,
			Finding{Component: "CPU", Label: "resource_contention", Confidence: 1.0},
			Finding{Component: "Engine", Label: "lock_contention", Confidence: 1.0, Severity: 6},
		),
		cost: 100,
	}}}
	o := newOrchestrator(t, testConfig(), Deps{Scorer: stubScorer{localResult(cpuCandidate(0.55))}, Reasoner: reasoner})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, dc.Status)
	assert.Equal(t, 1, dc.CurrentTurn)
	assert.InDelta(t, (1.0+0.775*0.8)/1.8, dc.OverallConfidence, 1e-9)
	require.Len(t, dc.Candidates, 2)
	assert.Equal(t, types.OriginDialog, dc.Candidates[0].Origin)
	assert.Equal(t, types.OriginLocal, dc.Candidates[1].Origin)
}

func TestMergeNeverDuplicatesLabel(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []reply{{
		content: findingsJSON(t,
			Finding{Component: "CPU", Label: "Resource_Contention", Confidence: 0.3},
			Finding{Component: "processor", Label: " resource_contention ", Confidence: 0.3},
		),
	}}}
	cfg := testConfig()
	cfg.TurnBudget = 2
	o := newOrchestrator(t, cfg, Deps{Scorer: stubScorer{localResult(cpuCandidate(0.55))}, Reasoner: reasoner})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	count := 0
	for _, c := range dc.Candidates {
		if c.Key() == "cpu/resource_contention" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Len(t, dc.Candidates, 1)
}

func TestReasoningFailureAborts(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []reply{{cost: 25, err: errors.New("503 service unavailable")}}}
	o := newOrchestrator(t, testConfig(), Deps{Scorer: stubScorer{localResult(cpuCandidate(0.55))}, Reasoner: reasoner})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, dc.Status)
	assert.Contains(t, dc.AbortReason, "reasoning service failure")
	assert.Contains(t, dc.AbortReason, "503")
	assert.Equal(t, 1, reasoner.calls(), "failures are not retried")
	assert.Equal(t, int64(25), dc.CostUsed)
	require.Len(t, dc.Transcript, 1)
	assert.NotEmpty(t, dc.Transcript[0].Error)
}

func TestUnusableResponseAborts(t *testing.T) {
	for _, content := range []string{
		"I believe the CPU is the problem.",
		`{"findings": [], "answers": []}`,
		"",
	} {
		reasoner := &scriptedReasoner{replies: []reply{{content: content, cost: 5}}}
		o := newOrchestrator(t, testConfig(), Deps{Scorer: stubScorer{localResult(cpuCandidate(0.55))}, Reasoner: reasoner})

		dc, err := o.Investigate(context.Background(), testSnapshot())
		require.NoError(t, err)
		assert.Equal(t, StatusAborted, dc.Status, "content %q", content)
		assert.Contains(t, dc.AbortReason, "unusable reasoning response")
		assert.Equal(t, 1, dc.CurrentTurn)
		assert.Equal(t, content, dc.Transcript[0].Response)
	}
}

type blockingReasoner struct{ release chan struct{} }

func (b blockingReasoner) Complete(context.Context, string, int64) (ai.Completion, error) {
	<-b.release
	return ai.Completion{Content: "{}"}, nil
}

func TestTurnTimeoutAborts(t *testing.T) {
	cfg := testConfig()
	cfg.TurnTimeout = 20 * time.Millisecond
	release := make(chan struct{})
	defer close(release)
	o := newOrchestrator(t, cfg, Deps{
		Scorer:   stubScorer{localResult(cpuCandidate(0.55))},
		Reasoner: blockingReasoner{release: release},
	})

	start := time.Now()
	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusAborted, dc.Status)
	assert.Contains(t, dc.AbortReason, "timed out")
}

func TestCanceledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reasoner := &scriptedReasoner{replies: []reply{{content: "{}"}}}
	o := newOrchestrator(t, testConfig(), Deps{Scorer: stubScorer{localResult(cpuCandidate(0.55))}, Reasoner: reasoner})

	dc, err := o.Investigate(ctx, testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, dc.Status)
	assert.Contains(t, dc.AbortReason, "canceled")
	assert.Zero(t, reasoner.calls())
}

func TestQuestionsAreNotRepeated(t *testing.T) {
	cand := cpuCandidate(0.55)
	cand.SuggestedQuestions = []string{"Q1?", "Q2?", "Q3?", "Q4?"}
	cfg := testConfig()
	cfg.TurnBudget = 3
	reasoner := &scriptedReasoner{replies: []reply{{
		content: `{"answers": [{"question": "Q1?", "answer": "unclear", "confidence": 0.2}]}`,
		cost:    1,
	}}}
	o := newOrchestrator(t, cfg, Deps{Scorer: stubScorer{localResult(cand)}, Reasoner: reasoner})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	require.Len(t, dc.Transcript, 3)
	assert.Equal(t, []string{"Q1?", "Q2?", "Q3?"}, dc.Transcript[0].Questions)
	assert.Equal(t, []string{"Q4?"}, dc.Transcript[1].Questions)
	assert.Empty(t, dc.Transcript[2].Questions)
	assert.Contains(t, reasoner.prompts[2], openEndedQuestion)
	assert.Equal(t, []string{"Q1?", "Q2?", "Q3?", "Q4?"}, dc.AskedQuestions)
	require.Len(t, dc.Transcript[0].Answers, 1)
	assert.Equal(t, "unclear", dc.Transcript[0].Answers[0].Answer)
}

func TestMaxCostIsRemainingBudget(t *testing.T) {
	cfg := testConfig()
	cfg.TurnBudget = 3
	reasoner := &scriptedReasoner{replies: []reply{{
		content: findingsJSON(t, Finding{Component: "Other", Label: "noise", Confidence: 0.1}),
		cost:    300,
	}}}
	o := newOrchestrator(t, cfg, Deps{Scorer: stubScorer{localResult(cpuCandidate(0.55))}, Reasoner: reasoner})

	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, []int64{1000, 700, 400}, reasoner.maxCosts)
	assert.Equal(t, StatusTurnLimitReached, dc.Status)
}

func TestHooksObserveEveryTurn(t *testing.T) {
	cfg := testConfig()
	cfg.TurnBudget = 2
	reasoner := &scriptedReasoner{replies: []reply{{
		content: findingsJSON(t, Finding{Component: "Memory", Label: "pressure", Confidence: 0.1}),
		cost:    7,
	}}}
	var turns []int
	var finished []Status
	o := newOrchestrator(t, cfg, Deps{
		Scorer:   stubScorer{localResult(cpuCandidate(0.55))},
		Reasoner: reasoner,
		Hooks: Hooks{
			OnTurn: func(_ context.Context, dc *DialogContext, turn Turn) {
				assert.Equal(t, StatusActive, dc.Status)
				turns = append(turns, turn.Number)
			},
			OnFinish: func(_ context.Context, dc *DialogContext) { finished = append(finished, dc.Status) },
		},
	})

	_, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, turns)
	assert.Equal(t, []Status{StatusTurnLimitReached}, finished)
}

func TestTurnDelayPacesCalls(t *testing.T) {
	cfg := testConfig()
	cfg.TurnBudget = 3
	cfg.TurnDelay = 30 * time.Millisecond
	reasoner := &scriptedReasoner{replies: []reply{{
		content: findingsJSON(t, Finding{Component: "Other", Label: "noise", Confidence: 0.1}),
	}}}
	o := newOrchestrator(t, cfg, Deps{Scorer: stubScorer{localResult(cpuCandidate(0.55))}, Reasoner: reasoner})

	start := time.Now()
	dc, err := o.Investigate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, 3, dc.CurrentTurn)
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestPromptSummarizesTopThreeOnly(t *testing.T) {
	var cands []types.BottleneckCandidate
	for i, label := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
		cands = append(cands, types.BottleneckCandidate{
			Component:  types.ComponentEngine,
			Label:      label,
			Confidence: 0.6 - float64(i)*0.02,
			Evidence:   map[string]float64{"engine.avg_wait_ms": 1200},
		})
	}
	dc := &DialogContext{TurnBudget: 8, Candidates: cands}
	prompt := buildPrompt(dc, []string{"What changed?"})

	assert.Contains(t, prompt, "turn 1 of 8")
	assert.Contains(t, prompt, "top 3 of 5")
	assert.Contains(t, prompt, "alpha")
	assert.Contains(t, prompt, "charlie")
	assert.NotContains(t, prompt, "delta")
	assert.NotContains(t, prompt, "echo")
	assert.Contains(t, prompt, "engine.avg_wait_ms=1200")
	assert.Contains(t, prompt, "- What changed?")
	assert.NotContains(t, prompt, openEndedQuestion)
}

func TestSetTerminalIsFinal(t *testing.T) {
	dc := &DialogContext{Status: StatusActive}
	at := time.Now()
	assert.False(t, dc.setTerminal(StatusActive, "", at))
	assert.True(t, dc.setTerminal(StatusAborted, "first", at))
	assert.False(t, dc.setTerminal(StatusCompleted, "", at.Add(time.Second)))
	assert.Equal(t, StatusAborted, dc.Status)
	assert.Equal(t, "first", dc.AbortReason)
	assert.Equal(t, at, dc.EndTime)
	assert.True(t, strings.HasPrefix(string(StatusTurnLimitReached), "TURN"))
}
