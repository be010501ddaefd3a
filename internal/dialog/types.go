package dialog

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/sleuth/internal/ai"
	"github.com/steveyegge/sleuth/internal/scorer"
	"github.com/steveyegge/sleuth/internal/types"
)

// Status is the investigation state. Every status but StatusActive is terminal.
type Status string

const (
	StatusActive           Status = "ACTIVE"
	StatusCompleted        Status = "COMPLETED"
	StatusAborted          Status = "ABORTED"
	StatusBudgetExhausted  Status = "BUDGET_EXHAUSTED"
	StatusTurnLimitReached Status = "TURN_LIMIT_REACHED"
)

// Terminal reports whether s ends an investigation.
func (s Status) Terminal() bool { return s != StatusActive && s != "" }

// Turn is one audited request/response exchange.
type Turn struct {
	Number    int           `json:"number"`
	Prompt    string        `json:"prompt"`
	Response  string        `json:"response"`
	CostUsed  int64         `json:"cost_used"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Questions []string      `json:"questions,omitempty"`
	Answers   []Answer      `json:"answers,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// DialogContext is the state of one investigation. It is owned by the
// orchestrator until Investigate returns.
type DialogContext struct {
	SessionID         string                      `json:"session_id"`
	StartTime         time.Time                   `json:"start_time"`
	EndTime           time.Time                   `json:"end_time"`
	CostUsed          int64                       `json:"cost_used"`
	CostBudget        int64                       `json:"cost_budget"`
	TurnBudget        int                         `json:"turn_budget"`
	CurrentTurn       int                         `json:"current_turn"`
	Transcript        []Turn                      `json:"transcript"`
	Candidates        []types.BottleneckCandidate `json:"candidates"`
	OverallConfidence float64                     `json:"overall_confidence"`
	LocalConfidence   float64                     `json:"local_confidence"`
	Status            Status                      `json:"status"`
	AbortReason       string                      `json:"abort_reason,omitempty"`
	AskedQuestions    []string                    `json:"asked_questions,omitempty"`
}

// Duration is the wall time of the investigation so far.
func (dc *DialogContext) Duration() time.Duration {
	if dc.EndTime.IsZero() {
		return 0
	}
	return dc.EndTime.Sub(dc.StartTime)
}

// setTerminal moves dc to a terminal status. The first terminal status wins.
func (dc *DialogContext) setTerminal(status Status, reason string, at time.Time) bool {
	if dc.Status.Terminal() || !status.Terminal() {
		return false
	}
	dc.Status = status
	dc.AbortReason = reason
	dc.EndTime = at
	return true
}

// Scorer produces the local hypotheses for a snapshot.
type Scorer interface {
	Score(snap *types.MetricsSnapshot) scorer.Result
}

// Reasoner is the external reasoning service. maxCost bounds what a single
// call may charge; the returned cost is charged even when err is non-nil.
type Reasoner interface {
	Complete(ctx context.Context, prompt string, maxCost int64) (ai.Completion, error)
}

// SafetySignal is the read side of the safety monitor.
type SafetySignal interface {
	IsSafe() bool
	Reason() string
}

// Hooks observe an investigation. All fields are optional.
type Hooks struct {
	OnTurn   func(ctx context.Context, dc *DialogContext, turn Turn)
	OnFinish func(ctx context.Context, dc *DialogContext)
}

// Config controls the dialog loop.
type Config struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	CostBudget          int64         `yaml:"cost_budget_per_session"`
	TurnBudget          int           `yaml:"turn_budget_per_session"`
	QuestionsPerTurn    int           `yaml:"questions_per_turn"`
	TurnTimeout         time.Duration `yaml:"turn_timeout"`
	// TurnDelay is the minimum spacing between reasoning calls. 0 disables pacing.
	TurnDelay time.Duration `yaml:"turn_delay"`
	TopN      int           `yaml:"top_n"`
}

// DefaultConfig returns the standard dialog configuration.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.8,
		CostBudget:          5000,
		TurnBudget:          8,
		QuestionsPerTurn:    3,
		TurnTimeout:         60 * time.Second,
		TurnDelay:           time.Second,
		TopN:                scorer.DefaultTopN,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1:
		return fmt.Errorf("confidence_threshold must be in (0, 1], got %.2f", c.ConfidenceThreshold)
	case c.CostBudget <= 0:
		return fmt.Errorf("cost_budget_per_session must be positive, got %d", c.CostBudget)
	case c.TurnBudget < 0:
		return fmt.Errorf("turn_budget_per_session must be non-negative, got %d", c.TurnBudget)
	case c.QuestionsPerTurn < 1:
		return fmt.Errorf("questions_per_turn must be at least 1, got %d", c.QuestionsPerTurn)
	case c.TurnTimeout <= 0:
		return fmt.Errorf("turn_timeout must be positive, got %v", c.TurnTimeout)
	case c.TurnDelay < 0:
		return fmt.Errorf("turn_delay must be non-negative, got %v", c.TurnDelay)
	case c.TopN < 1:
		return fmt.Errorf("top_n must be at least 1, got %d", c.TopN)
	}
	return nil
}
