// Package report turns a finished investigation into the caller-facing
// bottleneck report and renders it for terminals.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/steveyegge/sleuth/internal/dialog"
	"github.com/steveyegge/sleuth/internal/safety"
	"github.com/steveyegge/sleuth/internal/types"
)

// TurnSummary is the audit view of one reasoning turn. Prompts are omitted.
type TurnSummary struct {
	Number    int             `json:"number"`
	CostUsed  int64           `json:"cost_used"`
	Timestamp time.Time       `json:"timestamp"`
	Duration  time.Duration   `json:"duration"`
	Questions []string        `json:"questions,omitempty"`
	Answers   []dialog.Answer `json:"answers,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Report is the outcome of one investigation.
type Report struct {
	SessionID         string                      `json:"session_id"`
	Status            dialog.Status               `json:"status"`
	AbortReason       string                      `json:"abort_reason,omitempty"`
	Headline          string                      `json:"headline"`
	OverallConfidence float64                     `json:"overall_confidence"`
	LocalConfidence   float64                     `json:"local_confidence"`
	Candidates        []types.BottleneckCandidate `json:"candidates"`
	Turns             []TurnSummary               `json:"turns"`
	CostUsed          int64                       `json:"cost_used"`
	CostBudget        int64                       `json:"cost_budget"`
	TurnsUsed         int                         `json:"turns_used"`
	TurnBudget        int                         `json:"turn_budget"`
	StartTime         time.Time                   `json:"start_time"`
	Duration          time.Duration               `json:"duration"`
	Safety            *safety.Summary             `json:"safety,omitempty"`
}

// Build assembles a report from a finished investigation. summary may be nil
// when no safety monitor ran.
func Build(dc *dialog.DialogContext, summary *safety.Summary) (*Report, error) {
	if dc == nil {
		return nil, fmt.Errorf("dialog context is required")
	}
	if !dc.Status.Terminal() {
		return nil, fmt.Errorf("investigation %s is still %s", dc.SessionID, dc.Status)
	}

	r := &Report{
		SessionID:         dc.SessionID,
		Status:            dc.Status,
		AbortReason:       dc.AbortReason,
		OverallConfidence: dc.OverallConfidence,
		LocalConfidence:   dc.LocalConfidence,
		Candidates:        make([]types.BottleneckCandidate, len(dc.Candidates)),
		Turns:             make([]TurnSummary, len(dc.Transcript)),
		CostUsed:          dc.CostUsed,
		CostBudget:        dc.CostBudget,
		TurnsUsed:         dc.CurrentTurn,
		TurnBudget:        dc.TurnBudget,
		StartTime:         dc.StartTime,
		Duration:          dc.Duration(),
	}
	for i, c := range dc.Candidates {
		r.Candidates[i] = c.Clone()
	}
	types.RankCandidates(r.Candidates)
	for i, t := range dc.Transcript {
		r.Turns[i] = TurnSummary{
			Number:    t.Number,
			CostUsed:  t.CostUsed,
			Timestamp: t.Timestamp,
			Duration:  t.Duration,
			Questions: t.Questions,
			Answers:   t.Answers,
			Error:     t.Error,
		}
	}
	if summary != nil {
		s := *summary
		r.Safety = &s
	}
	r.Headline = headline(r)
	return r, nil
}

// Top returns the highest ranked candidate.
func (r *Report) Top() (types.BottleneckCandidate, bool) {
	if len(r.Candidates) == 0 {
		return types.BottleneckCandidate{}, false
	}
	return r.Candidates[0], true
}

// JSON encodes the report for downstream consumers.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func headline(r *Report) string {
	if r.Status == dialog.StatusAborted {
		return fmt.Sprintf("ABORTED: %s", r.AbortReason)
	}

	top, ok := r.Top()
	if !ok {
		return fmt.Sprintf("%s: no bottleneck identified (confidence %.0f%%)", r.Status, r.OverallConfidence*100)
	}
	desc := top.Description
	if desc == "" {
		desc = top.Label
	}
	switch r.Status {
	case dialog.StatusCompleted:
		return fmt.Sprintf("Likely %s bottleneck: %s (confidence %.0f%%)", top.Component, desc, r.OverallConfidence*100)
	default:
		return fmt.Sprintf("%s: inconclusive, leading hypothesis is %s: %s (confidence %.0f%%)",
			r.Status, top.Component, desc, r.OverallConfidence*100)
	}
}
