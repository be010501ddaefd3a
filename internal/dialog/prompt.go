package dialog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/sleuth/internal/types"
)

const (
	promptCandidates = 3
	promptEvidence   = 6

	openEndedQuestion = "Based on the evidence so far, what is the most likely root cause of the slowdown, and what would confirm it?"
)

// pickQuestions returns up to n suggested questions from the ranked candidates
// that have not been asked in this session.
func pickQuestions(cands []types.BottleneckCandidate, asked map[string]bool, n int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range cands {
		for _, q := range c.SuggestedQuestions {
			key := normalizeQuestion(q)
			if key == "" || asked[key] || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, q)
			if len(out) == n {
				return out
			}
		}
	}
	return out
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// buildPrompt summarizes the current top candidates and the questions for
// this turn. Earlier turns are not replayed.
func buildPrompt(dc *DialogContext, questions []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Performance bottleneck investigation, turn %d of %d.\n\n", dc.CurrentTurn+1, dc.TurnBudget)

	top := dc.Candidates
	if len(top) > promptCandidates {
		top = top[:promptCandidates]
	}
	if len(top) == 0 {
		b.WriteString("Local heuristics found no candidate above the reporting floor.\n")
	} else {
		fmt.Fprintf(&b, "Current hypotheses (top %d of %d):\n", len(top), len(dc.Candidates))
		for i, c := range top {
			fmt.Fprintf(&b, "%d. [%s] %s: %s (confidence %.2f, severity %d)\n",
				i+1, c.Component, c.Label, c.Description, c.Confidence, c.Severity)
			if ev := formatEvidence(c.Evidence); ev != "" {
				fmt.Fprintf(&b, "   evidence: %s\n", ev)
			}
		}
	}

	b.WriteString("\nQuestions:\n")
	if len(questions) == 0 {
		fmt.Fprintf(&b, "- %s\n", openEndedQuestion)
	}
	for _, q := range questions {
		fmt.Fprintf(&b, "- %s\n", q)
	}

	b.WriteString(`
Respond with JSON only, in this shape:
{"findings": [{"component": "CPU|Memory|Disk|Engine|Network|Other", "label": "short_snake_case_id", "description": "...", "confidence": 0.0, "severity": 0, "recommendation": "...", "evidence": {"metric": 0.0}}],
 "answers": [{"question": "...", "answer": "...", "confidence": 0.0}]}
Reuse an existing label when refining a hypothesis listed above. Confidence is between 0 and 1.
`)
	return b.String()
}

func formatEvidence(ev map[string]float64) string {
	if len(ev) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ev))
	for k := range ev {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > promptEvidence {
		keys = keys[:promptEvidence]
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, ev[k])
	}
	return strings.Join(parts, ", ")
}
