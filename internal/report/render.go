package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/steveyegge/sleuth/internal/dialog"
)

// WriteText renders the report for a terminal. verbose adds evidence and
// the per-turn audit trail.
func (r *Report) WriteText(w io.Writer, verbose bool) error {
	bold := color.New(color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", statusColor(r.Status)(r.Headline))
	fmt.Fprintf(&b, "%s %s\n\n", gray("session"), r.SessionID)

	fmt.Fprintf(&b, "  %-12s %s\n", "Status:", r.Status)
	fmt.Fprintf(&b, "  %-12s %.0f%% (local %.0f%%)\n", "Confidence:", r.OverallConfidence*100, r.LocalConfidence*100)
	fmt.Fprintf(&b, "  %-12s %d/%d turns, %d/%d tokens\n", "Budget:", r.TurnsUsed, r.TurnBudget, r.CostUsed, r.CostBudget)
	fmt.Fprintf(&b, "  %-12s %s\n", "Duration:", r.Duration.Round(time.Millisecond))
	if r.AbortReason != "" && r.Status != dialog.StatusAborted {
		fmt.Fprintf(&b, "  %-12s %s\n", "Stopped:", r.AbortReason)
	}

	if len(r.Candidates) > 0 {
		fmt.Fprintf(&b, "\n%s\n", cyan("Candidates"))
		for i, c := range r.Candidates {
			desc := c.Description
			if desc == "" {
				desc = c.Label
			}
			fmt.Fprintf(&b, "%2d. [%s] %s %s\n", i+1, bold(fmt.Sprintf("%3.0f%%", c.Confidence*100)), c.Component, desc)
			fmt.Fprintf(&b, "    %s %s/%s severity %d\n", gray(string(c.Origin)), strings.ToLower(string(c.Component)), c.Label, c.Severity)
			if c.Recommendation != "" {
				fmt.Fprintf(&b, "    %s %s\n", gray("→"), c.Recommendation)
			}
			if verbose && len(c.Evidence) > 0 {
				names := make([]string, 0, len(c.Evidence))
				for name := range c.Evidence {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(&b, "      %s = %g\n", name, c.Evidence[name])
				}
			}
		}
	}

	if verbose && len(r.Turns) > 0 {
		fmt.Fprintf(&b, "\n%s\n", cyan("Turns"))
		for _, t := range r.Turns {
			outcome := "ok"
			if t.Error != "" {
				outcome = t.Error
			}
			fmt.Fprintf(&b, "  #%d %d tokens %s %s\n", t.Number, t.CostUsed, t.Duration.Round(time.Millisecond), outcome)
			for _, q := range t.Questions {
				fmt.Fprintf(&b, "     %s %s\n", gray("?"), q)
			}
		}
	}

	if s := r.Safety; s != nil {
		fmt.Fprintf(&b, "\n%s\n", cyan("Safety"))
		verdict := color.New(color.FgGreen).Sprint("safe")
		if !s.WasSafe {
			verdict = color.New(color.FgRed).Sprint("unsafe: " + s.UnsafeReason)
		}
		fmt.Fprintf(&b, "  %s, %d samples (%d failed), %d violations\n",
			verdict, s.SamplesCollected, s.FailedSamples, s.ViolationCount)
		fmt.Fprintf(&b, "  cpu avg %.1f%% peak %.1f%%, wait avg %.1fms peak %.1fms, blocking peak %d\n",
			s.AvgCPUPercent, s.PeakCPUPercent, s.AvgWaitMs, s.PeakWaitMs, s.PeakBlocking)
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func statusColor(s dialog.Status) func(a ...interface{}) string {
	switch s {
	case dialog.StatusCompleted:
		return color.New(color.FgGreen, color.Bold).SprintFunc()
	case dialog.StatusAborted:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	default:
		return color.New(color.FgYellow, color.Bold).SprintFunc()
	}
}
