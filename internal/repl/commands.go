package repl

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"

	"github.com/steveyegge/sleuth/internal/dialog"
	"github.com/steveyegge/sleuth/internal/investigation"
)

const defaultHistoryLimit = 10

// cmdInvestigate runs one investigation and prints its report.
func (r *REPL) cmdInvestigate(args []string) error {
	verbose := hasFlag(args, "-v")
	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(r.out, "%s investigating...\n", yellow("⚡"))

	rep, err := r.runner.Run(r.ctx)
	if err != nil {
		return fmt.Errorf("investigation failed: %w", err)
	}
	return rep.WriteText(r.out, verbose)
}

// cmdStatus shows the safety monitor and the most recent result.
func (r *REPL) cmdStatus(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(r.out, "\n%s\n\n", cyan("Status"))

	st := r.runner.SafetyStatus()
	if st == nil {
		fmt.Fprintf(r.out, "  %-10s %s\n", "Safety:", gray("no monitor has run"))
	} else {
		verdict := green("✓ safe")
		if !st.IsSafe {
			verdict = red("⊗ unsafe: " + st.UnsafeReason)
		}
		fmt.Fprintf(r.out, "  %-10s %s (%s, %d samples, %d violations)\n",
			"Safety:", verdict, st.State, st.Totals.Samples, st.ViolationCount)
		if st.LastViolationReason != "" {
			fmt.Fprintf(r.out, "  %-10s %s\n", "Last:", st.LastViolationReason)
		}
	}

	if last := r.runner.Last(); last != nil {
		fmt.Fprintf(r.out, "  %-10s %s\n", "Result:", last.Headline)
		fmt.Fprintf(r.out, "  %-10s %s\n", "Session:", last.SessionID)
	} else {
		fmt.Fprintf(r.out, "  %-10s %s\n", "Result:", gray("no investigation yet"))
	}
	fmt.Fprintln(r.out)
	return nil
}

// cmdReport prints the last report or a stored one.
func (r *REPL) cmdReport(args []string) error {
	verbose := hasFlag(args, "-v")
	id := ""
	for _, a := range args {
		if a != "-v" {
			id = a
			break
		}
	}

	if id == "" {
		last := r.runner.Last()
		if last == nil {
			return fmt.Errorf("no investigation yet; run 'investigate' first")
		}
		return last.WriteText(r.out, verbose)
	}

	rep, err := r.runner.Report(r.ctx, id)
	if err != nil {
		return err
	}
	return rep.WriteText(r.out, verbose)
}

// cmdHistory lists recent investigations.
func (r *REPL) cmdHistory(args []string) error {
	limit := defaultHistoryLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		limit = n
	}

	records, err := r.runner.History(r.ctx, limit)
	if errors.Is(err, investigation.ErrNoStore) {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Fprintf(r.out, "\n%s History is not available without a database.\n\n", yellow("ℹ"))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list investigations: %w", err)
	}
	if len(records) == 0 {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Fprintf(r.out, "\n%s No investigations recorded.\n\n", yellow("ℹ"))
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n\n", cyan("Recent Investigations"))
	for i, rec := range records {
		fmt.Fprintf(r.out, "%2d. %s  %s  %-18s %3.0f%%  %s\n",
			i+1,
			rec.StartedAt.Local().Format(time.DateTime),
			rec.SessionID,
			statusLabel(rec.Status),
			rec.OverallConfidence*100,
			rec.Headline,
		)
	}
	fmt.Fprintln(r.out)
	return nil
}

func statusLabel(s dialog.Status) string {
	switch s {
	case dialog.StatusCompleted:
		return color.New(color.FgGreen).Sprint(s)
	case dialog.StatusAborted:
		return color.New(color.FgRed).Sprint(s)
	default:
		return color.New(color.FgYellow).Sprint(s)
	}
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}
