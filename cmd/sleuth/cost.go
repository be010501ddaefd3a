package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/sleuth/internal/cost"
	"github.com/steveyegge/sleuth/internal/dialog"
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show reasoning cost budget and usage",
	Long:  `Display the hourly reasoning budget, current window usage and pricing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		tracker, err := newTracker(ctx, store)
		if err != nil {
			return err
		}
		stats := tracker.GetStats()

		printBudget(os.Stdout, stats, cfg.Cost, cfg.Dialog)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(costCmd)
}

// printBudget renders the budget view for the current window.
func printBudget(w io.Writer, stats cost.BudgetStats, c cost.Config, dialogBudget dialog.Config) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Reasoning Cost Budget ==="))

	if !c.Enabled {
		fmt.Fprintln(w, "Budget enforcement is disabled; usage is still recorded.")
		fmt.Fprintln(w, "Set SLEUTH_COST_ENABLED=true to enforce limits.")
		fmt.Fprintln(w)
	}

	budgetColor := color.New(color.FgGreen)
	statusIcon := "✓"
	if stats.Status == cost.BudgetWarning {
		budgetColor = color.New(color.FgYellow)
		statusIcon = "⚠️"
	} else if stats.Status == cost.BudgetExceeded {
		budgetColor = color.New(color.FgRed, color.Bold)
		statusIcon = "🚨"
	}
	fmt.Fprintf(w, "%s Budget Status: %s\n\n", statusIcon, budgetColor.Sprint(stats.Status.String()))

	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(w, "%s\n", yellow("Current Window:"))
	if c.MaxTokensPerHour > 0 {
		tokenPercent := float64(stats.HourlyTokensUsed) / float64(c.MaxTokensPerHour) * 100
		fmt.Fprintf(w, "  Tokens:  %s / %s (%.1f%%)\n",
			formatTokens(stats.HourlyTokensUsed), formatTokens(c.MaxTokensPerHour), tokenPercent)
		fmt.Fprintf(w, "           %s\n", renderProgressBar(tokenPercent, 40))
	} else {
		fmt.Fprintf(w, "  Tokens:  %s (unlimited)\n", formatTokens(stats.HourlyTokensUsed))
	}
	if c.MaxCostPerHour > 0 {
		costPercent := stats.HourlyCostUsed / c.MaxCostPerHour * 100
		fmt.Fprintf(w, "  Cost:    $%.4f / $%.2f (%.1f%%)\n", stats.HourlyCostUsed, c.MaxCostPerHour, costPercent)
		fmt.Fprintf(w, "           %s\n", renderProgressBar(costPercent, 40))
	} else {
		fmt.Fprintf(w, "  Cost:    $%.4f (unlimited)\n", stats.HourlyCostUsed)
	}
	fmt.Fprintf(w, "  Window:  %s → %s\n",
		stats.WindowStartTime.Format("15:04:05"),
		stats.WindowStartTime.Add(c.BudgetResetInterval).Format("15:04:05"))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s\n", yellow("Per Investigation:"))
	fmt.Fprintf(w, "  Dialog budget:   %s tokens, %d turns\n", formatTokens(dialogBudget.CostBudget), dialogBudget.TurnBudget)
	if c.MaxTokensPerSession > 0 {
		fmt.Fprintf(w, "  Session cap:     %s tokens\n", formatTokens(c.MaxTokensPerSession))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s\n", yellow("Pricing (per 1M tokens):"))
	fmt.Fprintf(w, "  Input:   $%.2f\n", c.InputTokenCost)
	fmt.Fprintf(w, "  Output:  $%.2f\n", c.OutputTokenCost)
	fmt.Fprintln(w)
}

// formatTokens formats a token count with a K/M suffix.
func formatTokens(tokens int64) string {
	if tokens < 1000 {
		return fmt.Sprintf("%d", tokens)
	} else if tokens < 1_000_000 {
		return fmt.Sprintf("%.1fK", float64(tokens)/1000)
	}
	return fmt.Sprintf("%.2fM", float64(tokens)/1_000_000)
}

// renderProgressBar renders a text-based progress bar
func renderProgressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(percent / 100.0 * float64(width))

	var barColor *color.Color
	if percent >= 100 {
		barColor = color.New(color.FgRed, color.Bold)
	} else if percent >= 80 {
		barColor = color.New(color.FgYellow)
	} else {
		barColor = color.New(color.FgGreen)
	}

	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += barColor.Sprint("█")
		} else {
			bar += color.New(color.FgHiBlack).Sprint("░")
		}
	}
	return fmt.Sprintf("[%s]", bar)
}
