package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/sleuth/internal/investigation"
	"github.com/steveyegge/sleuth/internal/safety"
)

var (
	monitorDuration time.Duration
	monitorPostgres string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the safety monitor without investigating",
	Long: `Sample the target at the configured interval and report threshold
violations. Stops after --duration, on Ctrl+C, or when the target is declared unsafe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if monitorDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, monitorDuration)
			defer cancel()
		}

		source, cleanup, err := buildSource(ctx, sourceOptions{postgresDSN: monitorPostgres})
		if err != nil {
			return err
		}
		defer cleanup()

		runner, err := investigation.New(investigation.Deps{
			Dialog: cfg.Dialog,
			Safety: cfg.Safety.Thresholds(),
			Source: source,
			Logger: logger,
		})
		if err != nil {
			return err
		}

		th := cfg.Safety.Thresholds()
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("\n%s every %v (cpu %.0f%%, wait %.0fms, blocking %d, trip after %d)\n\n",
			cyan("Monitoring"), th.SampleInterval, th.MaxCPUPercent, th.MaxWaitMs, th.MaxBlockingCount, th.TripCount)

		summary, err := runner.Watch(ctx, func(violations []string, st *safety.Status) {
			fmt.Printf("%s %s [%d] %s\n",
				yellow("⚠"), time.Now().Format("15:04:05"), st.ViolationCount, strings.Join(violations, "; "))
		})
		if err != nil {
			return err
		}
		printSafetySummary(summary)
		return nil
	},
}

func printSafetySummary(s safety.Summary) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n", cyan("Safety Summary"))
	if s.WasSafe {
		fmt.Printf("  %s\n", color.New(color.FgGreen).Sprint("✓ safe"))
	} else {
		fmt.Printf("  %s\n", color.New(color.FgRed, color.Bold).Sprint("⊗ unsafe: "+s.UnsafeReason))
	}
	fmt.Printf("  Duration:    %v\n", s.Duration.Round(time.Second))
	fmt.Printf("  Samples:     %d (%d failed)\n", s.SamplesCollected, s.FailedSamples)
	fmt.Printf("  Violations:  %d\n", s.ViolationCount)
	fmt.Printf("  CPU:         avg %.1f%%, peak %.1f%%\n", s.AvgCPUPercent, s.PeakCPUPercent)
	fmt.Printf("  Wait:        avg %.1fms, peak %.1fms\n", s.AvgWaitMs, s.PeakWaitMs)
	fmt.Printf("  Blocking:    peak %d\n", s.PeakBlocking)
	fmt.Println()
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorDuration, "duration", 0, "stop after this long (0 = until interrupted)")
	monitorCmd.Flags().StringVar(&monitorPostgres, "postgres", "", "Postgres connection string for engine metrics")
	rootCmd.AddCommand(monitorCmd)
}
