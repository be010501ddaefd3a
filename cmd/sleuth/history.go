package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/sleuth/internal/dialog"
)

var (
	historyLimit   int
	historyJSON    bool
	historyVerbose bool
)

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "List past investigations or show one report",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			rep, err := store.GetReport(ctx, args[0])
			if err != nil {
				return err
			}
			if historyJSON {
				data, err := rep.JSON()
				if err != nil {
					return fmt.Errorf("failed to encode report: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}
			return rep.WriteText(os.Stdout, historyVerbose)
		}

		records, err := store.ListInvestigations(ctx, historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			data, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode history: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		if len(records) == 0 {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("\n%s No investigations recorded in %s\n\n", yellow("ℹ"), cfg.Storage.Path)
			return nil
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan("Recent Investigations"))
		for _, rec := range records {
			fmt.Printf("%s  %s  %s  %3.0f%%  %d turns  %d tokens\n",
				rec.StartedAt.Local().Format(time.DateTime),
				rec.SessionID,
				statusColor(rec.Status).Sprintf("%-18s", rec.Status),
				rec.OverallConfidence*100,
				rec.TurnsUsed,
				rec.CostUsed,
			)
			fmt.Printf("    %s %s\n", gray("→"), rec.Headline)
		}
		fmt.Println()
		return nil
	},
}

func statusColor(s dialog.Status) *color.Color {
	switch s {
	case dialog.StatusCompleted:
		return color.New(color.FgGreen)
	case dialog.StatusAborted:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow)
	}
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of investigations to list")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print as JSON")
	historyCmd.Flags().BoolVarP(&historyVerbose, "verbose", "v", false, "include evidence and turns when showing a report")
	rootCmd.AddCommand(historyCmd)
}
