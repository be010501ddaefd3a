package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/sleuth/internal/repl"
)

var (
	consoleSnapshot string
	consolePostgres string
	consoleNoAI     bool
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the interactive investigation console",
	Long: `Start an interactive console for running investigations and browsing
their reports. Type 'help' in the console for available commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		runner, cleanup, err := buildRunner(ctx, runnerOptions{
			sourceOptions: sourceOptions{
				snapshotFile: consoleSnapshot,
				postgresDSN:  consolePostgres,
			},
			noAI: consoleNoAI,
		})
		if err != nil {
			return err
		}
		defer cleanup()

		r, err := repl.New(&repl.Config{
			Runner:      runner,
			HistoryFile: filepath.Join(filepath.Dir(cfg.Storage.Path), "console_history"),
		})
		if err != nil {
			return err
		}
		return r.Run(ctx)
	},
}

func init() {
	consoleCmd.Flags().StringVar(&consoleSnapshot, "snapshot", "", "replay a recorded snapshot file instead of live metrics")
	consoleCmd.Flags().StringVar(&consolePostgres, "postgres", "", "Postgres connection string for engine metrics")
	consoleCmd.Flags().BoolVar(&consoleNoAI, "no-ai", false, "local heuristics only, no reasoning service")
	rootCmd.AddCommand(consoleCmd)
}
