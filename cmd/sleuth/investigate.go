package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	investigateSnapshot string
	investigatePostgres string
	investigateNoAI     bool
	investigateJSON     bool
	investigateVerbose  bool
)

var investigateCmd = &cobra.Command{
	Use:   "investigate",
	Short: "Run one bottleneck investigation",
	Long: `Collect a metrics snapshot, score it locally and, if needed, consult the
reasoning service until the diagnosis is confident or a budget runs out.

Metrics come from the local host (and Postgres when --postgres or postgres.dsn is
set), or from a recorded snapshot file with --snapshot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		runner, cleanup, err := buildRunner(ctx, runnerOptions{
			sourceOptions: sourceOptions{
				snapshotFile: investigateSnapshot,
				postgresDSN:  investigatePostgres,
			},
			noAI: investigateNoAI,
		})
		if err != nil {
			return err
		}
		defer cleanup()

		rep, err := runner.Run(ctx)
		if err != nil {
			return err
		}

		if investigateJSON {
			data, err := rep.JSON()
			if err != nil {
				return fmt.Errorf("failed to encode report: %w", err)
			}
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		}
		return rep.WriteText(os.Stdout, investigateVerbose)
	},
}

func init() {
	investigateCmd.Flags().StringVar(&investigateSnapshot, "snapshot", "", "investigate a recorded snapshot file (YAML or JSON)")
	investigateCmd.Flags().StringVar(&investigatePostgres, "postgres", "", "Postgres connection string for engine metrics")
	investigateCmd.Flags().BoolVar(&investigateNoAI, "no-ai", false, "local heuristics only, no reasoning service")
	investigateCmd.Flags().BoolVar(&investigateJSON, "json", false, "print the report as JSON")
	investigateCmd.Flags().BoolVarP(&investigateVerbose, "verbose", "v", false, "include evidence and turns")
	rootCmd.AddCommand(investigateCmd)
}
