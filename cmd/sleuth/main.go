package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/steveyegge/sleuth/internal/config"
	"github.com/steveyegge/sleuth/internal/logging"
)

var (
	configPath  string
	envFile     string
	dbPath      string
	logLevel    string
	metricsAddr string

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sleuth",
	Short: "Adaptive performance bottleneck investigation",
	Long: `sleuth scores a metrics snapshot with local heuristics and, when those are
not conclusive, runs a bounded dialog with a reasoning service to refine the
diagnosis. A safety monitor watches the target throughout and aborts the
investigation if it becomes unsafe to continue.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", ".env file to load (default: ./.env if present)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "audit database path (default: ~/.sleuth/sleuth.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// setup loads configuration, applies flag overrides and initializes logging.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		c.Storage.Path = dbPath
	}
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("metrics-addr") {
		c.Metrics.Addr = metricsAddr
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = c
	logger = logging.Init(logging.Config{
		Format: c.Log.Format,
		Level:  c.Log.Level,
	})
	logger.Debug().Str("config", c.String()).Msg("configuration loaded")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
