package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// applyEnv overrides fields from the environment.
//
// Environment variables:
//   - SLEUTH_CONFIDENCE_THRESHOLD, SLEUTH_COST_BUDGET, SLEUTH_TURN_BUDGET,
//     SLEUTH_QUESTIONS_PER_TURN, SLEUTH_TURN_TIMEOUT, SLEUTH_TURN_DELAY
//   - SLEUTH_MAX_CPU_PERCENT, SLEUTH_MAX_WAIT_MS, SLEUTH_MAX_BLOCKING_COUNT,
//     SLEUTH_MAX_DURATION_MINUTES, SLEUTH_SAMPLE_INTERVAL_SECONDS, SLEUTH_VIOLATION_TRIP_COUNT
//   - SLEUTH_AI_ENABLED, SLEUTH_AI_MODEL, SLEUTH_AI_MAX_OUTPUT_TOKENS, SLEUTH_AI_MAX_RETRIES, ANTHROPIC_API_KEY
//   - SLEUTH_COST_ENABLED, SLEUTH_MAX_TOKENS_PER_HOUR, SLEUTH_MAX_COST_PER_HOUR
//   - SLEUTH_DB, SLEUTH_POSTGRES_DSN, SLEUTH_LOG_LEVEL, SLEUTH_LOG_FORMAT, SLEUTH_METRICS_ADDR
func (c *Config) applyEnv() error {
	steps := []error{
		parseEnvFloat("SLEUTH_CONFIDENCE_THRESHOLD", &c.Dialog.ConfidenceThreshold),
		parseEnvInt64("SLEUTH_COST_BUDGET", &c.Dialog.CostBudget),
		parseEnvInt("SLEUTH_TURN_BUDGET", &c.Dialog.TurnBudget),
		parseEnvInt("SLEUTH_QUESTIONS_PER_TURN", &c.Dialog.QuestionsPerTurn),
		parseEnvDuration("SLEUTH_TURN_TIMEOUT", &c.Dialog.TurnTimeout),
		parseEnvDuration("SLEUTH_TURN_DELAY", &c.Dialog.TurnDelay),

		parseEnvFloat("SLEUTH_MAX_CPU_PERCENT", &c.Safety.MaxCPUPercent),
		parseEnvFloat("SLEUTH_MAX_WAIT_MS", &c.Safety.MaxWaitMs),
		parseEnvInt("SLEUTH_MAX_BLOCKING_COUNT", &c.Safety.MaxBlockingCount),
		parseEnvInt("SLEUTH_MAX_DURATION_MINUTES", &c.Safety.MaxDurationMinutes),
		parseEnvInt("SLEUTH_SAMPLE_INTERVAL_SECONDS", &c.Safety.SampleIntervalSeconds),
		parseEnvInt("SLEUTH_VIOLATION_TRIP_COUNT", &c.Safety.ViolationTripCount),

		parseEnvBool("SLEUTH_AI_ENABLED", &c.AI.Enabled),
		parseEnvString("SLEUTH_AI_MODEL", &c.AI.Model),
		parseEnvInt64("SLEUTH_AI_MAX_OUTPUT_TOKENS", &c.AI.MaxOutputTokens),
		parseEnvInt("SLEUTH_AI_MAX_RETRIES", &c.AI.MaxRetries),
		parseEnvString("ANTHROPIC_API_KEY", &c.AI.APIKey),

		parseEnvBool("SLEUTH_COST_ENABLED", &c.Cost.Enabled),
		parseEnvInt64("SLEUTH_MAX_TOKENS_PER_HOUR", &c.Cost.MaxTokensPerHour),
		parseEnvFloat("SLEUTH_MAX_COST_PER_HOUR", &c.Cost.MaxCostPerHour),

		parseEnvString("SLEUTH_DB", &c.Storage.Path),
		parseEnvString("SLEUTH_POSTGRES_DSN", &c.Postgres.DSN),
		parseEnvString("SLEUTH_LOG_LEVEL", &c.Log.Level),
		parseEnvString("SLEUTH_LOG_FORMAT", &c.Log.Format),
		parseEnvString("SLEUTH_METRICS_ADDR", &c.Metrics.Addr),
	}
	for _, err := range steps {
		if err != nil {
			return err
		}
	}
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvInt64(key string, dest *int64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		*dest = time.Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvString(key string, dest *string) error {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
	return nil
}
