package cost

import (
	"fmt"
	"time"
)

// Config holds reasoning cost budgeting configuration. Token counts are the
// unit the investigation budgets are expressed in; USD figures are derived
// from per-million token prices.
type Config struct {
	// Enabled controls whether budgets are enforced. Usage is still recorded when disabled.
	Enabled bool `yaml:"enabled"`

	// MaxTokensPerHour caps input+output tokens across all sessions per window. 0 = unlimited.
	MaxTokensPerHour int64 `yaml:"max_tokens_per_hour"`

	// MaxTokensPerSession caps tokens for one investigation. 0 = unlimited.
	MaxTokensPerSession int64 `yaml:"max_tokens_per_session"`

	// MaxCostPerHour caps USD spend per window. 0 = unlimited.
	MaxCostPerHour float64 `yaml:"max_cost_per_hour"`

	// AlertThreshold is the fraction of a limit that moves the status to WARNING.
	AlertThreshold float64 `yaml:"alert_threshold"`

	// BudgetResetInterval is the length of the hourly window.
	BudgetResetInterval time.Duration `yaml:"budget_reset_interval"`

	// Prices per one million tokens, in USD.
	InputTokenCost  float64 `yaml:"input_token_cost"`
	OutputTokenCost float64 `yaml:"output_token_cost"`
}

// DefaultConfig returns default cost budgeting configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:             true,
		MaxTokensPerHour:    100000,
		MaxTokensPerSession: 0,
		MaxCostPerHour:      1.50,
		AlertThreshold:      0.80,
		BudgetResetInterval: time.Hour,
		InputTokenCost:      3.00,
		OutputTokenCost:     15.00,
	}
}

// Validate checks that the configuration has safe values.
func (c *Config) Validate() error {
	if c.MaxTokensPerHour < 0 {
		return fmt.Errorf("max_tokens_per_hour must be non-negative, got %d", c.MaxTokensPerHour)
	}
	if c.MaxTokensPerSession < 0 {
		return fmt.Errorf("max_tokens_per_session must be non-negative, got %d", c.MaxTokensPerSession)
	}
	if c.MaxCostPerHour < 0 {
		return fmt.Errorf("max_cost_per_hour must be non-negative, got %.2f", c.MaxCostPerHour)
	}
	if c.AlertThreshold <= 0 || c.AlertThreshold > 1.0 {
		return fmt.Errorf("alert_threshold must be between 0 and 1, got %.2f", c.AlertThreshold)
	}
	if c.BudgetResetInterval <= 0 {
		return fmt.Errorf("budget_reset_interval must be positive, got %v", c.BudgetResetInterval)
	}
	if c.InputTokenCost < 0 {
		return fmt.Errorf("input_token_cost must be non-negative, got %.2f", c.InputTokenCost)
	}
	if c.OutputTokenCost < 0 {
		return fmt.Errorf("output_token_cost must be non-negative, got %.2f", c.OutputTokenCost)
	}
	return nil
}

// Price returns the USD cost of the given token usage.
func (c *Config) Price(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)*c.InputTokenCost/1_000_000 +
		float64(outputTokens)*c.OutputTokenCost/1_000_000
}
