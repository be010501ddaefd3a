// Package ai adapts the Anthropic Messages API into a cost-bounded
// request/response reasoning backend for bottleneck investigations.
package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/steveyegge/sleuth/internal/types"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultMaxOutputTokens caps a single completion.
	DefaultMaxOutputTokens = 1024

	defaultSystemPrompt = "You are an expert database and operating system performance analyst " +
		"conducting a focused bottleneck investigation. Answer the specific questions with " +
		"actionable insights and give a confidence score between 0 and 1 for every finding."
)

// ErrEmptyResponse is returned when the backend replies without any text.
var ErrEmptyResponse = errors.New("reasoning service returned no text")

// Completion is the result of one reasoning call.
type Completion struct {
	Content string
	// CostUsed is the total tokens (input + output) charged for the call.
	CostUsed     int64
	InputTokens  int64
	OutputTokens int64
	Duration     time.Duration
}

// CostTracker enforces spend limits that span sessions.
type CostTracker interface {
	RecordUsage(ctx context.Context, sessionID string, inputTokens, outputTokens int64) error
	CanProceed(sessionID string) (bool, string)
}

// messageAPI is the subset of anthropic.MessageService used here.
type messageAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
	CountTokens(ctx context.Context, body anthropic.MessageCountTokensParams, opts ...option.RequestOption) (*anthropic.MessageTokensCount, error)
}

// Config holds client configuration.
type Config struct {
	APIKey          string // if empty, ANTHROPIC_API_KEY is used
	Model           string
	MaxOutputTokens int64
	System          string
	Retry           RetryConfig
	CostTracker     CostTracker // optional
	Logger          zerolog.Logger
}

// Client is a reasoning backend backed by Anthropic.
type Client struct {
	messages        messageAPI
	model           string
	maxOutputTokens int64
	system          string
	retry           RetryConfig
	circuitBreaker  *CircuitBreaker
	concurrencySem  *semaphore.Weighted
	costTracker     CostTracker
	log             zerolog.Logger
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newClient(&client.Messages, cfg), nil
}

func newClient(messages messageAPI, cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxOut := cfg.MaxOutputTokens
	if maxOut <= 0 {
		maxOut = DefaultMaxOutputTokens
	}
	system := cfg.System
	if system == "" {
		system = defaultSystemPrompt
	}
	retry := cfg.Retry
	if retry == (RetryConfig{}) {
		retry = DefaultRetryConfig()
	}

	log := cfg.Logger.With().Str("component", "ai").Logger()

	var breaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		breaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
		breaker.log = log
	}

	var sem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	return &Client{
		messages:        messages,
		model:           model,
		maxOutputTokens: maxOut,
		system:          system,
		retry:           retry,
		circuitBreaker:  breaker,
		concurrencySem:  sem,
		costTracker:     cfg.CostTracker,
		log:             log,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// HealthCheck reports an error while the circuit breaker is open.
func (c *Client) HealthCheck() error {
	if c.circuitBreaker == nil {
		return nil
	}
	state, failures, _ := c.circuitBreaker.GetMetrics()
	if state == CircuitOpen {
		return fmt.Errorf("reasoning service unavailable: %w (failures=%d, retry in %v)",
			ErrCircuitOpen, failures, c.retry.OpenTimeout)
	}
	return nil
}

// Complete sends prompt and returns the reply. The prompt is counted first and
// output tokens are capped at what is left of maxCost, so input plus output
// stays within maxCost. A reply cut short by that cap is reported as
// types.ErrBudgetExceeded along with the cost it used.
func (c *Client) Complete(ctx context.Context, prompt string, maxCost int64) (Completion, error) {
	if maxCost <= 0 {
		return Completion{}, fmt.Errorf("%w: no cost remaining for this call", types.ErrBudgetExceeded)
	}

	session := SessionFromContext(ctx)
	if c.costTracker != nil {
		if ok, reason := c.costTracker.CanProceed(session); !ok {
			return Completion{}, fmt.Errorf("%w: %s", types.ErrBudgetExceeded, reason)
		}
	}

	inputTokens := c.countInput(ctx, prompt)
	if inputTokens >= maxCost {
		return Completion{}, fmt.Errorf("%w: prompt needs ~%d tokens, %d remaining",
			types.ErrBudgetExceeded, inputTokens, maxCost)
	}

	maxTokens := c.maxOutputTokens
	budgetCapped := false
	if left := maxCost - inputTokens; left < maxTokens {
		maxTokens = left
		budgetCapped = true
	}

	start := time.Now()
	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, "complete", func(attemptCtx context.Context) error {
		resp, apiErr := c.messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: maxTokens,
			System:    []anthropic.TextBlockParam{{Text: c.system}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return Completion{}, fmt.Errorf("%w: %w", types.ErrReasoningFailure, err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := Completion{
		Content:      strings.TrimSpace(text.String()),
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		CostUsed:     response.Usage.InputTokens + response.Usage.OutputTokens,
		Duration:     time.Since(start),
	}

	if c.costTracker != nil {
		if err := c.costTracker.RecordUsage(ctx, session, out.InputTokens, out.OutputTokens); err != nil {
			c.log.Warn().Err(err).Str("session", session).Msg("failed to record reasoning usage")
		}
	}

	c.log.Debug().
		Str("session", session).
		Int64("input_tokens", out.InputTokens).
		Int64("output_tokens", out.OutputTokens).
		Dur("duration", out.Duration).
		Msg("reasoning call complete")

	if budgetCapped && response.StopReason == anthropic.StopReasonMaxTokens {
		return out, fmt.Errorf("%w: reply truncated at %d output tokens", types.ErrBudgetExceeded, maxTokens)
	}
	if out.Content == "" {
		// The spend is real even when the reply is unusable.
		return out, fmt.Errorf("%w: %w", types.ErrReasoningFailure, ErrEmptyResponse)
	}
	return out, nil
}

// countInput returns the input tokens prompt will be charged, falling back to
// an overestimate when the count endpoint is unavailable.
func (c *Client) countInput(ctx context.Context, prompt string) int64 {
	count, err := c.messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(c.model),
		System: anthropic.MessageCountTokensParamsSystemUnion{
			OfTextBlockArray: []anthropic.TextBlockParam{{Text: c.system}},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err == nil && count != nil {
		return count.InputTokens
	}
	c.log.Debug().Err(err).Msg("token count unavailable, estimating prompt size")
	return estimateTokens(c.system) + estimateTokens(prompt)
}

// estimateTokens assumes three bytes per token, above the usual four for English.
func estimateTokens(s string) int64 {
	return int64(len(s))/3 + 1
}

type sessionKey struct{}

// WithSession tags ctx with the investigation session id used for cost attribution.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session id stored by WithSession, if any.
func SessionFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey{}).(string); ok {
		return v
	}
	return ""
}
