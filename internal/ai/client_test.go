package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/steveyegge/sleuth/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMessages is a scripted messageAPI.
type fakeMessages struct {
	mu        sync.Mutex
	calls     []anthropic.MessageNewParams
	responses []*anthropic.Message
	errs      []error
	// inputTokens is what CountTokens reports; countErr makes it fail.
	inputTokens int64
	countErr    error
}

func (f *fakeMessages) CountTokens(context.Context, anthropic.MessageCountTokensParams, ...option.RequestOption) (*anthropic.MessageTokensCount, error) {
	if f.countErr != nil {
		return nil, f.countErr
	}
	return &anthropic.MessageTokensCount{InputTokens: f.inputTokens}, nil
}

func (f *fakeMessages) New(ctx context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, body)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return textMessage("{}", 1, 1), nil
}

func textMessage(text string, in, out int64) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: text}},
		Usage:   anthropic.Usage{InputTokens: in, OutputTokens: out},
	}
}

type fakeTracker struct {
	allow    bool
	reason   string
	recorded map[string]int64
}

func (f *fakeTracker) RecordUsage(_ context.Context, sessionID string, in, out int64) error {
	if f.recorded == nil {
		f.recorded = make(map[string]int64)
	}
	f.recorded[sessionID] += in + out
	return nil
}

func (f *fakeTracker) CanProceed(string) (bool, string) { return f.allow, f.reason }

func TestCompleteReturnsContentAndCost(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{textMessage(`{"findings":[]}`, 120, 30)}}
	tracker := &fakeTracker{allow: true}
	c := newClient(fake, Config{MaxOutputTokens: 500, CostTracker: tracker})

	ctx := WithSession(context.Background(), "sess-1")
	got, err := c.Complete(ctx, "why is it slow?", 10_000)
	require.NoError(t, err)
	assert.Equal(t, `{"findings":[]}`, got.Content)
	assert.EqualValues(t, 150, got.CostUsed)
	assert.EqualValues(t, 150, tracker.recorded["sess-1"])

	require.Len(t, fake.calls, 1)
	assert.EqualValues(t, 500, fake.calls[0].MaxTokens)
	assert.Equal(t, anthropic.Model(DefaultModel), fake.calls[0].Model)
}

func TestCompleteCapsOutputAtRemainingBudget(t *testing.T) {
	fake := &fakeMessages{}
	c := newClient(fake, Config{MaxOutputTokens: 2000})

	_, err := c.Complete(context.Background(), "prompt", 300)
	require.NoError(t, err)
	assert.EqualValues(t, 300, fake.calls[0].MaxTokens)
}

func TestCompleteKeepsInputPlusOutputWithinMaxCost(t *testing.T) {
	fake := &fakeMessages{
		inputTokens: 120,
		responses:   []*anthropic.Message{textMessage(`{"findings":[]}`, 120, 60)},
	}
	c := newClient(fake, Config{MaxOutputTokens: 2000})

	got, err := c.Complete(context.Background(), "prompt", 200)
	require.NoError(t, err)
	require.Len(t, fake.calls, 1)
	assert.EqualValues(t, 80, fake.calls[0].MaxTokens)
	assert.LessOrEqual(t, got.CostUsed, int64(200))
}

func TestCompleteRejectsPromptLargerThanMaxCost(t *testing.T) {
	fake := &fakeMessages{inputTokens: 800}
	c := newClient(fake, Config{})

	_, err := c.Complete(context.Background(), "prompt", 200)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBudgetExceeded)
	assert.Empty(t, fake.calls)
}

func TestCompleteEstimatesPromptWhenCountFails(t *testing.T) {
	fake := &fakeMessages{countErr: errors.New("count unavailable")}
	c := newClient(fake, Config{System: "sys", MaxOutputTokens: 2000})

	_, err := c.Complete(context.Background(), "twelve bytes", 100)
	require.NoError(t, err)
	want := 100 - (estimateTokens("sys") + estimateTokens("twelve bytes"))
	assert.EqualValues(t, want, fake.calls[0].MaxTokens)
}

func TestCompleteTruncatedAtBudgetIsBudgetBound(t *testing.T) {
	msg := textMessage(`{"findings":[{"compo`, 50, 150)
	msg.StopReason = anthropic.StopReasonMaxTokens
	fake := &fakeMessages{inputTokens: 50, responses: []*anthropic.Message{msg}}
	c := newClient(fake, Config{MaxOutputTokens: 1000})

	got, err := c.Complete(context.Background(), "prompt", 200)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBudgetExceeded)
	assert.NotErrorIs(t, err, types.ErrReasoningFailure)
	assert.EqualValues(t, 200, got.CostUsed)
}

func TestCompleteRejectsExhaustedBudget(t *testing.T) {
	fake := &fakeMessages{}
	c := newClient(fake, Config{})

	_, err := c.Complete(context.Background(), "prompt", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBudgetExceeded)
	assert.Empty(t, fake.calls)
}

func TestCompleteHonoursCostTracker(t *testing.T) {
	fake := &fakeMessages{}
	c := newClient(fake, Config{CostTracker: &fakeTracker{allow: false, reason: "hourly token budget exceeded"}})

	_, err := c.Complete(context.Background(), "prompt", 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBudgetExceeded)
	assert.Contains(t, err.Error(), "hourly token budget exceeded")
	assert.Empty(t, fake.calls)
}

func TestCompleteWrapsBackendError(t *testing.T) {
	fake := &fakeMessages{errs: []error{errors.New("invalid request")}}
	c := newClient(fake, Config{})

	_, err := c.Complete(context.Background(), "prompt", 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrReasoningFailure)
	assert.Len(t, fake.calls, 1, "failures are not retried by default")
}

func TestCompleteEmptyResponseKeepsCost(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{textMessage("   ", 40, 2)}}
	c := newClient(fake, Config{})

	got, err := c.Complete(context.Background(), "prompt", 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.EqualValues(t, 42, got.CostUsed)
}

func TestCompleteRetriesTransientErrorsWhenEnabled(t *testing.T) {
	fake := &fakeMessages{errs: []error{errors.New("connection reset by peer"), nil}}
	retry := DefaultRetryConfig()
	retry.MaxRetries = 2
	retry.InitialBackoff = time.Millisecond
	retry.MaxBackoff = time.Millisecond
	c := newClient(fake, Config{Retry: retry})

	got, err := c.Complete(context.Background(), "prompt", 1000)
	require.NoError(t, err)
	assert.Equal(t, "{}", got.Content)
	assert.Len(t, fake.calls, 2)
}

func TestSessionFromContext(t *testing.T) {
	assert.Equal(t, "", SessionFromContext(context.Background()))
	assert.Equal(t, "abc", SessionFromContext(WithSession(context.Background(), "abc")))
}

func TestHealthCheckReportsOpenCircuit(t *testing.T) {
	c := newClient(&fakeMessages{}, Config{})
	require.NoError(t, c.HealthCheck())

	for i := 0; i < c.retry.FailureThreshold; i++ {
		c.circuitBreaker.RecordFailure()
	}
	err := c.HealthCheck()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
