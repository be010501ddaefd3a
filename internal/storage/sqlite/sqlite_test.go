package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sleuth/internal/cost"
	"github.com/steveyegge/sleuth/internal/dialog"
	"github.com/steveyegge/sleuth/internal/report"
	"github.com/steveyegge/sleuth/internal/safety"
	"github.com/steveyegge/sleuth/internal/storage"
	"github.com/steveyegge/sleuth/internal/types"
)

func setupTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "nested", "sleuth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testReport(id string, start time.Time, status dialog.Status) *report.Report {
	return &report.Report{
		SessionID:         id,
		Status:            status,
		Headline:          "Likely CPU bottleneck: cpu saturated (confidence 85%)",
		OverallConfidence: 0.85,
		LocalConfidence:   0.7,
		Candidates: []types.BottleneckCandidate{{
			Component:   types.ComponentCPU,
			Label:       "saturation",
			Description: "cpu saturated",
			Confidence:  0.85,
			Origin:      types.OriginLocal,
		}},
		CostUsed:   120,
		CostBudget: 5000,
		TurnsUsed:  1,
		TurnBudget: 8,
		StartTime:  start,
		Duration:   1500 * time.Millisecond,
	}
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "sleuth.db")

	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening an existing database keeps the schema.
	store, err = New(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestSaveAndGetTurns(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	ts := time.UnixMilli(1_700_000_000_000)

	turn1 := dialog.Turn{
		Number:    1,
		Prompt:    "prompt one",
		Response:  `{"findings":[]}`,
		CostUsed:  40,
		Timestamp: ts,
		Duration:  250 * time.Millisecond,
		Questions: []string{"is the cpu saturated?"},
		Answers:   []dialog.Answer{{Question: "is the cpu saturated?", Answer: "yes"}},
	}
	turn2 := dialog.Turn{
		Number:    2,
		Prompt:    "prompt two",
		Timestamp: ts.Add(time.Second),
		Error:     "reasoning service timed out after 60s",
	}

	require.NoError(t, store.SaveTurn(ctx, "s1", turn2))
	require.NoError(t, store.SaveTurn(ctx, "s1", turn1))
	require.NoError(t, store.SaveTurn(ctx, "s2", turn1))

	turns, err := store.GetTurns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, 1, turns[0].Number)
	assert.Equal(t, "prompt one", turns[0].Prompt)
	assert.Equal(t, int64(40), turns[0].CostUsed)
	assert.Equal(t, []string{"is the cpu saturated?"}, turns[0].Questions)
	assert.Equal(t, turn1.Answers, turns[0].Answers)
	assert.True(t, ts.Equal(turns[0].Timestamp))
	assert.Equal(t, 250*time.Millisecond, turns[0].Duration)

	assert.Equal(t, 2, turns[1].Number)
	assert.Equal(t, "reasoning service timed out after 60s", turns[1].Error)
	assert.Empty(t, turns[1].Questions)
}

func TestSaveTurnReplaces(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	turn := dialog.Turn{Number: 1, Prompt: "first", Timestamp: time.Now()}
	require.NoError(t, store.SaveTurn(ctx, "s1", turn))
	turn.Prompt = "second"
	require.NoError(t, store.SaveTurn(ctx, "s1", turn))

	turns, err := store.GetTurns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "second", turns[0].Prompt)
}

func TestGetTurnsUnknownSession(t *testing.T) {
	store := setupTestStorage(t)
	turns, err := store.GetTurns(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestSaveAndGetReport(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000).UTC()

	r := testReport("s1", start, dialog.StatusCompleted)
	r.Safety = &safety.Summary{State: safety.StateStopped, WasSafe: true, SamplesCollected: 4}
	require.NoError(t, store.SaveReport(ctx, r))

	got, err := store.GetReport(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, r.SessionID, got.SessionID)
	assert.Equal(t, dialog.StatusCompleted, got.Status)
	assert.Equal(t, r.Headline, got.Headline)
	assert.InDelta(t, 0.85, got.OverallConfidence, 1e-9)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, types.ComponentCPU, got.Candidates[0].Component)
	require.NotNil(t, got.Safety)
	assert.Equal(t, 4, got.Safety.SamplesCollected)
	assert.True(t, start.Equal(got.StartTime))
}

func TestGetReportNotFound(t *testing.T) {
	store := setupTestStorage(t)
	_, err := store.GetReport(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestListInvestigations(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	older := testReport("older", base, dialog.StatusTurnLimitReached)
	newer := testReport("newer", base.Add(time.Minute), dialog.StatusAborted)
	newer.AbortReason = "safety violation: High CPU usage"
	newer.Safety = &safety.Summary{WasSafe: false}
	require.NoError(t, store.SaveReport(ctx, older))
	require.NoError(t, store.SaveReport(ctx, newer))

	recs, err := store.ListInvestigations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "newer", recs[0].SessionID)
	assert.Equal(t, dialog.StatusAborted, recs[0].Status)
	assert.Equal(t, "safety violation: High CPU usage", recs[0].AbortReason)
	require.NotNil(t, recs[0].WasSafe)
	assert.False(t, *recs[0].WasSafe)
	assert.Equal(t, 1500*time.Millisecond, recs[0].Duration)

	assert.Equal(t, "older", recs[1].SessionID)
	assert.Nil(t, recs[1].WasSafe)

	recs, err = store.ListInvestigations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "newer", recs[0].SessionID)
}

func TestUsageWindow(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.RecordUsage(ctx, cost.UsageRecord{
		SessionID: "s1", InputTokens: 100, OutputTokens: 50, CostUSD: 0.01, Timestamp: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, store.RecordUsage(ctx, cost.UsageRecord{
		SessionID: "s1", InputTokens: 200, OutputTokens: 20, CostUSD: 0.02, Timestamp: now.Add(-10 * time.Minute),
	}))
	require.NoError(t, store.RecordUsage(ctx, cost.UsageRecord{
		SessionID: "s2", InputTokens: 30, OutputTokens: 10, CostUSD: 0.005, Timestamp: now,
	}))

	tokens, usd, err := store.UsageSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(260), tokens)
	assert.InDelta(t, 0.025, usd, 1e-9)

	tokens, usd, err = store.UsageSince(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, tokens)
	assert.Zero(t, usd)
}

func TestTrackerRestoresFromStore(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.RecordUsage(ctx, cost.UsageRecord{
		SessionID: "s1", InputTokens: 400, OutputTokens: 100, Timestamp: time.Now(),
	}))

	cfg := cost.DefaultConfig()
	tracker, err := cost.NewTracker(cfg, store, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, tracker.Restore(ctx))
	assert.Equal(t, int64(500), tracker.GetStats().HourlyTokensUsed)
}
