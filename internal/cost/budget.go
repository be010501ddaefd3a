// Package cost tracks reasoning spend across investigations and enforces
// hourly and per-session limits.
package cost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BudgetStatus represents the current budget state.
type BudgetStatus int

const (
	// BudgetHealthy indicates usage is under every limit.
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning indicates usage passed the alert threshold.
	BudgetWarning
	// BudgetExceeded indicates a limit has been reached.
	BudgetExceeded
)

func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// UsageRecord is one charged reasoning call.
type UsageRecord struct {
	SessionID    string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Timestamp    time.Time
}

// UsageStore persists usage so the hourly window survives restarts.
type UsageStore interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
	UsageSince(ctx context.Context, since time.Time) (tokens int64, costUSD float64, err error)
}

// BudgetStats is a point-in-time view of the tracker.
type BudgetStats struct {
	Status           BudgetStatus `json:"status"`
	HourlyTokensUsed int64        `json:"hourly_tokens_used"`
	HourlyCostUsed   float64      `json:"hourly_cost_used"`
	TotalTokensUsed  int64        `json:"total_tokens_used"`
	TotalCostUsed    float64      `json:"total_cost_used"`
	WindowStartTime  time.Time    `json:"window_start_time"`
	Sessions         int          `json:"sessions"`
	Config           Config       `json:"config"`
}

// Tracker tracks reasoning cost budgets and enforces limits.
type Tracker struct {
	config *Config
	store  UsageStore
	log    zerolog.Logger
	now    func() time.Time

	mu               sync.Mutex
	hourlyTokens     int64
	hourlyCost       float64
	windowStart      time.Time
	sessionTokens    map[string]int64
	totalTokens      int64
	totalCost        float64
	warningLogged    bool
	lastExceededWarn time.Time
}

// NewTracker creates a tracker. store may be nil.
func NewTracker(cfg *Config, store UsageStore, logger zerolog.Logger) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Tracker{
		config:        cfg,
		store:         store,
		log:           logger.With().Str("component", "cost").Logger(),
		now:           time.Now,
		windowStart:   time.Now(),
		sessionTokens: make(map[string]int64),
	}, nil
}

// Restore seeds the current window from the store.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	// Trailing-interval usage is charged to a window starting now.
	now := t.now()
	tokens, usd, err := t.store.UsageSince(ctx, now.Add(-t.config.BudgetResetInterval))
	if err != nil {
		return fmt.Errorf("failed to restore usage: %w", err)
	}
	t.windowStart = now
	t.hourlyTokens = tokens
	t.hourlyCost = usd
	return nil
}

// RecordUsage charges a reasoning call to sessionID.
func (t *Tracker) RecordUsage(ctx context.Context, sessionID string, inputTokens, outputTokens int64) error {
	t.mu.Lock()
	t.resetWindowLocked()

	tokens := inputTokens + outputTokens
	usd := t.config.Price(inputTokens, outputTokens)
	t.hourlyTokens += tokens
	t.hourlyCost += usd
	t.totalTokens += tokens
	t.totalCost += usd
	if sessionID != "" {
		t.sessionTokens[sessionID] += tokens
	}
	status := t.statusLocked()
	t.alertLocked(status)
	now := t.now()
	t.mu.Unlock()

	if t.store == nil {
		return nil
	}
	return t.store.RecordUsage(ctx, UsageRecord{
		SessionID:    sessionID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      usd,
		Timestamp:    now,
	})
}

// CheckBudget returns the current budget status.
func (t *Tracker) CheckBudget() BudgetStatus {
	if !t.config.Enabled {
		return BudgetHealthy
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetWindowLocked()
	return t.statusLocked()
}

// CanProceed reports whether another call may be made for sessionID, and why not.
func (t *Tracker) CanProceed(sessionID string) (bool, string) {
	if !t.config.Enabled {
		return true, ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetWindowLocked()

	if t.config.MaxTokensPerHour > 0 && t.hourlyTokens >= t.config.MaxTokensPerHour {
		return false, fmt.Sprintf("hourly token budget exceeded (%d/%d tokens used)",
			t.hourlyTokens, t.config.MaxTokensPerHour)
	}
	if t.config.MaxCostPerHour > 0 && t.hourlyCost >= t.config.MaxCostPerHour {
		return false, fmt.Sprintf("hourly cost budget exceeded ($%.2f/$%.2f used)",
			t.hourlyCost, t.config.MaxCostPerHour)
	}
	if sessionID != "" && t.config.MaxTokensPerSession > 0 && t.sessionTokens[sessionID] >= t.config.MaxTokensPerSession {
		return false, fmt.Sprintf("session token budget exceeded for %s (%d/%d tokens used)",
			sessionID, t.sessionTokens[sessionID], t.config.MaxTokensPerSession)
	}
	return true, ""
}

// GetStats returns current budget statistics.
func (t *Tracker) GetStats() BudgetStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetWindowLocked()

	status := BudgetHealthy
	if t.config.Enabled {
		status = t.statusLocked()
	}
	return BudgetStats{
		Status:           status,
		HourlyTokensUsed: t.hourlyTokens,
		HourlyCostUsed:   t.hourlyCost,
		TotalTokensUsed:  t.totalTokens,
		TotalCostUsed:    t.totalCost,
		WindowStartTime:  t.windowStart,
		Sessions:         len(t.sessionTokens),
		Config:           *t.config,
	}
}

// resetWindowLocked starts a new window once the current one has elapsed.
func (t *Tracker) resetWindowLocked() {
	now := t.now()
	if now.Sub(t.windowStart) >= t.config.BudgetResetInterval {
		t.hourlyTokens = 0
		t.hourlyCost = 0
		t.windowStart = now
		t.warningLogged = false
	}
}

func (t *Tracker) statusLocked() BudgetStatus {
	cfg := t.config
	if (cfg.MaxTokensPerHour > 0 && t.hourlyTokens >= cfg.MaxTokensPerHour) ||
		(cfg.MaxCostPerHour > 0 && t.hourlyCost >= cfg.MaxCostPerHour) {
		return BudgetExceeded
	}
	if cfg.MaxTokensPerHour > 0 && float64(t.hourlyTokens)/float64(cfg.MaxTokensPerHour) >= cfg.AlertThreshold {
		return BudgetWarning
	}
	if cfg.MaxCostPerHour > 0 && t.hourlyCost/cfg.MaxCostPerHour >= cfg.AlertThreshold {
		return BudgetWarning
	}
	return BudgetHealthy
}

// alertLocked logs a warning once per window and exceeded alerts at most every five minutes.
func (t *Tracker) alertLocked(status BudgetStatus) {
	if !t.config.Enabled {
		return
	}
	now := t.now()
	switch status {
	case BudgetWarning:
		if t.warningLogged {
			return
		}
		t.warningLogged = true
		t.log.Warn().
			Int64("hourly_tokens", t.hourlyTokens).
			Int64("max_tokens_per_hour", t.config.MaxTokensPerHour).
			Float64("hourly_cost_usd", t.hourlyCost).
			Msg("reasoning cost budget warning")
	case BudgetExceeded:
		if now.Sub(t.lastExceededWarn) < 5*time.Minute {
			return
		}
		t.lastExceededWarn = now
		t.log.Error().
			Int64("hourly_tokens", t.hourlyTokens).
			Float64("hourly_cost_usd", t.hourlyCost).
			Dur("resets_in", t.windowStart.Add(t.config.BudgetResetInterval).Sub(now).Round(time.Minute)).
			Msg("reasoning cost budget exceeded; new calls are blocked until the window resets")
	}
}
