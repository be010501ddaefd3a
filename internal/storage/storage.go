// Package storage defines the audit store for investigations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/steveyegge/sleuth/internal/cost"
	"github.com/steveyegge/sleuth/internal/dialog"
	"github.com/steveyegge/sleuth/internal/report"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("investigation not found")

// InvestigationRecord is the listing view of a stored investigation.
type InvestigationRecord struct {
	SessionID         string        `json:"session_id"`
	Status            dialog.Status `json:"status"`
	Headline          string        `json:"headline"`
	AbortReason       string        `json:"abort_reason,omitempty"`
	OverallConfidence float64       `json:"overall_confidence"`
	CostUsed          int64         `json:"cost_used"`
	TurnsUsed         int           `json:"turns_used"`
	// WasSafe is nil when the investigation ran without a safety monitor.
	WasSafe   *bool         `json:"was_safe,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Store persists investigation audit trails and reasoning usage.
type Store interface {
	// Turns are written as they happen so a crashed run still leaves an audit trail.
	SaveTurn(ctx context.Context, sessionID string, turn dialog.Turn) error
	GetTurns(ctx context.Context, sessionID string) ([]dialog.Turn, error)

	SaveReport(ctx context.Context, r *report.Report) error
	GetReport(ctx context.Context, sessionID string) (*report.Report, error)
	ListInvestigations(ctx context.Context, limit int) ([]InvestigationRecord, error)

	cost.UsageStore

	Close() error
}
