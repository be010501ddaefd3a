// Package sqlite implements storage.Store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/sleuth/internal/cost"
	"github.com/steveyegge/sleuth/internal/dialog"
	"github.com/steveyegge/sleuth/internal/report"
	"github.com/steveyegge/sleuth/internal/storage"
)

// SQLiteStorage implements storage.Store using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ storage.Store = (*SQLiteStorage)(nil)

// New opens (creating if needed) the database at path.
func New(path string) (*SQLiteStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL lets `sleuth history` read while an investigation is writing.
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveTurn records one reasoning turn. Saving the same turn twice replaces it.
func (s *SQLiteStorage) SaveTurn(ctx context.Context, sessionID string, turn dialog.Turn) error {
	questions, err := json.Marshal(nonNil(turn.Questions))
	if err != nil {
		return fmt.Errorf("failed to encode questions: %w", err)
	}
	answers, err := json.Marshal(nonNilAnswers(turn.Answers))
	if err != nil {
		return fmt.Errorf("failed to encode answers: %w", err)
	}

	query := `
		INSERT INTO turns (
			session_id, number, prompt, response, cost_used, questions, answers, error, created_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, number) DO UPDATE SET
			prompt = excluded.prompt,
			response = excluded.response,
			cost_used = excluded.cost_used,
			questions = excluded.questions,
			answers = excluded.answers,
			error = excluded.error,
			created_at = excluded.created_at,
			duration_ms = excluded.duration_ms
	`
	_, err = s.db.ExecContext(ctx, query,
		sessionID,
		turn.Number,
		turn.Prompt,
		turn.Response,
		turn.CostUsed,
		string(questions),
		string(answers),
		turn.Error,
		turn.Timestamp.UnixMilli(),
		turn.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save turn %d for %s: %w", turn.Number, sessionID, err)
	}
	return nil
}

// GetTurns returns the turns of a session in order.
func (s *SQLiteStorage) GetTurns(ctx context.Context, sessionID string) ([]dialog.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, prompt, response, cost_used, questions, answers, error, created_at, duration_ms
		FROM turns
		WHERE session_id = ?
		ORDER BY number
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []dialog.Turn
	for rows.Next() {
		var (
			t                  dialog.Turn
			questions, answers string
			createdAt, durMs   int64
		)
		if err := rows.Scan(&t.Number, &t.Prompt, &t.Response, &t.CostUsed, &questions, &answers,
			&t.Error, &createdAt, &durMs); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(questions), &t.Questions); err != nil {
			return nil, fmt.Errorf("failed to decode questions: %w", err)
		}
		if err := json.Unmarshal([]byte(answers), &t.Answers); err != nil {
			return nil, fmt.Errorf("failed to decode answers: %w", err)
		}
		t.Timestamp = time.UnixMilli(createdAt)
		t.Duration = time.Duration(durMs) * time.Millisecond
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}
	return turns, nil
}

// SaveReport stores a finished investigation, replacing any earlier copy.
func (s *SQLiteStorage) SaveReport(ctx context.Context, r *report.Report) error {
	data, err := r.JSON()
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	var wasSafe sql.NullBool
	if r.Safety != nil {
		wasSafe = sql.NullBool{Bool: r.Safety.WasSafe, Valid: true}
	}

	query := `
		INSERT INTO investigations (
			session_id, status, headline, abort_reason, overall_confidence, cost_used,
			turns_used, was_safe, started_at, duration_ms, report
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			headline = excluded.headline,
			abort_reason = excluded.abort_reason,
			overall_confidence = excluded.overall_confidence,
			cost_used = excluded.cost_used,
			turns_used = excluded.turns_used,
			was_safe = excluded.was_safe,
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms,
			report = excluded.report
	`
	_, err = s.db.ExecContext(ctx, query,
		r.SessionID,
		string(r.Status),
		r.Headline,
		r.AbortReason,
		r.OverallConfidence,
		r.CostUsed,
		r.TurnsUsed,
		wasSafe,
		r.StartTime.UnixMilli(),
		r.Duration.Milliseconds(),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save investigation %s: %w", r.SessionID, err)
	}
	return nil
}

// GetReport returns the stored report for a session.
func (s *SQLiteStorage) GetReport(ctx context.Context, sessionID string) (*report.Report, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM investigations WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query investigation: %w", err)
	}

	var r report.Report
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}

// ListInvestigations returns the most recent investigations first. limit <= 0 means 20.
func (s *SQLiteStorage) ListInvestigations(ctx context.Context, limit int) ([]storage.InvestigationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, status, headline, abort_reason, overall_confidence, cost_used,
			turns_used, was_safe, started_at, duration_ms
		FROM investigations
		ORDER BY started_at DESC, session_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query investigations: %w", err)
	}
	defer rows.Close()

	var out []storage.InvestigationRecord
	for rows.Next() {
		var (
			rec                 storage.InvestigationRecord
			status              string
			wasSafe             sql.NullBool
			startedAt, duration int64
		)
		if err := rows.Scan(&rec.SessionID, &status, &rec.Headline, &rec.AbortReason, &rec.OverallConfidence,
			&rec.CostUsed, &rec.TurnsUsed, &wasSafe, &startedAt, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan investigation: %w", err)
		}
		rec.Status = dialog.Status(status)
		if wasSafe.Valid {
			v := wasSafe.Bool
			rec.WasSafe = &v
		}
		rec.StartedAt = time.UnixMilli(startedAt)
		rec.Duration = time.Duration(duration) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate investigations: %w", err)
	}
	return out, nil
}

// RecordUsage implements cost.UsageStore.
func (s *SQLiteStorage) RecordUsage(ctx context.Context, rec cost.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reasoning_usage (session_id, input_tokens, output_tokens, cost_usd, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.SessionID, rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageSince implements cost.UsageStore.
func (s *SQLiteStorage) UsageSince(ctx context.Context, since time.Time) (int64, float64, error) {
	var tokens int64
	var costUSD float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(input_tokens + output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM reasoning_usage
		WHERE recorded_at >= ?
	`, since.UnixMilli()).Scan(&tokens, &costUSD)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query usage: %w", err)
	}
	return tokens, costUSD, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilAnswers(a []dialog.Answer) []dialog.Answer {
	if a == nil {
		return []dialog.Answer{}
	}
	return a
}
