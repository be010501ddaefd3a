package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/steveyegge/sleuth/internal/types"
)

const (
	waitClassQuery = `
		SELECT coalesce(wait_event_type, 'CPU') AS class, count(*)
		FROM pg_stat_activity
		WHERE state = 'active' AND pid <> pg_backend_pid()
		GROUP BY 1`

	blockedQuery = `
		SELECT count(*)
		FROM pg_stat_activity
		WHERE cardinality(pg_blocking_pids(pid)) > 0`

	avgWaitQuery = `
		SELECT coalesce(avg(extract(epoch FROM (clock_timestamp() - state_change)) * 1000), 0)
		FROM pg_stat_activity
		WHERE state = 'active' AND wait_event_type IS NOT NULL AND pid <> pg_backend_pid()`
)

// querier is the subset of pgxpool.Pool used by PostgresSource.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSource samples engine wait and blocking metrics from pg_stat_activity.
type PostgresSource struct {
	db    querier
	close func()
}

// NewPostgresSource connects to dsn with a small pool.
func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	cfg.MaxConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresSource{db: pool, close: pool.Close}, nil
}

// Close releases the connection pool.
func (p *PostgresSource) Close() {
	if p.close != nil {
		p.close()
	}
}

// Snapshot reads the current wait profile. Sessions running without a wait
// event are reported under the CPU class.
func (p *PostgresSource) Snapshot(ctx context.Context) (*types.MetricsSnapshot, error) {
	counts, err := p.waitClasses(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: wait classes: %w", types.ErrDataUnavailable, err)
	}

	values := make(map[string]float64)
	var active int64
	for _, n := range counts {
		active += n
	}
	values[types.MetricEngineActiveRequests] = float64(active)
	values[types.MetricEngineCPUWaitCount] = float64(cpuSessions(counts))
	for class, pct := range waitShares(counts) {
		values[types.EngineWaitMetric(class)] = pct
	}

	var blocked int64
	if err := p.db.QueryRow(ctx, blockedQuery).Scan(&blocked); err != nil {
		return nil, fmt.Errorf("%w: blocked sessions: %w", types.ErrDataUnavailable, err)
	}
	values[types.MetricEngineBlockedSessions] = float64(blocked)

	var avgWait float64
	if err := p.db.QueryRow(ctx, avgWaitQuery).Scan(&avgWait); err != nil {
		return nil, fmt.Errorf("%w: average wait: %w", types.ErrDataUnavailable, err)
	}
	values[types.MetricEngineAvgWaitMs] = avgWait

	return types.NewSnapshot(nowFn(), "postgres", values), nil
}

func (p *PostgresSource) waitClasses(ctx context.Context) (map[string]int64, error) {
	rows, err := p.db.Query(ctx, waitClassQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var class string
		var n int64
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		counts[class] = n
	}
	return counts, rows.Err()
}

// cpuSessions counts active sessions with no wait event, the sessions queued
// on or running on CPU.
func cpuSessions(counts map[string]int64) int64 {
	var n int64
	for class, c := range counts {
		if strings.EqualFold(class, "CPU") {
			n += c
		}
	}
	return n
}

// waitShares converts session counts per wait class into percentages of the
// waiting sessions. The CPU class is not a wait and is excluded.
func waitShares(counts map[string]int64) map[string]float64 {
	var waiting int64
	for class, n := range counts {
		if !strings.EqualFold(class, "CPU") {
			waiting += n
		}
	}
	shares := make(map[string]float64)
	if waiting == 0 {
		return shares
	}
	for class, n := range counts {
		if strings.EqualFold(class, "CPU") {
			continue
		}
		shares[class] = float64(n) / float64(waiting) * 100
	}
	return shares
}
