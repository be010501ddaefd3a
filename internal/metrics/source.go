// Package metrics supplies point-in-time metric snapshots from the host,
// the database engine, or recorded files.
package metrics

import (
	"context"

	"github.com/steveyegge/sleuth/internal/types"
)

// Source produces a fresh snapshot on demand.
type Source interface {
	Snapshot(ctx context.Context) (*types.MetricsSnapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*types.MetricsSnapshot, error)

// Snapshot calls f.
func (f SourceFunc) Snapshot(ctx context.Context) (*types.MetricsSnapshot, error) {
	return f(ctx)
}
