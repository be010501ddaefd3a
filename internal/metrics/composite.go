package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/steveyegge/sleuth/internal/types"
	"golang.org/x/sync/errgroup"
)

// Composite fans out to several sources concurrently and merges the results.
// A failing source is logged and skipped; only when every source fails is an
// error returned.
type Composite struct {
	sources []Source
	log     zerolog.Logger
}

// NewComposite combines sources. Later sources win when metric names collide.
func NewComposite(logger zerolog.Logger, sources ...Source) *Composite {
	return &Composite{sources: sources, log: logger.With().Str("component", "metrics").Logger()}
}

// Snapshot collects from every source.
func (c *Composite) Snapshot(ctx context.Context) (*types.MetricsSnapshot, error) {
	if len(c.sources) == 0 {
		return nil, fmt.Errorf("%w: no metric sources configured", types.ErrDataUnavailable)
	}

	results := make([]*types.MetricsSnapshot, len(c.sources))
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range c.sources {
		g.Go(func() error {
			snap, err := src.Snapshot(gctx)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				c.log.Warn().Err(err).Int("source", i).Msg("metric source failed, skipping")
				return nil
			}
			results[i] = snap
			return nil
		})
	}
	_ = g.Wait()

	var merged *types.MetricsSnapshot
	for _, snap := range results {
		merged = merged.Merge(snap)
	}
	if merged == nil {
		return nil, fmt.Errorf("%w: all sources failed: %w", types.ErrDataUnavailable, errors.Join(errs...))
	}
	return merged, nil
}
