package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/sleuth/internal/types"
	"gopkg.in/yaml.v3"
)

// sampleFile is the on-disk layout. YAML is a superset of JSON, so either works.
//
//	source: prod-db-1
//	samples:
//	  - timestamp: 2026-01-02T15:04:05Z
//	    metrics: {cpu.percent: 93, engine.avg_wait_ms: 1200}
//
// A file holding a single top-level "metrics" map is also accepted.
type sampleFile struct {
	Source  string       `yaml:"source"`
	Metrics sampleValues `yaml:"metrics"`
	Samples []struct {
		Timestamp time.Time    `yaml:"timestamp"`
		Metrics   sampleValues `yaml:"metrics"`
	} `yaml:"samples"`
}

type sampleValues map[string]float64

// FileSource replays snapshots recorded in a file. Each call returns the next
// sample; once the samples run out the last one is repeated.
type FileSource struct {
	source  string
	samples []*types.MetricsSnapshot

	mu   sync.Mutex
	next int
}

// LoadFile reads a snapshot file.
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	return ParseFile(data, path)
}

// ParseFile decodes snapshot file contents. name is used when the file does not set a source.
func ParseFile(data []byte, name string) (*FileSource, error) {
	var f sampleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	source := f.Source
	if source == "" {
		source = name
	}

	fs := &FileSource{source: source}
	for i, s := range f.Samples {
		if len(s.Metrics) == 0 {
			return nil, fmt.Errorf("sample %d has no metrics", i)
		}
		ts := s.Timestamp
		if ts.IsZero() {
			ts = nowFn()
		}
		fs.samples = append(fs.samples, types.NewSnapshot(ts, source, s.Metrics))
	}
	if len(fs.samples) == 0 && len(f.Metrics) > 0 {
		fs.samples = append(fs.samples, types.NewSnapshot(nowFn(), source, f.Metrics))
	}
	if len(fs.samples) == 0 {
		return nil, fmt.Errorf("snapshot file %s contains no metrics", name)
	}
	return fs, nil
}

// Len returns the number of recorded samples.
func (f *FileSource) Len() int { return len(f.samples) }

// Snapshot returns the next recorded sample.
func (f *FileSource) Snapshot(ctx context.Context) (*types.MetricsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.samples[f.next]
	if f.next < len(f.samples)-1 {
		f.next++
	}
	return s, nil
}
