package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocpu "github.com/shirou/gopsutil/v4/cpu"
	godisk "github.com/shirou/gopsutil/v4/disk"
	goload "github.com/shirou/gopsutil/v4/load"
	gomem "github.com/shirou/gopsutil/v4/mem"
	"github.com/steveyegge/sleuth/internal/types"
)

// System call wrappers for testing
var (
	cpuCounts      = gocpu.CountsWithContext
	cpuPercent     = gocpu.PercentWithContext
	loadAvg        = goload.AvgWithContext
	virtualMemory  = gomem.VirtualMemoryWithContext
	diskIOCounters = godisk.IOCountersWithContext
	nowFn          = time.Now
)

const bytesPerMB = 1024 * 1024

// HostSource samples operating system metrics through gopsutil.
// Disk latency and queue depth are derived from counter deltas, so they
// appear from the second snapshot onward.
type HostSource struct {
	cpuWindow time.Duration

	mu       sync.Mutex
	prevDisk map[string]godisk.IOCountersStat
	prevAt   time.Time
}

// NewHostSource creates a host source. cpuWindow is how long CPU usage is
// measured over on each snapshot.
func NewHostSource(cpuWindow time.Duration) *HostSource {
	if cpuWindow <= 0 {
		cpuWindow = time.Second
	}
	return &HostSource{cpuWindow: cpuWindow}
}

// Snapshot collects CPU, load, memory and disk metrics. Only a memory
// failure is fatal; other collectors simply omit their metrics.
func (h *HostSource) Snapshot(ctx context.Context) (*types.MetricsSnapshot, error) {
	collectCtx, cancel := context.WithTimeout(ctx, h.cpuWindow+10*time.Second)
	defer cancel()

	values := make(map[string]float64)

	if pct, err := cpuPercent(collectCtx, h.cpuWindow, false); err == nil && len(pct) > 0 {
		values[types.MetricCPUPercent] = clampPercent(pct[0])
	}

	cores, err := cpuCounts(collectCtx, true)
	if err != nil || cores <= 0 {
		cores = 1
	}
	if avg, err := loadAvg(collectCtx); err == nil && avg != nil {
		values[types.MetricCPUQueueLength] = avg.Load1 / float64(cores)
	}

	vm, err := virtualMemory(collectCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: memory stats: %w", types.ErrDataUnavailable, err)
	}
	values[types.MetricMemoryAvailableMB] = float64(vm.Available) / bytesPerMB

	if counters, err := diskIOCounters(collectCtx); err == nil {
		h.diskMetrics(counters, values)
	}

	return types.NewSnapshot(nowFn(), "host", values), nil
}

func (h *HostSource) diskMetrics(counters map[string]godisk.IOCountersStat, values map[string]float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := nowFn()
	prev, prevAt := h.prevDisk, h.prevAt
	h.prevDisk, h.prevAt = counters, now

	var inFlight uint64
	for _, c := range counters {
		inFlight += c.IopsInProgress
	}

	if prev == nil {
		values[types.MetricDiskQueueLength] = float64(inFlight)
		return
	}

	elapsedMs := float64(now.Sub(prevAt).Milliseconds())
	var reads, readTime, weighted uint64
	for name, c := range counters {
		p, ok := prev[name]
		if !ok {
			continue
		}
		reads += delta(c.ReadCount, p.ReadCount)
		readTime += delta(c.ReadTime, p.ReadTime)
		weighted += delta(c.WeightedIO, p.WeightedIO)
	}

	if elapsedMs > 0 {
		// Weighted IO time over wall time is the average number of queued requests.
		values[types.MetricDiskQueueLength] = float64(weighted) / elapsedMs
	} else {
		values[types.MetricDiskQueueLength] = float64(inFlight)
	}
	if reads > 0 {
		values[types.MetricDiskReadLatencyMs] = float64(readTime) / float64(reads)
	}
}

// delta guards against counter resets.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
