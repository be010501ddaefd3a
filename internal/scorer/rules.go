package scorer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/sleuth/internal/types"
)

// evaluator accumulates confidence and severity for one sub-scorer.
type evaluator struct {
	snap     *types.MetricsSnapshot
	baseline *types.MetricsSnapshot
	ratio    float64
}

type tally struct {
	confidence float64
	severity   int
	evidence   map[string]float64
	regressed  bool
}

func newTally() *tally {
	return &tally{evidence: make(map[string]float64)}
}

func (t *tally) add(conf float64, sev int) {
	t.confidence += conf
	t.severity += sev
}

// finish applies the baseline boost and clamps confidence.
func (t *tally) finish() float64 {
	if t.regressed && t.confidence > 0 {
		t.confidence += baselineBoost
	}
	return types.ClampConfidence(t.confidence)
}

// observe records metric as evidence and returns its value.
func (e *evaluator) observe(t *tally, metric string) (float64, bool) {
	v, ok := e.snap.Value(metric)
	if !ok {
		return 0, false
	}
	t.evidence[metric] = v
	e.checkRegression(t, metric, v, true)
	return v, true
}

// observeLowerWorse is observe for metrics where a smaller value is worse.
func (e *evaluator) observeLowerWorse(t *tally, metric string) (float64, bool) {
	v, ok := e.snap.Value(metric)
	if !ok {
		return 0, false
	}
	t.evidence[metric] = v
	e.checkRegression(t, metric, v, false)
	return v, true
}

func (e *evaluator) checkRegression(t *tally, metric string, v float64, higherWorse bool) {
	if e.baseline == nil || e.ratio <= 0 {
		return
	}
	base, ok := e.baseline.Value(metric)
	if !ok || base <= 0 {
		return
	}
	delta := (v - base) / base
	if !higherWorse {
		delta = -delta
	}
	if delta > e.ratio {
		t.evidence[metric+".baseline_delta_pct"] = delta * 100
		t.regressed = true
	}
}

func analyzeCPU(e *evaluator) []types.BottleneckCandidate {
	t := newTally()
	usage, _ := e.observe(t, types.MetricCPUPercent)
	queue, _ := e.observe(t, types.MetricCPUQueueLength)

	if usage > 80 {
		t.add(0.4, 3)
	}
	if queue > 2 {
		t.add(0.3, 2)
	}
	if waits, ok := e.observe(t, types.MetricEngineCPUWaitCount); ok && waits > 0 {
		t.add(0.3, 2)
	}
	if t.confidence == 0 {
		return nil
	}

	return []types.BottleneckCandidate{{
		Component:   types.ComponentCPU,
		Label:       "resource_contention",
		Description: fmt.Sprintf("High CPU usage (%.1f%%) with run queue length %.1f", usage, queue),
		Confidence:  t.finish(),
		Severity:    t.severity,
		Evidence:    t.evidence,
		Origin:      types.OriginLocal,
		SuggestedQuestions: []string{
			"What specific queries or processes are consuming the most CPU?",
			"Are there poorly optimized queries causing CPU spikes?",
			"Is parallelism configured appropriately for this workload?",
		},
	}}
}

func analyzeMemory(e *evaluator) []types.BottleneckCandidate {
	t := newTally()
	available, haveAvail := e.observeLowerWorse(t, types.MetricMemoryAvailableMB)
	ple, havePLE := e.observeLowerWorse(t, types.MetricMemoryPageLifeSeconds)

	if haveAvail {
		switch {
		case available < 200:
			t.add(0.5, 4)
		case available < 500:
			t.add(0.3, 2)
		}
	}
	if havePLE {
		switch {
		case ple < 300:
			t.add(0.4, 3)
		case ple < 600:
			t.add(0.2, 1)
		}
	}
	if t.confidence == 0 {
		return nil
	}

	desc := fmt.Sprintf("Low available memory (%.0f MB)", available)
	if havePLE {
		desc = fmt.Sprintf("%s and page life expectancy %.0fs", desc, ple)
	}
	if !haveAvail {
		desc = fmt.Sprintf("Short page life expectancy (%.0fs)", ple)
	}

	return []types.BottleneckCandidate{{
		Component:   types.ComponentMemory,
		Label:       "resource_shortage",
		Description: desc,
		Confidence:  t.finish(),
		Severity:    t.severity,
		Evidence:    t.evidence,
		Origin:      types.OriginLocal,
		SuggestedQuestions: []string{
			"What is the optimal memory limit for the database engine on this server?",
			"Are there memory-intensive queries causing pressure?",
			"Should we investigate buffer cache utilization patterns?",
		},
	}}
}

func analyzeDisk(e *evaluator) []types.BottleneckCandidate {
	t := newTally()
	queue, _ := e.observe(t, types.MetricDiskQueueLength)
	latency, _ := e.observe(t, types.MetricDiskReadLatencyMs)

	switch {
	case queue > 10:
		t.add(0.5, 4)
	case queue > 2:
		t.add(0.3, 2)
	}
	switch {
	case latency > 25:
		t.add(0.4, 3)
	case latency > 15:
		t.add(0.2, 1)
	}
	if stalled, ok := e.observe(t, types.MetricDiskStalledFiles); ok && stalled > 0 {
		t.add(0.3, int(stalled))
	}
	if t.confidence == 0 {
		return nil
	}

	return []types.BottleneckCandidate{{
		Component:   types.ComponentDisk,
		Label:       "performance_degradation",
		Description: fmt.Sprintf("High disk read latency (%.1fms) and queue length %.1f", latency, queue),
		Confidence:  t.finish(),
		Severity:    t.severity,
		Evidence:    t.evidence,
		Origin:      types.OriginLocal,
		SuggestedQuestions: []string{
			"Which database files are experiencing the highest I/O stall?",
			"Would separating data, log and temporary files onto different volumes help?",
			"Are there opportunities for index changes to reduce I/O?",
		},
	}}
}

type waitShare struct {
	class string
	pct   float64
}

// engineWaits extracts engine.wait.<class>.pct metrics, largest share first.
func engineWaits(snap *types.MetricsSnapshot) []waitShare {
	var waits []waitShare
	for _, name := range snap.Names() {
		if !strings.HasPrefix(name, types.EngineWaitPrefix) || !strings.HasSuffix(name, types.EngineWaitSuffix) {
			continue
		}
		class := strings.TrimSuffix(strings.TrimPrefix(name, types.EngineWaitPrefix), types.EngineWaitSuffix)
		if class == "" {
			continue
		}
		v, _ := snap.Value(name)
		waits = append(waits, waitShare{class: class, pct: v})
	}
	sort.SliceStable(waits, func(i, j int) bool { return waits[i].pct > waits[j].pct })
	return waits
}

func analyzeEngineWaits(e *evaluator) []types.BottleneckCandidate {
	waits := engineWaits(e.snap)
	if len(waits) > 3 {
		waits = waits[:3]
	}

	var out []types.BottleneckCandidate
	for _, w := range waits {
		if w.pct <= 5 {
			continue
		}
		metric := types.EngineWaitMetric(w.class)
		t := newTally()
		e.observe(t, metric)
		t.add(w.pct/100*2, int(w.pct/10)+1)

		out = append(out, types.BottleneckCandidate{
			Component:   types.ComponentEngine,
			Label:       "wait_" + strings.ToLower(w.class),
			Description: fmt.Sprintf("%s waits consuming %.1f%% of total wait time", w.class, w.pct),
			Confidence:  t.finish(),
			Severity:    t.severity,
			Evidence:    t.evidence,
			Origin:      types.OriginLocal,
			SuggestedQuestions: []string{
				fmt.Sprintf("What are the root causes of %s waits?", w.class),
				fmt.Sprintf("How can we reduce %s wait times?", w.class),
				"Are there query patterns contributing to these waits?",
			},
		})
	}
	return out
}

func analyzeLockContention(e *evaluator) []types.BottleneckCandidate {
	t := newTally()
	blocked, _ := e.observe(t, types.MetricEngineBlockedSessions)
	avgWait, _ := e.observe(t, types.MetricEngineAvgWaitMs)

	if blocked > 0 {
		t.add(0.3, 2)
	}
	if avgWait > 1000 {
		t.add(0.3, 2)
	}
	if t.confidence == 0 {
		return nil
	}

	return []types.BottleneckCandidate{{
		Component:   types.ComponentEngine,
		Label:       "lock_contention",
		Description: fmt.Sprintf("%.0f blocked sessions with average wait %.0fms", blocked, avgWait),
		Confidence:  t.finish(),
		Severity:    t.severity,
		Evidence:    t.evidence,
		Origin:      types.OriginLocal,
		SuggestedQuestions: []string{
			"Which sessions are at the head of the blocking chains?",
			"Are long-running transactions holding locks longer than necessary?",
			"Would a different isolation level reduce this contention?",
		},
	}}
}
