// Package telemetry exports Prometheus instrumentation for investigations,
// reasoning turns and the safety monitor.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/steveyegge/sleuth/internal/dialog"
)

// Metrics holds the sleuth collectors.
type Metrics struct {
	investigationsTotal   *prometheus.CounterVec
	investigationDuration prometheus.Histogram
	investigationConf     prometheus.Histogram
	turnsTotal            *prometheus.CounterVec
	turnDuration          prometheus.Histogram
	reasoningCostTotal    prometheus.Counter
	safetySamplesTotal    *prometheus.CounterVec
	safetyViolationsTotal prometheus.Counter
	safetyTripsTotal      prometheus.Counter
	activeInvestigations  prometheus.Gauge
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// Get returns the singleton metrics instance, registering it with the
// default registerer on first use.
func Get() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
		metricsInstance.register(prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	return &Metrics{
		investigationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sleuth",
				Subsystem: "investigation",
				Name:      "total",
				Help:      "Finished investigations by terminal status.",
			},
			[]string{"status"},
		),
		investigationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sleuth",
				Subsystem: "investigation",
				Name:      "duration_seconds",
				Help:      "Wall time of finished investigations.",
				Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		investigationConf: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sleuth",
				Subsystem: "investigation",
				Name:      "confidence",
				Help:      "Overall confidence of finished investigations.",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sleuth",
				Subsystem: "dialog",
				Name:      "turns_total",
				Help:      "Reasoning turns by outcome.",
			},
			[]string{"outcome"},
		),
		turnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sleuth",
				Subsystem: "dialog",
				Name:      "turn_duration_seconds",
				Help:      "Latency of reasoning turns.",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
			},
		),
		reasoningCostTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sleuth",
				Subsystem: "dialog",
				Name:      "cost_tokens_total",
				Help:      "Tokens charged by the reasoning service.",
			},
		),
		safetySamplesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sleuth",
				Subsystem: "safety",
				Name:      "samples_total",
				Help:      "Safety monitor sampling cycles by result.",
			},
			[]string{"result"},
		),
		safetyViolationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sleuth",
				Subsystem: "safety",
				Name:      "violations_total",
				Help:      "Threshold violations observed by the safety monitor.",
			},
		),
		safetyTripsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sleuth",
				Subsystem: "safety",
				Name:      "trips_total",
				Help:      "Investigations declared unsafe.",
			},
		),
		activeInvestigations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sleuth",
				Subsystem: "investigation",
				Name:      "active",
				Help:      "Investigations currently running.",
			},
		),
	}
}

func (m *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.investigationsTotal,
		m.investigationDuration,
		m.investigationConf,
		m.turnsTotal,
		m.turnDuration,
		m.reasoningCostTotal,
		m.safetySamplesTotal,
		m.safetyViolationsTotal,
		m.safetyTripsTotal,
		m.activeInvestigations,
	)
}

// InvestigationStarted marks an investigation as running.
func (m *Metrics) InvestigationStarted() {
	m.activeInvestigations.Inc()
}

// ObserveInvestigation records a finished investigation.
func (m *Metrics) ObserveInvestigation(dc *dialog.DialogContext) {
	m.activeInvestigations.Dec()
	m.investigationsTotal.WithLabelValues(string(dc.Status)).Inc()
	m.investigationDuration.Observe(dc.Duration().Seconds())
	m.investigationConf.Observe(dc.OverallConfidence)
}

// ObserveTurn records one reasoning turn.
func (m *Metrics) ObserveTurn(turn dialog.Turn) {
	outcome := "ok"
	if turn.Error != "" {
		outcome = "failed"
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(turn.Duration.Seconds())
	m.reasoningCostTotal.Add(float64(turn.CostUsed))
}

// SafetySample records one monitor cycle.
func (m *Metrics) SafetySample(ok bool, violations int) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.safetySamplesTotal.WithLabelValues(result).Inc()
	m.safetyViolationsTotal.Add(float64(violations))
}

// SafetyTripped records an unsafe verdict.
func (m *Metrics) SafetyTripped(string) {
	m.safetyTripsTotal.Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
