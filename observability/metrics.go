package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	orchestratorMetricsOnce sync.Once
	orchestratorRegistry    *OrchestratorMetrics

	browserMetricsOnce sync.Once
	browserRegistry    *BrowserMetrics
)

// OrchestratorMetrics wraps collectors tracking transaction attempts.
type OrchestratorMetrics struct {
	attempts   *prometheus.CounterVec
	phases     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rejections *prometheus.CounterVec
	inFlight   prometheus.Gauge
}

// Orchestrator exposes the metrics registry for the transaction orchestrator.
func Orchestrator() *OrchestratorMetrics {
	orchestratorMetricsOnce.Do(func() {
		orchestratorRegistry = &OrchestratorMetrics{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdfund",
				Subsystem: "orchestrator",
				Name:      "attempts_total",
				Help:      "Finished transaction attempts segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			phases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdfund",
				Subsystem: "orchestrator",
				Name:      "phases_total",
				Help:      "Phases entered by transaction attempts.",
			}, []string{"action", "phase"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "crowdfund",
				Subsystem: "orchestrator",
				Name:      "attempt_duration_seconds",
				Help:      "Wall time from submission of the first phase to the terminal state.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			}, []string{"action"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdfund",
				Subsystem: "orchestrator",
				Name:      "rejections_total",
				Help:      "Attempts refused client-side before reaching the ledger.",
			}, []string{"action", "reason"}),
			inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "crowdfund",
				Subsystem: "orchestrator",
				Name:      "in_flight",
				Help:      "Attempts currently holding a busy flag.",
			}),
		}
		prometheus.MustRegister(
			orchestratorRegistry.attempts,
			orchestratorRegistry.phases,
			orchestratorRegistry.duration,
			orchestratorRegistry.rejections,
			orchestratorRegistry.inFlight,
		)
	})
	return orchestratorRegistry
}

// RecordAttempt counts a finished attempt.
func (m *OrchestratorMetrics) RecordAttempt(action, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(label(action), label(outcome)).Inc()
}

// RecordPhase counts entry into a phase.
func (m *OrchestratorMetrics) RecordPhase(action, phase string) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(label(action), label(phase)).Inc()
}

// ObserveDuration records how long an attempt took.
func (m *OrchestratorMetrics) ObserveDuration(action string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(label(action)).Observe(d.Seconds())
}

// RecordRejection counts an attempt refused before submission.
func (m *OrchestratorMetrics) RecordRejection(action, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(label(action), label(reason)).Inc()
}

// AddInFlight adjusts the in-flight gauge by delta.
func (m *OrchestratorMetrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}

// BrowserMetrics wraps collectors for campaign list and detail loads.
type BrowserMetrics struct {
	loads    *prometheus.CounterVec
	campaign *prometheus.HistogramVec
}

// Browser exposes the metrics registry for campaign browsing.
func Browser() *BrowserMetrics {
	browserMetricsOnce.Do(func() {
		browserRegistry = &BrowserMetrics{
			loads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdfund",
				Subsystem: "browser",
				Name:      "loads_total",
				Help:      "Campaign presentation loads segmented by view and outcome.",
			}, []string{"view", "outcome"}),
			campaign: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "crowdfund",
				Subsystem: "browser",
				Name:      "campaigns_per_load",
				Help:      "Number of campaigns returned per list load.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			}, []string{"view"}),
		}
		prometheus.MustRegister(browserRegistry.loads, browserRegistry.campaign)
	})
	return browserRegistry
}

// RecordLoad counts a presentation load and, on success, its size.
func (m *BrowserMetrics) RecordLoad(view string, count int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.loads.WithLabelValues(label(view), outcome).Inc()
	if err == nil {
		m.campaign.WithLabelValues(label(view)).Observe(float64(count))
	}
}

func label(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
