package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, m prometheus.Metric) *dto.Metric {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	return &out
}

func TestOrchestratorMetricsRecord(t *testing.T) {
	m := Orchestrator()
	require.Same(t, m, Orchestrator())

	m.RecordAttempt(" Donate ", "succeeded")
	m.RecordAttempt("donate", "succeeded")
	m.RecordPhase("donate", "approving")
	m.RecordRejection("", "busy")
	m.ObserveDuration("donate", 1500*time.Millisecond)

	require.Equal(t, 2.0, write(t, m.attempts.WithLabelValues("donate", "succeeded")).GetCounter().GetValue())
	require.Equal(t, 1.0, write(t, m.phases.WithLabelValues("donate", "approving")).GetCounter().GetValue())
	require.Equal(t, 1.0, write(t, m.rejections.WithLabelValues("unknown", "busy")).GetCounter().GetValue())

	hist := write(t, m.duration.WithLabelValues("donate").(prometheus.Metric)).GetHistogram()
	require.EqualValues(t, 1, hist.GetSampleCount())
	require.InDelta(t, 1.5, hist.GetSampleSum(), 1e-9)

	before := write(t, m.inFlight).GetGauge().GetValue()
	m.AddInFlight(1)
	m.AddInFlight(1)
	m.AddInFlight(-1)
	require.Equal(t, before+1, write(t, m.inFlight).GetGauge().GetValue())
}

func TestBrowserMetricsRecordLoad(t *testing.T) {
	m := Browser()
	m.RecordLoad("metrics-list", 3, nil)
	m.RecordLoad("metrics-list", 0, errors.New("boom"))

	require.Equal(t, 1.0, write(t, m.loads.WithLabelValues("metrics-list", "ok")).GetCounter().GetValue())
	require.Equal(t, 1.0, write(t, m.loads.WithLabelValues("metrics-list", "error")).GetCounter().GetValue())
	hist := write(t, m.campaign.WithLabelValues("metrics-list").(prometheus.Metric)).GetHistogram()
	require.EqualValues(t, 1, hist.GetSampleCount())
	require.Equal(t, 3.0, hist.GetSampleSum())
}

func TestNilMetricsAreNoops(t *testing.T) {
	var o *OrchestratorMetrics
	o.RecordAttempt("donate", "failed")
	o.AddInFlight(1)
	var b *BrowserMetrics
	b.RecordLoad("list", 1, nil)
}

func TestMetricsRegisteredOnDefaultGatherer(t *testing.T) {
	Orchestrator().RecordAttempt("cancel", "failed")
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["crowdfund_orchestrator_attempts_total"])
}
