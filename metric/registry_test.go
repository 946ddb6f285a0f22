package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/ada52/SyConn/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.CoreMetrics())

	// Core metrics gather without error
	registry.CoreMetrics().SupervoxelsTotal.Set(1000)
	registry.CoreMetrics().ObservePhase("agglomeration", 2*time.Second)
	registry.CoreMetrics().SetPhaseStatus("agglomeration", 2)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["syconn_input_supervoxels_total"])
	assert.True(t, names["syconn_pipeline_phase_duration_seconds"])
	assert.True(t, names["syconn_glia_unresolved_objects"])
}

func TestRegisterAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test",
	})
	require.NoError(t, registry.RegisterCounter("test", "test_counter_total", counter))

	// Duplicate registration rejected
	err := registry.RegisterCounter("test", "test_counter_total", counter)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))

	assert.True(t, registry.Unregister("test", "test_counter_total"))
	assert.False(t, registry.Unregister("test", "test_counter_total"))

	// Re-registration succeeds after unregister
	require.NoError(t, registry.RegisterCounter("test", "test_counter_total", counter))
}

func TestRegisterGaugeAndHistogramVec(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "test"})
	require.NoError(t, registry.RegisterGauge("test", "test_gauge", gauge))

	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_duration_seconds", Help: "test",
	}, []string{"status"})
	require.NoError(t, registry.RegisterHistogramVec("test", "test_duration_seconds", hist))

	hist.WithLabelValues("success").Observe(0.1)
	gauge.Set(5)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["test_gauge"])
	assert.True(t, names["test_duration_seconds"])
}
