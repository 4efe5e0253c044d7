package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bridgeharness/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetrics_RecordLifecycle(t *testing.T) {
	m := NewMetricsRegistry().CoreMetrics()

	m.RecordComponentStatus("bridge", StatusReady)
	m.RecordFailure("bridge", "startup_timeout")
	m.RecordFailure("bridge", "startup_timeout")
	m.RecordHealthStatus("broker", true)
	m.RecordStartup("broker", 3*time.Second)

	assert.Equal(t, float64(StatusReady), testutil.ToFloat64(m.ComponentStatus.WithLabelValues("bridge")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("bridge", "startup_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthStatus.WithLabelValues("broker")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StartupDuration))
}

func TestMetrics_RecordTraffic(t *testing.T) {
	m := NewMetrics()

	m.RecordProduced("orders", 3)
	m.RecordProduced("orders", 1000)
	m.RecordConsumed("orders-retry", 1)
	m.RecordCallsObserved("mocks", "/consume", 10)
	m.RecordWait("WaitForCalls", false, time.Second)

	assert.Equal(t, 1003.0, testutil.ToFloat64(m.RecordsProduced.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsConsumed.WithLabelValues("orders-retry")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.CallsObserved.WithLabelValues("mocks", "/consume")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.WaitDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordComponentStatus("bridge", StatusFailed)
		m.RecordStartup("bridge", time.Second)
		m.RecordTeardown("bridge", time.Second)
		m.RecordFailure("bridge", "container_start")
		m.RecordHealthStatus("bridge", false)
		m.RecordProduced("t", 1)
		m.RecordConsumed("t", 1)
		m.RecordCallsObserved("mocks", "/", 1)
		m.RecordWait("op", true, time.Millisecond)
	})
}

func TestMetricsRegistry_RegisterCustom(t *testing.T) {
	registry := NewMetricsRegistry()

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_runs_total",
		Help: "Scenario runs",
	}, []string{"scenario"})

	require.NoError(t, registry.RegisterCounterVec("scenarios", "runs_total", vec))
	vec.WithLabelValues("retry-topic").Inc()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "scenario_runs_total" {
			found = true
		}
	}
	assert.True(t, found)

	err = registry.RegisterCounterVec("scenarios", "runs_total", vec)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, registry.Unregister("scenarios", "runs_total"))
	assert.False(t, registry.Unregister("scenarios", "runs_total"))
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	dup := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bridgeharness",
		Subsystem: "component",
		Name:      "status",
		Help:      "Component status (0=stopped, 1=starting, 2=ready, 3=stopping, 4=failed)",
	}, []string{"component"})

	err := registry.RegisterGaugeVec("other", "status", dup)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordProduced("orders", 3)

	server := NewServer(0, "", registry)
	assert.Equal(t, "http://localhost:9090/metrics", server.Address())

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bridgeharness_broker_records_produced_total{topic="orders"} 3`)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
