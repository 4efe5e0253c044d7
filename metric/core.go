package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Component status values reported by ComponentStatus.
const (
	StatusStopped  = 0
	StatusStarting = 1
	StatusReady    = 2
	StatusStopping = 3
	StatusFailed   = 4
)

// Metrics contains the harness lifecycle and traffic metrics.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Lifecycle metrics
	ComponentStatus  *prometheus.GaugeVec
	StartupDuration  *prometheus.HistogramVec
	TeardownDuration *prometheus.HistogramVec
	FailuresTotal    *prometheus.CounterVec
	HealthStatus     *prometheus.GaugeVec

	// Traffic metrics
	RecordsProduced *prometheus.CounterVec
	RecordsConsumed *prometheus.CounterVec
	CallsObserved   *prometheus.GaugeVec
	WaitDuration    *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "bridgeharness",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=starting, 2=ready, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),

		StartupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bridgeharness",
				Subsystem: "component",
				Name:      "startup_seconds",
				Help:      "Time from container request to readiness",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"component"},
		),

		TeardownDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bridgeharness",
				Subsystem: "component",
				Name:      "teardown_seconds",
				Help:      "Time spent stopping a component",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"component"},
		),

		FailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridgeharness",
				Subsystem: "component",
				Name:      "failures_total",
				Help:      "Lifecycle failures by component and kind",
			},
			[]string{"component", "kind"},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "bridgeharness",
				Subsystem: "health",
				Name:      "status",
				Help:      "Last health check result (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		RecordsProduced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridgeharness",
				Subsystem: "broker",
				Name:      "records_produced_total",
				Help:      "Records produced to the broker by the harness",
			},
			[]string{"topic"},
		),

		RecordsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridgeharness",
				Subsystem: "broker",
				Name:      "records_consumed_total",
				Help:      "Records consumed from the broker by the harness",
			},
			[]string{"topic"},
		),

		CallsObserved: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "bridgeharness",
				Subsystem: "target",
				Name:      "calls_observed",
				Help:      "Calls observed on a mock target path at the last fetch",
			},
			[]string{"target", "url"},
		),

		WaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bridgeharness",
				Subsystem: "wait",
				Name:      "duration_seconds",
				Help:      "Duration of bounded waits by operation and outcome",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "outcome"},
		),
	}
}

// RecordComponentStatus updates the component status gauge
func (m *Metrics) RecordComponentStatus(component string, status int) {
	if m == nil {
		return
	}
	m.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordStartup observes a successful component startup
func (m *Metrics) RecordStartup(component string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StartupDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// RecordTeardown observes a component stop
func (m *Metrics) RecordTeardown(component string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TeardownDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// RecordFailure increments the failure counter
func (m *Metrics) RecordFailure(component, kind string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(component, kind).Inc()
}

// RecordHealthStatus updates the health gauge
func (m *Metrics) RecordHealthStatus(component string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthStatus.WithLabelValues(component).Set(value)
}

// RecordProduced adds n produced records for topic
func (m *Metrics) RecordProduced(topic string, n int) {
	if m == nil {
		return
	}
	m.RecordsProduced.WithLabelValues(topic).Add(float64(n))
}

// RecordConsumed adds n consumed records for topic
func (m *Metrics) RecordConsumed(topic string, n int) {
	if m == nil {
		return
	}
	m.RecordsConsumed.WithLabelValues(topic).Add(float64(n))
}

// RecordCallsObserved sets the number of calls last seen on a target path
func (m *Metrics) RecordCallsObserved(target, url string, n int) {
	if m == nil {
		return
	}
	m.CallsObserved.WithLabelValues(target, url).Set(float64(n))
}

// RecordWait observes a bounded wait
func (m *Metrics) RecordWait(operation string, met bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "met"
	if !met {
		outcome = "timeout"
	}
	m.WaitDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}
