// Package metric provides Prometheus metrics for the harness and an HTTP
// server exposing them.
//
// # Core Metrics
//
// NewMetricsRegistry registers the harness metrics on a private registry:
//
//   - bridgeharness_component_status: lifecycle state per component
//     (0=stopped, 1=starting, 2=ready, 3=stopping, 4=failed)
//   - bridgeharness_component_startup_seconds / teardown_seconds
//   - bridgeharness_component_failures_total{component,kind}
//   - bridgeharness_health_status{component}
//   - bridgeharness_broker_records_produced_total / records_consumed_total{topic}
//   - bridgeharness_target_calls_observed{target,url}
//   - bridgeharness_wait_duration_seconds{operation,outcome}
//
// Record methods are nil-safe, so components accept an optional *Metrics
// and call it unconditionally:
//
//	registry := metric.NewMetricsRegistry()
//	top, err := topology.Start(ctx, cfg, topics, topology.WithMetrics(registry.CoreMetrics()))
//
// # Custom Metrics
//
// Scenarios can register their own collectors through MetricsRegistrar.
// Registering the same component and metric name twice is an invalid error.
//
// # HTTP Server
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() { _ = server.Start() }()
//	defer server.Stop()
package metric
