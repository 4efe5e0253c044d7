// Package health provides health reporting for a running topology.
//
// # Health States
//
//   - Healthy: the component answers its probe
//   - Degraded: the component is up but not ready (for example the bridge
//     answers /alive but not /ready)
//   - Unhealthy: the probe failed
//
// # Checks
//
// A Monitor holds one Checker per component. Run executes them concurrently,
// each under its own timeout, and aggregates the results:
//
//	monitor := health.NewMonitor()
//	monitor.Register("broker", brokerClient.Ping)
//	monitor.Register("bridge", func(ctx context.Context) error {
//	    if err := svc.LivenessProbe(ctx); err != nil {
//	        return err
//	    }
//	    return health.Degraded(svc.ReadinessProbe(ctx))
//	})
//
//	status := monitor.Run(ctx, "topology", 5*time.Second)
//	if !status.IsHealthy() {
//	    log.Println(status)
//	}
//
// Aggregation: any unhealthy component makes the aggregate unhealthy; else
// any degraded component makes it degraded. An empty monitor is unhealthy.
//
// Probe error messages are sanitized: URLs, paths, IP addresses, ports and
// credentials are replaced by placeholders.
package health
