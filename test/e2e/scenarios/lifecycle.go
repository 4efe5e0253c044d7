package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/health"
	"github.com/c360/bridgeharness/pkg/retry"
	"github.com/c360/bridgeharness/readiness"
	"github.com/c360/bridgeharness/topology"
)

// BrokerUnavailableScenario points the bridge at a broker that does not
// exist and expects the process to exit on its own.
type BrokerUnavailableScenario struct {
	*base
	exitWithin time.Duration
}

// NewBrokerUnavailableScenario creates a broker unavailable scenario
func NewBrokerUnavailableScenario(env Env) *BrokerUnavailableScenario {
	s := &BrokerUnavailableScenario{exitWithin: 90 * time.Second}
	s.base = newBase("broker-unavailable",
		"The bridge terminates when its broker address does not resolve",
		env, bridge.Config{BrokerAddress: "foo", Routes: consumeRoute("foo")}, "foo")
	s.opts = []topology.Option{topology.WithReadinessPolicy(readiness.None{})}
	s.stages = []stage{
		{"verify-exit", s.verifyExit},
	}
	return s
}

func (s *BrokerUnavailableScenario) verifyExit(ctx context.Context, result *Result) error {
	svc := s.topo.Service()
	var last bridge.State
	err := retry.Poll(ctx, retry.PollConfig{Interval: time.Second, Timeout: s.exitWithin},
		func(ctx context.Context) (bool, error) {
			state, err := svc.Inspect(ctx)
			if err != nil {
				return false, err
			}
			last = state
			return state.Exited(), nil
		})
	result.Details["bridge_status"] = last.Status
	result.Details["bridge_exit_code"] = last.ExitCode
	if err != nil {
		return fail(result, "bridge still %s after %s: %v", last.Status, s.exitWithin, err)
	}
	return nil
}

// HealthScenario checks the probes of a freshly started topology.
type HealthScenario struct {
	*base
}

// NewHealthScenario creates a health scenario
func NewHealthScenario(env Env) *HealthScenario {
	s := &HealthScenario{}
	s.base = newBase("health",
		"Broker, target and bridge all report healthy once the topology is ready",
		env, bridge.Config{Routes: consumeRoute("foo")}, "foo")
	s.stages = []stage{
		{"verify-probes", s.verifyProbes},
		{"verify-topology-health", s.verifyTopologyHealth},
	}
	return s
}

func (s *HealthScenario) verifyProbes(ctx context.Context, result *Result) error {
	svc := s.topo.Service()
	for name, probe := range map[string]func(context.Context) error{
		bridge.AlivePath: svc.LivenessProbe,
		bridge.ReadyPath: svc.ReadinessProbe,
	} {
		if err := retry.Poll(ctx, s.poll, func(ctx context.Context) (bool, error) {
			return probe(ctx) == nil, nil
		}); err != nil {
			return fail(result, "%s never answered 2xx: %v", name, err)
		}
	}
	return nil
}

func (s *HealthScenario) verifyTopologyHealth(ctx context.Context, result *Result) error {
	status := s.topo.Health(ctx)
	result.Details["health"] = status.String()
	for _, sub := range status.SubStatuses {
		result.Metrics[fmt.Sprintf("health_%s_latency_ms", sub.Component)] = latencyMillis(sub)
	}
	if !status.IsHealthy() {
		return fail(result, "topology is %s", status.Status)
	}
	return nil
}

func latencyMillis(s health.Status) int64 {
	if s.Metrics == nil {
		return 0
	}
	return s.Metrics.Latency.Milliseconds()
}
