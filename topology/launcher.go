package topology

import (
	"context"
	"log/slog"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/broker"
	"github.com/c360/bridgeharness/config"
	"github.com/c360/bridgeharness/fabric"
	"github.com/c360/bridgeharness/metric"
	"github.com/c360/bridgeharness/mocktarget"
	"github.com/c360/bridgeharness/readiness"
)

// Network is the container network a topology runs on.
type Network interface {
	Name() string
	Stop(ctx context.Context) error
}

// Broker is a running message broker.
type Broker interface {
	Client() *broker.Client
	Address() string
	InternalAddress() string
	Logs() string
	DisconnectClients() error
	Stop(ctx context.Context) error
}

// Target is a running mock HTTP target.
type Target interface {
	Client() *mocktarget.Client
	Alias() string
	URL() string
	InternalURL() string
	Logs() string
	Stop(ctx context.Context) error
}

// Bridge is the running service under test.
type Bridge interface {
	Env() []bridge.EnvVar
	ReadinessProbe(ctx context.Context) error
	LivenessProbe(ctx context.Context) error
	Inspect(ctx context.Context) (bridge.State, error)
	Logs() string
	Stop(ctx context.Context) error
}

// Launcher starts topology components. The default launcher runs containers;
// tests substitute fakes.
type Launcher interface {
	StartNetwork(ctx context.Context, topologyID string) (Network, error)
	StartBroker(ctx context.Context, networkName string, topics []string) (Broker, error)
	StartTarget(ctx context.Context, networkName, alias string) (Target, error)
	StartBridge(ctx context.Context, networkName string, cfg bridge.Config, policy readiness.Policy) (Bridge, error)
}

// containerLauncher starts every component as a container.
type containerLauncher struct {
	harness config.Harness
	logger  *slog.Logger
	metrics *metric.Metrics
}

func (l *containerLauncher) StartNetwork(ctx context.Context, topologyID string) (Network, error) {
	n, err := fabric.Start(ctx, fabric.WithTopologyID(topologyID), fabric.WithLogger(l.logger))
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (l *containerLauncher) StartBroker(ctx context.Context, networkName string, topics []string) (Broker, error) {
	opts := []broker.Option{
		broker.WithLogger(l.logger),
		broker.WithMetrics(l.metrics),
		broker.WithLogDir(l.harness.LogDir),
	}
	if l.harness.BrokerImage != "" {
		opts = append(opts, broker.WithImage(l.harness.BrokerImage))
	}
	if l.harness.StartupTimeout > 0 {
		opts = append(opts, broker.WithStartupTimeout(l.harness.StartupTimeout))
	}
	if l.harness.Partitions > 0 {
		opts = append(opts, broker.WithTopicPartitions(l.harness.Partitions))
	}

	svc, err := broker.Start(ctx, networkName, topics, opts...)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func (l *containerLauncher) StartTarget(ctx context.Context, networkName, alias string) (Target, error) {
	opts := []mocktarget.Option{
		mocktarget.WithLogger(l.logger),
		mocktarget.WithMetrics(l.metrics),
		mocktarget.WithLogDir(l.harness.LogDir),
	}
	if l.harness.MockTargetImage != "" {
		opts = append(opts, mocktarget.WithImage(l.harness.MockTargetImage))
	}
	if l.harness.StartupTimeout > 0 {
		opts = append(opts, mocktarget.WithStartupTimeout(l.harness.StartupTimeout))
	}

	svc, err := mocktarget.Start(ctx, networkName, alias, opts...)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func (l *containerLauncher) StartBridge(
	ctx context.Context, networkName string, cfg bridge.Config, policy readiness.Policy,
) (Bridge, error) {
	opts := []bridge.Option{
		bridge.WithLogger(l.logger),
		bridge.WithMetrics(l.metrics),
		bridge.WithLogDir(l.harness.LogDir),
	}
	if l.harness.BridgeImage != "" {
		opts = append(opts, bridge.WithImage(l.harness.BridgeImage))
	}
	if l.harness.StartupTimeout > 0 {
		opts = append(opts, bridge.WithStartupTimeout(l.harness.StartupTimeout))
	}

	svc, err := bridge.Start(ctx, networkName, cfg, policy, opts...)
	if err != nil {
		return nil, err
	}
	return svc, nil
}
