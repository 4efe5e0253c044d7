// Package fabric provides the isolated container network a topology runs on.
package fabric

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go/network"

	"github.com/c360/bridgeharness/errors"
)

// LabelTopology is set on every network with the owning topology id.
const LabelTopology = "bridgeharness.topology"

type config struct {
	topologyID string
	logger     *slog.Logger
}

// Option configures Start.
type Option func(*config)

// WithTopologyID labels the network with the owning topology id.
func WithTopologyID(id string) Option {
	return func(c *config) {
		c.topologyID = id
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

type remover interface {
	Remove(ctx context.Context) error
}

// Network is a started container network.
type Network struct {
	name   string
	net    remover
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// Start creates a new uniquely named network.
func Start(ctx context.Context, opts ...Option) (*Network, error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.topologyID == "" {
		cfg.topologyID = uuid.NewString()
	}

	n, err := network.New(ctx,
		network.WithAttachable(),
		network.WithLabels(map[string]string{LabelTopology: cfg.topologyID}),
	)
	if err != nil {
		return nil, errors.NewHarnessError(errors.KindContainerStart, "network", "Start", err)
	}

	logger := cfg.logger.With("component", "network", "network", n.Name)
	logger.Debug("Network created")
	return newNetwork(n.Name, n, logger), nil
}

func newNetwork(name string, r remover, logger *slog.Logger) *Network {
	return &Network{name: name, net: r, logger: logger}
}

// Name returns the network name containers attach to.
func (n *Network) Name() string {
	return n.name
}

// Stop removes the network. Subsequent calls are no-ops.
func (n *Network) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return nil
	}
	n.stopped = true

	if err := n.net.Remove(ctx); err != nil {
		return errors.Wrap(err, "Network", "Stop", "remove network")
	}
	n.logger.Debug("Network removed")
	return nil
}
