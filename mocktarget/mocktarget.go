// Package mocktarget runs programmable HTTP mock targets that the bridge
// delivers to, and provides a client for stubbing responses and reading the
// calls they received.
package mocktarget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"

	"github.com/c360/bridgeharness/errors"
	"github.com/c360/bridgeharness/metric"
	"github.com/c360/bridgeharness/pkg/containerlog"
	"github.com/c360/bridgeharness/readiness"
)

const (
	// DefaultImage is the mock server image.
	DefaultImage = "wiremock/wiremock:3.9.1"
	// Port is the HTTP port serving both stubs and the admin API.
	Port = "8080"
	// DefaultAlias is the hostname of the primary target on the network.
	DefaultAlias = "mocks"
	// TransientAlias is the hostname of the target started mid-test.
	TransientAlias = "transientMocks"
)

type config struct {
	image          string
	policy         readiness.Policy
	startupTimeout time.Duration
	logger         *slog.Logger
	metrics        *metric.Metrics
	logDir         string
}

// Option configures Start
type Option func(*config)

// WithImage overrides the mock server image
func WithImage(image string) Option {
	return func(cfg *config) {
		cfg.image = image
	}
}

// WithReadinessPolicy replaces the default admin health probe
func WithReadinessPolicy(policy readiness.Policy) Option {
	return func(cfg *config) {
		cfg.policy = policy
	}
}

// WithStartupTimeout bounds container start and readiness
func WithStartupTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.startupTimeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithMetrics records observed calls
func WithMetrics(m *metric.Metrics) Option {
	return func(cfg *config) {
		cfg.metrics = m
	}
}

// WithLogDir mirrors container output to <dir>/<alias>.log
func WithLogDir(dir string) Option {
	return func(cfg *config) {
		cfg.logDir = dir
	}
}

// Service is a running mock target.
type Service struct {
	container testcontainers.Container
	client    *Client
	capture   *containerlog.Capture
	alias     string
	logger    *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// Start runs a mock target on networkName reachable from other containers as alias.
func Start(ctx context.Context, networkName, alias string, opts ...Option) (*Service, error) {
	cfg := &config{
		image:          DefaultImage,
		startupTimeout: time.Minute,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if alias == "" {
		alias = DefaultAlias
	}
	if cfg.policy == nil {
		cfg.policy = readiness.HTTPProbe{Path: "/__admin/health", Port: Port, Timeout: cfg.startupTimeout}
	}

	logger := cfg.logger.With("component", "target", "alias", alias)
	capture := containerlog.New(alias,
		containerlog.WithLogger(logger),
		containerlog.WithFileSink(cfg.logDir))

	customizers := []testcontainers.ContainerCustomizer{
		testcontainers.WithExposedPorts(Port + "/tcp"),
		testcontainers.WithCmd("--verbose"),
		testcontainers.WithLogConsumerConfig(capture.Config()),
	}
	if networkName != "" {
		customizers = append(customizers, network.WithNetworkName([]string{alias}, networkName))
	}
	if s := cfg.policy.Strategy(); s != nil {
		customizers = append(customizers, testcontainers.WithWaitStrategyAndDeadline(cfg.startupTimeout, s))
	}

	logger.Info("Starting mock target", "image", cfg.image, "readiness", cfg.policy.String())

	ctr, err := testcontainers.Run(ctx, cfg.image, customizers...)
	if err != nil {
		return nil, errors.StartupFailure(alias, "Start", err).
			WithLogs(capture.Tail(200)).
			WithCleanup(ctx, func(ctx context.Context) error {
				return containerlog.Abandon(ctx, ctr, capture)
			})
	}

	endpoint, err := ctr.PortEndpoint(ctx, Port+"/tcp", "http")
	if err != nil {
		return nil, errors.NewHarnessError(errors.KindContainerStart, alias, "Start",
			fmt.Errorf("resolve mapped address: %w", err)).
			WithCleanup(ctx, func(ctx context.Context) error {
				return containerlog.Abandon(ctx, ctr, capture)
			})
	}

	svc := &Service{
		container: ctr,
		client: NewClient(endpoint,
			WithClientName(alias),
			WithClientLogger(logger),
			WithClientMetrics(cfg.metrics)),
		capture: capture,
		alias:   alias,
		logger:  logger,
	}
	logger.Info("Mock target ready", "url", endpoint, "internal", svc.InternalURL())
	return svc, nil
}

// Client returns the admin client for this target.
func (s *Service) Client() *Client {
	return s.client
}

// Alias returns the target hostname on the topology network.
func (s *Service) Alias() string {
	return s.alias
}

// URL returns the base URL reachable from the test process.
func (s *Service) URL() string {
	return s.client.BaseURL()
}

// InternalURL returns the base URL reachable from containers on the topology network.
func (s *Service) InternalURL() string {
	return fmt.Sprintf("http://%s:%s", s.alias, Port)
}

// Logs returns the captured output.
func (s *Service) Logs() string {
	return s.capture.String()
}

// Stop terminates the container. Subsequent calls are no-ops.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	err := s.container.Terminate(ctx)
	if cerr := s.capture.Close(); cerr != nil {
		s.logger.Debug("Log capture close failed", "error", cerr)
	}
	if err != nil {
		return errors.Wrap(err, "Service", "Stop", "terminate "+s.alias+" container")
	}
	s.logger.Debug("Mock target stopped")
	return nil
}
