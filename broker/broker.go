// Package broker runs the Kafka broker of a topology and provides the
// harness's client for it.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/network"

	"github.com/c360/bridgeharness/errors"
	"github.com/c360/bridgeharness/metric"
	"github.com/c360/bridgeharness/pkg/containerlog"
	"github.com/c360/bridgeharness/pkg/retry"
	"github.com/c360/bridgeharness/readiness"
)

const (
	// DefaultImage is a KRaft single-node broker image.
	DefaultImage = "confluentinc/confluent-local:7.5.0"
	// DefaultAlias is the broker's hostname on the topology network.
	DefaultAlias = "kafka"
	// InternalPort is the listener other containers on the network use.
	InternalPort = 9092
	// ReadyLogPattern appears once the broker accepts client requests.
	ReadyLogPattern = ".*Transitioning from RECOVERY to RUNNING.*"
)

// config holds configuration for the broker service
type config struct {
	image          string
	alias          string
	policy         readiness.Policy
	startupTimeout time.Duration
	topicRetry     retry.Config
	partitions     int
	logger         *slog.Logger
	metrics        *metric.Metrics
	logDir         string
}

// Option configures Start
type Option func(*config)

// WithImage overrides the broker image
func WithImage(image string) Option {
	return func(cfg *config) {
		cfg.image = image
	}
}

// WithAlias sets the broker hostname on the network
func WithAlias(alias string) Option {
	return func(cfg *config) {
		cfg.alias = alias
	}
}

// WithReadinessPolicy replaces the default log pattern readiness
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

// WithTopicRetry sets the retry applied to topic creation
func WithTopicRetry(r retry.Config) Option {
	return func(cfg *config) {
		cfg.topicRetry = r
	}
}

// WithTopicPartitions sets the partition count of pre-created topics
func WithTopicPartitions(n int) Option {
	return func(cfg *config) {
		cfg.partitions = n
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithMetrics records broker traffic
func WithMetrics(m *metric.Metrics) Option {
	return func(cfg *config) {
		cfg.metrics = m
	}
}

// WithLogDir mirrors container output to <dir>/broker.log
func WithLogDir(dir string) Option {
	return func(cfg *config) {
		cfg.logDir = dir
	}
}

// Service is a running broker.
type Service struct {
	container testcontainers.Container
	client    *Client
	capture   *containerlog.Capture
	alias     string
	address   string
	logger    *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// Start runs a broker attached to networkName and creates topics before returning.
// An empty networkName leaves the broker on the default network.
func Start(ctx context.Context, networkName string, topics []string, opts ...Option) (*Service, error) {
	cfg := &config{
		image:          DefaultImage,
		alias:          DefaultAlias,
		startupTimeout: 2 * time.Minute,
		topicRetry:     retry.Quick(),
		partitions:     1,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.policy == nil {
		cfg.policy = readiness.LogPattern{Pattern: ReadyLogPattern, Timeout: cfg.startupTimeout}
	}

	logger := cfg.logger.With("component", "broker")
	capture := containerlog.New("broker",
		containerlog.WithLogger(logger),
		containerlog.WithFileSink(cfg.logDir))

	customizers := []testcontainers.ContainerCustomizer{
		testcontainers.WithLogConsumerConfig(capture.Config()),
	}
	if networkName != "" {
		customizers = append(customizers, network.WithNetworkName([]string{cfg.alias}, networkName))
	}
	if s := cfg.policy.Strategy(); s != nil {
		customizers = append(customizers, testcontainers.WithAdditionalWaitStrategyAndDeadline(cfg.startupTimeout, s))
	}

	logger.Info("Starting broker", "image", cfg.image, "readiness", cfg.policy.String())

	ctr, err := tckafka.Run(ctx, cfg.image, customizers...)
	if err != nil {
		return nil, errors.StartupFailure("broker", "Start", err).
			WithLogs(capture.Tail(200)).
			WithCleanup(ctx, func(ctx context.Context) error {
				return containerlog.Abandon(ctx, ctr, capture)
			})
	}

	brokers, err := ctr.Brokers(ctx)
	if err != nil {
		return nil, errors.NewHarnessError(errors.KindContainerStart, "broker", "Start",
			fmt.Errorf("resolve mapped address: %w", err)).
			WithCleanup(ctx, func(ctx context.Context) error {
				return containerlog.Abandon(ctx, ctr, capture)
			})
	}

	client := NewClient(brokers,
		WithClientLogger(logger),
		WithClientMetrics(cfg.metrics),
		WithPartitions(cfg.partitions))

	svc := &Service{
		container: ctr,
		client:    client,
		capture:   capture,
		alias:     cfg.alias,
		address:   brokers[0],
		logger:    logger,
	}

	if err := svc.createTopics(ctx, cfg.topicRetry, topics); err != nil {
		return nil, errors.NewHarnessError(errors.KindTopicCreation, "broker", "CreateTopics", err).
			WithLogs(capture.Tail(200)).
			WithCleanup(ctx, svc.Stop)
	}

	logger.Info("Broker ready", "address", svc.address, "internal", svc.InternalAddress(), "topics", len(topics))
	return svc, nil
}

func (s *Service) createTopics(ctx context.Context, cfg retry.Config, topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	err := retry.Do(ctx, cfg, func() error {
		err := s.client.CreateTopics(ctx, topics...)
		if err != nil && !errors.IsTransient(err) {
			return retry.NonRetryable(err)
		}
		if err != nil {
			s.logger.Debug("Topic creation not yet possible", "error", err)
		}
		return err
	})
	if err != nil {
		return err
	}

	// Created topics must be visible in metadata before the bridge subscribes.
	listed, err := retry.DoWithResult(ctx, cfg, func() ([]string, error) {
		names, err := s.client.ListTopics(ctx)
		if err != nil {
			return nil, err
		}
		if missing := missingTopics(topics, names); len(missing) > 0 {
			return nil, fmt.Errorf("topics not yet listed: %v", missing)
		}
		return names, nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("Topics listed", "topics", listed)
	return nil
}

func missingTopics(want, listed []string) []string {
	have := make(map[string]struct{}, len(listed))
	for _, name := range listed {
		have[name] = struct{}{}
	}
	var missing []string
	for _, name := range want {
		if _, ok := have[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Client returns the client bound to this broker.
func (s *Service) Client() *Client {
	return s.client
}

// Address returns the host:port reachable from the test process.
func (s *Service) Address() string {
	return s.address
}

// InternalAddress returns the host:port reachable from containers on the topology network.
func (s *Service) InternalAddress() string {
	return fmt.Sprintf("%s:%d", s.alias, InternalPort)
}

// Logs returns the captured broker output.
func (s *Service) Logs() string {
	return s.capture.String()
}

// DisconnectClients closes the data-plane connections of the harness client.
func (s *Service) DisconnectClients() error {
	return s.client.Close()
}

// Stop closes the client and terminates the container. Subsequent calls are no-ops.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	var errs errors.TeardownError
	errs.Add("broker-client", s.client.Close())
	if err := s.container.Terminate(ctx); err != nil {
		errs.Add("broker", errors.Wrap(err, "Service", "Stop", "terminate broker container"))
	}
	if err := s.capture.Close(); err != nil {
		s.logger.Debug("Log capture close failed", "error", err)
	}
	s.logger.Debug("Broker stopped")

	if len(errs.Failures) == 1 {
		return errs.Failures[0].Err
	}
	return errs.ErrOrNil()
}
