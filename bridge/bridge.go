package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"

	"github.com/c360/bridgeharness/errors"
	"github.com/c360/bridgeharness/metric"
	"github.com/c360/bridgeharness/pkg/containerlog"
	"github.com/c360/bridgeharness/readiness"
)

const (
	// DefaultImage is the bridge image built by the service repository.
	DefaultImage = "bazel/src:image"
	// ReadyLogPattern is printed once the consumer owns its partitions.
	ReadyLogPattern = "consumer was assigned to partitions"
	// ReadyPath and AlivePath are served on the monitoring port.
	ReadyPath = "/ready"
	AlivePath = "/alive"

	component = "bridge"
)

type options struct {
	image          string
	startupTimeout time.Duration
	probeTimeout   time.Duration
	logger         *slog.Logger
	metrics        *metric.Metrics
	logDir         string
}

// Option configures Start
type Option func(*options)

// WithImage overrides the bridge image
func WithImage(image string) Option {
	return func(o *options) {
		o.image = image
	}
}

// WithStartupTimeout bounds container start and readiness
func WithStartupTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.startupTimeout = timeout
	}
}

// WithProbeTimeout bounds each health probe request
func WithProbeTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.probeTimeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records probe results
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogDir mirrors container output to <dir>/bridge.log
func WithLogDir(dir string) Option {
	return func(o *options) {
		o.logDir = dir
	}
}

// State is the runtime state of the bridge container.
type State struct {
	Status   string
	Running  bool
	ExitCode int
}

// Exited reports whether the process has terminated on its own.
func (s State) Exited() bool {
	return s.Status == "exited" || s.Status == "dead"
}

// Service is a running bridge container.
type Service struct {
	container testcontainers.Container
	capture   *containerlog.Capture
	port      nat.Port
	http      *http.Client
	metrics   *metric.Metrics
	logger    *slog.Logger
	env       []EnvVar

	mu      sync.Mutex
	baseURL string
	stopped bool
}

// Start runs the bridge on networkName with cfg merged over the defaults.
// A nil policy waits for ReadyLogPattern. Topics the bridge consumes must
// already exist.
func Start(ctx context.Context, networkName string, cfg Config, policy readiness.Policy, opts ...Option) (*Service, error) {
	o := &options{
		image:          DefaultImage,
		startupTimeout: 2 * time.Minute,
		probeTimeout:   5 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Service", "Start", "validate bridge config")
	}
	if policy == nil {
		policy = readiness.LogPattern{Pattern: ReadyLogPattern, Timeout: o.startupTimeout}
	}

	monitoring := cfg.MonitoringPort
	if monitoring == 0 {
		monitoring = DefaultMonitoringPort
	}
	port := nat.Port(strconv.Itoa(monitoring) + "/tcp")

	logger := o.logger.With("component", component)
	capture := containerlog.New(component,
		containerlog.WithLogger(logger),
		containerlog.WithFileSink(o.logDir))

	env := cfg.EnvVars()
	customizers := []testcontainers.ContainerCustomizer{
		testcontainers.WithExposedPorts(string(port)),
		testcontainers.WithEnv(cfg.Env()),
		testcontainers.WithLogConsumerConfig(capture.Config()),
	}
	if networkName != "" {
		customizers = append(customizers, network.WithNetworkName([]string{component}, networkName))
	}
	if s := policy.Strategy(); s != nil {
		customizers = append(customizers, testcontainers.WithWaitStrategyAndDeadline(o.startupTimeout, s))
	}

	logger.Info("Starting bridge", "image", o.image, "readiness", policy.String(), "env", len(env))
	for _, v := range env {
		logger.Debug("Bridge environment", "name", v.Name, "value", v.Value)
	}

	ctr, err := testcontainers.Run(ctx, o.image, customizers...)
	if err != nil {
		return nil, errors.StartupFailure(component, "Start", err).
			WithLogs(capture.Tail(200)).
			WithCleanup(ctx, func(ctx context.Context) error {
				return containerlog.Abandon(ctx, ctr, capture)
			})
	}

	svc := &Service{
		container: ctr,
		capture:   capture,
		port:      port,
		http:      &http.Client{Timeout: o.probeTimeout},
		metrics:   o.metrics,
		logger:    logger,
		env:       env,
	}
	if url, err := svc.resolveBaseURL(ctx); err == nil {
		logger.Info("Bridge ready", "monitoring", url)
	} else {
		// A bridge that exits during startup has no mapped port; Inspect still works.
		logger.Warn("Bridge monitoring port not mapped", "error", err)
	}
	return svc, nil
}

func (s *Service) resolveBaseURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.baseURL != "" {
		return s.baseURL, nil
	}
	endpoint, err := s.container.PortEndpoint(ctx, s.port, "http")
	if err != nil {
		return "", errors.WrapTransient(err, "Service", "resolveBaseURL", "map monitoring port")
	}
	s.baseURL = endpoint
	return endpoint, nil
}

// Env returns the rendered environment the container was started with.
func (s *Service) Env() []EnvVar {
	return append([]EnvVar(nil), s.env...)
}

// MonitoringURL returns the base URL of the health endpoints.
func (s *Service) MonitoringURL(ctx context.Context) (string, error) {
	return s.resolveBaseURL(ctx)
}

// ReadinessProbe queries /ready. Any non-2xx answer or transport failure is an error.
func (s *Service) ReadinessProbe(ctx context.Context) error {
	return s.probe(ctx, "ReadinessProbe", ReadyPath)
}

// LivenessProbe queries /alive. Any non-2xx answer or transport failure is an error.
func (s *Service) LivenessProbe(ctx context.Context) error {
	return s.probe(ctx, "LivenessProbe", AlivePath)
}

func (s *Service) probe(ctx context.Context, op, path string) error {
	err := s.get(ctx, op, path)
	s.metrics.RecordHealthStatus(component+path, err == nil)
	return err
}

func (s *Service) get(ctx context.Context, op, path string) error {
	base, err := s.resolveBaseURL(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return errors.WrapInvalid(err, "Service", op, "create request")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Service", op, "GET "+path)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.WrapTransient(
			fmt.Errorf("%w: status %d: %s", errors.ErrConnectionLost, resp.StatusCode, body),
			"Service", op, "GET "+path)
	}
	return nil
}

// Inspect returns the container's runtime state.
func (s *Service) Inspect(ctx context.Context) (State, error) {
	st, err := s.container.State(ctx)
	if err != nil {
		return State{}, errors.Wrap(err, "Service", "Inspect", "inspect bridge container")
	}
	return State{Status: st.Status, Running: st.Running, ExitCode: st.ExitCode}, nil
}

// Logs returns the captured bridge output.
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
	s.http.CloseIdleConnections()
	if err != nil {
		return errors.Wrap(err, "Service", "Stop", "terminate bridge container")
	}
	s.logger.Debug("Bridge stopped")
	return nil
}
