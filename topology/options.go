package topology

import (
	"log/slog"
	"time"

	"github.com/c360/bridgeharness/config"
	"github.com/c360/bridgeharness/metric"
	"github.com/c360/bridgeharness/readiness"
)

type options struct {
	logger        *slog.Logger
	metrics       *metric.Metrics
	harness       config.Harness
	policy        readiness.Policy
	extraTargets  []string
	transient     string
	launcher      Launcher
	healthTimeout time.Duration
}

// Option configures Start.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records lifecycle and health metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithHarnessConfig sets images, startup timeout, partitions and log
// directory for every component.
func WithHarnessConfig(h config.Harness) Option {
	return func(o *options) {
		o.harness = h
	}
}

// WithReadinessPolicy overrides the bridge readiness policy.
func WithReadinessPolicy(p readiness.Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithExtraTarget hosts an additional mock target under alias for the whole
// topology lifetime.
func WithExtraTarget(alias string) Option {
	return func(o *options) {
		o.extraTargets = append(o.extraTargets, alias)
	}
}

// WithTransientTarget reserves alias for a target started and stopped
// mid-test with StartTransientTarget and StopTransientTarget.
func WithTransientTarget(alias string) Option {
	return func(o *options) {
		o.transient = alias
	}
}

// WithLauncher replaces the container launcher.
func WithLauncher(l Launcher) Option {
	return func(o *options) {
		o.launcher = l
	}
}

// WithHealthTimeout bounds each check run by Health.
func WithHealthTimeout(d time.Duration) Option {
	return func(o *options) {
		o.healthTimeout = d
	}
}
