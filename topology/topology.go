package topology

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/broker"
	"github.com/c360/bridgeharness/config"
	"github.com/c360/bridgeharness/errors"
	"github.com/c360/bridgeharness/health"
	"github.com/c360/bridgeharness/mocktarget"
)

const (
	component = "topology"

	componentNetwork = "network"
	componentBroker  = "broker"
	componentBridge  = "bridge"

	teardownGrace = time.Minute
)

// Topology is one isolated broker, mock target and bridge deployment.
// Topologies share nothing; run as many side by side as needed.
type Topology struct {
	id       string
	opts     options
	logger   *slog.Logger
	launcher Launcher
	topics   []string
	monitor  *health.Monitor

	mu      sync.Mutex
	state   State
	cfg     bridge.Config
	network Network
	broker  Broker
	targets map[string]Target
	bridge  Bridge

	// transientStarting is closed when an in-flight transient start settles.
	transientStarting chan struct{}
}

// Start brings up a topology: the network first, then the broker and every
// mock target concurrently, then the bridge once the broker address is known
// and topics exist. topics are created in addition to the literal topics cfg
// references. An empty cfg.BrokerAddress or cfg.TargetBaseURL is filled in
// from the started broker and primary target.
//
// On failure every component that did start is stopped before Start returns.
func Start(ctx context.Context, cfg bridge.Config, topics []string, opts ...Option) (*Topology, error) {
	o := options{
		logger:        slog.Default(),
		harness:       config.Defaults(),
		healthTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Topology", "Start", "validate bridge config")
	}
	if err := validateAliases(o); err != nil {
		return nil, err
	}
	if o.launcher == nil {
		o.launcher = &containerLauncher{harness: o.harness, logger: o.logger, metrics: o.metrics}
	}

	id := uuid.NewString()
	t := &Topology{
		id:       id,
		opts:     o,
		logger:   o.logger.With("component", component, "topology", id[:8]),
		launcher: o.launcher,
		topics:   mergeTopics(topics, cfg.Topics()),
		monitor:  health.NewMonitor(),
		cfg:      cfg,
		targets:  make(map[string]Target),
	}

	t.setState(StateStarting)
	t.logger.Info("Starting topology", "topics", t.topics, "extra_targets", o.extraTargets)
	started := time.Now()

	if err := t.start(ctx); err != nil {
		t.setState(StateStartFailed)
		if kind, ok := errors.KindOf(err); ok {
			o.metrics.RecordFailure(component, kind.String())
		}
		t.logger.Error("Topology start failed", "error", err)

		teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownGrace)
		defer cancel()
		if terr := t.teardown(teardownCtx); terr != nil {
			t.logger.Warn("Teardown after failed start incomplete", "error", terr)
			return nil, stderrors.Join(err, terr)
		}
		return nil, err
	}

	t.registerChecks()
	t.setState(StateReady)
	o.metrics.RecordStartup(component, time.Since(started))
	t.logger.Info("Topology ready", "network", t.NetworkName(), "duration", time.Since(started))
	return t, nil
}

func (t *Topology) start(ctx context.Context) error {
	began := time.Now()
	network, err := t.launcher.StartNetwork(ctx, t.id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.network = network
	t.mu.Unlock()
	t.started(componentNetwork, began)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		began := time.Now()
		b, err := t.launcher.StartBroker(gctx, network.Name(), t.topics)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.broker = b
		t.mu.Unlock()
		t.started(componentBroker, began)
		return nil
	})
	aliases := append([]string{mocktarget.DefaultAlias}, t.opts.extraTargets...)
	for _, alias := range aliases {
		g.Go(func() error {
			_, err := t.startTarget(gctx, network.Name(), alias)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	t.mu.Lock()
	cfg := t.cfg
	if cfg.BrokerAddress == "" {
		cfg.BrokerAddress = t.broker.InternalAddress()
	}
	if cfg.TargetBaseURL == "" {
		cfg.TargetBaseURL = t.targets[mocktarget.DefaultAlias].InternalURL()
	}
	t.cfg = cfg
	t.mu.Unlock()

	began = time.Now()
	svc, err := t.launcher.StartBridge(ctx, network.Name(), cfg, t.opts.policy)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.bridge = svc
	t.mu.Unlock()
	t.started(componentBridge, began)
	return nil
}

func (t *Topology) startTarget(ctx context.Context, networkName, alias string) (Target, error) {
	began := time.Now()
	target, err := t.launcher.StartTarget(ctx, networkName, alias)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.targets[alias] = target
	t.mu.Unlock()
	t.started(targetComponent(alias), began)
	return target, nil
}

func (t *Topology) started(name string, began time.Time) {
	t.opts.metrics.RecordStartup(name, time.Since(began))
	t.opts.metrics.RecordComponentStatus(name, StateReady.metricStatus())
	t.logger.Debug("Component started", "name", name, "duration", time.Since(began))
}

func (t *Topology) registerChecks() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.monitor.Register(componentBroker, t.broker.Client().Ping)
	for alias, target := range t.targets {
		t.monitor.Register(targetComponent(alias), target.Client().Ping)
	}
	svc := t.bridge
	t.monitor.Register(componentBridge, func(ctx context.Context) error {
		if err := svc.LivenessProbe(ctx); err != nil {
			return err
		}
		if err := svc.ReadinessProbe(ctx); err != nil {
			return health.Degraded(err)
		}
		return nil
	})
}

// Stop tears the topology down: data-plane clients are disconnected, the
// bridge is stopped, then targets and the broker concurrently, then the
// network. Every step runs even when an earlier one fails; failures are
// returned together as an *errors.TeardownError. Calling Stop again returns nil.
func (t *Topology) Stop(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case StateNotStarted, StateStopping, StateStopped:
		t.mu.Unlock()
		return nil
	}
	t.setStateLocked(StateStopping)
	t.mu.Unlock()

	t.logger.Info("Stopping topology")
	began := time.Now()
	err := t.teardown(ctx)
	t.opts.metrics.RecordTeardown(component, time.Since(began))
	if err != nil {
		t.opts.metrics.RecordFailure(component, errors.KindTeardownPartial.String())
		t.logger.Warn("Topology teardown incomplete", "error", err)
		return err
	}
	t.logger.Info("Topology stopped", "duration", time.Since(began))
	return nil
}

func (t *Topology) teardown(ctx context.Context) error {
	t.mu.Lock()
	pending := t.transientStarting
	t.mu.Unlock()
	if pending != nil {
		select {
		case <-pending:
		case <-ctx.Done():
		}
	}

	t.mu.Lock()
	network, brk, svc := t.network, t.broker, t.bridge
	targets := make(map[string]Target, len(t.targets))
	for alias, target := range t.targets {
		targets[alias] = target
	}
	t.mu.Unlock()

	var (
		mu       sync.Mutex
		teardown errors.TeardownError
	)
	add := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		teardown.Add(name, err)
	}

	if brk != nil {
		add(componentBroker+"-client", brk.DisconnectClients())
	}
	if svc != nil {
		add(componentBridge, t.stopComponent(ctx, componentBridge, svc.Stop))
	}

	var g errgroup.Group
	for alias, target := range targets {
		g.Go(func() error {
			name := targetComponent(alias)
			add(name, t.stopComponent(ctx, name, target.Stop))
			return nil
		})
	}
	if brk != nil {
		g.Go(func() error {
			add(componentBroker, t.stopComponent(ctx, componentBroker, brk.Stop))
			return nil
		})
	}
	_ = g.Wait()

	if network != nil {
		add(componentNetwork, t.stopComponent(ctx, componentNetwork, network.Stop))
	}

	t.mu.Lock()
	t.setStateLocked(StateStopped)
	t.mu.Unlock()

	sort.SliceStable(teardown.Failures, func(i, j int) bool {
		return teardown.Failures[i].Component < teardown.Failures[j].Component
	})
	return teardown.ErrOrNil()
}

func (t *Topology) stopComponent(ctx context.Context, name string, stop func(context.Context) error) error {
	began := time.Now()
	t.opts.metrics.RecordComponentStatus(name, StateStopping.metricStatus())
	err := stop(ctx)
	t.opts.metrics.RecordTeardown(name, time.Since(began))
	if err != nil {
		t.opts.metrics.RecordFailure(name, errors.KindTeardownPartial.String())
		t.opts.metrics.RecordComponentStatus(name, StateStartFailed.metricStatus())
		t.logger.Warn("Component stop failed", "name", name, "error", err)
		return err
	}
	t.opts.metrics.RecordComponentStatus(name, StateStopped.metricStatus())
	return nil
}

// StartTransientTarget starts the target reserved with WithTransientTarget.
// It returns the running target when it is already up; concurrent callers
// share a single launch. A target that comes up after Stop began is stopped
// again and ErrNotStarted is returned.
func (t *Topology) StartTransientTarget(ctx context.Context) (Target, error) {
	alias := t.opts.transient
	if alias == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: no transient target configured", errors.ErrInvalidConfig),
			"Topology", "StartTransientTarget", "resolve alias")
	}

	var (
		networkName string
		done        chan struct{}
	)
	for done == nil {
		t.mu.Lock()
		if t.state != StateReady {
			state := t.state
			t.mu.Unlock()
			return nil, errors.Wrap(fmt.Errorf("%w: topology is %s", errors.ErrNotStarted, state),
				"Topology", "StartTransientTarget", "check state")
		}
		if target, ok := t.targets[alias]; ok {
			t.mu.Unlock()
			return target, nil
		}
		if pending := t.transientStarting; pending != nil {
			t.mu.Unlock()
			select {
			case <-pending:
				continue
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "Topology", "StartTransientTarget", "wait for start")
			}
		}
		done = make(chan struct{})
		t.transientStarting = done
		networkName = t.network.Name()
		t.mu.Unlock()
	}
	settle := func() {
		t.mu.Lock()
		t.transientStarting = nil
		t.mu.Unlock()
		close(done)
	}

	began := time.Now()
	target, err := t.launcher.StartTarget(ctx, networkName, alias)
	if err != nil {
		settle()
		return nil, err
	}

	t.mu.Lock()
	if t.state != StateReady {
		state := t.state
		t.mu.Unlock()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownGrace)
		defer cancel()
		stopErr := t.stopComponent(stopCtx, targetComponent(alias), target.Stop)
		settle()
		return nil, errors.Wrap(
			stderrors.Join(fmt.Errorf("%w: topology is %s", errors.ErrNotStarted, state), stopErr),
			"Topology", "StartTransientTarget", "store target")
	}
	t.targets[alias] = target
	t.monitor.Register(targetComponent(alias), target.Client().Ping)
	t.transientStarting = nil
	t.mu.Unlock()
	close(done)

	t.started(targetComponent(alias), began)
	t.logger.Info("Transient target started", "alias", alias)
	return target, nil
}

// StopTransientTarget stops the transient target. It is a no-op when the
// target is not running.
func (t *Topology) StopTransientTarget(ctx context.Context) error {
	alias := t.opts.transient
	if alias == "" {
		return nil
	}

	t.mu.Lock()
	pending := t.transientStarting
	t.mu.Unlock()
	if pending != nil {
		select {
		case <-pending:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "Topology", "StopTransientTarget", "wait for start")
		}
	}

	t.mu.Lock()
	target, ok := t.targets[alias]
	delete(t.targets, alias)
	t.mu.Unlock()
	if !ok {
		return nil
	}

	name := targetComponent(alias)
	t.monitor.Unregister(name)
	if err := t.stopComponent(ctx, name, target.Stop); err != nil {
		return err
	}
	t.logger.Info("Transient target stopped", "alias", alias)
	return nil
}

// Health probes every running component. The bridge is unhealthy when
// /alive fails and degraded when only /ready fails.
func (t *Topology) Health(ctx context.Context) health.Status {
	if state := t.State(); state != StateReady {
		return health.NewUnhealthy(component, "topology is "+state.String())
	}

	status := t.monitor.Run(ctx, component, t.opts.healthTimeout)
	for _, sub := range status.SubStatuses {
		t.opts.metrics.RecordHealthStatus(sub.Component, sub.IsHealthy())
	}
	return status
}

// ID returns the unique topology id used to label its resources.
func (t *Topology) ID() string {
	return t.id
}

// State returns the lifecycle state.
func (t *Topology) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// NetworkName returns the name of the topology network.
func (t *Topology) NetworkName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.network == nil {
		return ""
	}
	return t.network.Name()
}

// Topics returns every topic created before the bridge started.
func (t *Topology) Topics() []string {
	return append([]string(nil), t.topics...)
}

// BridgeConfig returns the configuration the bridge was started with,
// including the filled-in broker address and target base URL.
func (t *Topology) BridgeConfig() bridge.Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Broker returns the broker.
func (t *Topology) Broker() Broker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broker
}

// BrokerClient is shorthand for Broker().Client().
func (t *Topology) BrokerClient() *broker.Client {
	return t.Broker().Client()
}

// Target returns the primary mock target.
func (t *Topology) Target() Target {
	target, _ := t.TargetByAlias(mocktarget.DefaultAlias)
	return target
}

// TargetByAlias returns a running target by its network alias.
func (t *Topology) TargetByAlias(alias string) (Target, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	target, ok := t.targets[alias]
	return target, ok
}

// Service returns the bridge.
func (t *Topology) Service() Bridge {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bridge
}

// Logs returns the captured output of every started component keyed by
// component name.
func (t *Topology) Logs() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	logs := make(map[string]string, len(t.targets)+2)
	if t.broker != nil {
		logs[componentBroker] = t.broker.Logs()
	}
	if t.bridge != nil {
		logs[componentBridge] = t.bridge.Logs()
	}
	for alias, target := range t.targets {
		logs[targetComponent(alias)] = target.Logs()
	}
	return logs
}

func (t *Topology) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setStateLocked(s)
}

func (t *Topology) setStateLocked(s State) {
	t.logger.Debug("Topology state", "from", t.state.String(), "to", s.String())
	t.state = s
	t.opts.metrics.RecordComponentStatus(component, s.metricStatus())
}

func targetComponent(alias string) string {
	return "target/" + alias
}

// mergeTopics returns a followed by the entries of b not in a, in order.
func mergeTopics(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, topic := range list {
			if topic == "" {
				continue
			}
			if _, ok := seen[topic]; ok {
				continue
			}
			seen[topic] = struct{}{}
			out = append(out, topic)
		}
	}
	return out
}

func validateAliases(o options) error {
	reserved := map[string]bool{
		broker.DefaultAlias:     true,
		componentBridge:         true,
		mocktarget.DefaultAlias: true,
	}
	var problems []string
	seen := make(map[string]bool)
	check := func(alias string) {
		switch {
		case alias == "":
			problems = append(problems, "empty target alias")
		case reserved[alias]:
			problems = append(problems, fmt.Sprintf("alias %q is reserved", alias))
		case seen[alias]:
			problems = append(problems, fmt.Sprintf("alias %q declared twice", alias))
		}
		seen[alias] = true
	}
	for _, alias := range o.extraTargets {
		check(alias)
	}
	if o.transient != "" {
		check(o.transient)
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, problems),
		"Topology", "Start", "validate target aliases")
}
