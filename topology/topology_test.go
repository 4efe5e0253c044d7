package topology

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/broker"
	"github.com/c360/bridgeharness/errors"
	"github.com/c360/bridgeharness/mocktarget"
	"github.com/c360/bridgeharness/readiness"
)

type fakeLauncher struct {
	adminURL string

	mu          sync.Mutex
	events      []string
	targetStart map[string]int
	topics      []string
	bridgeCfg   bridge.Config
	policy      readiness.Policy

	brokerErr error
	bridgeErr error
	targetErr map[string]error
	stopErr   map[string]error
	readyErr  error

	// targetGate holds StartTarget for an alias until the channel is closed.
	targetGate map[string]chan struct{}

	// brokerWaitsForTarget blocks broker start until a target start begins.
	brokerWaitsForTarget bool
	targetStarted        chan struct{}
	targetOnce           sync.Once
}

func newFakeLauncher(t *testing.T) *fakeLauncher {
	admin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(admin.Close)

	return &fakeLauncher{
		adminURL:      admin.URL,
		targetStart:   make(map[string]int),
		targetErr:     make(map[string]error),
		stopErr:       make(map[string]error),
		targetGate:    make(map[string]chan struct{}),
		targetStarted: make(chan struct{}),
	}
}

func (l *fakeLauncher) record(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *fakeLauncher) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *fakeLauncher) count(event string) int {
	n := 0
	for _, e := range l.Events() {
		if e == event {
			n++
		}
	}
	return n
}

func (l *fakeLauncher) starts(alias string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.targetStart[alias]
}

func (l *fakeLauncher) stopError(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopErr[name]
}

func (l *fakeLauncher) StartNetwork(_ context.Context, topologyID string) (Network, error) {
	l.record("start:network")
	return &fakeNetwork{l: l, name: "net-" + topologyID[:8]}, nil
}

func (l *fakeLauncher) StartBroker(ctx context.Context, _ string, topics []string) (Broker, error) {
	if l.brokerWaitsForTarget {
		select {
		case <-l.targetStarted:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, fmt.Errorf("target start never began")
		}
	}
	l.record("start:broker")
	l.mu.Lock()
	l.topics = topics
	l.mu.Unlock()
	if l.brokerErr != nil {
		return nil, l.brokerErr
	}
	return &fakeBroker{l: l, client: broker.NewClient([]string{"127.0.0.1:1"})}, nil
}

func (l *fakeLauncher) StartTarget(_ context.Context, _, alias string) (Target, error) {
	l.targetOnce.Do(func() { close(l.targetStarted) })
	l.record("start:" + alias)
	l.mu.Lock()
	l.targetStart[alias]++
	err := l.targetErr[alias]
	gate := l.targetGate[alias]
	l.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &fakeTarget{l: l, alias: alias, client: mocktarget.NewClient(l.adminURL)}, nil
}

func (l *fakeLauncher) StartBridge(
	_ context.Context, _ string, cfg bridge.Config, policy readiness.Policy,
) (Bridge, error) {
	l.record("start:bridge")
	l.mu.Lock()
	l.bridgeCfg = cfg
	l.policy = policy
	l.mu.Unlock()
	if l.bridgeErr != nil {
		return nil, l.bridgeErr
	}
	return &fakeBridge{l: l}, nil
}

type fakeNetwork struct {
	l    *fakeLauncher
	name string
}

func (n *fakeNetwork) Name() string { return n.name }

func (n *fakeNetwork) Stop(context.Context) error {
	n.l.record("stop:network")
	return n.l.stopError("network")
}

type fakeBroker struct {
	l      *fakeLauncher
	client *broker.Client
}

func (b *fakeBroker) Client() *broker.Client  { return b.client }
func (b *fakeBroker) Address() string         { return "localhost:19092" }
func (b *fakeBroker) InternalAddress() string { return "kafka:9092" }
func (b *fakeBroker) Logs() string            { return "broker output" }

func (b *fakeBroker) DisconnectClients() error {
	b.l.record("disconnect:broker")
	return b.client.Close()
}

func (b *fakeBroker) Stop(context.Context) error {
	b.l.record("stop:broker")
	return b.l.stopError("broker")
}

type fakeTarget struct {
	l      *fakeLauncher
	alias  string
	client *mocktarget.Client
}

func (f *fakeTarget) Client() *mocktarget.Client { return f.client }
func (f *fakeTarget) Alias() string              { return f.alias }
func (f *fakeTarget) URL() string                { return f.l.adminURL }
func (f *fakeTarget) InternalURL() string        { return "http://" + f.alias + ":8080" }
func (f *fakeTarget) Logs() string               { return f.alias + " output" }

func (f *fakeTarget) Stop(context.Context) error {
	f.l.record("stop:" + f.alias)
	return f.l.stopError(f.alias)
}

type fakeBridge struct {
	l *fakeLauncher
}

func (b *fakeBridge) Env() []bridge.EnvVar                { return nil }
func (b *fakeBridge) LivenessProbe(context.Context) error { return nil }
func (b *fakeBridge) Logs() string                        { return "bridge output" }

func (b *fakeBridge) Inspect(context.Context) (bridge.State, error) {
	return bridge.State{Status: "running", Running: true}, nil
}

func (b *fakeBridge) ReadinessProbe(context.Context) error {
	b.l.mu.Lock()
	defer b.l.mu.Unlock()
	return b.l.readyErr
}

func (b *fakeBridge) Stop(context.Context) error {
	b.l.record("stop:bridge")
	return b.l.stopError("bridge")
}

func testConfig() bridge.Config {
	return bridge.Config{
		GroupID:         "test",
		Routes:          bridge.Routes{bridge.Route("foo", "/consume")},
		RetryTopic:      "retry",
		DeadLetterTopic: "dead",
	}
}

func indexOf(events []string, event string) int {
	return slices.Index(events, event)
}

func TestStart_OrdersBridgeLastAndFillsAddresses(t *testing.T) {
	l := newFakeLauncher(t)
	topo, err := Start(context.Background(), testConfig(), []string{"foo", "extra"},
		WithLauncher(l), WithExtraTarget("other"))
	require.NoError(t, err)
	defer topo.Stop(context.Background())

	events := l.Events()
	require.Len(t, events, 5)
	assert.Equal(t, "start:network", events[0])
	assert.Equal(t, "start:bridge", events[4])
	assert.ElementsMatch(t, []string{"start:broker", "start:mocks", "start:other"}, events[1:4])

	assert.Equal(t, []string{"foo", "extra", "retry", "dead"}, l.topics)
	assert.Equal(t, "kafka:9092", l.bridgeCfg.BrokerAddress)
	assert.Equal(t, "http://mocks:8080", l.bridgeCfg.TargetBaseURL)
	assert.Equal(t, l.bridgeCfg, topo.BridgeConfig())
	assert.Nil(t, l.policy)

	assert.Equal(t, StateReady, topo.State())
	assert.Equal(t, "net-"+topo.ID()[:8], topo.NetworkName())
	assert.Equal(t, "mocks", topo.Target().Alias())
	other, ok := topo.TargetByAlias("other")
	require.True(t, ok)
	assert.Equal(t, "other", other.Alias())
	assert.NotNil(t, topo.Service())
	assert.Equal(t, "kafka:9092", topo.Broker().InternalAddress())
	assert.Equal(t, []string{"127.0.0.1:1"}, topo.BrokerClient().Brokers())
	assert.Equal(t, "bridge output", topo.Logs()["bridge"])
}

func TestStart_KeepsCallerAddresses(t *testing.T) {
	l := newFakeLauncher(t)
	cfg := testConfig()
	cfg.BrokerAddress = "elsewhere:9092"
	cfg.TargetBaseURL = "http://other:8080"
	policy := readiness.FixedDelay{Delay: time.Millisecond}

	topo, err := Start(context.Background(), cfg, nil, WithLauncher(l), WithReadinessPolicy(policy))
	require.NoError(t, err)
	defer topo.Stop(context.Background())

	assert.Equal(t, "elsewhere:9092", l.bridgeCfg.BrokerAddress)
	assert.Equal(t, "http://other:8080", l.bridgeCfg.TargetBaseURL)
	assert.Equal(t, policy, l.policy)
}

func TestStart_BrokerAndTargetsStartConcurrently(t *testing.T) {
	l := newFakeLauncher(t)
	l.brokerWaitsForTarget = true

	topo, err := Start(context.Background(), testConfig(), nil, WithLauncher(l))
	require.NoError(t, err)
	assert.NoError(t, topo.Stop(context.Background()))
}

func TestStart_BrokerFailureTearsDownStartedComponents(t *testing.T) {
	l := newFakeLauncher(t)
	l.brokerErr = errors.StartupFailure("broker", "Start", context.DeadlineExceeded).WithLogs("no leader")

	topo, err := Start(context.Background(), testConfig(), nil, WithLauncher(l))
	require.Error(t, err)
	assert.Nil(t, topo)

	kind, ok := errors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindStartupTimeout, kind)
	assert.ErrorIs(t, err, errors.ErrStartupTimeout)

	events := l.Events()
	assert.NotContains(t, events, "start:bridge")
	assert.Contains(t, events, "stop:mocks")
	assert.Equal(t, "stop:network", events[len(events)-1])
}

func TestStart_BridgeFailureStopsEverything(t *testing.T) {
	l := newFakeLauncher(t)
	l.bridgeErr = errors.StartupFailure("bridge", "Start", fmt.Errorf("image not found"))
	l.stopErr["mocks"] = fmt.Errorf("already gone")

	_, err := Start(context.Background(), testConfig(), nil, WithLauncher(l))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrContainerStart)
	assert.ErrorIs(t, err, errors.ErrTeardownPartial)

	events := l.Events()
	for _, e := range []string{"disconnect:broker", "stop:broker", "stop:mocks", "stop:network"} {
		assert.Contains(t, events, e)
	}
	assert.NotContains(t, events, "stop:bridge")
}

func TestStart_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		cfg  bridge.Config
		opts []Option
	}{
		{"bad route", bridge.Config{Routes: bridge.Routes{bridge.Route("foo(", "/a")}}, nil},
		{"reserved alias", testConfig(), []Option{WithExtraTarget("kafka")}},
		{"duplicate alias", testConfig(), []Option{WithExtraTarget("a"), WithTransientTarget("a")}},
		{"empty alias", testConfig(), []Option{WithExtraTarget("")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLauncher(t)
			_, err := Start(context.Background(), tt.cfg, nil, append(tt.opts, WithLauncher(l))...)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.Empty(t, l.Events())
		})
	}
}

func TestStop_OrderAndIdempotence(t *testing.T) {
	l := newFakeLauncher(t)
	topo, err := Start(context.Background(), testConfig(), nil, WithLauncher(l), WithExtraTarget("other"))
	require.NoError(t, err)

	require.NoError(t, topo.Stop(context.Background()))
	assert.Equal(t, StateStopped, topo.State())

	events := l.Events()
	disconnect := indexOf(events, "disconnect:broker")
	bridgeStop := indexOf(events, "stop:bridge")
	network := indexOf(events, "stop:network")
	require.NotEqual(t, -1, disconnect)
	assert.Less(t, disconnect, bridgeStop)
	for _, e := range []string{"stop:broker", "stop:mocks", "stop:other"} {
		i := indexOf(events, e)
		assert.Greater(t, i, bridgeStop, e)
		assert.Less(t, i, network, e)
	}
	assert.Equal(t, len(events)-1, network)

	assert.NoError(t, topo.Stop(context.Background()))
	assert.Equal(t, events, l.Events())
}

func TestStop_AggregatesFailures(t *testing.T) {
	l := newFakeLauncher(t)
	topo, err := Start(context.Background(), testConfig(), nil, WithLauncher(l))
	require.NoError(t, err)

	bridgeErr := fmt.Errorf("bridge stuck")
	l.mu.Lock()
	l.stopErr["bridge"] = bridgeErr
	l.stopErr["mocks"] = fmt.Errorf("mocks stuck")
	l.mu.Unlock()

	err = topo.Stop(context.Background())
	require.Error(t, err)

	var te *errors.TeardownError
	require.True(t, stderrors.As(err, &te))
	require.Len(t, te.Failures, 2)
	assert.Equal(t, "bridge", te.Failures[0].Component)
	assert.Equal(t, "target/mocks", te.Failures[1].Component)
	assert.ErrorIs(t, err, bridgeErr)
	assert.ErrorIs(t, err, errors.ErrTeardownPartial)

	assert.Contains(t, l.Events(), "stop:network")
	assert.Equal(t, StateStopped, topo.State())
	assert.NoError(t, topo.Stop(context.Background()))
}

func TestStop_ConcurrentCallsStopOnce(t *testing.T) {
	l := newFakeLauncher(t)
	topo, err := Start(context.Background(), testConfig(), nil, WithLauncher(l))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = topo.Stop(context.Background())
		}()
	}
	wg.Wait()

	count := 0
	for _, e := range l.Events() {
		if e == "stop:network" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestTransientTarget(t *testing.T) {
	l := newFakeLauncher(t)
	topo, err := Start(context.Background(), testConfig(), nil,
		WithLauncher(l), WithTransientTarget(mocktarget.TransientAlias))
	require.NoError(t, err)
	defer topo.Stop(context.Background())

	_, ok := topo.TargetByAlias(mocktarget.TransientAlias)
	assert.False(t, ok)
	assert.NoError(t, topo.StopTransientTarget(context.Background()))

	first, err := topo.StartTransientTarget(context.Background())
	require.NoError(t, err)
	second, err := topo.StartTransientTarget(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, l.starts(mocktarget.TransientAlias))

	got, ok := topo.TargetByAlias(mocktarget.TransientAlias)
	require.True(t, ok)
	assert.Equal(t, "http://transientMocks:8080", got.InternalURL())

	require.NoError(t, topo.StopTransientTarget(context.Background()))
	_, ok = topo.TargetByAlias(mocktarget.TransientAlias)
	assert.False(t, ok)
	assert.Contains(t, l.Events(), "stop:"+mocktarget.TransientAlias)
}

func TestTransientTarget_ConcurrentStartsLaunchOnce(t *testing.T) {
	l := newFakeLauncher(t)
	gate := make(chan struct{})
	l.targetGate[mocktarget.TransientAlias] = gate
	topo, err := Start(context.Background(), testConfig(), nil,
		WithLauncher(l), WithTransientTarget(mocktarget.TransientAlias))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		targets [2]Target
		errs    [2]error
	)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			targets[i], errs[i] = topo.StartTransientTarget(context.Background())
		}()
	}
	require.Eventually(t, func() bool {
		return l.starts(mocktarget.TransientAlias) == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Same(t, targets[0], targets[1])
	assert.Equal(t, 1, l.starts(mocktarget.TransientAlias))

	require.NoError(t, topo.Stop(context.Background()))
	assert.Equal(t, 1, l.count("start:"+mocktarget.TransientAlias))
	assert.Equal(t, 1, l.count("stop:"+mocktarget.TransientAlias))
}

func TestTransientTarget_StartRacingStopIsStopped(t *testing.T) {
	l := newFakeLauncher(t)
	gate := make(chan struct{})
	l.targetGate[mocktarget.TransientAlias] = gate
	topo, err := Start(context.Background(), testConfig(), nil,
		WithLauncher(l), WithTransientTarget(mocktarget.TransientAlias))
	require.NoError(t, err)

	startErr := make(chan error, 1)
	go func() {
		_, err := topo.StartTransientTarget(context.Background())
		startErr <- err
	}()
	require.Eventually(t, func() bool {
		return l.starts(mocktarget.TransientAlias) == 1
	}, 2*time.Second, 5*time.Millisecond)

	stopErr := make(chan error, 1)
	go func() { stopErr <- topo.Stop(context.Background()) }()
	require.Eventually(t, func() bool {
		return topo.State() != StateReady
	}, 2*time.Second, 5*time.Millisecond)
	close(gate)

	require.NoError(t, <-stopErr)
	assert.ErrorIs(t, <-startErr, errors.ErrNotStarted)
	assert.Equal(t, StateStopped, topo.State())
	assert.Equal(t, 1, l.count("start:"+mocktarget.TransientAlias))
	assert.Equal(t, 1, l.count("stop:"+mocktarget.TransientAlias))

	events := l.Events()
	assert.Less(t, indexOf(events, "stop:"+mocktarget.TransientAlias), indexOf(events, "stop:network"))
}

func TestTransientTarget_RequiresAliasAndReadyTopology(t *testing.T) {
	l := newFakeLauncher(t)
	topo, err := Start(context.Background(), testConfig(), nil, WithLauncher(l))
	require.NoError(t, err)

	_, err = topo.StartTransientTarget(context.Background())
	assert.True(t, errors.IsInvalid(err))

	l2 := newFakeLauncher(t)
	topo2, err := Start(context.Background(), testConfig(), nil,
		WithLauncher(l2), WithTransientTarget("late"))
	require.NoError(t, err)
	require.NoError(t, topo2.Stop(context.Background()))
	_, err = topo2.StartTransientTarget(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotStarted)

	require.NoError(t, topo.Stop(context.Background()))
}

func TestHealth(t *testing.T) {
	l := newFakeLauncher(t)
	l.readyErr = fmt.Errorf("consumer not assigned")

	topo, err := Start(context.Background(), testConfig(), nil,
		WithLauncher(l), WithHealthTimeout(2*time.Second))
	require.NoError(t, err)

	status := topo.Health(context.Background())
	assert.Equal(t, "topology", status.Component)
	assert.True(t, status.IsUnhealthy())

	target, ok := status.Find("target/mocks")
	require.True(t, ok)
	assert.True(t, target.IsHealthy())

	bridgeStatus, ok := status.Find("bridge")
	require.True(t, ok)
	assert.True(t, bridgeStatus.IsDegraded())

	brokerStatus, ok := status.Find("broker")
	require.True(t, ok)
	assert.True(t, brokerStatus.IsUnhealthy())

	require.NoError(t, topo.Stop(context.Background()))
	stopped := topo.Health(context.Background())
	assert.True(t, stopped.IsUnhealthy())
	assert.Contains(t, stopped.Message, "stopped")
}

func TestNew_StopsOnCleanup(t *testing.T) {
	l := newFakeLauncher(t)
	var topo *Topology

	t.Run("inner", func(t *testing.T) {
		topo = New(t, testConfig(), nil, WithLauncher(l))
		assert.Equal(t, StateReady, topo.State())
	})

	assert.Equal(t, StateStopped, topo.State())
	assert.Contains(t, l.Events(), "stop:network")
}

func TestMergeTopics(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, mergeTopics([]string{"a", "b", ""}, []string{"b", "c", "a"}))
	assert.Empty(t, mergeTopics(nil, nil))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not_started", StateNotStarted.String())
	assert.Equal(t, "start_failed", StateStartFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
