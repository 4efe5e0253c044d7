// Package scenarios defines end-to-end scenarios that run the bridge against
// a live topology.
package scenarios

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/broker"
	"github.com/c360/bridgeharness/config"
	"github.com/c360/bridgeharness/errors"
	"github.com/c360/bridgeharness/metric"
	"github.com/c360/bridgeharness/mocktarget"
	"github.com/c360/bridgeharness/pkg/retry"
	"github.com/c360/bridgeharness/topology"
)

// Scenario defines the interface that all E2E scenarios implement
type Scenario interface {
	// Name returns the scenario name for identification and reporting
	Name() string

	// Description provides a human-readable description of what the scenario tests
	Description() string

	// Setup starts the scenario's topology
	Setup(ctx context.Context) error

	// Execute runs the scenario against the started topology.
	// Assertion failures are reported in the Result, not as an error.
	Execute(ctx context.Context) (*Result, error)

	// Teardown stops the topology
	Teardown(ctx context.Context) error
}

// Result contains the outcome of a scenario execution
type Result struct {
	// Scenario identification
	ScenarioName string        `json:"scenario_name"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`

	// Overall status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Detailed results
	Metrics  map[string]any `json:"metrics,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Env carries what every scenario shares: harness settings and observability.
type Env struct {
	Harness config.Harness
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e Env) topologyOptions() []topology.Option {
	return []topology.Option{
		topology.WithHarnessConfig(e.Harness),
		topology.WithLogger(e.logger()),
		topology.WithMetrics(e.Metrics),
	}
}

type stage struct {
	name string
	fn   func(ctx context.Context, result *Result) error
}

// base owns a scenario's topology and runs its stages in order.
type base struct {
	name        string
	description string
	env         Env
	cfg         bridge.Config
	topics      []string
	opts        []topology.Option
	stages      []stage
	poll        retry.PollConfig

	topo *topology.Topology
}

func newBase(name, description string, env Env, cfg bridge.Config, topics ...string) *base {
	if cfg.GroupID == "" {
		cfg.GroupID = "test"
	}
	return &base{
		name:        name,
		description: description,
		env:         env,
		cfg:         cfg,
		topics:      topics,
		poll:        retry.DefaultPoll(),
	}
}

// Name returns the scenario name
func (b *base) Name() string {
	return b.name
}

// Description returns the scenario description
func (b *base) Description() string {
	return b.description
}

// Topology returns the running topology, or nil before Setup.
func (b *base) Topology() *topology.Topology {
	return b.topo
}

// Setup starts the topology
func (b *base) Setup(ctx context.Context) error {
	opts := append(b.env.topologyOptions(), b.opts...)
	topo, err := topology.Start(ctx, b.cfg, b.topics, opts...)
	if err != nil {
		return fmt.Errorf("start %s topology: %w", b.name, err)
	}
	b.topo = topo
	return nil
}

// Execute runs every stage, stopping at the first failure
func (b *base) Execute(ctx context.Context) (*Result, error) {
	if b.topo == nil {
		return nil, errors.Wrap(errors.ErrNotStarted, "Scenario", "Execute", "run "+b.name)
	}

	result := &Result{
		ScenarioName: b.name,
		StartTime:    time.Now(),
		Success:      false,
		Metrics:      make(map[string]any),
		Details:      make(map[string]any),
		Errors:       []string{},
		Warnings:     []string{},
	}

	for _, stage := range b.stages {
		stageStart := time.Now()

		if err := stage.fn(ctx, result); err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("%s failed: %v", stage.name, err)
			result.EndTime = time.Now()
			result.Duration = result.EndTime.Sub(result.StartTime)
			return result, nil
		}

		result.Metrics[fmt.Sprintf("%s_duration_ms", stage.name)] = time.Since(stageStart).Milliseconds()
	}

	result.Success = true
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	return result, nil
}

// Teardown stops the topology
func (b *base) Teardown(ctx context.Context) error {
	if b.topo == nil {
		return nil
	}
	return b.topo.Stop(ctx)
}

func (b *base) target() *mocktarget.Client {
	return b.topo.Target().Client()
}

func (b *base) brokerClient() *broker.Client {
	return b.topo.BrokerClient()
}

func (b *base) stub(ctx context.Context, result *Result, m mocktarget.Mapping) (mocktarget.MappingHandle, error) {
	h, err := b.target().CreateMapping(ctx, m)
	if err != nil {
		return mocktarget.MappingHandle{}, fail(result, "stub %s: %v", m.Request.Path(), err)
	}
	return h, nil
}

func (b *base) produce(ctx context.Context, result *Result, topic string, records ...broker.Record) error {
	if err := b.brokerClient().Produce(ctx, topic, records...); err != nil {
		return fail(result, "produce to %s: %v", topic, err)
	}
	key := "produced_" + topic
	count, _ := result.Metrics[key].(int)
	result.Metrics[key] = count + len(records)
	return nil
}

func (b *base) produceJSON(ctx context.Context, result *Result, topic string, values ...any) error {
	records := make([]broker.Record, 0, len(values))
	for i, v := range values {
		r, err := broker.JSONRecord(fmt.Sprintf("key-%d", i), v)
		if err != nil {
			return fail(result, "encode record %d: %v", i, err)
		}
		records = append(records, r)
	}
	return b.produce(ctx, result, topic, records...)
}

// expectCalls waits for want calls on h. With exact set it keeps polling
// until the count settles and fails on any surplus.
func (b *base) expectCalls(
	ctx context.Context, result *Result, h mocktarget.MappingHandle, want int, exact bool,
) ([]mocktarget.CallRecord, error) {
	opts := []mocktarget.WaitOption{
		mocktarget.WithMinCalls(want),
		mocktarget.WithWaitTimeout(b.poll.Timeout),
	}
	if exact {
		opts = append(opts, mocktarget.WithSettle(2*time.Second))
	}
	calls, err := b.target().WaitForCalls(ctx, h, opts...)
	if err != nil {
		return nil, fail(result, "read calls for %s: %v", h.Request.Path(), err)
	}
	result.Details["calls_"+h.Request.Path()] = len(calls)

	switch {
	case len(calls) < want:
		return calls, fail(result, "got %d call(s) to %s, want %d", len(calls), h.Request.Path(), want)
	case exact && len(calls) != want:
		return calls, fail(result, "got %d call(s) to %s, want exactly %d", len(calls), h.Request.Path(), want)
	}
	return calls, nil
}

func (b *base) expectOffset(ctx context.Context, result *Result, topic string, want int64) error {
	got, err := b.brokerClient().WaitForOffset(ctx, b.cfg.GroupID, topic, want, b.poll)
	result.Details["offset_"+topic] = got
	if err != nil {
		return fail(result, "%v", err)
	}
	if got != want {
		return fail(result, "committed offset of %s is %d, want %d", topic, got, want)
	}
	return nil
}

func (b *base) expectMessages(ctx context.Context, result *Result, topic string, n int) ([]broker.ConsumedMessage, error) {
	readCtx, cancel := context.WithTimeout(ctx, b.poll.Timeout)
	defer cancel()

	msgs, err := b.brokerClient().ConsumeN(readCtx, topic, n)
	result.Details["messages_"+topic] = len(msgs)
	if err != nil {
		return msgs, fail(result, "%v", err)
	}
	return msgs, nil
}

// pause waits d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fail(result *Result, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	result.Errors = append(result.Errors, err.Error())
	return err
}
