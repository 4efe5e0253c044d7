package scenarios

import (
	"context"
	"net/http"
	"time"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/mocktarget"
	"github.com/c360/bridgeharness/topology"
)

// RetryTopicScenario checks that a record the target keeps rejecting with a
// retryable status is retried for the whole retry budget and then moved to
// the retry topic.
type RetryTopicScenario struct {
	*base
	handle mocktarget.MappingHandle
}

// NewRetryTopicScenario creates a retry topic scenario
func NewRetryTopicScenario(env Env) *RetryTopicScenario {
	s := &RetryTopicScenario{}
	s.base = newBase("retry-topic",
		"A 511 response is retried 10 times (50,500,10 for 1000ms) then produced to retry",
		env, bridge.Config{
			Routes:                                 consumeRoute("foo"),
			RetryTopic:                             "retry",
			RetryProcessWhenStatusCodeMatch:        "511",
			ProduceToRetryTopicWhenStatusCodeMatch: "511",
			RetryPolicy: bridge.RetryPolicy{
				Backoff:     bridge.Backoff{Initial: 50 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 10},
				MaxDuration: time.Second,
			},
		}, "foo", "retry")
	s.stages = []stage{
		{"stub-target", s.stubTarget},
		{"produce", s.produceRecord},
		{"verify-calls", s.verifyCalls},
		{"verify-offset", s.verifyOffset},
		{"verify-retry-topic", s.verifyRetryTopic},
	}
	return s
}

func (s *RetryTopicScenario) stubTarget(ctx context.Context, result *Result) error {
	h, err := s.stub(ctx, result, mocktarget.Respond(http.MethodPost, consumePath, 511))
	s.handle = h
	return err
}

func (s *RetryTopicScenario) produceRecord(ctx context.Context, result *Result) error {
	return s.produceJSON(ctx, result, "foo", map[string]string{"data": "foo"})
}

func (s *RetryTopicScenario) verifyCalls(ctx context.Context, result *Result) error {
	_, err := s.expectCalls(ctx, result, s.handle, 10, true)
	return err
}

func (s *RetryTopicScenario) verifyOffset(ctx context.Context, result *Result) error {
	return s.expectOffset(ctx, result, "foo", 1)
}

func (s *RetryTopicScenario) verifyRetryTopic(ctx context.Context, result *Result) error {
	msgs, err := s.expectMessages(ctx, result, "retry", 1)
	if err != nil {
		return err
	}
	if got := msgs[0].ValueString(); got != `{"data":"foo"}` {
		return fail(result, "retry topic value is %s", got)
	}
	return nil
}

// UnavailableTargetScenario checks that a 503 from the target is treated as
// a connection failure: retried up to the configured count, then committed.
type UnavailableTargetScenario struct {
	*base
	handle mocktarget.MappingHandle
}

// NewUnavailableTargetScenario creates a 503 wait scenario
func NewUnavailableTargetScenario(env Env) *UnavailableTargetScenario {
	s := &UnavailableTargetScenario{}
	s.base = newBase("target-503",
		"A 503 response is retried 5 times under the connection failure policy, then committed",
		env, bridge.Config{
			Routes: consumeRoute("foo"),
			ConnectionFailureRetryPolicy: bridge.ConnectionRetryPolicy{
				Backoff:    bridge.Backoff{Initial: 5 * time.Millisecond, Max: 8000000 * time.Millisecond, Factor: 2},
				MaxRetries: 5,
			},
		}, "foo")
	s.stages = []stage{
		{"stub-target", s.stubTarget},
		{"produce", s.produceRecord},
		{"verify-calls", s.verifyCalls},
		{"verify-offset", s.verifyOffset},
	}
	return s
}

func (s *UnavailableTargetScenario) stubTarget(ctx context.Context, result *Result) error {
	h, err := s.stub(ctx, result, mocktarget.Respond(http.MethodPost, consumePath, http.StatusServiceUnavailable))
	s.handle = h
	return err
}

func (s *UnavailableTargetScenario) produceRecord(ctx context.Context, result *Result) error {
	return s.produceJSON(ctx, result, "foo", map[string]string{"data": "foo"})
}

func (s *UnavailableTargetScenario) verifyCalls(ctx context.Context, result *Result) error {
	_, err := s.expectCalls(ctx, result, s.handle, 5, true)
	return err
}

func (s *UnavailableTargetScenario) verifyOffset(ctx context.Context, result *Result) error {
	return s.expectOffset(ctx, result, "foo", 1)
}

// ConnectionResetScenario checks that the bridge keeps retrying while the
// target resets connections and delivers once it answers again.
type ConnectionResetScenario struct {
	*base
	faultWindow time.Duration
	handle      mocktarget.MappingHandle
}

// NewConnectionResetScenario creates a socket error recovery scenario
func NewConnectionResetScenario(env Env) *ConnectionResetScenario {
	s := &ConnectionResetScenario{faultWindow: 2 * time.Second}
	s.base = newBase("connection-reset",
		"Connection resets are retried; after the target recovers the record is delivered once",
		env, bridge.Config{
			Routes: consumeRoute("foo"),
			ConnectionFailureRetryPolicy: bridge.ConnectionRetryPolicy{
				Backoff:     bridge.Backoff{Initial: 50 * time.Millisecond, Max: 50 * time.Second, Factor: 2},
				MaxDuration: 5 * time.Second,
			},
		}, "foo")
	s.stages = []stage{
		{"stub-faulty-target", s.stubFaulty},
		{"produce", s.produceRecord},
		{"recover-target", s.recoverTarget},
		{"verify-calls", s.verifyCalls},
		{"verify-offset", s.verifyOffset},
	}
	return s
}

func (s *ConnectionResetScenario) stubFaulty(ctx context.Context, result *Result) error {
	_, err := s.stub(ctx, result, mocktarget.Reset(http.MethodPost, consumePath))
	return err
}

func (s *ConnectionResetScenario) produceRecord(ctx context.Context, result *Result) error {
	if err := s.produceJSON(ctx, result, "foo", map[string]string{"data": "foo"}); err != nil {
		return err
	}
	return pause(ctx, s.faultWindow)
}

func (s *ConnectionResetScenario) recoverTarget(ctx context.Context, result *Result) error {
	if err := s.target().Reset(ctx); err != nil {
		return fail(result, "reset target: %v", err)
	}
	h, err := s.stub(ctx, result, mocktarget.Respond(http.MethodPost, consumePath, http.StatusOK))
	s.handle = h
	return err
}

func (s *ConnectionResetScenario) verifyCalls(ctx context.Context, result *Result) error {
	_, err := s.expectCalls(ctx, result, s.handle, 1, true)
	return err
}

func (s *ConnectionResetScenario) verifyOffset(ctx context.Context, result *Result) error {
	return s.expectOffset(ctx, result, "foo", 1)
}

// LateTargetScenario routes to a target that is not running when the record
// arrives and checks delivery once it comes up.
type LateTargetScenario struct {
	*base
	downFor time.Duration
	handle  mocktarget.MappingHandle
}

// NewLateTargetScenario creates a late target scenario
func NewLateTargetScenario(env Env) *LateTargetScenario {
	s := &LateTargetScenario{downFor: 2 * time.Second}
	s.base = newBase("late-target",
		"Records for a target that is down are held and delivered once it starts",
		env, bridge.Config{
			Routes:        consumeRoute("foo"),
			TargetBaseURL: "http://" + mocktarget.TransientAlias + ":" + mocktarget.Port,
			ConnectionFailureRetryPolicy: bridge.ConnectionRetryPolicy{
				Backoff:     bridge.Backoff{Initial: 50 * time.Millisecond, Max: time.Second, Factor: 2},
				MaxDuration: 2 * time.Minute,
			},
		}, "foo")
	s.opts = []topology.Option{topology.WithTransientTarget(mocktarget.TransientAlias)}
	s.stages = []stage{
		{"produce", s.produceRecord},
		{"start-target", s.startTarget},
		{"verify-calls", s.verifyCalls},
		{"verify-offset", s.verifyOffset},
		{"stop-target", s.stopTarget},
	}
	return s
}

func (s *LateTargetScenario) produceRecord(ctx context.Context, result *Result) error {
	if err := s.produceJSON(ctx, result, "foo", map[string]string{"data": "foo"}); err != nil {
		return err
	}
	return pause(ctx, s.downFor)
}

func (s *LateTargetScenario) startTarget(ctx context.Context, result *Result) error {
	target, err := s.topo.StartTransientTarget(ctx)
	if err != nil {
		return fail(result, "start transient target: %v", err)
	}
	h, err := target.Client().CreateMapping(ctx, mocktarget.Respond(http.MethodPost, consumePath, http.StatusOK))
	if err != nil {
		return fail(result, "stub transient target: %v", err)
	}
	s.handle = h
	return nil
}

func (s *LateTargetScenario) verifyCalls(ctx context.Context, result *Result) error {
	target, ok := s.topo.TargetByAlias(mocktarget.TransientAlias)
	if !ok {
		return fail(result, "transient target not running")
	}
	calls, err := target.Client().WaitForCalls(ctx, s.handle,
		mocktarget.WithMinCalls(1), mocktarget.WithWaitTimeout(s.poll.Timeout))
	if err != nil {
		return fail(result, "read transient calls: %v", err)
	}
	result.Details["calls_transient"] = len(calls)
	if len(calls) == 0 {
		return fail(result, "transient target received no call")
	}
	return nil
}

func (s *LateTargetScenario) verifyOffset(ctx context.Context, result *Result) error {
	return s.expectOffset(ctx, result, "foo", 1)
}

func (s *LateTargetScenario) stopTarget(ctx context.Context, result *Result) error {
	if err := s.topo.StopTransientTarget(ctx); err != nil {
		return fail(result, "stop transient target: %v", err)
	}
	return nil
}
