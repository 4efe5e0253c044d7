package scenarios

import (
	"context"
	"fmt"
	"net/http"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/broker"
	"github.com/c360/bridgeharness/mocktarget"
)

// DeadLetterScenario checks that records the bridge cannot deliver end up on
// the dead letter topic, in produce order and unchanged.
type DeadLetterScenario struct {
	*base
	values []string

	// stubStatus is the /consume response; zero leaves the path unmapped.
	stubStatus int
	// wantCalls is the number of calls expected on /consume. With exact
	// unset it is a lower bound.
	wantCalls int
	exact     bool
	// offset is the committed offset expected on foo; zero skips the check.
	offset int64

	handle mocktarget.MappingHandle
}

// NewInvalidJSONScenario produces a value that is not JSON.
func NewInvalidJSONScenario(env Env) *DeadLetterScenario {
	s := &DeadLetterScenario{values: []string{"wat"}, stubStatus: http.StatusOK, exact: true, offset: 1}
	s.base = newBase("dead-letter-invalid-json",
		"A record whose value is not JSON is produced to the dead letter topic",
		env, bridge.Config{Routes: consumeRoute("foo"), DeadLetterTopic: "dead"}, "foo", "dead")
	s.stages = s.deadLetterStages()
	return s
}

// NewMissingEndpointScenario routes to a path the target has no mapping for.
func NewMissingEndpointScenario(env Env) *DeadLetterScenario {
	s := &DeadLetterScenario{values: []string{`{"data":"foo"}`}, offset: 1}
	s.base = newBase("dead-letter-missing-endpoint",
		"A record whose target endpoint does not exist is produced to the dead letter topic",
		env, bridge.Config{Routes: consumeRoute("foo"), DeadLetterTopic: "dead"}, "foo", "dead")
	s.stages = s.deadLetterStages()
	return s
}

// NewStatusCodeDeadLetterScenario answers 428, which the bridge is told to
// dead-letter.
func NewStatusCodeDeadLetterScenario(env Env) *DeadLetterScenario {
	s := &DeadLetterScenario{
		values:     []string{`{"data":"foo"}`},
		stubStatus: http.StatusPreconditionRequired,
		wantCalls:  1,
		exact:      true,
		offset:     1,
	}
	s.base = newBase("dead-letter-status-code",
		"A record answered with a dead letter status code is produced to the dead letter topic",
		env, bridge.Config{
			Routes:          consumeRoute("foo"),
			DeadLetterTopic: "dead",
			ProduceToDeadLetterTopicWhenStatusCodeMatch: "428",
		}, "foo", "dead")
	s.stages = s.deadLetterStages()
	return s
}

// NewBatchStatusCodeDeadLetterScenario dead-letters every record of the
// batches answered with 428.
func NewBatchStatusCodeDeadLetterScenario(env Env) *DeadLetterScenario {
	values := make([]string, 5)
	for i := range values {
		values[i] = fmt.Sprintf(`{"data":"foo%d"}`, i+1)
	}
	s := &DeadLetterScenario{
		values:     values,
		stubStatus: http.StatusPreconditionRequired,
		wantCalls:  1,
	}
	s.base = newBase("batch-dead-letter-status-code",
		"Every record of a batch answered with a dead letter status code is produced to the dead letter topic",
		env, bridge.Config{
			Routes:            consumeRoute("foo"),
			DeadLetterTopic:   "dead",
			TargetProcessType: bridge.ProcessBatch,
			ProduceToDeadLetterTopicWhenStatusCodeMatch: "428",
		}, "foo", "dead")
	s.stages = s.deadLetterStages()
	return s
}

// NewBatchMissingEndpointScenario is NewMissingEndpointScenario in batch mode.
func NewBatchMissingEndpointScenario(env Env) *DeadLetterScenario {
	s := &DeadLetterScenario{values: []string{`{"data":"foo"}`}, offset: 1}
	s.base = newBase("batch-dead-letter-missing-endpoint",
		"A batch whose target endpoint does not exist is produced to the dead letter topic",
		env, bridge.Config{
			Routes:            consumeRoute("foo"),
			DeadLetterTopic:   "dead",
			TargetProcessType: bridge.ProcessBatch,
		}, "foo", "dead")
	s.stages = s.deadLetterStages()
	return s
}

func (s *DeadLetterScenario) deadLetterStages() []stage {
	stages := []stage{
		{"stub-target", s.stubTarget},
		{"produce", s.produceRecords},
	}
	if s.offset > 0 {
		stages = append(stages, stage{"verify-offset", s.verifyOffset})
	}
	return append(stages,
		stage{"verify-dead-letter", s.verifyDeadLetter},
		stage{"verify-calls", s.verifyCalls},
	)
}

func (s *DeadLetterScenario) stubTarget(ctx context.Context, result *Result) error {
	if s.stubStatus == 0 {
		result.Details["stubbed"] = false
		return nil
	}
	h, err := s.stub(ctx, result, mocktarget.Respond(http.MethodPost, consumePath, s.stubStatus))
	s.handle = h
	return err
}

func (s *DeadLetterScenario) produceRecords(ctx context.Context, result *Result) error {
	records := make([]broker.Record, len(s.values))
	for i, v := range s.values {
		key := ""
		if len(s.values) > 1 {
			key = fmt.Sprintf("%d", i+1)
		}
		records[i] = broker.NewRecord(key, v)
	}
	return s.produce(ctx, result, "foo", records...)
}

func (s *DeadLetterScenario) verifyOffset(ctx context.Context, result *Result) error {
	return s.expectOffset(ctx, result, "foo", s.offset)
}

func (s *DeadLetterScenario) verifyDeadLetter(ctx context.Context, result *Result) error {
	msgs, err := s.expectMessages(ctx, result, "dead", len(s.values))
	if err != nil {
		return err
	}
	for i, msg := range msgs {
		if got := msg.ValueString(); got != s.values[i] {
			return fail(result, "dead letter %d value is %q, want %q", i, got, s.values[i])
		}
	}
	result.Details["dead_letter_headers"] = msgs[0].Headers
	return nil
}

func (s *DeadLetterScenario) verifyCalls(ctx context.Context, result *Result) error {
	if s.stubStatus == 0 {
		return nil
	}
	if s.wantCalls > 0 {
		_, err := s.expectCalls(ctx, result, s.handle, s.wantCalls, s.exact)
		return err
	}
	calls, err := s.target().Calls(ctx, s.handle.Request)
	if err != nil {
		return fail(result, "read calls: %v", err)
	}
	if len(calls) != 0 {
		return fail(result, "undeliverable record reached the target %d time(s)", len(calls))
	}
	return nil
}
