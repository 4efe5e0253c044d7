package scenarios

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/mocktarget"
)

// BatchScenario checks batch delivery: every call body is a JSON array and,
// across all calls, exactly the expected items arrive in produce order.
type BatchScenario struct {
	*base
	values []any
	want   []string
	offset int64
	handle mocktarget.MappingHandle
}

// NewBatchPickFieldScenario sends only the data field of each record.
func NewBatchPickFieldScenario(env Env) *BatchScenario {
	s := &BatchScenario{
		values: []any{
			map[string]string{"data": "foo1"},
			map[string]string{"data": "foo2"},
			map[string]string{"data": "foo3"},
		},
		want:   []string{"foo1", "foo2", "foo3"},
		offset: 3,
	}
	s.base = newBase("batch-pick-field",
		"Batches carry the picked data field of every record",
		env, bridge.Config{
			Routes:            consumeRoute("foo"),
			TargetProcessType: bridge.ProcessBatch,
			RecordPickField:   "data",
		}, "foo")
	s.stages = s.batchStages()
	return s
}

// NewBatchFilterProjectScenario drops records whose type is not created and
// projects the rest to their data field.
func NewBatchFilterProjectScenario(env Env) *BatchScenario {
	s := &BatchScenario{
		values: []any{
			map[string]string{"type": "created", "data": "foo1"},
			map[string]string{"type": "created", "data": "foo2"},
			map[string]string{"type": "deleted", "data": "foo3"},
		},
		want: []string{"foo1", "foo2"},
	}
	s.base = newBase("batch-filter-project",
		"Batches skip records failing the type filter and carry the projected data field",
		env, bridge.Config{
			Routes:             consumeRoute("foo"),
			TargetProcessType:  bridge.ProcessBatch,
			RecordFilterField:  "type",
			RecordFilterValue:  "created",
			RecordProjectField: "data",
		}, "foo")
	s.stages = s.batchStages()
	return s
}

func (s *BatchScenario) batchStages() []stage {
	stages := []stage{
		{"stub-target", s.stubTarget},
		{"produce", s.produceRecords},
		{"verify-batches", s.verifyBatches},
	}
	// Filtered records are not acknowledged, leaving the committed offset unspecified.
	if s.offset > 0 {
		stages = append(stages, stage{"verify-offset", s.verifyOffset})
	}
	return stages
}

func (s *BatchScenario) stubTarget(ctx context.Context, result *Result) error {
	h, err := s.stub(ctx, result, mocktarget.Respond(http.MethodPost, consumePath, http.StatusOK))
	s.handle = h
	return err
}

func (s *BatchScenario) produceRecords(ctx context.Context, result *Result) error {
	return s.produceJSON(ctx, result, "foo", s.values...)
}

func (s *BatchScenario) verifyBatches(ctx context.Context, result *Result) error {
	calls, err := s.expectCalls(ctx, result, s.handle, 1, false)
	if err != nil {
		return err
	}
	calls, err = s.target().WaitForCalls(ctx, s.handle,
		mocktarget.WithMinCalls(len(calls)), mocktarget.WithSettle(2*s.poll.Interval+time.Second))
	if err != nil {
		return fail(result, "read batches: %v", err)
	}

	got, err := batchItems(calls)
	if err != nil {
		return fail(result, "%v", err)
	}
	result.Details["batches"] = len(calls)
	if !slices.Equal(got, s.want) {
		return fail(result, "batched items %v, want %v", got, s.want)
	}
	return nil
}

func (s *BatchScenario) verifyOffset(ctx context.Context, result *Result) error {
	return s.expectOffset(ctx, result, "foo", s.offset)
}

// batchItems flattens the JSON array bodies of calls into their items. An
// item is either a picked string or a record object whose data field is used.
func batchItems(calls []mocktarget.CallRecord) ([]string, error) {
	var items []string
	for _, call := range calls {
		var batch []json.RawMessage
		if err := json.Unmarshal([]byte(call.Body), &batch); err != nil {
			return nil, fmt.Errorf("batch body is not a JSON array: %s", call.Body)
		}
		for _, raw := range batch {
			var picked string
			if err := json.Unmarshal(raw, &picked); err == nil {
				items = append(items, picked)
				continue
			}
			var record struct {
				Data string `json:"data"`
			}
			if err := json.Unmarshal(raw, &record); err != nil {
				return nil, fmt.Errorf("batch item %s is neither a string nor a record", raw)
			}
			items = append(items, record.Data)
		}
	}
	return items, nil
}

// BatchRoutesScenario checks batch delivery across two routes: every record
// of each topic arrives at its own path, with nothing crossing over.
type BatchRoutesScenario struct {
	*base
	count   int
	paths   map[string]string
	handles map[string]mocktarget.MappingHandle
}

// NewBatchRoutesScenario creates a batch produce/consume scenario over foo and bar
func NewBatchRoutesScenario(env Env) *BatchRoutesScenario {
	s := &BatchRoutesScenario{
		count:   10,
		paths:   map[string]string{"foo": "/consumeFoo", "bar": "/consumeBar"},
		handles: make(map[string]mocktarget.MappingHandle),
	}
	s.base = newBase("batch-produce-consume",
		"Batches from foo and bar reach their own paths and carry every record once",
		env, bridge.Config{
			Routes: bridge.Routes{
				bridge.Route("foo", s.paths["foo"]),
				bridge.Route("bar", s.paths["bar"]),
			},
			TargetProcessType:      bridge.ProcessBatch,
			BatchParallelismFactor: 1,
			CommitInterval:         100 * time.Millisecond,
		}, "foo", "bar")
	s.stages = []stage{
		{"stub-target", s.stubTarget},
		{"produce", s.produceRecords},
		{"verify-batches", s.verifyBatches},
		{"verify-offsets", s.verifyOffsets},
	}
	return s
}

func (s *BatchRoutesScenario) topics() []string {
	return []string{"bar", "foo"}
}

func (s *BatchRoutesScenario) stubTarget(ctx context.Context, result *Result) error {
	for _, topic := range s.topics() {
		h, err := s.stub(ctx, result, mocktarget.Respond(http.MethodPost, s.paths[topic], http.StatusOK))
		if err != nil {
			return err
		}
		s.handles[topic] = h
	}
	return nil
}

func (s *BatchRoutesScenario) produceRecords(ctx context.Context, result *Result) error {
	for _, topic := range s.topics() {
		values := make([]any, s.count)
		for i := range values {
			values[i] = map[string]string{"data": fmt.Sprintf("%s%d", topic, i+1)}
		}
		if err := s.produceJSON(ctx, result, topic, values...); err != nil {
			return err
		}
	}
	return nil
}

func (s *BatchRoutesScenario) verifyBatches(ctx context.Context, result *Result) error {
	for _, topic := range s.topics() {
		h := s.handles[topic]
		if _, err := s.expectCalls(ctx, result, h, 1, false); err != nil {
			return err
		}
		calls, err := s.target().WaitForCalls(ctx, h, mocktarget.WithSettle(2*time.Second))
		if err != nil {
			return fail(result, "read batches for %s: %v", topic, err)
		}
		got, err := batchItems(calls)
		if err != nil {
			return fail(result, "%v", err)
		}
		want := make([]string, s.count)
		for i := range want {
			want[i] = fmt.Sprintf("%s%d", topic, i+1)
		}
		slices.Sort(got)
		slices.Sort(want)
		result.Details["batches_"+topic] = len(calls)
		if !slices.Equal(got, want) {
			return fail(result, "%s batches carried %v, want %v", s.paths[topic], got, want)
		}
	}
	return nil
}

func (s *BatchRoutesScenario) verifyOffsets(ctx context.Context, result *Result) error {
	for _, topic := range s.topics() {
		if err := s.expectOffset(ctx, result, topic, int64(s.count)); err != nil {
			return err
		}
	}
	return nil
}
