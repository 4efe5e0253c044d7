package scenarios

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/broker"
	"github.com/c360/bridgeharness/mocktarget"
)

const consumePath = "/consume"

func consumeRoute(topic string) bridge.Routes {
	return bridge.Routes{bridge.Route(topic, consumePath)}
}

// ProduceConsumeConfig configures ProduceConsumeScenario
type ProduceConsumeConfig struct {
	MessageCount int `json:"message_count"`
}

// DefaultProduceConsumeConfig returns default configuration
func DefaultProduceConsumeConfig() *ProduceConsumeConfig {
	return &ProduceConsumeConfig{MessageCount: 3}
}

// ProduceConsumeScenario checks that every produced record is delivered once
// and committed.
type ProduceConsumeScenario struct {
	*base
	config *ProduceConsumeConfig
	handle mocktarget.MappingHandle
}

// NewProduceConsumeScenario creates a produce/consume scenario
func NewProduceConsumeScenario(env Env, config *ProduceConsumeConfig) *ProduceConsumeScenario {
	if config == nil {
		config = DefaultProduceConsumeConfig()
	}
	s := &ProduceConsumeScenario{config: config}
	s.base = newBase("produce-consume",
		"Keyed JSON records on foo are POSTed to /consume once each and committed",
		env, bridge.Config{Routes: consumeRoute("foo")}, "foo")
	s.stages = []stage{
		{"stub-target", s.stubTarget},
		{"produce", s.produceRecords},
		{"verify-calls", s.verifyCalls},
		{"verify-offset", s.verifyOffset},
	}
	return s
}

func (s *ProduceConsumeScenario) stubTarget(ctx context.Context, result *Result) error {
	h, err := s.stub(ctx, result, mocktarget.Respond(http.MethodPost, consumePath, http.StatusOK))
	s.handle = h
	return err
}

func (s *ProduceConsumeScenario) produceRecords(ctx context.Context, result *Result) error {
	values := make([]any, s.config.MessageCount)
	for i := range values {
		values[i] = map[string]any{"data": fmt.Sprintf("foo%d", i)}
	}
	return s.produceJSON(ctx, result, "foo", values...)
}

func (s *ProduceConsumeScenario) verifyCalls(ctx context.Context, result *Result) error {
	calls, err := s.expectCalls(ctx, result, s.handle, s.config.MessageCount, true)
	if err != nil {
		return err
	}
	for _, call := range calls {
		if got := call.Header("x-record-topic"); got != "foo" {
			return fail(result, "call carries x-record-topic %q, want foo", got)
		}
	}
	return nil
}

func (s *ProduceConsumeScenario) verifyOffset(ctx context.Context, result *Result) error {
	return s.expectOffset(ctx, result, "foo", int64(s.config.MessageCount))
}

// BurstConfig configures BurstScenario
type BurstConfig struct {
	MessageCount int           `json:"message_count"`
	Timeout      time.Duration `json:"timeout"`
}

// DefaultBurstConfig returns default configuration
func DefaultBurstConfig() *BurstConfig {
	return &BurstConfig{MessageCount: 1000, Timeout: 2 * time.Minute}
}

// BurstScenario produces a large burst in one write and expects every record
// delivered and committed.
type BurstScenario struct {
	*base
	config *BurstConfig
	handle mocktarget.MappingHandle
}

// NewBurstScenario creates a burst scenario
func NewBurstScenario(env Env, config *BurstConfig) *BurstScenario {
	if config == nil {
		config = DefaultBurstConfig()
	}
	s := &BurstScenario{config: config}
	s.base = newBase("burst",
		"A burst of records on foo is fully delivered and committed",
		env, bridge.Config{Routes: consumeRoute("foo")}, "foo")
	s.poll.Timeout = config.Timeout
	s.stages = []stage{
		{"stub-target", s.stubTarget},
		{"produce", s.produceBurst},
		{"verify-offset", s.verifyOffset},
		{"verify-calls", s.verifyCalls},
	}
	return s
}

func (s *BurstScenario) stubTarget(ctx context.Context, result *Result) error {
	h, err := s.stub(ctx, result, mocktarget.Respond(http.MethodPost, consumePath, http.StatusOK))
	s.handle = h
	return err
}

func (s *BurstScenario) produceBurst(ctx context.Context, result *Result) error {
	records := make([]broker.Record, s.config.MessageCount)
	for i := range records {
		records[i] = broker.NewRecord(uuid.NewString(), `{"data":"foo"}`)
	}
	start := time.Now()
	if err := s.produce(ctx, result, "foo", records...); err != nil {
		return err
	}
	result.Metrics["produce_rate_per_sec"] = float64(len(records)) / time.Since(start).Seconds()
	return nil
}

func (s *BurstScenario) verifyOffset(ctx context.Context, result *Result) error {
	return s.expectOffset(ctx, result, "foo", int64(s.config.MessageCount))
}

func (s *BurstScenario) verifyCalls(ctx context.Context, result *Result) error {
	_, err := s.expectCalls(ctx, result, s.handle, s.config.MessageCount, false)
	return err
}

// RecordHeadersScenario checks that record headers reach the target as HTTP
// headers and that reading the call journal twice yields the same calls.
type RecordHeadersScenario struct {
	*base
	headers map[string]string
	handle  mocktarget.MappingHandle
}

// NewRecordHeadersScenario creates a record headers scenario
func NewRecordHeadersScenario(env Env) *RecordHeadersScenario {
	s := &RecordHeadersScenario{
		headers: map[string]string{"x-request-id": "111", "my-awesome-header": "222"},
	}
	s.base = newBase("record-headers",
		"Record headers are forwarded as request headers; the call journal reads back unchanged",
		env, bridge.Config{Routes: consumeRoute("foo")}, "foo")
	s.stages = []stage{
		{"stub-target", s.stubTarget},
		{"produce", s.produceRecord},
		{"verify-headers", s.verifyHeaders},
		{"verify-journal-stable", s.verifyJournalStable},
	}
	return s
}

func (s *RecordHeadersScenario) stubTarget(ctx context.Context, result *Result) error {
	h, err := s.stub(ctx, result, mocktarget.Respond(http.MethodPost, consumePath, http.StatusOK))
	s.handle = h
	return err
}

func (s *RecordHeadersScenario) produceRecord(ctx context.Context, result *Result) error {
	record := broker.NewRecord("", `{"data":"foo"}`)
	for k, v := range s.headers {
		record = record.WithHeader(k, v)
	}
	return s.produce(ctx, result, "foo", record)
}

func (s *RecordHeadersScenario) verifyHeaders(ctx context.Context, result *Result) error {
	calls, err := s.expectCalls(ctx, result, s.handle, 1, true)
	if err != nil {
		return err
	}
	for name, want := range s.headers {
		if got := calls[0].Header(name); got != want {
			return fail(result, "header %s is %q, want %q", name, got, want)
		}
	}
	if calls[0].Header(bridge.HeaderRecordTimestamp) == "" {
		result.Warnings = append(result.Warnings, "call carries no "+bridge.HeaderRecordTimestamp)
	}
	return nil
}

func (s *RecordHeadersScenario) verifyJournalStable(ctx context.Context, result *Result) error {
	first, err := s.target().WaitForCalls(ctx, s.handle)
	if err != nil {
		return fail(result, "first read: %v", err)
	}
	second, err := s.target().WaitForCalls(ctx, s.handle)
	if err != nil {
		return fail(result, "second read: %v", err)
	}
	first = mocktarget.StripHeaders(first, bridge.HeaderRecordTimestamp)
	second = mocktarget.StripHeaders(second, bridge.HeaderRecordTimestamp)
	if !reflect.DeepEqual(first, second) {
		return fail(result, "call journal changed between reads: %d then %d call(s)", len(first), len(second))
	}
	return nil
}

// BodyHeadersScenario checks that objects found at the configured body paths
// are copied into request headers.
type BodyHeadersScenario struct {
	*base
	handle mocktarget.MappingHandle
}

// NewBodyHeadersScenario creates a body headers scenario
func NewBodyHeadersScenario(env Env) *BodyHeadersScenario {
	s := &BodyHeadersScenario{}
	s.base = newBase("body-headers",
		"Header objects under bla and baz in the record body become request headers",
		env, bridge.Config{Routes: consumeRoute("foo"), BodyHeadersPaths: []string{"bla", "baz"}}, "foo")
	s.stages = []stage{
		{"stub-target", s.stubTarget},
		{"produce", s.produceRecord},
		{"verify-headers", s.verifyHeaders},
	}
	return s
}

func (s *BodyHeadersScenario) stubTarget(ctx context.Context, result *Result) error {
	h, err := s.stub(ctx, result, mocktarget.Respond(http.MethodPost, consumePath, http.StatusOK))
	s.handle = h
	return err
}

func (s *BodyHeadersScenario) produceRecord(ctx context.Context, result *Result) error {
	return s.produceJSON(ctx, result, "foo", map[string]any{
		"data": "foo",
		"bla":  map[string]string{"x-bla": "1"},
		"baz":  map[string]string{"x-baz": "2"},
	})
}

func (s *BodyHeadersScenario) verifyHeaders(ctx context.Context, result *Result) error {
	calls, err := s.expectCalls(ctx, result, s.handle, 1, true)
	if err != nil {
		return err
	}
	for name, want := range map[string]string{"x-bla": "1", "x-baz": "2"} {
		if got := calls[0].Header(name); got != want {
			return fail(result, "header %s is %q, want %q", name, got, want)
		}
	}
	return nil
}

// StreamPickFieldScenario checks that in stream mode each call body is the
// picked field of its record.
type StreamPickFieldScenario struct {
	*base
	want   []string
	handle mocktarget.MappingHandle
}

// NewStreamPickFieldScenario creates a stream pick field scenario
func NewStreamPickFieldScenario(env Env) *StreamPickFieldScenario {
	s := &StreamPickFieldScenario{want: []string{"foo1", "foo2", "foo3"}}
	s.base = newBase("stream-pick-field",
		"Each call body is the picked data field of one record, in produce order",
		env, bridge.Config{Routes: consumeRoute("foo"), RecordPickField: "data"}, "foo")
	s.stages = []stage{
		{"stub-target", s.stubTarget},
		{"produce", s.produceRecords},
		{"verify-bodies", s.verifyBodies},
	}
	return s
}

func (s *StreamPickFieldScenario) stubTarget(ctx context.Context, result *Result) error {
	h, err := s.stub(ctx, result, mocktarget.Respond(http.MethodPost, consumePath, http.StatusOK))
	s.handle = h
	return err
}

// produceRecords writes one record per produce call.
func (s *StreamPickFieldScenario) produceRecords(ctx context.Context, result *Result) error {
	for i, data := range s.want {
		r, err := broker.JSONRecord(fmt.Sprintf("%d", i+1), map[string]string{"data": data})
		if err != nil {
			return fail(result, "encode record %d: %v", i, err)
		}
		if err := s.produce(ctx, result, "foo", r); err != nil {
			return err
		}
	}
	return nil
}

func (s *StreamPickFieldScenario) verifyBodies(ctx context.Context, result *Result) error {
	calls, err := s.expectCalls(ctx, result, s.handle, len(s.want), true)
	if err != nil {
		return err
	}
	for i, call := range calls {
		var got string
		if err := call.DecodeBody(&got); err != nil {
			return fail(result, "call %d body %s is not the picked field", i, call.Body)
		}
		if got != s.want[i] {
			return fail(result, "call %d body is %q, want %q", i, got, s.want[i])
		}
	}
	return nil
}
