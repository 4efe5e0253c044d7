package scenarios

import (
	"context"
	"net/http"
	"slices"

	"github.com/google/uuid"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/broker"
	"github.com/c360/bridgeharness/mocktarget"
)

// RegexRoutesScenario checks that a pattern route picks up every matching
// topic and ignores the rest.
type RegexRoutesScenario struct {
	*base
	matching []string
	ignored  string
	handle   mocktarget.MappingHandle
}

// NewRegexRoutesScenario creates a regex routing scenario
func NewRegexRoutesScenario(env Env) *RegexRoutesScenario {
	s := &RegexRoutesScenario{
		matching: []string{"foo", "foo-" + uuid.NewString(), "foo-" + uuid.NewString()},
		ignored:  "bar",
	}
	topics := append(slices.Clone(s.matching), s.ignored)
	s.base = newBase("regex-routes",
		"Route foo.* delivers records from every matching topic and none from bar",
		env, bridge.Config{Routes: bridge.Routes{bridge.Route("foo.*", consumePath)}}, topics...)
	s.stages = []stage{
		{"stub-target", s.stubTarget},
		{"produce", s.produceRecords},
		{"verify-calls", s.verifyCalls},
		{"verify-offsets", s.verifyOffsets},
		{"verify-ignored", s.verifyIgnored},
	}
	return s
}

func (s *RegexRoutesScenario) stubTarget(ctx context.Context, result *Result) error {
	h, err := s.stub(ctx, result, mocktarget.Respond(http.MethodPost, consumePath, http.StatusOK))
	s.handle = h
	return err
}

func (s *RegexRoutesScenario) produceRecords(ctx context.Context, result *Result) error {
	for _, topic := range append(slices.Clone(s.matching), s.ignored) {
		r, err := broker.JSONRecord("", map[string]string{"data": topic})
		if err != nil {
			return fail(result, "encode record: %v", err)
		}
		if err := s.produce(ctx, result, topic, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *RegexRoutesScenario) verifyCalls(ctx context.Context, result *Result) error {
	calls, err := s.expectCalls(ctx, result, s.handle, len(s.matching), true)
	if err != nil {
		return err
	}
	var got []string
	for _, call := range calls {
		var body struct {
			Data string `json:"data"`
		}
		if err := call.DecodeBody(&body); err != nil {
			return fail(result, "decode call body: %v", err)
		}
		got = append(got, body.Data)
	}
	slices.Sort(got)
	want := slices.Sorted(slices.Values(s.matching))
	if !slices.Equal(got, want) {
		return fail(result, "delivered %v, want %v", got, want)
	}
	return nil
}

func (s *RegexRoutesScenario) verifyOffsets(ctx context.Context, result *Result) error {
	for _, topic := range s.matching {
		if err := s.expectOffset(ctx, result, topic, 1); err != nil {
			return err
		}
	}
	return nil
}

func (s *RegexRoutesScenario) verifyIgnored(ctx context.Context, result *Result) error {
	offset, err := s.brokerClient().CommittedOffset(ctx, s.cfg.GroupID, s.ignored)
	if err != nil {
		return fail(result, "read offset of %s: %v", s.ignored, err)
	}
	result.Details["offset_"+s.ignored] = offset
	if offset != broker.NoOffset {
		return fail(result, "%s was consumed up to offset %d", s.ignored, offset)
	}
	return nil
}
