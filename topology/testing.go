package topology

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/errors"
)

// New starts a topology for a test and stops it during t.Cleanup. A start
// failure fails the test with the failing component's captured logs.
func New(t testing.TB, cfg bridge.Config, topics []string, opts ...Option) *Topology {
	t.Helper()

	topo, err := Start(context.Background(), cfg, topics, opts...)
	if err != nil {
		var he *errors.HarnessError
		if stderrors.As(err, &he) {
			t.Fatalf("start topology: %v\n%s", err, he.Detailed())
		}
		t.Fatalf("start topology: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownGrace)
		defer cancel()
		if err := topo.Stop(ctx); err != nil {
			t.Errorf("stop topology: %v", err)
		}
	})
	return topo
}
