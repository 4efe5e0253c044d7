// Package topology starts and stops a complete bridge test deployment.
//
// A Topology owns one container network and, on it, a Kafka broker, a
// primary mock HTTP target (alias "mocks"), optional extra targets and the
// bridge under test. Start orders the work so the bridge only starts once
// the broker is reachable and every topic exists:
//
//	network ─┬─ broker (topics created) ─┬─ bridge
//	         ├─ mocks                    │
//	         └─ extra targets ───────────┘
//
// Stop reverses it: data-plane clients first, then the bridge, then targets
// and the broker concurrently, then the network.
//
// Tests normally use New, which registers Stop with t.Cleanup:
//
//	cfg := bridge.Config{
//		GroupID: "test",
//		Routes:  bridge.Routes{bridge.Route("foo", "/consume")},
//	}
//	topo := topology.New(t, cfg, []string{"foo"})
//
//	h, err := topo.Target().Client().CreateMapping(ctx,
//		mocktarget.Respond(http.MethodPost, "/consume", http.StatusOK))
//	require.NoError(t, err)
//	require.NoError(t, topo.BrokerClient().Produce(ctx, "foo", broker.NewRecord("k", `{"a":1}`)))
//	calls, err := topo.Target().Client().WaitForCalls(ctx, h, mocktarget.WithMinCalls(1))
//
// A transient target reserved with WithTransientTarget is started and
// stopped on demand, for exercising bridge behavior while a target is
// unreachable.
package topology
