// Package bridgeharness stands up an ephemeral Kafka to HTTP bridge topology
// in containers and exposes clients for driving and asserting on it.
//
// # Philosophy
//
// The bridge under test is opaque. The harness never reaches into its retry,
// backoff or dead letter logic; it only controls what the bridge sees
// (records on the broker, responses from the mock target) and observes what
// the bridge does (calls recorded by the target, committed offsets, messages
// on retry and dead letter topics, process state).
//
// Every topology is explicit. There are no package-level singletons: a test
// or a TestMain owns the *topology.Topology it starts and stops it.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│          topology                   │  Start order, state machine,
//	│  (start, stop, health, accessors)   │  aggregate teardown
//	└─────────────────────────────────────┘
//	           ↓ launches
//	┌──────────┐  ┌────────────┐  ┌──────────┐
//	│  broker  │  │ mocktarget │  │  bridge  │  Components, each with its
//	│ (Kafka)  │  │ (WireMock) │  │  (SUT)   │  own readiness policy
//	└──────────┘  └────────────┘  └──────────┘
//	           ↓ attached to
//	┌─────────────────────────────────────┐
//	│          fabric                     │  One docker network per
//	│   (isolated network, aliases)       │  topology
//	└─────────────────────────────────────┘
//
// The broker and every mock target start concurrently. The bridge starts
// only after both have reported ready and the bridge's topics exist.
// Teardown runs in reverse: data-plane clients are closed, the bridge is
// stopped, then targets and broker concurrently, then the network.
//
// # Packages
//
//   - fabric: isolated docker network
//   - broker: Kafka container and a kafka-go client for topics, produce,
//     consume and committed offsets
//   - mocktarget: WireMock container and an admin API client for mappings,
//     faults and the request journal
//   - bridge: the service under test, its typed environment and probes
//   - readiness: readiness policies rendered as wait strategies
//   - topology: composed lifecycle of all of the above
//   - health: aggregate health of a running topology
//   - config: harness settings from the environment and YAML scenario files
//   - metric: Prometheus metrics for lifecycle, traffic and waits
//   - errors: classified errors and harness error kinds
//   - pkg/retry, pkg/containerlog: bounded polling and log capture
//
// # Usage
//
//	func TestDelivery(t *testing.T) {
//		topo := topology.New(t, bridge.Config{
//			GroupID: "test",
//			Routes:  bridge.Routes{bridge.Route("foo", "/consume")},
//		}, []string{"foo"})
//
//		target := topo.Target().Client()
//		h, _ := target.CreateMapping(ctx, mocktarget.Respond(http.MethodPost, "/consume", 200))
//		_ = topo.BrokerClient().Produce(ctx, "foo", broker.NewRecord("k", `{"data":"foo"}`))
//		calls, _ := target.WaitForCalls(ctx, h, mocktarget.WithMinCalls(1))
//	}
//
// Integration tests are gated by INTEGRATION_TESTS=1. The bridgeharness
// command runs the end-to-end scenarios or holds a topology described in a
// scenario file up until interrupted.
package bridgeharness
