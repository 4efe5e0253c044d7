// Package errors provides standardized error handling for the bridge harness.
//
// # Error Classification
//
// General errors follow a three-class system: Transient (retryable), Invalid
// (bad input, do not retry) and Fatal (stop). Classification drives the bounded
// retries around broker administration:
//
//	if err := admin.CreateTopics(ctx, topics...); err != nil {
//	    if errors.IsTransient(err) {
//	        // retry with backoff
//	    }
//	}
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// # Harness Failure Kinds
//
// Topology lifecycle failures carry one of five kinds:
//
//   - KindStartupTimeout: a readiness gate never resolved
//   - KindTopicCreation: topics could not be created before the bridge started
//   - KindContainerStart: the runtime failed to launch a component
//   - KindTeardownPartial: one or more components failed to stop (aggregate)
//   - KindAssertionTimeout: a bounded wait did not reach its expected value
//
// HarnessError unwraps to both the kind sentinel and the underlying cause:
//
//	_, err := topology.Start(ctx, cfg, topics)
//	if errors.Is(err, errors.ErrStartupTimeout) {
//	    var he *errors.HarnessError
//	    if errors.As(err, &he) {
//	        fmt.Println(he.Detailed()) // message plus captured container logs
//	    }
//	}
//
// TeardownError collects every component stop failure; teardown never stops at
// the first failure.
package errors
