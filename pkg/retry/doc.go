// Package retry provides exponential backoff retry and the bounded poll used
// by every harness wait.
//
// # Retry
//
//   - Do: execute a function with retry and exponential backoff
//   - DoWithResult: same, returning a value
//   - NonRetryable: mark an error so Do returns it immediately
//
// Preset:
//
//   - Quick(): 10 attempts, 50ms-1s delay (topic creation right after broker startup)
//
// Topic creation retries only transient broker errors:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    err := client.CreateTopics(ctx, topics...)
//	    if err != nil && !errors.IsTransient(err) {
//	        return retry.NonRetryable(err)
//	    }
//	    return err
//	})
//
// # Poll
//
// Poll evaluates a predicate at a fixed interval until it holds or the
// timeout elapses. It is the only waiting primitive assertions use:
//
//	err := retry.Poll(ctx, retry.PollConfig{Interval: 100 * time.Millisecond, Timeout: 10 * time.Second},
//	    func(ctx context.Context) (bool, error) {
//	        calls, err := target.Calls(ctx, matcher)
//	        return len(calls) >= 3, err
//	    })
//	if errors.Is(err, retry.ErrPollTimeout) {
//	    // expected value never reached
//	}
//
// Predicate errors are treated as "not yet" and reported only if the poll
// times out. Wrap an error with NonRetryable to abort the poll early.
//
// # Context Cancellation
//
// Both Do and Poll stop as soon as the context is cancelled, either while the
// function runs or during the delay between attempts.
package retry
