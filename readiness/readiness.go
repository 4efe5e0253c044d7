// Package readiness converts readiness policies into container wait strategies.
//
// A Policy is an immutable description of when a started component may be
// used. Every policy carries a timeout; expiry surfaces as a startup timeout
// from the component that applied it.
package readiness

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DefaultTimeout applies to any policy whose Timeout is zero.
const DefaultTimeout = 60 * time.Second

// DefaultPollInterval applies to HTTP probes whose PollInterval is zero.
const DefaultPollInterval = 500 * time.Millisecond

// Policy describes how to decide a component is ready.
type Policy interface {
	// Strategy returns the wait strategy for a container request. A nil
	// strategy means the component is considered ready once created.
	Strategy() wait.Strategy
	// String describes the policy for logs and error messages.
	String() string
}

// LogPattern resolves when a line matching Pattern appears in the
// component's output Occurrences times.
type LogPattern struct {
	Pattern     string
	Occurrences int
	Timeout     time.Duration
}

// Strategy implements Policy.
func (p LogPattern) Strategy() wait.Strategy {
	s := wait.ForLog(p.Pattern).AsRegexp().WithStartupTimeout(timeoutOrDefault(p.Timeout))
	if p.Occurrences > 1 {
		s = s.WithOccurrence(p.Occurrences)
	}
	return s
}

func (p LogPattern) String() string {
	return fmt.Sprintf("log pattern %q within %s", p.Pattern, timeoutOrDefault(p.Timeout))
}

// HTTPProbe polls Path on the container Port until it answers with a 2xx
// status (or one accepted by StatusOK).
type HTTPProbe struct {
	Path         string
	Port         string
	PollInterval time.Duration
	Timeout      time.Duration
	StatusOK     func(status int) bool
}

// Strategy implements Policy.
func (p HTTPProbe) Strategy() wait.Strategy {
	interval := p.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	statusOK := p.StatusOK
	if statusOK == nil {
		statusOK = func(status int) bool { return status >= 200 && status < 300 }
	}
	return wait.ForHTTP(p.Path).
		WithPort(tcpPort(p.Port)).
		WithPollInterval(interval).
		WithStatusCodeMatcher(statusOK).
		WithStartupTimeout(timeoutOrDefault(p.Timeout))
}

func (p HTTPProbe) String() string {
	return fmt.Sprintf("http probe %s on %s within %s", p.Path, tcpPort(p.Port), timeoutOrDefault(p.Timeout))
}

// TCPProbe resolves once Port accepts connections.
type TCPProbe struct {
	Port    string
	Timeout time.Duration
}

// Strategy implements Policy.
func (p TCPProbe) Strategy() wait.Strategy {
	return wait.ForListeningPort(tcpPort(p.Port)).WithStartupTimeout(timeoutOrDefault(p.Timeout))
}

func (p TCPProbe) String() string {
	return fmt.Sprintf("tcp probe on %s within %s", tcpPort(p.Port), timeoutOrDefault(p.Timeout))
}

// FixedDelay waits a fixed duration regardless of component state.
type FixedDelay struct {
	Delay time.Duration
}

// Strategy implements Policy.
func (p FixedDelay) Strategy() wait.Strategy {
	return delayStrategy{delay: p.Delay}
}

func (p FixedDelay) String() string {
	return fmt.Sprintf("fixed delay %s", p.Delay)
}

// None resolves immediately. It is meant for components expected to exit
// on their own, whose state is inspected afterwards.
type None struct{}

// Strategy implements Policy.
func (None) Strategy() wait.Strategy {
	return nil
}

func (None) String() string {
	return "none"
}

type delayStrategy struct {
	delay time.Duration
}

// WaitUntilReady implements wait.Strategy.
func (s delayStrategy) WaitUntilReady(ctx context.Context, _ wait.StrategyTarget) error {
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fixed delay of %s interrupted: %w", s.delay, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

func tcpPort(port string) nat.Port {
	p, err := nat.NewPort("tcp", port)
	if err != nil {
		return nat.Port(port)
	}
	return p
}
