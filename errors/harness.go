package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CleanupTimeout bounds the cleanup of a component whose start failed.
const CleanupTimeout = 30 * time.Second

// Kind identifies which part of the topology lifecycle failed.
type Kind int

const (
	// KindStartupTimeout means a readiness gate never resolved.
	KindStartupTimeout Kind = iota + 1
	// KindTopicCreation means administrative broker setup failed before the bridge started.
	KindTopicCreation
	// KindContainerStart means the container runtime failed to launch a component.
	KindContainerStart
	// KindTeardownPartial means one or more components failed to stop.
	KindTeardownPartial
	// KindAssertionTimeout means a caller-level bounded wait did not reach its expected value.
	KindAssertionTimeout
)

// Sentinels for errors.Is checks against a Kind.
var (
	ErrStartupTimeout   = errors.New("startup timeout")
	ErrTopicCreation    = errors.New("topic creation failure")
	ErrContainerStart   = errors.New("container start failure")
	ErrTeardownPartial  = errors.New("teardown partial failure")
	ErrAssertionTimeout = errors.New("assertion timeout")
)

// String returns the kind name used in error messages and metric labels.
func (k Kind) String() string {
	switch k {
	case KindStartupTimeout:
		return "startup_timeout"
	case KindTopicCreation:
		return "topic_creation"
	case KindContainerStart:
		return "container_start"
	case KindTeardownPartial:
		return "teardown_partial"
	case KindAssertionTimeout:
		return "assertion_timeout"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindStartupTimeout:
		return ErrStartupTimeout
	case KindTopicCreation:
		return ErrTopicCreation
	case KindContainerStart:
		return ErrContainerStart
	case KindTeardownPartial:
		return ErrTeardownPartial
	case KindAssertionTimeout:
		return ErrAssertionTimeout
	default:
		return nil
	}
}

// HarnessError is a lifecycle failure of a single topology component.
// Logs holds the component's captured output at the time of failure.
type HarnessError struct {
	Kind      Kind
	Component string
	Operation string
	Logs      string
	Err       error
}

// Error implements the error interface
func (e *HarnessError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s: %s", e.Component, e.Operation, e.Kind.sentinel())
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *HarnessError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Detailed returns the error message followed by the captured component logs.
func (e *HarnessError) Detailed() string {
	if e.Logs == "" {
		return e.Error()
	}
	return fmt.Sprintf("%s\n--- %s logs ---\n%s", e.Error(), e.Component, e.Logs)
}

// NewHarnessError creates a HarnessError of the given kind.
func NewHarnessError(kind Kind, component, operation string, err error) *HarnessError {
	return &HarnessError{Kind: kind, Component: component, Operation: operation, Err: err}
}

// WithLogs attaches captured component logs and returns the same error.
func (e *HarnessError) WithLogs(logs string) *HarnessError {
	e.Logs = logs
	return e
}

// WithCleanup runs cleanup for the component whose start failed with e. The
// cleanup context outlives ctx's cancellation and expires after
// CleanupTimeout. A cleanup failure is joined into e.Err as a
// KindTeardownPartial error so errors.Is finds both kinds.
func (e *HarnessError) WithCleanup(ctx context.Context, cleanup func(context.Context) error) *HarnessError {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CleanupTimeout)
	defer cancel()

	if err := cleanup(cleanupCtx); err != nil {
		e.Err = errors.Join(e.Err, NewHarnessError(KindTeardownPartial, e.Component, "Cleanup", err))
	}
	return e
}

// StartupFailure classifies a container start error. Errors caused by an
// expired deadline are readiness timeouts; everything else is a start failure.
func StartupFailure(component, operation string, err error) *HarnessError {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "deadline exceeded") {
		return NewHarnessError(KindStartupTimeout, component, operation, err)
	}
	return NewHarnessError(KindContainerStart, component, operation, err)
}

// AssertionTimeout reports that a bounded wait ended before its target was met.
func AssertionTimeout(component, operation string, err error) *HarnessError {
	return NewHarnessError(KindAssertionTimeout, component, operation, err)
}

// KindOf returns the Kind of the first HarnessError in err's chain.
func KindOf(err error) (Kind, bool) {
	var he *HarnessError
	if errors.As(err, &he) {
		return he.Kind, true
	}
	var te *TeardownError
	if errors.As(err, &te) {
		return KindTeardownPartial, true
	}
	return 0, false
}

// ComponentFailure is one component's stop error within a teardown.
type ComponentFailure struct {
	Component string
	Err       error
}

// TeardownError aggregates every component stop failure of one teardown.
type TeardownError struct {
	Failures []ComponentFailure
}

// Add records a failure; nil errors are ignored.
func (e *TeardownError) Add(component string, err error) {
	if err == nil {
		return
	}
	e.Failures = append(e.Failures, ComponentFailure{Component: component, Err: err})
}

// ErrOrNil returns nil when no failure was recorded.
func (e *TeardownError) ErrOrNil() error {
	if e == nil || len(e.Failures) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface
func (e *TeardownError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Component, f.Err))
	}
	return fmt.Sprintf("%s (%d component(s)): %s", ErrTeardownPartial, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes ErrTeardownPartial and every component failure.
func (e *TeardownError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrTeardownPartial)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
