package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"leader not available", fmt.Errorf("[5] Leader Not Available"), true},
		{"unexpected eof", fmt.Errorf("read tcp: unexpected EOF"), true},
		{"invalid data", ErrInvalidData, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("connection reset")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(fmt.Errorf("Error response from daemon: No such image: bridge:latest")))
	assert.False(t, IsFatal(ErrConnectionTimeout))
}

func TestWrap_Format(t *testing.T) {
	err := Wrap(ErrInvalidData, "Broker", "Produce", "encode record")
	assert.Equal(t, "Broker.Produce: encode record failed: invalid data format", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidData))
	assert.Nil(t, Wrap(nil, "a", "b", "c"))
}

func TestWrapClassified_PreservesChain(t *testing.T) {
	base := fmt.Errorf("boom")

	transient := WrapTransient(base, "Client", "CreateTopics", "dial controller")
	assert.True(t, IsTransient(transient))
	assert.True(t, errors.Is(transient, base))

	invalid := WrapInvalid(base, "Config", "Validate", "compile route")
	assert.True(t, IsInvalid(invalid))
	assert.Equal(t, ErrorInvalid, Classify(invalid))

	fatal := WrapFatal(base, "Service", "Start", "create topics")
	assert.True(t, IsFatal(fatal))
}

func TestHarnessError_IsKindAndCause(t *testing.T) {
	cause := fmt.Errorf("wait until ready: %w", context.DeadlineExceeded)
	err := StartupFailure("bridge", "Start", cause)

	require.Equal(t, KindStartupTimeout, err.Kind)
	assert.True(t, errors.Is(err, ErrStartupTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, ErrContainerStart))
	assert.Contains(t, err.Error(), "bridge.Start: startup timeout")

	kind, ok := KindOf(fmt.Errorf("topology: %w", err))
	assert.True(t, ok)
	assert.Equal(t, KindStartupTimeout, kind)
}

func TestStartupFailure_NonTimeoutIsContainerStart(t *testing.T) {
	err := StartupFailure("broker", "Start", fmt.Errorf("create container: no such image"))
	assert.Equal(t, KindContainerStart, err.Kind)
	assert.True(t, errors.Is(err, ErrContainerStart))
}

func TestHarnessError_Detailed(t *testing.T) {
	err := NewHarnessError(KindTopicCreation, "broker", "CreateTopics", fmt.Errorf("not controller"))
	assert.Equal(t, err.Error(), err.Detailed())

	err.WithLogs("line one\nline two")
	detailed := err.Detailed()
	assert.True(t, strings.HasPrefix(detailed, err.Error()))
	assert.Contains(t, detailed, "--- broker logs ---")
	assert.Contains(t, detailed, "line two")
}

func TestHarnessError_WithCleanup(t *testing.T) {
	cause := fmt.Errorf("create container: no such image")

	clean := StartupFailure("broker", "Start", cause).
		WithCleanup(context.Background(), func(context.Context) error { return nil })
	assert.Equal(t, cause, clean.Err)
	assert.False(t, errors.Is(clean, ErrTeardownPartial))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var cleanupErr error
	err := StartupFailure("broker", "Start", cause).
		WithCleanup(ctx, func(ctx context.Context) error {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			cleanupErr = ctx.Err()
			return fmt.Errorf("terminate: daemon unreachable")
		})
	assert.NoError(t, cleanupErr)

	assert.True(t, errors.Is(err, ErrContainerStart))
	assert.True(t, errors.Is(err, ErrTeardownPartial))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "broker.Cleanup: teardown partial failure: terminate: daemon unreachable")

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindContainerStart, kind)
}

func TestTeardownError_Aggregates(t *testing.T) {
	te := &TeardownError{}
	assert.NoError(t, te.ErrOrNil())

	stopBridge := fmt.Errorf("container gone")
	stopNetwork := fmt.Errorf("network has active endpoints")
	te.Add("bridge", stopBridge)
	te.Add("broker", nil)
	te.Add("network", stopNetwork)

	err := te.ErrOrNil()
	require.Error(t, err)
	assert.Len(t, te.Failures, 2)
	assert.True(t, errors.Is(err, ErrTeardownPartial))
	assert.True(t, errors.Is(err, stopBridge))
	assert.True(t, errors.Is(err, stopNetwork))
	assert.Contains(t, err.Error(), "2 component(s)")

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindTeardownPartial, kind)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "startup_timeout", KindStartupTimeout.String())
	assert.Equal(t, "assertion_timeout", KindAssertionTimeout.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
