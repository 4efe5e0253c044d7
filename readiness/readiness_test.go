package readiness

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestLogPattern_Strategy(t *testing.T) {
	p := LogPattern{Pattern: "consumer was assigned to partitions", Timeout: 90 * time.Second}

	s, ok := p.Strategy().(*wait.LogStrategy)
	require.True(t, ok)
	assert.Equal(t, "consumer was assigned to partitions", s.Log)
	assert.True(t, s.IsRegexp)
	assert.Equal(t, 1, s.Occurrence)
	require.NotNil(t, s.Timeout())
	assert.Equal(t, 90*time.Second, *s.Timeout())
	assert.Contains(t, p.String(), "1m30s")
}

func TestLogPattern_Occurrences(t *testing.T) {
	s := LogPattern{Pattern: "started", Occurrences: 2}.Strategy().(*wait.LogStrategy)
	assert.Equal(t, 2, s.Occurrence)
	assert.Equal(t, DefaultTimeout, *s.Timeout())
}

func TestHTTPProbe_Strategy(t *testing.T) {
	p := HTTPProbe{Path: "/ready", Port: "3000", Timeout: 30 * time.Second}

	s, ok := p.Strategy().(*wait.HTTPStrategy)
	require.True(t, ok)
	assert.Equal(t, "/ready", s.Path)
	assert.Equal(t, nat.Port("3000/tcp"), s.Port)
	assert.Equal(t, DefaultPollInterval, s.PollInterval)
	assert.Equal(t, 30*time.Second, *s.Timeout())
	assert.True(t, s.StatusCodeMatcher(204))
	assert.False(t, s.StatusCodeMatcher(503))
}

func TestHTTPProbe_CustomStatus(t *testing.T) {
	p := HTTPProbe{Path: "/__admin/health", Port: "8080/tcp", StatusOK: func(status int) bool { return status == 503 }}

	s := p.Strategy().(*wait.HTTPStrategy)
	assert.Equal(t, nat.Port("8080/tcp"), s.Port)
	assert.True(t, s.StatusCodeMatcher(503))
	assert.False(t, s.StatusCodeMatcher(200))
}

func TestTCPProbe_Strategy(t *testing.T) {
	s, ok := TCPProbe{Port: "9092"}.Strategy().(*wait.HostPortStrategy)
	require.True(t, ok)
	assert.Equal(t, nat.Port("9092/tcp"), s.Port)
}

func TestFixedDelay_Waits(t *testing.T) {
	s := FixedDelay{Delay: 20 * time.Millisecond}.Strategy()

	start := time.Now()
	require.NoError(t, s.WaitUntilReady(context.Background(), nil))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestFixedDelay_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := FixedDelay{Delay: time.Minute}.Strategy().WaitUntilReady(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNone_HasNoStrategy(t *testing.T) {
	assert.Nil(t, None{}.Strategy())
	assert.Equal(t, "none", None{}.String())
}
