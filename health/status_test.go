package health

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "Unix file path",
			input:    "failed to open /var/run/docker.sock",
			expected: "failed to open [PATH]",
		},
		{
			name:     "HTTP URL",
			input:    "GET http://localhost:55012/ready failed",
			expected: "GET [URL] failed",
		},
		{
			name:     "IP address",
			input:    "dial tcp 172.17.0.3 refused",
			expected: "dial tcp [IP] refused",
		},
		{
			name:     "Port number",
			input:    "dial tcp localhost:55012: connection refused",
			expected: "dial tcp localhost[PORT]: connection refused",
		},
		{
			name:     "Credentials in error",
			input:    "sasl failed with password:secretpass123",
			expected: "sasl failed with [REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input))
		})
	}
}

func TestFromError(t *testing.T) {
	ok := FromError("broker", nil)
	assert.True(t, ok.IsHealthy())
	assert.True(t, ok.Healthy)

	down := FromError("broker", fmt.Errorf("dial tcp 127.0.0.1:9092: connection refused"))
	assert.True(t, down.IsUnhealthy())
	assert.False(t, down.Healthy)
	assert.Equal(t, "dial tcp [IP][PORT]: connection refused", down.Message)

	notReady := FromError("bridge", Degraded(fmt.Errorf("status 503")))
	assert.True(t, notReady.IsDegraded())
	assert.False(t, notReady.Healthy)

	assert.Nil(t, Degraded(nil))
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StatusUnhealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StatusHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StatusDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate("topology", tt.subs).Status)
		})
	}
}

func TestAggregate_SortsAndCopies(t *testing.T) {
	subs := []Status{NewHealthy("target", ""), NewHealthy("broker", ""), NewDegraded("bridge", "status 503")}
	agg := Aggregate("topology", subs)

	require.Len(t, agg.SubStatuses, 3)
	assert.Equal(t, "bridge", agg.SubStatuses[0].Component)
	assert.Equal(t, "target", subs[0].Component)

	bridge, ok := agg.Find("bridge")
	require.True(t, ok)
	assert.True(t, bridge.IsDegraded())
	_, ok = agg.Find("missing")
	assert.False(t, ok)

	assert.Equal(t, "topology: degraded\n  bridge: degraded (status 503)\n  broker: healthy\n  target: healthy", agg.String())
}

func TestStatus_WithSubStatusDoesNotShare(t *testing.T) {
	base := NewHealthy("topology", "").WithSubStatus(NewHealthy("a", ""))
	one := base.WithSubStatus(NewHealthy("b", ""))
	two := base.WithSubStatus(NewHealthy("c", ""))

	assert.Len(t, base.SubStatuses, 1)
	assert.Equal(t, "b", one.SubStatuses[1].Component)
	assert.Equal(t, "c", two.SubStatuses[1].Component)
}
