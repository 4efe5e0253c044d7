package main

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bridgeharness/bridge"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseCommandLineFlags(t *testing.T) {
	flags, err := parseCommandLineFlags(newFlagSet("test"), []string{
		"-scenario", "retry-topic", "-log-format", "json", "-metrics-port", "9090", "up", "-f", "x.yaml",
	})
	require.NoError(t, err)
	assert.Equal(t, "retry-topic", flags.scenarioName)
	assert.Equal(t, "json", flags.logFormat)
	assert.Equal(t, 9090, flags.metricsPort)
}

func TestParseCommandLineFlagsDefaults(t *testing.T) {
	flags, err := parseCommandLineFlags(newFlagSet("test"), nil)
	require.NoError(t, err)
	assert.Equal(t, "all", flags.scenarioName)
	assert.Equal(t, "text", flags.logFormat)
	assert.Zero(t, flags.metricsPort)
}

func TestParseCommandLineFlagsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"log format", []string{"-log-format", "xml"}},
		{"negative port", []string{"-metrics-port", "-1"}},
		{"port too large", []string{"-metrics-port", "70000"}},
		{"unknown flag", []string{"-nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCommandLineFlags(newFlagSet("test"), tt.args)
			assert.Error(t, err)
		})
	}
}

func TestParseUpFlags(t *testing.T) {
	up, err := parseUpFlags(newFlagSet("up"), []string{"-f", "scenario.yaml", "-shutdown-timeout", "30s"})
	require.NoError(t, err)
	assert.Equal(t, "scenario.yaml", up.scenarioFile)
	assert.Equal(t, 30*time.Second, up.shutdownTimeout)

	_, err = parseUpFlags(newFlagSet("up"), nil)
	assert.Error(t, err)

	_, err = parseUpFlags(newFlagSet("up"), []string{"-f", "a.yaml", "-shutdown-timeout", "0s"})
	assert.Error(t, err)
}

func TestRunListAndVersion(t *testing.T) {
	assert.Equal(t, 0, run([]string{"-list"}))
	assert.Equal(t, 0, run([]string{"-version"}))
	assert.Equal(t, 2, run([]string{"-log-format", "xml"}))
}

func TestTopicRoutes(t *testing.T) {
	routes := bridge.Routes{bridge.Route("foo.*", "/consumeFoo"), bridge.Route("orders.v1", "/orders")}
	lines := topicRoutes(routes, []string{"foo", "orders.v1", "dead"})
	assert.Equal(t, []string{
		"foo -> /consumeFoo",
		"orders.v1 -> /orders",
		"dead -> (not routed)",
	}, lines)
}
