package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"time"
)

// cliFlags holds parsed command-line flags
type cliFlags struct {
	scenarioName  string
	verbose       bool
	logFormat     string
	metricsPort   int
	resultsPath   string
	showVersion   bool
	listScenarios bool
}

// upFlags holds the flags of the up command
type upFlags struct {
	scenarioFile    string
	shutdownTimeout time.Duration
}

// parseCommandLineFlags parses and returns command-line flags
func parseCommandLineFlags(fs *flag.FlagSet, args []string) (*cliFlags, error) {
	flags := &cliFlags{}

	fs.StringVar(&flags.scenarioName, "scenario", "all",
		"Run a specific scenario by name, or 'all'")
	fs.BoolVar(&flags.verbose, "verbose", os.Getenv("VERBOSE") == "true", "Enable verbose logging (env: VERBOSE)")
	fs.StringVar(&flags.logFormat, "log-format", "text", "Log format: text, json")
	fs.IntVar(&flags.metricsPort, "metrics-port", 0, "Serve Prometheus metrics on this port, 0 to disable")
	fs.StringVar(&flags.resultsPath, "results", "", "Write scenario results as JSON to this file")
	fs.BoolVar(&flags.showVersion, "version", false, "Show version information")
	fs.BoolVar(&flags.listScenarios, "list", false, "List available scenarios")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := validateFlags(flags); err != nil {
		return nil, err
	}
	return flags, nil
}

func parseUpFlags(fs *flag.FlagSet, args []string) (*upFlags, error) {
	flags := &upFlags{}
	fs.StringVar(&flags.scenarioFile, "f", "", "Scenario file describing the topology")
	fs.DurationVar(&flags.shutdownTimeout, "shutdown-timeout", time.Minute, "Time allowed for teardown")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if flags.scenarioFile == "" {
		return nil, fmt.Errorf("up requires -f <scenario file>")
	}
	if flags.shutdownTimeout <= 0 {
		return nil, fmt.Errorf("invalid shutdown timeout: %s", flags.shutdownTimeout)
	}
	return flags, nil
}

func validateFlags(flags *cliFlags) error {
	if !slices.Contains([]string{"json", "text"}, flags.logFormat) {
		return fmt.Errorf("invalid log format: %s", flags.logFormat)
	}
	if flags.metricsPort < 0 || flags.metricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", flags.metricsPort)
	}
	return nil
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `bridgeharness - Kafka to HTTP bridge test harness

Usage:
  bridgeharness [flags]                 run scenarios
  bridgeharness [flags] up -f FILE      start the topology in FILE until interrupted

Examples:
  bridgeharness -list
  bridgeharness -scenario retry-topic -verbose
  bridgeharness -log-format json -metrics-port 9090 up -f scenario.yaml

Environment:
  BROKER_IMAGE, MOCK_TARGET_IMAGE, BRIDGE_IMAGE, STARTUP_TIMEOUT,
  VERBOSE, LOG_DIR, TOPIC_PARTITIONS

Flags:
`)
}
