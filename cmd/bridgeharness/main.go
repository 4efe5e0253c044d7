// Package main provides the bridgeharness CLI: it runs the end-to-end
// scenarios or holds a file-described topology up until interrupted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/c360/bridgeharness/config"
	"github.com/c360/bridgeharness/errors"
	"github.com/c360/bridgeharness/metric"
	"github.com/c360/bridgeharness/test/e2e/scenarios"
)

var (
	// Version information (set by build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("bridgeharness", flag.ContinueOnError)
	fs.Usage = func() {
		printUsage(fs.Output())
		fs.PrintDefaults()
	}
	flags, err := parseCommandLineFlags(fs, args)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if handleVersionCommand(flags.showVersion) {
		return 0
	}
	if handleListCommand(flags.listScenarios) {
		return 0
	}

	logger := setupLogger(flags.verbose, flags.logFormat)

	harness, err := config.Load()
	if err != nil {
		logger.Error("Invalid harness settings", "error", err)
		return 1
	}
	harness.Verbose = harness.Verbose || flags.verbose
	if err := harness.EnsureLogDir(); err != nil {
		logger.Error("Cannot prepare log dir", "error", err)
		return 1
	}
	logger.Debug("Harness settings", "config", harness.String())

	registry := metric.NewMetricsRegistry()
	stopMetrics := startMetricsServer(logger, flags.metricsPort, registry)
	defer stopMetrics()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env := scenarios.Env{Harness: harness, Logger: logger, Metrics: registry.CoreMetrics()}

	if rest := fs.Args(); len(rest) > 0 {
		if rest[0] != "up" {
			logger.Error("Unknown command", "command", rest[0])
			return 2
		}
		up, err := parseUpFlags(flag.NewFlagSet("up", flag.ContinueOnError), rest[1:])
		if err != nil {
			logger.Error("Invalid up flags", "error", err)
			return 2
		}
		return runUp(ctx, env, up)
	}

	return runScenarios(ctx, env, flags)
}

// handleVersionCommand shows version information and returns true if version flag is set
func handleVersionCommand(showVersion bool) bool {
	if !showVersion {
		return false
	}

	fmt.Printf("Bridge Harness\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Commit:  %s\n", commit)
	fmt.Printf("Date:    %s\n", date)
	return true
}

// handleListCommand shows available scenarios and returns true if list flag is set
func handleListCommand(listScenarios bool) bool {
	if !listScenarios {
		return false
	}

	fmt.Println("Available scenarios:")
	for _, s := range scenarios.All(scenarios.Env{}) {
		fmt.Printf("  %-30s - %s\n", s.Name(), s.Description())
	}
	fmt.Println("\nTest Suites:")
	fmt.Printf("  %-30s - %s\n", "all", "Runs every scenario")
	return true
}

func startMetricsServer(logger *slog.Logger, port int, registry *metric.MetricsRegistry) func() {
	if port == 0 {
		return func() {}
	}
	server := metric.NewServer(port, "", registry)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	logger.Info("Serving metrics", "address", server.Address())
	return func() {
		if err := server.Stop(); err != nil {
			logger.Warn("Metrics server stop failed", "error", err)
		}
	}
}

// runScenarios runs the selected scenario, or all of them
func runScenarios(ctx context.Context, env scenarios.Env, flags *cliFlags) int {
	logger := env.Logger

	var tests []scenarios.Scenario
	if flags.scenarioName == "" || flags.scenarioName == "all" {
		tests = scenarios.All(env)
	} else {
		s := scenarios.ByName(flags.scenarioName, env)
		if s == nil {
			logger.Error("Unknown scenario", "name", flags.scenarioName)
			handleListCommand(true)
			return 1
		}
		tests = []scenarios.Scenario{s}
	}

	passed := 0
	failed := 0
	results := make([]*scenarios.Result, 0, len(tests))

	for _, scenario := range tests {
		if ctx.Err() != nil {
			logger.Warn("Interrupted, skipping remaining scenarios")
			break
		}
		logger.Info("Running scenario", "name", scenario.Name())
		result := runScenario(ctx, logger, scenario)
		results = append(results, result)

		if result.Success {
			passed++
			logger.Info("Scenario PASSED", "name", scenario.Name())
		} else {
			failed++
			logger.Error("Scenario FAILED", "name", scenario.Name())
		}
	}

	logger.Info("Test suite complete",
		"passed", passed,
		"failed", failed,
		"total", len(tests))

	if flags.resultsPath != "" {
		if err := writeResults(flags.resultsPath, results); err != nil {
			logger.Error("Cannot write results", "path", flags.resultsPath, "error", err)
			return 1
		}
	}

	if failed > 0 || passed < len(tests) {
		return 1
	}
	return 0
}

// runScenario executes a single scenario. It never returns nil.
func runScenario(ctx context.Context, logger *slog.Logger, scenario scenarios.Scenario) *scenarios.Result {
	logger.Info("Setting up scenario", "name", scenario.Name())

	if err := scenario.Setup(ctx); err != nil {
		logger.Error("Scenario setup failed", "error", err, "class", errors.Classify(err).String())
		return &scenarios.Result{ScenarioName: scenario.Name(), Error: err.Error()}
	}

	logger.Info("Executing scenario", "name", scenario.Name())
	result, err := scenario.Execute(ctx)

	// Always cleanup
	logger.Info("Tearing down scenario", "name", scenario.Name())
	if teardownErr := scenario.Teardown(context.WithoutCancel(ctx)); teardownErr != nil {
		logger.Warn("Teardown failed", "error", teardownErr)
	}

	if err != nil {
		logger.Error("Scenario failed", "error", err)
		return &scenarios.Result{ScenarioName: scenario.Name(), Error: err.Error()}
	}

	if !result.Success {
		logger.Error("Scenario completed with failure",
			"error", result.Error,
			"duration", result.Duration,
			"details", result.Details)
		return result
	}

	logger.Info("Scenario completed successfully",
		"duration", result.Duration,
		"metrics", result.Metrics)
	return result
}

func writeResults(path string, results []*scenarios.Result) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
