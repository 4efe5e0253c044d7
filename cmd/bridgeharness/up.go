package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/config"
	"github.com/c360/bridgeharness/mocktarget"
	"github.com/c360/bridgeharness/test/e2e/scenarios"
	"github.com/c360/bridgeharness/topology"
)

// runUp starts the topology described by a scenario file and keeps it up
// until ctx is cancelled.
func runUp(ctx context.Context, env scenarios.Env, flags *upFlags) int {
	logger := env.Logger

	file, err := config.LoadScenario(flags.scenarioFile)
	if err != nil {
		logger.Error("Cannot load scenario file", "path", flags.scenarioFile, "error", err)
		return 1
	}
	cfg, err := file.BridgeConfig()
	if err != nil {
		logger.Error("Invalid bridge settings", "path", flags.scenarioFile, "error", err)
		return 1
	}

	topo, err := topology.Start(ctx, cfg, file.AllTopics(), upOptions(env, file)...)
	if err != nil {
		logger.Error("Topology failed to start", "scenario", file.Name, "error", err)
		return 1
	}

	printTopology(topo)
	logger.Info("Topology ready, press Ctrl+C to stop", "scenario", file.Name, "id", topo.ID())

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flags.shutdownTimeout)
	defer cancel()
	if err := topo.Stop(stopCtx); err != nil {
		logger.Error("Teardown failed", "error", err)
		return 1
	}
	logger.Info("Topology stopped", "id", topo.ID())
	return 0
}

func upOptions(env scenarios.Env, file *config.Scenario) []topology.Option {
	opts := []topology.Option{
		topology.WithHarnessConfig(env.Harness),
		topology.WithLogger(env.Logger),
		topology.WithMetrics(env.Metrics),
	}
	if policy := file.ReadinessPolicy(); policy != nil {
		opts = append(opts, topology.WithReadinessPolicy(policy))
	}
	for _, alias := range file.Targets.Extra {
		opts = append(opts, topology.WithExtraTarget(alias))
	}
	if file.Targets.Transient {
		opts = append(opts, topology.WithTransientTarget(mocktarget.TransientAlias))
	}
	return opts
}

func printTopology(topo *topology.Topology) {
	fmt.Printf("Topology %s on network %s\n", topo.ID(), topo.NetworkName())
	fmt.Printf("  broker:  %s\n", topo.Broker().Address())

	fmt.Printf("  target:  %s\n", topo.Target().URL())
	fmt.Printf("  topics:  %v\n", topo.Topics())
	for _, line := range topicRoutes(topo.BridgeConfig().Routes, topo.Topics()) {
		fmt.Printf("    %s\n", line)
	}

	components := make([]string, 0)
	for component := range topo.Logs() {
		components = append(components, component)
	}
	sort.Strings(components)
	fmt.Printf("  components: %v\n", components)
}

// topicRoutes describes the target path each topic is delivered to.
func topicRoutes(routes bridge.Routes, topics []string) []string {
	lines := make([]string, 0, len(topics))
	for _, topic := range topics {
		path, ok := routes.Match(topic)
		if !ok {
			path = "(not routed)"
		}
		lines = append(lines, fmt.Sprintf("%s -> %s", topic, path))
	}
	return lines
}
