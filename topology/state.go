package topology

import "github.com/c360/bridgeharness/metric"

// State is the lifecycle position of a Topology.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateStopping
	StateStopped
	StateStartFailed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateStartFailed:
		return "start_failed"
	default:
		return "unknown"
	}
}

func (s State) metricStatus() int {
	switch s {
	case StateStarting:
		return metric.StatusStarting
	case StateReady:
		return metric.StatusReady
	case StateStopping:
		return metric.StatusStopping
	case StateStartFailed:
		return metric.StatusFailed
	default:
		return metric.StatusStopped
	}
}
