package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Checker probes one component. See FromError for how results map to a Status.
type Checker func(ctx context.Context) error

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checks   map[string]Checker
	started  map[string]time.Time
	errors   map[string]int
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checks:   make(map[string]Checker),
		started:  make(map[string]time.Time),
		errors:   make(map[string]int),
	}
}

// Register adds a named check. Registering a name again replaces its check.
func (m *Monitor) Register(name string, check Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checks[name] = check
	if _, ok := m.started[name]; !ok {
		m.started[name] = time.Now()
	}
}

// Unregister removes a check and its last status.
func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.checks, name)
	delete(m.statuses, name)
	delete(m.started, name)
	delete(m.errors, name)
}

// Run executes every registered check concurrently, each bounded by
// timeout, records the results and returns the aggregate.
func (m *Monitor) Run(ctx context.Context, system string, timeout time.Duration) Status {
	m.mu.RLock()
	checks := make(map[string]Checker, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := check(checkCtx)
			m.record(name, FromError(name, err), time.Since(start))
			return nil
		})
	}
	_ = g.Wait()

	return m.AggregateHealth(system)
}

func (m *Monitor) record(name string, status Status, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Unregistered while the check was running.
	if _, ok := m.checks[name]; !ok {
		return
	}
	if !status.IsHealthy() {
		m.errors[name]++
	}
	metrics := &Metrics{
		Latency:      latency,
		ErrorCount:   m.errors[name],
		LastActivity: status.Timestamp,
	}
	if started, ok := m.started[name]; ok {
		metrics.Uptime = time.Since(started)
	}
	m.statuses[name] = status.WithMetrics(metrics)
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.statuses[name] = status
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// GetAll returns a copy of all current health statuses
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		result[name] = status
	}
	return result
}

// AggregateHealth returns the aggregate of the last recorded statuses
func (m *Monitor) AggregateHealth(system string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}

	return Aggregate(system, subStatuses)
}

// ListComponents returns the registered check names, sorted
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
