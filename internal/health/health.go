// Package health aggregates liveness and readiness checks for the export
// worker's dependencies.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// rank orders statuses from best to worst.
func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnknown:
		return 2
	default:
		return 3
	}
}

// CheckResult is the outcome of a single check.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	LastCheck time.Time     `json:"last_check"`
	Error     string        `json:"error,omitempty"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// ManagerConfig holds configuration for the health manager.
type ManagerConfig struct {
	// Timeout bounds each individual check.
	Timeout time.Duration
}

// DefaultManagerConfig returns a ManagerConfig with sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{Timeout: 5 * time.Second}
}

// Manager runs registered checks and keeps their latest results.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	results  map[string]CheckResult
	timeout  time.Duration
	logger   *slog.Logger
}

// NewManager creates a new health manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultManagerConfig().Timeout
	}

	return &Manager{
		results: make(map[string]CheckResult),
		timeout: cfg.Timeout,
		logger:  logger.With("component", "health-manager"),
	}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
	m.logger.Debug("registered health checker", "name", c.Name())
}

// CheckAll runs every check concurrently, each under the manager timeout.
func (m *Manager) CheckAll(ctx context.Context) map[string]CheckResult {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	var (
		wg  sync.WaitGroup
		rmu sync.Mutex
	)
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			result := c.Check(checkCtx)
			if result.Name == "" {
				result.Name = c.Name()
			}
			if result.Status != StatusHealthy {
				m.logger.Warn("health check not healthy", "name", result.Name, "status", result.Status, "error", result.Error)
			}

			rmu.Lock()
			results[c.Name()] = result
			rmu.Unlock()
		}(c)
	}
	wg.Wait()

	m.mu.Lock()
	for name, r := range results {
		m.results[name] = r
	}
	m.mu.Unlock()

	return results
}

// GetResult returns the last result recorded for a check.
func (m *Manager) GetResult(name string) (CheckResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[name]
	return r, ok
}

// IsReady reports whether no check is unhealthy. Degraded counts as ready.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallStatus(ctx).Status.rank() <= StatusDegraded.rank()
}

// OverallStatus is the aggregated result of all checks.
type OverallStatus struct {
	Status     Status                 `json:"status"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Names returns the component names in a stable order.
func (o OverallStatus) Names() []string {
	names := make([]string, 0, len(o.Components))
	for name := range o.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetOverallStatus runs all checks and reports the worst status among them.
func (m *Manager) GetOverallStatus(ctx context.Context) OverallStatus {
	results := m.CheckAll(ctx)

	overall := OverallStatus{
		Status:     StatusHealthy,
		Components: results,
		Timestamp:  time.Now(),
	}
	for _, r := range results {
		if r.Status.rank() > overall.Status.rank() {
			overall.Status = r.Status
		}
	}
	return overall
}
