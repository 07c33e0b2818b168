package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DatabaseChecker checks database connectivity.
type DatabaseChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewDatabaseChecker creates a checker around a ping function such as
// (*sql.DB).PingContext.
func NewDatabaseChecker(name string, ping func(ctx context.Context) error) *DatabaseChecker {
	return &DatabaseChecker{name: name, ping: ping}
}

// Name returns the name of the component.
func (c *DatabaseChecker) Name() string { return c.name }

// Check pings the database.
func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := c.ping(ctx)

	result := CheckResult{Name: c.name, LastCheck: start, Duration: time.Since(start)}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "database connection failed"
		result.Error = err.Error()
		return result
	}
	result.Status = StatusHealthy
	result.Message = "database connection successful"
	return result
}

// ComponentChecker wraps an arbitrary status function.
type ComponentChecker struct {
	name  string
	check func(ctx context.Context) (Status, string, error)
}

// NewComponentChecker creates a generic component checker.
func NewComponentChecker(name string, check func(ctx context.Context) (Status, string, error)) *ComponentChecker {
	return &ComponentChecker{name: name, check: check}
}

// Name returns the name of the component.
func (c *ComponentChecker) Name() string { return c.name }

// Check runs the wrapped function.
func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.check(ctx)

	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		LastCheck: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
		if status == "" {
			result.Status = StatusUnhealthy
		}
	}
	return result
}

// DepthReader reports queue backlogs.
type DepthReader interface {
	Depths(ctx context.Context, names []string) (map[string]int64, error)
}

// QueueDepthChecker reports degraded when any queue backlog reaches the
// threshold and unhealthy when depths cannot be read.
type QueueDepthChecker struct {
	queues    DepthReader
	names     []string
	threshold int64
}

// NewQueueDepthChecker creates a queue backlog checker. A threshold of zero or
// less disables the degraded state.
func NewQueueDepthChecker(q DepthReader, names []string, threshold int64) *QueueDepthChecker {
	return &QueueDepthChecker{queues: q, names: names, threshold: threshold}
}

// Name returns the name of the component.
func (c *QueueDepthChecker) Name() string { return "queue" }

// Check reads the depth of every configured queue.
func (c *QueueDepthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	depths, err := c.queues.Depths(ctx, c.names)

	result := CheckResult{Name: c.Name(), LastCheck: start, Duration: time.Since(start)}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "queue depth unavailable"
		result.Error = err.Error()
		return result
	}

	var backlogged []string
	for name, depth := range depths {
		if c.threshold > 0 && depth >= c.threshold {
			backlogged = append(backlogged, fmt.Sprintf("%s=%d", name, depth))
		}
	}
	if len(backlogged) > 0 {
		sort.Strings(backlogged)
		result.Status = StatusDegraded
		result.Message = "backlog over threshold: " + strings.Join(backlogged, ", ")
		return result
	}

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("%d queues within threshold", len(depths))
	return result
}

var (
	_ Checker = (*DatabaseChecker)(nil)
	_ Checker = (*ComponentChecker)(nil)
	_ Checker = (*QueueDepthChecker)(nil)
)
