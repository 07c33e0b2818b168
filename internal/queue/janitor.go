package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// JanitorConfig holds janitor configuration.
type JanitorConfig struct {
	// Schedule is a cron expression or descriptor such as "@every 1h".
	Schedule string

	// TaskRetention is how long acknowledged tasks are kept.
	TaskRetention time.Duration
}

// DefaultJanitorConfig returns a JanitorConfig with sensible defaults.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Schedule:      "@every 1h",
		TaskRetention: 24 * time.Hour,
	}
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Janitor periodically purges acknowledged tasks and expired dead letters.
type Janitor struct {
	queue  Queue
	dlq    DeadLetterStore
	config JanitorConfig
	cron   *cron.Cron
	logger *slog.Logger
}

// NewJanitor validates the schedule and creates a Janitor.
func NewJanitor(q Queue, dlq DeadLetterStore, cfg JanitorConfig, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultJanitorConfig().Schedule
	}
	if cfg.TaskRetention <= 0 {
		cfg.TaskRetention = DefaultJanitorConfig().TaskRetention
	}

	if _, err := scheduleParser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}

	return &Janitor{
		queue:  q,
		dlq:    dlq,
		config: cfg,
		cron:   cron.New(cron.WithParser(scheduleParser)),
		logger: logger.With("component", "queue-janitor"),
	}, nil
}

// Start schedules the cleanup job.
func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.config.Schedule, func() {
		if _, _, err := j.RunOnce(ctx); err != nil {
			j.logger.Warn("cleanup failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}

	j.cron.Start()
	j.logger.Info("janitor started", "schedule", j.config.Schedule)
	return nil
}

// Stop stops the scheduler and waits for a running job.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce purges acknowledged tasks older than the retention and expired
// dead letters.
func (j *Janitor) RunOnce(ctx context.Context) (tasks, deadLetters int64, err error) {
	tasks, err = j.queue.Purge(ctx, time.Now().Add(-j.config.TaskRetention))
	if err != nil {
		return 0, 0, err
	}

	if j.dlq != nil {
		deadLetters, err = j.dlq.Cleanup(ctx)
		if err != nil {
			return tasks, 0, err
		}
	}

	if tasks > 0 || deadLetters > 0 {
		j.logger.Info("cleanup complete", "tasks", tasks, "dead_letters", deadLetters)
	}
	return tasks, deadLetters, nil
}
