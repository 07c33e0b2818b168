package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/janovincze/tributary/internal/metrics"
)

// PostgresQueue implements Queue on the tributary.tasks table. Leases are
// taken with FOR UPDATE SKIP LOCKED so concurrent workers never share a task.
type PostgresQueue struct {
	db     *sql.DB
	config Config
	logger *slog.Logger
}

// NewPostgresQueue creates a queue backed by db. The schema is provided by the
// database migrations.
func NewPostgresQueue(db *sql.DB, cfg Config, logger *slog.Logger) *PostgresQueue {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresQueue{
		db:     db,
		config: cfg.withDefaults(),
		logger: logger.With("component", "task-queue"),
	}
}

const taskColumns = `id, queue, payload, attempts, max_attempts, available_at, lease_until, last_error, created_at`

// Enqueue inserts a task.
func (q *PostgresQueue) Enqueue(ctx context.Context, name string, payload any) (Task, error) {
	data, err := encodePayload(q.config, name, payload)
	if err != nil {
		return Task{}, err
	}

	query := `
		INSERT INTO tributary.tasks (queue, payload, max_attempts)
		VALUES ($1, $2, $3)
		RETURNING ` + taskColumns

	task, err := scanTask(q.db.QueryRowContext(ctx, query, name, []byte(data), q.config.MaxAttempts))
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}

	metrics.QueueEnqueuedTotal.WithLabelValues(name).Inc()
	q.logger.Debug("task enqueued", "queue", name, "id", task.ID, "bytes", len(data))
	return task, nil
}

// Dequeue leases the next available task.
func (q *PostgresQueue) Dequeue(ctx context.Context, name string, lease time.Duration) (*Task, error) {
	query := `
		UPDATE tributary.tasks
		SET attempts = attempts + 1, lease_until = NOW() + $2::float8 * INTERVAL '1 millisecond'
		WHERE id = (
			SELECT id FROM tributary.tasks
			WHERE queue = $1
			  AND acked_at IS NULL
			  AND available_at <= NOW()
			  AND (lease_until IS NULL OR lease_until < NOW())
			ORDER BY available_at, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + taskColumns

	task, err := scanTask(q.db.QueryRowContext(ctx, query, name, lease.Milliseconds()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("lease task: %w", err)
	}
	return &task, nil
}

// Ack marks a task done. Acknowledged rows are kept until the janitor purges them.
func (q *PostgresQueue) Ack(ctx context.Context, id string) error {
	query := `UPDATE tributary.tasks SET acked_at = NOW(), lease_until = NULL WHERE id = $1 AND acked_at IS NULL`
	return q.execOne(ctx, "ack task", query, id)
}

// Nack releases a task for redelivery after delay.
func (q *PostgresQueue) Nack(ctx context.Context, id string, cause error, delay time.Duration) error {
	query := `
		UPDATE tributary.tasks
		SET lease_until = NULL,
		    available_at = NOW() + $2::float8 * INTERVAL '1 millisecond',
		    last_error = $3
		WHERE id = $1 AND acked_at IS NULL
	`
	return q.execOne(ctx, "nack task", query, id, delay.Milliseconds(), errorMessage(cause))
}

// Release gives back the attempt of an interrupted lease.
func (q *PostgresQueue) Release(ctx context.Context, id string) error {
	query := `
		UPDATE tributary.tasks
		SET lease_until = NULL, attempts = GREATEST(attempts - 1, 0)
		WHERE id = $1 AND acked_at IS NULL
	`
	return q.execOne(ctx, "release task", query, id)
}

func (q *PostgresQueue) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Depth returns the number of unacknowledged tasks in a queue.
func (q *PostgresQueue) Depth(ctx context.Context, name string) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM tributary.tasks WHERE queue = $1 AND acked_at IS NULL`
	if err := q.db.QueryRowContext(ctx, query, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// Depths returns the depth of several queues in one query.
func (q *PostgresQueue) Depths(ctx context.Context, names []string) (map[string]int64, error) {
	query := `
		SELECT queue, COUNT(*) FROM tributary.tasks
		WHERE queue = ANY($1) AND acked_at IS NULL
		GROUP BY queue
	`
	rows, err := q.db.QueryContext(ctx, query, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64, len(names))
	for _, name := range names {
		out[name] = 0
	}
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		out[name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task counts: %w", err)
	}
	return out, nil
}

// Purge deletes tasks acknowledged before cutoff.
func (q *PostgresQueue) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM tributary.tasks WHERE acked_at IS NOT NULL AND acked_at < $1`

	result, err := q.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}

	rowsDeleted, _ := result.RowsAffected()
	if rowsDeleted > 0 {
		q.logger.Info("purged acknowledged tasks", "deleted", rowsDeleted)
	}
	return rowsDeleted, nil
}

// Close is a no-op; the caller owns db.
func (q *PostgresQueue) Close() error { return nil }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var payload []byte
	var leaseUntil sql.NullTime
	var lastError sql.NullString

	err := row.Scan(
		&t.ID,
		&t.Queue,
		&payload,
		&t.Attempts,
		&t.MaxAttempts,
		&t.AvailableAt,
		&leaseUntil,
		&lastError,
		&t.CreatedAt,
	)
	if err != nil {
		return Task{}, err
	}

	t.Payload = payload
	if leaseUntil.Valid {
		t.LeaseUntil = &leaseUntil.Time
	}
	if lastError.Valid {
		t.LastError = lastError.String
	}
	return t, nil
}

var _ Queue = (*PostgresQueue)(nil)
