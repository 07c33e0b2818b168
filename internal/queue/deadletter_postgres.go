package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// PostgresDeadLetters implements DeadLetterStore on tributary.dead_letters.
type PostgresDeadLetters struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresDeadLetters creates a Postgres-backed DeadLetterStore.
func NewPostgresDeadLetters(db *sql.DB, logger *slog.Logger) *PostgresDeadLetters {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresDeadLetters{
		db:     db,
		logger: logger.With("component", "dead-letters"),
	}
}

const deadLetterColumns = `id, task_id, queue, payload, attempts, error_message, error_type,
	retry_count, created_at, last_retry_at, expires_at`

// Write stores a dead letter.
func (s *PostgresDeadLetters) Write(ctx context.Context, dl DeadLetter) (int64, error) {
	query := `
		INSERT INTO tributary.dead_letters (
			task_id, queue, payload, attempts, error_message, error_type,
			retry_count, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		dl.TaskID,
		dl.Queue,
		[]byte(dl.Payload),
		dl.Attempts,
		dl.ErrorMessage,
		string(dl.ErrorType),
		dl.RetryCount,
		dl.CreatedAt,
		dl.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert dead letter: %w", err)
	}

	s.logger.Debug("task dead-lettered",
		"id", id,
		"task_id", dl.TaskID,
		"queue", dl.Queue,
		"error_type", dl.ErrorType,
	)
	return id, nil
}

// List returns dead letters, oldest first.
func (s *PostgresDeadLetters) List(ctx context.Context, queue string, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + deadLetterColumns + `
		FROM tributary.dead_letters
		WHERE ($1::text = '' OR queue = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, queue, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

// Get returns a dead letter by id.
func (s *PostgresDeadLetters) Get(ctx context.Context, id int64) (DeadLetter, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM tributary.dead_letters WHERE id = $1`

	dl, err := scanDeadLetter(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return DeadLetter{}, ErrDeadLetterNotFound
	}
	if err != nil {
		return DeadLetter{}, fmt.Errorf("get dead letter: %w", err)
	}
	return dl, nil
}

// MarkRetried increments the retry count.
func (s *PostgresDeadLetters) MarkRetried(ctx context.Context, id int64) error {
	query := `
		UPDATE tributary.dead_letters
		SET retry_count = retry_count + 1, last_retry_at = $2
		WHERE id = $1
	`
	return s.execOne(ctx, "mark dead letter retried", query, id, time.Now())
}

// Delete removes a dead letter.
func (s *PostgresDeadLetters) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM tributary.dead_letters WHERE id = $1`
	if err := s.execOne(ctx, "delete dead letter", query, id); err != nil {
		return err
	}
	s.logger.Debug("dead letter deleted", "id", id)
	return nil
}

func (s *PostgresDeadLetters) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}

// Cleanup removes expired dead letters.
func (s *PostgresDeadLetters) Cleanup(ctx context.Context) (int64, error) {
	query := `DELETE FROM tributary.dead_letters WHERE expires_at IS NOT NULL AND expires_at < $1`

	result, err := s.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("cleanup dead letters: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		s.logger.Info("cleaned up expired dead letters", "count", rowsAffected)
	}
	return rowsAffected, nil
}

// Count returns the number of dead letters.
func (s *PostgresDeadLetters) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tributary.dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

func scanDeadLetter(row rowScanner) (DeadLetter, error) {
	var dl DeadLetter
	var payload []byte
	var errorType sql.NullString
	var lastRetryAt, expiresAt sql.NullTime

	err := row.Scan(
		&dl.ID,
		&dl.TaskID,
		&dl.Queue,
		&payload,
		&dl.Attempts,
		&dl.ErrorMessage,
		&errorType,
		&dl.RetryCount,
		&dl.CreatedAt,
		&lastRetryAt,
		&expiresAt,
	)
	if err != nil {
		return DeadLetter{}, err
	}

	dl.Payload = payload
	if errorType.Valid {
		dl.ErrorType = ErrorType(errorType.String)
	}
	if lastRetryAt.Valid {
		dl.LastRetryAt = &lastRetryAt.Time
	}
	if expiresAt.Valid {
		dl.ExpiresAt = &expiresAt.Time
	}
	return dl, nil
}

var _ DeadLetterStore = (*PostgresDeadLetters)(nil)
