package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// PostgresStore implements Store on tributary.processing_state and
// tributary.checkpoints.
type PostgresStore struct {
	db         *sql.DB
	instanceID string
	logger     *slog.Logger
}

// NewPostgresStore creates a Store keyed by instanceID.
func NewPostgresStore(db *sql.DB, instanceID string, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresStore{
		db:         db,
		instanceID: instanceID,
		logger:     logger.With("component", "state-store"),
	}
}

// SetProcessingState upserts the status row for this instance.
func (s *PostgresStore) SetProcessingState(ctx context.Context, state ProcessingState, message string) error {
	if !state.Valid() {
		return ErrInvalidState
	}

	query := `
		INSERT INTO tributary.processing_state (instance_id, state, message, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (instance_id)
		DO UPDATE SET
			state = EXCLUDED.state,
			message = EXCLUDED.message,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, s.instanceID, string(state), message, time.Now().UTC()); err != nil {
		return fmt.Errorf("save processing state: %w", err)
	}
	return nil
}

// Current returns the status row for this instance.
func (s *PostgresStore) Current(ctx context.Context) (*Status, error) {
	query := `
		SELECT instance_id, state, message, updated_at
		FROM tributary.processing_state
		WHERE instance_id = $1
	`

	var st Status
	var state string
	err := s.db.QueryRowContext(ctx, query, s.instanceID).Scan(&st.InstanceID, &state, &st.Message, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load processing state: %w", err)
	}
	st.State = ProcessingState(state)
	return &st, nil
}

// SaveCheckpoint upserts a checkpoint.
func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	var metadataJSON []byte
	if cp.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(cp.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	committedAt := cp.CommittedAt
	if committedAt.IsZero() {
		committedAt = time.Now()
	}

	query := `
		INSERT INTO tributary.checkpoints (source_id, lsn, committed_at, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id)
		DO UPDATE SET
			lsn = EXCLUDED.lsn,
			committed_at = EXCLUDED.committed_at,
			metadata = EXCLUDED.metadata
	`

	if _, err := s.db.ExecContext(ctx, query, cp.SourceID, cp.LSN, committedAt, metadataJSON); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint saved", "source_id", cp.SourceID, "lsn", cp.LSN)
	return nil
}

// LoadCheckpoint returns the checkpoint for a source.
func (s *PostgresStore) LoadCheckpoint(ctx context.Context, sourceID string) (*Checkpoint, error) {
	query := `
		SELECT source_id, lsn, committed_at, metadata
		FROM tributary.checkpoints
		WHERE source_id = $1
	`

	var cp Checkpoint
	var metadataJSON []byte
	err := s.db.QueryRowContext(ctx, query, sourceID).Scan(&cp.SourceID, &cp.LSN, &cp.CommittedAt, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &cp.Metadata); err != nil {
			s.logger.Warn("failed to unmarshal checkpoint metadata", "error", err)
		}
	}
	return &cp, nil
}

var _ Store = (*PostgresStore)(nil)
