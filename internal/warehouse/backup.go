package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/janovincze/tributary/internal/export"
)

// BackupRow is a change record that could not be written to the changelog.
type BackupRow struct {
	ID           int64               `json:"id"`
	Table        string              `json:"table"`
	Record       export.ChangeRecord `json:"record"`
	ErrorMessage string              `json:"errorMessage"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// BackupStore keeps rows that failed to reach the warehouse so operators can
// replay them.
type BackupStore interface {
	Write(ctx context.Context, table string, rows []export.ChangeRecord, cause error) error
	List(ctx context.Context, table string, limit int) ([]BackupRow, error)
	Count(ctx context.Context, table string) (int64, error)
}

// MemoryBackup is an in-process BackupStore.
type MemoryBackup struct {
	mu     sync.Mutex
	rows   []BackupRow
	nextID int64
}

// NewMemoryBackup creates an empty backup store.
func NewMemoryBackup() *MemoryBackup {
	return &MemoryBackup{}
}

// Write stores rows with the failure message.
func (b *MemoryBackup) Write(_ context.Context, table string, rows []export.ChangeRecord, cause error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := time.Now().UTC()
	for _, r := range rows {
		b.nextID++
		b.rows = append(b.rows, BackupRow{
			ID:           b.nextID,
			Table:        table,
			Record:       r,
			ErrorMessage: msg,
			CreatedAt:    now,
		})
	}
	return nil
}

// List returns up to limit rows for table, oldest first. An empty table matches all.
func (b *MemoryBackup) List(_ context.Context, table string, limit int) ([]BackupRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []BackupRow
	for _, r := range b.rows {
		if table != "" && r.Table != table {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of rows kept for table.
func (b *MemoryBackup) Count(ctx context.Context, table string) (int64, error) {
	rows, err := b.List(ctx, table, 0)
	return int64(len(rows)), err
}

// PostgresBackup implements BackupStore on tributary.backup_rows.
type PostgresBackup struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresBackup creates a backup store backed by db.
func NewPostgresBackup(db *sql.DB, logger *slog.Logger) *PostgresBackup {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresBackup{
		db:     db,
		logger: logger.With("component", "backup-rows"),
	}
}

// Write inserts rows in one transaction.
func (b *PostgresBackup) Write(ctx context.Context, table string, rows []export.ChangeRecord, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tributary.backup_rows (table_name, document_name, operation, record, error_message)
		VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal backup row: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, table, r.DocumentName, string(r.Operation), data, msg); err != nil {
			return fmt.Errorf("insert backup row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	b.logger.Warn("rows written to backup table", "table", table, "rows", len(rows))
	return nil
}

// List returns up to limit rows for table, oldest first. An empty table matches all.
func (b *PostgresBackup) List(ctx context.Context, table string, limit int) ([]BackupRow, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, table_name, record, error_message, created_at
		FROM tributary.backup_rows
		WHERE ($1::text = '' OR table_name = $1)
		ORDER BY id
		LIMIT $2`, table, limit)
	if err != nil {
		return nil, fmt.Errorf("query backup rows: %w", err)
	}
	defer rows.Close()

	var out []BackupRow
	for rows.Next() {
		var (
			row    BackupRow
			record []byte
		)
		if err := rows.Scan(&row.ID, &row.Table, &record, &row.ErrorMessage, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan backup row: %w", err)
		}
		if err := json.Unmarshal(record, &row.Record); err != nil {
			return nil, fmt.Errorf("decode backup row %d: %w", row.ID, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Count returns the number of rows kept for table.
func (b *PostgresBackup) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tributary.backup_rows
		WHERE ($1::text = '' OR table_name = $1)`, table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count backup rows: %w", err)
	}
	return n, nil
}

var (
	_ BackupStore = (*MemoryBackup)(nil)
	_ BackupStore = (*PostgresBackup)(nil)
)
