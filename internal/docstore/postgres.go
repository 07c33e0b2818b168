package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/janovincze/tributary/internal/export"
)

// PostgresStore implements Store on the tributary.documents table. Documents
// are ordered by path so offset pagination is stable across invocations.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a Postgres-backed document store.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresStore{
		db:     db,
		logger: logger.With("component", "document-store"),
	}
}

// Query returns a page of documents.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]export.Snapshot, error) {
	column := "collection_path"
	collection := clean(q.Collection)
	if q.CollectionGroup {
		column = "collection_id"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT path, data FROM tributary.documents
		WHERE ` + column + ` = $1
		ORDER BY path
		OFFSET $2 LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, collection, q.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []export.Snapshot
	for rows.Next() {
		var path string
		var raw []byte
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := snapshot(path, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// Get returns a document.
func (s *PostgresStore) Get(ctx context.Context, path string) (export.Snapshot, error) {
	path = clean(path)
	if err := export.ValidateDocumentPath(path); err != nil {
		return export.Snapshot{}, err
	}
	return s.get(ctx, s.db, path, false)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) get(ctx context.Context, q querier, path string, lock bool) (export.Snapshot, error) {
	query := `SELECT data FROM tributary.documents WHERE path = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var raw []byte
	err := q.QueryRowContext(ctx, query, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return missing(path), nil
	}
	if err != nil {
		return export.Snapshot{}, fmt.Errorf("get document: %w", err)
	}
	return snapshot(path, raw)
}

// Put upserts a document, reading the previous version in the same transaction.
func (s *PostgresStore) Put(ctx context.Context, path string, data map[string]any) (export.Snapshot, export.Snapshot, error) {
	path = clean(path)
	if err := export.ValidateDocumentPath(path); err != nil {
		return export.Snapshot{}, export.Snapshot{}, err
	}

	raw, err := json.Marshal(copyMap(data))
	if err != nil {
		return export.Snapshot{}, export.Snapshot{}, fmt.Errorf("marshal document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return export.Snapshot{}, export.Snapshot{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	before, err := s.get(ctx, tx, path, true)
	if err != nil {
		return export.Snapshot{}, export.Snapshot{}, err
	}

	collection := export.ParentCollection(path)
	query := `
		INSERT INTO tributary.documents (path, collection_path, collection_id, document_id, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (path)
		DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`
	if _, err := tx.ExecContext(ctx, query,
		path,
		collection,
		export.LastSegment(collection),
		export.LastSegment(path),
		raw,
	); err != nil {
		return export.Snapshot{}, export.Snapshot{}, fmt.Errorf("upsert document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return export.Snapshot{}, export.Snapshot{}, fmt.Errorf("commit transaction: %w", err)
	}

	after, err := snapshot(path, raw)
	if err != nil {
		return export.Snapshot{}, export.Snapshot{}, err
	}
	return before, after, nil
}

// Delete removes a document.
func (s *PostgresStore) Delete(ctx context.Context, path string) (export.Snapshot, error) {
	path = clean(path)

	var raw []byte
	err := s.db.QueryRowContext(ctx, `DELETE FROM tributary.documents WHERE path = $1 RETURNING data`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return export.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return export.Snapshot{}, fmt.Errorf("delete document: %w", err)
	}
	return snapshot(path, raw)
}

func snapshot(path string, raw []byte) (export.Snapshot, error) {
	doc := export.Snapshot{Path: path, ID: export.LastSegment(path), Exists: true}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc.Data); err != nil {
			return export.Snapshot{}, fmt.Errorf("decode document %s: %w", path, err)
		}
	}
	return doc, nil
}

var _ Store = (*PostgresStore)(nil)
