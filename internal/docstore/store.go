// Package docstore reads and writes the source documents that the pipeline
// exports.
package docstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/janovincze/tributary/internal/export"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Query selects one page of documents ordered by path.
type Query struct {
	// Collection is a collection path, or a collection id for group queries.
	Collection string

	// CollectionGroup matches every collection whose id equals Collection.
	CollectionGroup bool

	Offset int
	Limit  int
}

// Store is the document store client used by backfill and the document API.
type Store interface {
	// Query returns a page of existing documents.
	Query(ctx context.Context, q Query) ([]export.Snapshot, error)

	// Get returns a document. A missing document yields a snapshot with Exists false.
	Get(ctx context.Context, path string) (export.Snapshot, error)

	// Put writes a document and returns the snapshots around the write.
	Put(ctx context.Context, path string, data map[string]any) (before, after export.Snapshot, err error)

	// Delete removes a document and returns the snapshot it had.
	Delete(ctx context.Context, path string) (export.Snapshot, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]export.Snapshot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]export.Snapshot)}
}

// Query returns documents of a collection ordered by path.
func (m *MemoryStore) Query(_ context.Context, q Query) ([]export.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.docs))
	for path := range m.docs {
		parent := export.ParentCollection(path)
		if q.CollectionGroup {
			if export.LastSegment(parent) != q.Collection {
				continue
			}
		} else if parent != clean(q.Collection) {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	if q.Offset >= len(paths) {
		return nil, nil
	}
	paths = paths[q.Offset:]
	if q.Limit > 0 && len(paths) > q.Limit {
		paths = paths[:q.Limit]
	}

	out := make([]export.Snapshot, 0, len(paths))
	for _, path := range paths {
		out = append(out, m.docs[path])
	}
	return out, nil
}

// Get returns a document.
func (m *MemoryStore) Get(_ context.Context, path string) (export.Snapshot, error) {
	path = clean(path)
	if err := export.ValidateDocumentPath(path); err != nil {
		return export.Snapshot{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if doc, ok := m.docs[path]; ok {
		return doc, nil
	}
	return missing(path), nil
}

// Put writes a document.
func (m *MemoryStore) Put(_ context.Context, path string, data map[string]any) (export.Snapshot, export.Snapshot, error) {
	path = clean(path)
	if err := export.ValidateDocumentPath(path); err != nil {
		return export.Snapshot{}, export.Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	before, ok := m.docs[path]
	if !ok {
		before = missing(path)
	}

	after := export.Snapshot{
		Path:   path,
		ID:     export.LastSegment(path),
		Exists: true,
		Data:   copyMap(data),
	}
	m.docs[path] = after
	return before, after, nil
}

// Delete removes a document.
func (m *MemoryStore) Delete(_ context.Context, path string) (export.Snapshot, error) {
	path = clean(path)
	m.mu.Lock()
	defer m.mu.Unlock()

	before, ok := m.docs[path]
	if !ok {
		return export.Snapshot{}, ErrNotFound
	}
	delete(m.docs, path)
	return before, nil
}

// Len returns the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func clean(path string) string {
	return strings.Trim(path, "/")
}

func missing(path string) export.Snapshot {
	return export.Snapshot{Path: path, ID: export.LastSegment(path)}
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
