package warehouse

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/export/serializer"
)

// MemoryTracker keeps recorded rows in memory. It backs dry runs and tests.
type MemoryTracker struct {
	mu          sync.Mutex
	rows        []export.ChangeRecord
	initialized int
	recordErr   error
	serializer  *serializer.Serializer
}

// NewMemoryTracker creates an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{serializer: serializer.New(serializer.DefaultConfig())}
}

// Initialize counts the call.
func (m *MemoryTracker) Initialize(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized++
	return nil
}

// Record appends rows unless a failure has been injected.
func (m *MemoryTracker) Record(_ context.Context, rows []export.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.rows = append(m.rows, rows...)
	return nil
}

// SerializeData converts a document into its stored JSON form.
func (m *MemoryTracker) SerializeData(doc map[string]any) (json.RawMessage, error) {
	return m.serializer.Serialize(doc)
}

// FailRecord makes every subsequent Record return err. Pass nil to clear.
func (m *MemoryTracker) FailRecord(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordErr = err
}

// Rows returns a copy of the recorded rows.
func (m *MemoryTracker) Rows() []export.ChangeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]export.ChangeRecord, len(m.rows))
	copy(out, m.rows)
	return out
}

// Initialized returns how many times Initialize was called.
func (m *MemoryTracker) Initialized() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Ensure MemoryTracker implements Tracker.
var _ Tracker = (*MemoryTracker)(nil)
