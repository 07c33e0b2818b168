// Package backfill provisions the warehouse and imports documents that existed
// before capture was enabled.
package backfill

import (
	"context"
	"encoding/json"

	"github.com/janovincze/tributary/internal/export"
)

// Completion messages reported through the processing state.
const (
	MessageSetupCompleted = "Sync setup completed"
	MessageNothingToDo    = "Completed. No existing documents imported into the warehouse."
	messageImportedFormat = "Successfully imported %d documents into the warehouse"
	messageInitFailed     = "Error initializing warehouse sync: %v"
)

// DefaultDocsPerBackfill is the default page size.
const DefaultDocsPerBackfill = 200

// Tracker is the warehouse side used by setup and backfill.
type Tracker interface {
	Initialize(ctx context.Context) error
	Record(ctx context.Context, rows []export.ChangeRecord) error
	SerializeData(doc map[string]any) (json.RawMessage, error)
}

// Config holds setup and backfill configuration.
type Config struct {
	// DoBackfill enables importing existing documents.
	DoBackfill bool

	// ImportCollectionPath is the collection to import, possibly with wildcards.
	ImportCollectionPath string

	// UseCollectionGroupQuery queries every collection sharing the last path segment.
	UseCollectionGroupQuery bool

	// DocsPerBackfill is the page size of one invocation.
	DocsPerBackfill int

	// ProjectID is used to build document resource names.
	ProjectID string
}

func (c Config) pageSize() int {
	if c.DocsPerBackfill <= 0 {
		return DefaultDocsPerBackfill
	}
	return c.DocsPerBackfill
}

// CompletionData is the payload of the completion event sent after every
// backfill invocation.
type CompletionData struct {
	Offset    int  `json:"offset"`
	Scanned   int  `json:"scanned"`
	DocsCount int  `json:"docsCount"`
	Done      bool `json:"done"`
}
