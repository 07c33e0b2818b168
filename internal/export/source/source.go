// Package source provides live mutation sources for the capture trigger.
package source

import (
	"context"
	"strings"

	"github.com/janovincze/tributary/internal/export"
)

// Source produces document mutations.
type Source interface {
	// Start begins capturing mutations. The returned channel receives
	// mutations until the context is cancelled or an error occurs.
	Start(ctx context.Context) (<-chan export.Mutation, <-chan error)

	// Stop gracefully stops the source and releases resources.
	Stop(ctx context.Context) error

	// LastLSN returns the last processed position, or empty string if none.
	LastLSN() string

	// Name returns the name of this source.
	Name() string
}

// Config holds common source configuration.
type Config struct {
	// Name is a unique identifier for this source.
	Name string

	// StartLSN is the position to resume from (empty means current).
	StartLSN string
}

// EventID builds the idempotency token of a mutation read at position lsn.
// Replaying the same WAL range yields the same ids.
func EventID(lsn, path string) string {
	return lsn + "@" + path
}

// Position returns the WAL position encoded in the event id of m, or empty
// string when m did not come from a positioned source.
func Position(m export.Mutation) string {
	lsn, _, ok := strings.Cut(m.Context.EventID, "@")
	if !ok {
		return ""
	}
	return lsn
}
