// Package postgres streams document mutations from the WAL of the documents
// table using pgstream.
package postgres

import (
	"time"

	"github.com/janovincze/tributary/internal/export/source"
)

// Config holds configuration for the PostgreSQL mutation source.
type Config struct {
	source.Config

	// ConnectionURL is the PostgreSQL connection URL.
	ConnectionURL string

	// SlotName is the name of the replication slot.
	SlotName string

	// DocumentsTable is the schema-qualified documents table.
	DocumentsTable string

	// CollectionPath is the collection template to capture, possibly with
	// {wildcard} segments. Documents outside it are ignored.
	CollectionPath string

	// ProjectID is used to build document resource names.
	ProjectID string

	// ReconnectInterval is the interval between reconnection attempts.
	ReconnectInterval time.Duration

	// EventBufferSize is the size of the internal mutation buffer.
	EventBufferSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Config: source.Config{
			Name: "postgres",
		},
		SlotName:          "tributary_documents",
		DocumentsTable:    "tributary.documents",
		ReconnectInterval: 5 * time.Second,
		EventBufferSize:   1000,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ConnectionURL == "" {
		return ErrMissingConnectionURL
	}
	if c.SlotName == "" {
		return ErrMissingSlotName
	}
	if c.CollectionPath == "" {
		return ErrMissingCollectionPath
	}
	return nil
}
