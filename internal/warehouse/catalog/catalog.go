// Package catalog talks to an Iceberg REST catalog.
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a table or view is missing.
var ErrNotFound = errors.New("catalog: not found")

// Catalog defines the catalog operations the warehouse tracker needs.
type Catalog interface {
	// CreateNamespace creates a namespace if it doesn't exist.
	CreateNamespace(ctx context.Context, namespace string, properties map[string]string) error

	// NamespaceExists checks if a namespace exists.
	NamespaceExists(ctx context.Context, namespace string) (bool, error)

	// CreateTable creates a table if it doesn't exist.
	CreateTable(ctx context.Context, namespace, table string, schema Schema, spec PartitionSpec, properties map[string]string) error

	// TableExists checks if a table exists.
	TableExists(ctx context.Context, namespace, table string) (bool, error)

	// LoadTable loads table metadata.
	LoadTable(ctx context.Context, namespace, table string) (*TableMetadata, error)

	// CreateView creates a view if it doesn't exist.
	CreateView(ctx context.Context, namespace string, view View) error

	// ViewExists checks if a view exists.
	ViewExists(ctx context.Context, namespace, view string) (bool, error)

	// CommitSnapshot appends data files to the table in a new snapshot.
	CommitSnapshot(ctx context.Context, namespace, table string, files []DataFile) error

	// Close releases any resources held by the catalog.
	Close() error
}

// Config holds catalog configuration.
type Config struct {
	// CatalogURL is the REST catalog endpoint URL.
	CatalogURL string

	// Warehouse is the warehouse name used as the URL prefix.
	Warehouse string

	// Token is an optional bearer token.
	Token string
}
