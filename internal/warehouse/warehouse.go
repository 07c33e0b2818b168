// Package warehouse writes change records into an Iceberg changelog table.
package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/warehouse/catalog"
)

var (
	// ErrNoRows is returned when Record is called with an empty batch.
	ErrNoRows = errors.New("warehouse: no rows to record")

	// ErrNotInitialized is returned when the tracker has no destination yet.
	ErrNotInitialized = errors.New("warehouse: tracker not initialized")
)

// Tracker is the warehouse write path.
type Tracker interface {
	// Initialize provisions the destination resources. It is idempotent.
	Initialize(ctx context.Context) error

	// Record appends rows to the changelog. Duplicates are tolerated.
	Record(ctx context.Context, rows []export.ChangeRecord) error

	// SerializeData converts a document into its stored form.
	SerializeData(doc map[string]any) (json.RawMessage, error)
}

// Config holds the changelog destination.
type Config struct {
	// Namespace is the catalog namespace (dataset).
	Namespace string

	// Table is the changelog table name.
	Table string

	// ViewSuffix is appended to Table to name the latest-state view.
	ViewSuffix string

	// Bucket holds the data files.
	Bucket string

	// WarehousePath is the key prefix for table data within the bucket.
	WarehousePath string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:     "tributary",
		Table:         "documents_raw_changelog",
		ViewSuffix:    "_latest",
		Bucket:        "tributary-data",
		WarehousePath: "warehouse",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
	if c.Table == "" {
		c.Table = d.Table
	}
	if c.ViewSuffix == "" {
		c.ViewSuffix = d.ViewSuffix
	}
	if c.Bucket == "" {
		c.Bucket = d.Bucket
	}
	if c.WarehousePath == "" {
		c.WarehousePath = d.WarehousePath
	}
	return c
}

// ViewName returns the latest-state view name.
func (c Config) ViewName() string {
	return c.Table + c.ViewSuffix
}

// QualifiedTable returns namespace.table.
func (c Config) QualifiedTable() string {
	return c.Namespace + "." + c.Table
}

func (c Config) dataPath() string {
	return fmt.Sprintf("%s/%s/%s/data", c.WarehousePath, c.Namespace, c.Table)
}

// Changelog column names.
const (
	ColumnTimestamp    = "timestamp"
	ColumnEventID      = "event_id"
	ColumnDocumentName = "document_name"
	ColumnOperation    = "operation"
	ColumnData         = "data"
	ColumnOldData      = "old_data"
	ColumnDocumentID   = "document_id"
	ColumnPathParams   = "path_params"
)

// ChangelogSchema is the fixed schema of the changelog table.
func ChangelogSchema() catalog.Schema {
	return catalog.Schema{
		SchemaID: 0,
		Fields: []catalog.Field{
			{ID: 1, Name: ColumnTimestamp, Type: catalog.TypeTimestamp, Required: true, Doc: "When the change was observed"},
			{ID: 2, Name: ColumnEventID, Type: catalog.TypeString, Required: true, Doc: "Trigger event id, empty for imports"},
			{ID: 3, Name: ColumnDocumentName, Type: catalog.TypeString, Required: true, Doc: "Full resource name of the document"},
			{ID: 4, Name: ColumnOperation, Type: catalog.TypeString, Required: true, Doc: "CREATE, UPDATE, DELETE or IMPORT"},
			{ID: 5, Name: ColumnData, Type: catalog.TypeString, Doc: "Document JSON after the change"},
			{ID: 6, Name: ColumnOldData, Type: catalog.TypeString, Doc: "Document JSON before the change"},
			{ID: 7, Name: ColumnDocumentID, Type: catalog.TypeString, Required: true, Doc: "Terminal path segment"},
			{ID: 8, Name: ColumnPathParams, Type: catalog.TypeString, Doc: "Wildcard path parameters as JSON"},
		},
	}
}

// PartitionFieldDay is the name of the day partition column.
const PartitionFieldDay = "timestamp_day"

// ChangelogPartitionSpec partitions the changelog by day(timestamp).
func ChangelogPartitionSpec() catalog.PartitionSpec {
	return catalog.PartitionSpec{
		SpecID: 0,
		Fields: []catalog.PartitionField{
			{SourceID: 1, FieldID: 1000, Name: PartitionFieldDay, Transform: "day"},
		},
	}
}

// nameMapping lets readers resolve parquet columns written without field ids.
func nameMapping(schema catalog.Schema) (string, error) {
	type mapping struct {
		FieldID int      `json:"field-id"`
		Names   []string `json:"names"`
	}
	out := make([]mapping, len(schema.Fields))
	for i, f := range schema.Fields {
		out[i] = mapping{FieldID: f.ID, Names: []string{f.Name}}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal name mapping: %w", err)
	}
	return string(data), nil
}

// LatestView returns the view that keeps the newest row per document and
// hides deleted documents.
func LatestView(cfg Config) catalog.View {
	cfg = cfg.withDefaults()
	sql := fmt.Sprintf(`SELECT %[1]s, %[2]s, %[3]s, %[4]s, %[5]s, %[6]s
FROM (
  SELECT *, ROW_NUMBER() OVER (PARTITION BY %[2]s ORDER BY %[1]s DESC) AS row_num
  FROM %[7]s
)
WHERE row_num = 1 AND %[3]s != 'DELETE'`,
		ColumnTimestamp, ColumnDocumentName, ColumnOperation, ColumnData, ColumnDocumentID, ColumnPathParams,
		cfg.QualifiedTable())

	changelog := ChangelogSchema()
	keep := map[string]bool{
		ColumnTimestamp: true, ColumnDocumentName: true, ColumnOperation: true,
		ColumnData: true, ColumnDocumentID: true, ColumnPathParams: true,
	}
	var fields []catalog.Field
	for _, f := range changelog.Fields {
		if keep[f.Name] {
			fields = append(fields, f)
		}
	}

	return catalog.View{
		Name:             cfg.ViewName(),
		Schema:           catalog.Schema{SchemaID: 0, Fields: fields},
		SQL:              sql,
		DefaultNamespace: cfg.Namespace,
	}
}
