package catalog

// Type is an Iceberg primitive type.
type Type string

// Iceberg primitive types used by the changelog.
const (
	TypeBoolean   Type = "boolean"
	TypeLong      Type = "long"
	TypeDouble    Type = "double"
	TypeTimestamp Type = "timestamptz"
	TypeString    Type = "string"
)

// Field is a column of an Iceberg schema.
type Field struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Required bool   `json:"required"`
	Doc      string `json:"doc,omitempty"`
}

// Schema is an Iceberg table or view schema.
type Schema struct {
	SchemaID int     `json:"schema-id"`
	Fields   []Field `json:"fields"`
}

// FieldByName returns the field with the given name.
func (s Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// PartitionField is one partition column derived from a source field.
type PartitionField struct {
	SourceID  int    `json:"source-id"`
	FieldID   int    `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

// PartitionSpec is an Iceberg partition specification.
type PartitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []PartitionField `json:"fields"`
}

// DataFile describes one file appended to a table snapshot.
type DataFile struct {
	FilePath        string         `json:"file-path"`
	FileFormat      string         `json:"file-format"`
	RecordCount     int64          `json:"record-count"`
	FileSizeInBytes int64          `json:"file-size-in-bytes"`
	PartitionData   map[string]any `json:"partition,omitempty"`
}

// View is a SQL view over catalog tables.
type View struct {
	Name             string
	Schema           Schema
	SQL              string
	Dialect          string
	DefaultNamespace string
	Properties       map[string]string
}

// TableMetadata is the subset of table metadata the tracker reads back.
type TableMetadata struct {
	FormatVersion     int
	TableUUID         string
	Location          string
	LastUpdatedMs     int64
	Schemas           []Schema
	CurrentSchemaID   int
	PartitionSpecs    []PartitionSpec
	DefaultSpecID     int
	Properties        map[string]string
	CurrentSnapshotID int64
}

// CurrentSchema returns the active schema, if any.
func (m *TableMetadata) CurrentSchema() (Schema, bool) {
	for _, s := range m.Schemas {
		if s.SchemaID == m.CurrentSchemaID {
			return s, true
		}
	}
	return Schema{}, false
}
