package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTCatalog implements Catalog against the Iceberg REST API (Lakekeeper compatible).
type RESTCatalog struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewRESTCatalog creates a new REST catalog client.
func NewRESTCatalog(cfg Config, logger *slog.Logger) *RESTCatalog {
	if logger == nil {
		logger = slog.Default()
	}

	return &RESTCatalog{
		config: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("component", "warehouse-catalog"),
	}
}

// CreateNamespace creates a namespace if it doesn't exist.
func (c *RESTCatalog) CreateNamespace(ctx context.Context, namespace string, properties map[string]string) error {
	exists, err := c.NamespaceExists(ctx, namespace)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body := namespaceRequest{
		Namespace:  []string{namespace},
		Properties: properties,
	}

	created, err := c.create(ctx, c.endpoint("namespaces"), body)
	if err != nil {
		return fmt.Errorf("create namespace %s: %w", namespace, err)
	}
	if created {
		c.logger.Info("namespace created", "namespace", namespace)
	}
	return nil
}

// NamespaceExists checks if a namespace exists.
func (c *RESTCatalog) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	exists, err := c.exists(ctx, c.endpoint("namespaces", namespace))
	if err != nil {
		return false, fmt.Errorf("check namespace %s: %w", namespace, err)
	}
	return exists, nil
}

// CreateTable creates a table if it doesn't exist. The namespace is created first.
func (c *RESTCatalog) CreateTable(ctx context.Context, namespace, table string, schema Schema, spec PartitionSpec, properties map[string]string) error {
	if err := c.CreateNamespace(ctx, namespace, nil); err != nil {
		return fmt.Errorf("ensure namespace: %w", err)
	}

	exists, err := c.TableExists(ctx, namespace, table)
	if err != nil {
		return err
	}
	if exists {
		c.logger.Debug("table already exists", "namespace", namespace, "table", table)
		return nil
	}

	if properties == nil {
		properties = map[string]string{}
	}
	body := createTableRequest{
		Name:          table,
		Schema:        toRESTSchema(schema),
		PartitionSpec: toRESTPartitionSpec(spec),
		Properties:    properties,
	}

	created, err := c.create(ctx, c.endpoint("namespaces", namespace, "tables"), body)
	if err != nil {
		return fmt.Errorf("create table %s.%s: %w", namespace, table, err)
	}
	if created {
		c.logger.Info("table created", "namespace", namespace, "table", table)
	}
	return nil
}

// TableExists checks if a table exists.
func (c *RESTCatalog) TableExists(ctx context.Context, namespace, table string) (bool, error) {
	exists, err := c.exists(ctx, c.endpoint("namespaces", namespace, "tables", table))
	if err != nil {
		return false, fmt.Errorf("check table %s.%s: %w", namespace, table, err)
	}
	return exists, nil
}

// LoadTable loads table metadata.
func (c *RESTCatalog) LoadTable(ctx context.Context, namespace, table string) (*TableMetadata, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.endpoint("namespaces", namespace, "tables", table), nil)
	if err != nil {
		return nil, fmt.Errorf("load table request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("load table %s.%s: %w", namespace, table, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result loadTableResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode table response: %w", err)
	}

	return fromRESTMetadata(result), nil
}

// CreateView creates a view if it doesn't exist.
func (c *RESTCatalog) CreateView(ctx context.Context, namespace string, view View) error {
	exists, err := c.ViewExists(ctx, namespace, view.Name)
	if err != nil {
		return err
	}
	if exists {
		c.logger.Debug("view already exists", "namespace", namespace, "view", view.Name)
		return nil
	}

	dialect := view.Dialect
	if dialect == "" {
		dialect = "spark"
	}
	defaultNamespace := view.DefaultNamespace
	if defaultNamespace == "" {
		defaultNamespace = namespace
	}
	properties := view.Properties
	if properties == nil {
		properties = map[string]string{}
	}

	body := createViewRequest{
		Name:   view.Name,
		Schema: toRESTSchema(view.Schema),
		ViewVersion: restViewVersion{
			VersionID:   1,
			TimestampMs: time.Now().UnixMilli(),
			SchemaID:    view.Schema.SchemaID,
			Summary:     map[string]string{"engine-name": "tributary"},
			Representations: []restViewRepresentation{
				{Type: "sql", SQL: view.SQL, Dialect: dialect},
			},
			DefaultNamespace: []string{defaultNamespace},
		},
		Properties: properties,
	}

	created, err := c.create(ctx, c.endpoint("namespaces", namespace, "views"), body)
	if err != nil {
		return fmt.Errorf("create view %s.%s: %w", namespace, view.Name, err)
	}
	if created {
		c.logger.Info("view created", "namespace", namespace, "view", view.Name)
	}
	return nil
}

// ViewExists checks if a view exists.
func (c *RESTCatalog) ViewExists(ctx context.Context, namespace, view string) (bool, error) {
	exists, err := c.exists(ctx, c.endpoint("namespaces", namespace, "views", view))
	if err != nil {
		return false, fmt.Errorf("check view %s.%s: %w", namespace, view, err)
	}
	return exists, nil
}

// CommitSnapshot appends data files to the table in a new snapshot.
func (c *RESTCatalog) CommitSnapshot(ctx context.Context, namespace, table string, files []DataFile) error {
	body := commitTableRequest{
		Requirements: []tableRequirement{},
		Updates: []tableUpdate{
			{
				Action:      "append",
				AppendFiles: &appendFilesUpdate{DataFiles: toRESTDataFiles(files)},
			},
		},
	}

	resp, err := c.doRequest(ctx, http.MethodPost, c.endpoint("namespaces", namespace, "tables", table), body)
	if err != nil {
		return fmt.Errorf("commit snapshot request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("commit snapshot %s.%s: %w", namespace, table, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.parseError(resp)
	}

	c.logger.Debug("snapshot committed", "namespace", namespace, "table", table, "files", len(files))
	return nil
}

// Close releases resources.
func (c *RESTCatalog) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *RESTCatalog) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	base := strings.TrimRight(c.config.CatalogURL, "/")
	return fmt.Sprintf("%s/catalog/v1/%s/%s", base, url.PathEscape(c.config.Warehouse), strings.Join(escaped, "/"))
}

// exists issues a GET and maps 200 to true and 404 to false.
func (c *RESTCatalog) exists(ctx context.Context, endpoint string) (bool, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, c.parseError(resp)
	}
}

// create issues a POST. A conflict means another writer created the resource
// first and is reported as created=false without error.
func (c *RESTCatalog) create(ctx context.Context, endpoint string, body any) (bool, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		return false, c.parseError(resp)
	}
}

func (c *RESTCatalog) doRequest(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	return c.client.Do(req)
}

func (c *RESTCatalog) parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("catalog error (status %d): failed to read response body", resp.StatusCode)
	}
	return fmt.Errorf("catalog error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// REST API request/response types

type namespaceRequest struct {
	Namespace  []string          `json:"namespace"`
	Properties map[string]string `json:"properties,omitempty"`
}

type createTableRequest struct {
	Name          string            `json:"name"`
	Schema        restSchema        `json:"schema"`
	PartitionSpec restPartitionSpec `json:"partition-spec"`
	StageCreate   bool              `json:"stage-create,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
}

type createViewRequest struct {
	Name        string            `json:"name"`
	Schema      restSchema        `json:"schema"`
	ViewVersion restViewVersion   `json:"view-version"`
	Properties  map[string]string `json:"properties"`
}

type restViewVersion struct {
	VersionID        int                      `json:"version-id"`
	TimestampMs      int64                    `json:"timestamp-ms"`
	SchemaID         int                      `json:"schema-id"`
	Summary          map[string]string        `json:"summary"`
	Representations  []restViewRepresentation `json:"representations"`
	DefaultNamespace []string                 `json:"default-namespace"`
}

type restViewRepresentation struct {
	Type    string `json:"type"`
	SQL     string `json:"sql"`
	Dialect string `json:"dialect"`
}

type restSchema struct {
	Type     string      `json:"type"`
	SchemaID int         `json:"schema-id"`
	Fields   []restField `json:"fields"`
}

type restField struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Doc      string `json:"doc,omitempty"`
}

type restPartitionSpec struct {
	SpecID int                  `json:"spec-id"`
	Fields []restPartitionField `json:"fields"`
}

type restPartitionField struct {
	SourceID  int    `json:"source-id"`
	FieldID   int    `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

type loadTableResponse struct {
	MetadataLocation string `json:"metadata-location"`
	Metadata         struct {
		FormatVersion     int                 `json:"format-version"`
		TableUUID         string              `json:"table-uuid"`
		Location          string              `json:"location"`
		LastUpdatedMs     int64               `json:"last-updated-ms"`
		Schemas           []restSchema        `json:"schemas"`
		CurrentSchemaID   int                 `json:"current-schema-id"`
		PartitionSpecs    []restPartitionSpec `json:"partition-specs"`
		DefaultSpecID     int                 `json:"default-spec-id"`
		Properties        map[string]string   `json:"properties"`
		CurrentSnapshotID int64               `json:"current-snapshot-id"`
	} `json:"metadata"`
}

type commitTableRequest struct {
	Requirements []tableRequirement `json:"requirements"`
	Updates      []tableUpdate      `json:"updates"`
}

type tableRequirement struct {
	Type string `json:"type"`
}

type tableUpdate struct {
	Action      string             `json:"action"`
	AppendFiles *appendFilesUpdate `json:"append,omitempty"`
}

type appendFilesUpdate struct {
	DataFiles []restDataFile `json:"data-files"`
}

type restDataFile struct {
	FilePath        string         `json:"file-path"`
	FileFormat      string         `json:"file-format"`
	RecordCount     int64          `json:"record-count"`
	FileSizeInBytes int64          `json:"file-size-in-bytes"`
	Partition       map[string]any `json:"partition,omitempty"`
}

func toRESTSchema(schema Schema) restSchema {
	fields := make([]restField, len(schema.Fields))
	for i, f := range schema.Fields {
		fields[i] = restField{
			ID:       f.ID,
			Name:     f.Name,
			Type:     string(f.Type),
			Required: f.Required,
			Doc:      f.Doc,
		}
	}
	return restSchema{Type: "struct", SchemaID: schema.SchemaID, Fields: fields}
}

func fromRESTSchema(s restSchema) Schema {
	fields := make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = Field{
			ID:       f.ID,
			Name:     f.Name,
			Type:     Type(f.Type),
			Required: f.Required,
			Doc:      f.Doc,
		}
	}
	return Schema{SchemaID: s.SchemaID, Fields: fields}
}

func toRESTPartitionSpec(spec PartitionSpec) restPartitionSpec {
	fields := make([]restPartitionField, len(spec.Fields))
	for i, f := range spec.Fields {
		fields[i] = restPartitionField(f)
	}
	return restPartitionSpec{SpecID: spec.SpecID, Fields: fields}
}

func toRESTDataFiles(files []DataFile) []restDataFile {
	result := make([]restDataFile, len(files))
	for i, f := range files {
		result[i] = restDataFile{
			FilePath:        f.FilePath,
			FileFormat:      f.FileFormat,
			RecordCount:     f.RecordCount,
			FileSizeInBytes: f.FileSizeInBytes,
			Partition:       f.PartitionData,
		}
	}
	return result
}

func fromRESTMetadata(resp loadTableResponse) *TableMetadata {
	m := resp.Metadata

	schemas := make([]Schema, len(m.Schemas))
	for i, s := range m.Schemas {
		schemas[i] = fromRESTSchema(s)
	}

	specs := make([]PartitionSpec, len(m.PartitionSpecs))
	for i, ps := range m.PartitionSpecs {
		fields := make([]PartitionField, len(ps.Fields))
		for j, f := range ps.Fields {
			fields[j] = PartitionField(f)
		}
		specs[i] = PartitionSpec{SpecID: ps.SpecID, Fields: fields}
	}

	return &TableMetadata{
		FormatVersion:     m.FormatVersion,
		TableUUID:         m.TableUUID,
		Location:          m.Location,
		LastUpdatedMs:     m.LastUpdatedMs,
		Schemas:           schemas,
		CurrentSchemaID:   m.CurrentSchemaID,
		PartitionSpecs:    specs,
		DefaultSpecID:     m.DefaultSpecID,
		Properties:        m.Properties,
		CurrentSnapshotID: m.CurrentSnapshotID,
	}
}

// Ensure RESTCatalog implements Catalog interface.
var _ Catalog = (*RESTCatalog)(nil)
