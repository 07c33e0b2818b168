package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/export/serializer"
	"github.com/janovincze/tributary/internal/metrics"
	"github.com/janovincze/tributary/internal/warehouse/catalog"
)

// IcebergTracker writes change records as parquet files into an Iceberg
// changelog table.
type IcebergTracker struct {
	catalog    catalog.Catalog
	store      ObjectStore
	backup     BackupStore
	serializer *serializer.Serializer
	encoder    *parquetEncoder
	config     Config
	logger     *slog.Logger

	mu          sync.Mutex
	initialized bool
}

// NewIcebergTracker creates a tracker. backup may be nil, in which case
// failed rows are only reported through the returned error.
func NewIcebergTracker(cat catalog.Catalog, store ObjectStore, backup BackupStore, ser *serializer.Serializer, cfg Config, logger *slog.Logger) *IcebergTracker {
	if logger == nil {
		logger = slog.Default()
	}
	if ser == nil {
		ser = serializer.New(serializer.DefaultConfig())
	}

	return &IcebergTracker{
		catalog:    cat,
		store:      store,
		backup:     backup,
		serializer: ser,
		encoder:    newParquetEncoder(),
		config:     cfg.withDefaults(),
		logger:     logger.With("component", "warehouse-tracker"),
	}
}

// Initialize ensures the bucket, the changelog table and the latest view.
func (t *IcebergTracker) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initializeLocked(ctx)
}

func (t *IcebergTracker) initializeLocked(ctx context.Context) error {
	if t.initialized {
		return nil
	}

	if err := t.store.EnsureBucket(ctx, t.config.Bucket); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	schema := ChangelogSchema()
	mapping, err := nameMapping(schema)
	if err != nil {
		return err
	}
	props := map[string]string{
		"format-version":              "2",
		"write.format.default":        "parquet",
		"schema.name-mapping.default": mapping,
	}
	if err := t.catalog.CreateTable(ctx, t.config.Namespace, t.config.Table, schema, ChangelogPartitionSpec(), props); err != nil {
		return fmt.Errorf("ensure changelog table: %w", err)
	}

	if err := t.catalog.CreateView(ctx, t.config.Namespace, LatestView(t.config)); err != nil {
		return fmt.Errorf("ensure latest view: %w", err)
	}

	t.initialized = true
	t.logger.Info("warehouse initialized",
		"table", t.config.QualifiedTable(),
		"view", t.config.ViewName(),
	)
	return nil
}

// Record appends rows in a single snapshot. When any step fails the rows are
// written to the backup store and the error is returned.
func (t *IcebergTracker) Record(ctx context.Context, rows []export.ChangeRecord) error {
	if len(rows) == 0 {
		return nil
	}

	if err := t.record(ctx, rows); err != nil {
		t.backupRows(ctx, rows, err)
		return err
	}
	return nil
}

func (t *IcebergTracker) record(ctx context.Context, rows []export.ChangeRecord) error {
	t.mu.Lock()
	err := t.initializeLocked(ctx)
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("initialize warehouse: %w", err)
	}

	start := time.Now()
	table := t.config.QualifiedTable()

	files, err := t.encoder.Encode(rows)
	if err != nil {
		return fmt.Errorf("encode parquet: %w", err)
	}

	uploaded := make([]string, 0, len(files))
	dataFiles := make([]catalog.DataFile, 0, len(files))
	var written int64
	for _, f := range files {
		key := fmt.Sprintf("%s/%s=%s/%s", t.config.dataPath(), PartitionFieldDay, dayString(f.Day), f.FileName)
		if err := t.store.Upload(ctx, t.config.Bucket, key, bytes.NewReader(f.Data), f.SizeInBytes(), "application/octet-stream"); err != nil {
			t.cleanup(ctx, uploaded)
			return fmt.Errorf("upload data file: %w", err)
		}
		uploaded = append(uploaded, key)
		written += f.SizeInBytes()

		dataFiles = append(dataFiles, catalog.DataFile{
			FilePath:        fmt.Sprintf("s3://%s/%s", t.config.Bucket, key),
			FileFormat:      "parquet",
			RecordCount:     f.RecordCount,
			FileSizeInBytes: f.SizeInBytes(),
			PartitionData:   map[string]any{PartitionFieldDay: f.Day},
		})
	}

	if err := t.catalog.CommitSnapshot(ctx, t.config.Namespace, t.config.Table, dataFiles); err != nil {
		t.logger.Warn("snapshot commit failed, cleaning up files", "error", err, "files", len(uploaded))
		t.cleanup(ctx, uploaded)
		if errors.Is(err, catalog.ErrNotFound) {
			// Table was dropped underneath us; provision again on the next attempt.
			t.mu.Lock()
			t.initialized = false
			t.mu.Unlock()
		}
		return fmt.Errorf("commit snapshot: %w", err)
	}

	metrics.WarehouseCommitDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
	metrics.WarehouseRowsWrittenTotal.WithLabelValues(table).Add(float64(len(rows)))
	metrics.WarehouseBytesWrittenTotal.WithLabelValues(table).Add(float64(written))

	t.logger.Debug("rows recorded",
		"table", table,
		"rows", len(rows),
		"files", len(dataFiles),
		"bytes", written,
	)
	return nil
}

func (t *IcebergTracker) cleanup(ctx context.Context, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := t.store.Delete(ctx, t.config.Bucket, key); err != nil {
			t.logger.Warn("failed to delete orphaned data file", "key", key, "error", err)
		}
	}
}

func (t *IcebergTracker) backupRows(ctx context.Context, rows []export.ChangeRecord, cause error) {
	if t.backup == nil {
		return
	}
	table := t.config.QualifiedTable()
	if err := t.backup.Write(context.WithoutCancel(ctx), table, rows, cause); err != nil {
		t.logger.Error("failed to write backup rows", "error", err, "rows", len(rows), "cause", cause)
		return
	}
	metrics.WarehouseBackupRowsTotal.WithLabelValues(table).Add(float64(len(rows)))
}

// SerializeData converts a document into its stored JSON form.
func (t *IcebergTracker) SerializeData(doc map[string]any) (json.RawMessage, error) {
	return t.serializer.Serialize(doc)
}

// Ensure IcebergTracker implements Tracker.
var _ Tracker = (*IcebergTracker)(nil)
