package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/warehouse/catalog"
)

// mockCatalog records catalog calls.
type mockCatalog struct {
	mu        sync.Mutex
	tables    []string
	props     map[string]string
	views     []catalog.View
	commits   [][]catalog.DataFile
	commitErr error
}

func (m *mockCatalog) CreateNamespace(context.Context, string, map[string]string) error { return nil }

func (m *mockCatalog) NamespaceExists(context.Context, string) (bool, error) { return true, nil }

func (m *mockCatalog) CreateTable(_ context.Context, namespace, table string, _ catalog.Schema, _ catalog.PartitionSpec, props map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = append(m.tables, namespace+"."+table)
	m.props = props
	return nil
}

func (m *mockCatalog) TableExists(context.Context, string, string) (bool, error) { return true, nil }

func (m *mockCatalog) LoadTable(context.Context, string, string) (*catalog.TableMetadata, error) {
	return &catalog.TableMetadata{}, nil
}

func (m *mockCatalog) CreateView(_ context.Context, _ string, view catalog.View) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = append(m.views, view)
	return nil
}

func (m *mockCatalog) ViewExists(context.Context, string, string) (bool, error) { return false, nil }

func (m *mockCatalog) CommitSnapshot(_ context.Context, _, _ string, files []catalog.DataFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits = append(m.commits, files)
	return nil
}

func (m *mockCatalog) Close() error { return nil }

// mockStore is an in-memory ObjectStore.
type mockStore struct {
	mu        sync.Mutex
	buckets   map[string]bool
	objects   map[string][]byte
	deleted   []string
	uploadErr error
}

func newMockStore() *mockStore {
	return &mockStore{buckets: make(map[string]bool), objects: make(map[string][]byte)}
}

func (m *mockStore) Upload(_ context.Context, bucket, key string, data io.Reader, _ int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return m.uploadErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[bucket+"/"+key] = b
	return nil
}

func (m *mockStore) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *mockStore) EnsureBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = true
	return nil
}

func testRow(id string, ts time.Time, op export.Operation) export.ChangeRecord {
	return export.ChangeRecord{
		Timestamp:    ts,
		Operation:    op,
		DocumentName: "projects/p/databases/(default)/documents/users/" + id,
		DocumentID:   id,
		EventID:      "evt-" + id,
		PathParams:   map[string]string{"uid": id},
		Data:         json.RawMessage(`{"name":"` + id + `"}`),
	}
}

func newTestTracker() (*IcebergTracker, *mockCatalog, *mockStore, *MemoryBackup) {
	cat := &mockCatalog{}
	store := newMockStore()
	backup := NewMemoryBackup()
	return NewIcebergTracker(cat, store, backup, nil, DefaultConfig(), nil), cat, store, backup
}

func TestInitialize(t *testing.T) {
	tracker, cat, store, _ := newTestTracker()
	ctx := context.Background()

	if err := tracker.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := tracker.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() second call error = %v", err)
	}

	if !store.buckets["tributary-data"] {
		t.Error("Expected bucket to be ensured")
	}
	if len(cat.tables) != 1 || cat.tables[0] != "tributary.documents_raw_changelog" {
		t.Errorf("Expected one changelog table, got %v", cat.tables)
	}
	if !strings.Contains(cat.props["schema.name-mapping.default"], `"document_name"`) {
		t.Errorf("Expected name mapping property, got %q", cat.props["schema.name-mapping.default"])
	}
	if len(cat.views) != 1 || cat.views[0].Name != "documents_raw_changelog_latest" {
		t.Fatalf("Expected latest view, got %+v", cat.views)
	}
	if !strings.Contains(cat.views[0].SQL, "PARTITION BY document_name") {
		t.Errorf("Expected view to dedup by document_name, got %s", cat.views[0].SQL)
	}
}

func TestRecordWritesOneFilePerDay(t *testing.T) {
	tracker, cat, store, backup := newTestTracker()
	ctx := context.Background()

	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	rows := []export.ChangeRecord{
		testRow("a", day1, export.OperationCreate),
		testRow("b", day1.Add(time.Hour), export.OperationUpdate),
		testRow("c", day2, export.OperationDelete),
	}

	if err := tracker.Record(ctx, rows); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if len(cat.commits) != 1 {
		t.Fatalf("Expected a single snapshot, got %d", len(cat.commits))
	}
	files := cat.commits[0]
	if len(files) != 2 {
		t.Fatalf("Expected 2 data files, got %d", len(files))
	}
	if files[0].RecordCount != 2 || files[1].RecordCount != 1 {
		t.Errorf("Unexpected record counts: %d, %d", files[0].RecordCount, files[1].RecordCount)
	}
	if files[0].PartitionData[PartitionFieldDay] != partitionDay(day1) {
		t.Errorf("Unexpected partition value: %v", files[0].PartitionData)
	}
	if !strings.Contains(files[0].FilePath, "timestamp_day=2024-03-01") {
		t.Errorf("Expected day partition in path, got %s", files[0].FilePath)
	}

	if len(store.objects) != 2 {
		t.Fatalf("Expected 2 uploaded objects, got %d", len(store.objects))
	}
	for key, data := range store.objects {
		if !bytes.HasPrefix(data, []byte("PAR1")) {
			t.Errorf("Object %s is not a parquet file", key)
		}
	}

	if n, _ := backup.Count(ctx, ""); n != 0 {
		t.Errorf("Expected no backup rows, got %d", n)
	}
}

func TestPartitionDay(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		want int
		date string
	}{
		{"epoch", time.Unix(0, 0), 0, "1970-01-01"},
		{"end of first day", time.Date(1970, 1, 1, 23, 59, 59, 0, time.UTC), 0, "1970-01-01"},
		{"second before epoch", time.Unix(-1, 0), -1, "1969-12-31"},
		{"start of day before epoch", time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC), -1, "1969-12-31"},
		{"afternoon before epoch", time.Date(1969, 12, 30, 15, 0, 0, 0, time.UTC), -2, "1969-12-30"},
		{"modern", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), 19783, "2024-03-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := partitionDay(tt.ts)
			if got != tt.want {
				t.Errorf("partitionDay() = %d, want %d", got, tt.want)
			}
			if d := dayString(got); d != tt.date {
				t.Errorf("dayString() = %q, want %q", d, tt.date)
			}
		})
	}
}

func TestRecordEmpty(t *testing.T) {
	tracker, cat, _, _ := newTestTracker()
	if err := tracker.Record(context.Background(), nil); err != nil {
		t.Fatalf("Record(nil) error = %v", err)
	}
	if len(cat.tables) != 0 || len(cat.commits) != 0 {
		t.Error("Expected no catalog calls for an empty batch")
	}
}

func TestRecordFailureWritesBackup(t *testing.T) {
	tests := []struct {
		name        string
		commitErr   error
		uploadErr   error
		wantDeleted int
		wantReinit  bool
	}{
		{"commit fails", errors.New("catalog down"), nil, 1, false},
		{"table missing", catalog.ErrNotFound, nil, 1, true},
		{"upload fails", nil, errors.New("s3 down"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, cat, store, backup := newTestTracker()
			cat.commitErr = tt.commitErr
			store.uploadErr = tt.uploadErr
			ctx := context.Background()

			row := testRow("a", time.Now(), export.OperationCreate)
			err := tracker.Record(ctx, []export.ChangeRecord{row})
			if err == nil {
				t.Fatal("Expected error")
			}

			rows, _ := backup.List(ctx, "", 0)
			if len(rows) != 1 {
				t.Fatalf("Expected 1 backup row, got %d", len(rows))
			}
			if rows[0].Record.DocumentID != "a" || rows[0].Table != "tributary.documents_raw_changelog" {
				t.Errorf("Unexpected backup row: %+v", rows[0])
			}
			if rows[0].ErrorMessage == "" {
				t.Error("Expected error message on backup row")
			}
			if len(store.deleted) != tt.wantDeleted {
				t.Errorf("Expected %d cleanups, got %d", tt.wantDeleted, len(store.deleted))
			}

			cat.commitErr = nil
			store.uploadErr = nil
			if err := tracker.Record(ctx, []export.ChangeRecord{row}); err != nil {
				t.Fatalf("Record() after recovery error = %v", err)
			}
			wantTables := 1
			if tt.wantReinit {
				wantTables = 2
			}
			if len(cat.tables) != wantTables {
				t.Errorf("Expected %d table provisions, got %d", wantTables, len(cat.tables))
			}
		})
	}
}

func TestToChangelogRow(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC)
	r := export.ChangeRecord{
		Timestamp:    ts,
		Operation:    export.OperationDelete,
		DocumentName: "projects/p/databases/(default)/documents/c/d",
		DocumentID:   "d",
		OldData:      json.RawMessage(`{"a":1}`),
	}

	row, err := toChangelogRow(r)
	if err != nil {
		t.Fatal(err)
	}
	if row.Timestamp != ts.UnixMicro() {
		t.Errorf("Expected micros %d, got %d", ts.UnixMicro(), row.Timestamp)
	}
	if row.Data != nil {
		t.Errorf("Expected nil data for delete, got %q", *row.Data)
	}
	if row.OldData == nil || *row.OldData != `{"a":1}` {
		t.Errorf("Unexpected old data: %v", row.OldData)
	}
	if row.PathParams != nil {
		t.Errorf("Expected nil path params, got %q", *row.PathParams)
	}
}

func TestLatestViewSchemaMatchesColumns(t *testing.T) {
	view := LatestView(Config{Namespace: "ns", Table: "t"})
	if view.Name != "t_latest" {
		t.Errorf("Expected t_latest, got %s", view.Name)
	}
	if !strings.Contains(view.SQL, "FROM ns.t") {
		t.Errorf("Expected qualified table in SQL: %s", view.SQL)
	}
	for _, f := range view.Schema.Fields {
		if !strings.Contains(view.SQL, f.Name) {
			t.Errorf("View SQL does not select %s", f.Name)
		}
	}
	if _, ok := view.Schema.FieldByName(ColumnOldData); ok {
		t.Error("Latest view should not expose old_data")
	}
}

func TestMemoryTracker(t *testing.T) {
	m := NewMemoryTracker()
	ctx := context.Background()

	_ = m.Initialize(ctx)
	if m.Initialized() != 1 {
		t.Errorf("Expected 1 initialize, got %d", m.Initialized())
	}

	row := testRow("a", time.Now(), export.OperationImport)
	if err := m.Record(ctx, []export.ChangeRecord{row}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	m.FailRecord(boom)
	if err := m.Record(ctx, []export.ChangeRecord{row}); !errors.Is(err, boom) {
		t.Errorf("Expected injected error, got %v", err)
	}
	if len(m.Rows()) != 1 {
		t.Errorf("Expected 1 row, got %d", len(m.Rows()))
	}

	data, err := m.SerializeData(map[string]any{"k": "v"})
	if err != nil || string(data) != `{"k":"v"}` {
		t.Errorf("SerializeData() = %s, %v", data, err)
	}
}
