package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/janovincze/tributary/internal/export"
)

func seed(t *testing.T, s *MemoryStore, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if _, _, err := s.Put(context.Background(), p, map[string]any{"path": p}); err != nil {
			t.Fatalf("Put(%s) error = %v", p, err)
		}
	}
}

func TestMemoryStore_QueryPagination(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 25; i++ {
		seed(t, s, fmt.Sprintf("users/u%02d", i))
	}
	seed(t, s, "accounts/a1")

	ctx := context.Background()
	tests := []struct {
		offset, limit int
		want          int
		first         string
	}{
		{0, 10, 10, "users/u00"},
		{10, 10, 10, "users/u10"},
		{20, 10, 5, "users/u20"},
		{25, 10, 0, ""},
		{40, 10, 0, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("offset_%d", tt.offset), func(t *testing.T) {
			docs, err := s.Query(ctx, Query{Collection: "users", Offset: tt.offset, Limit: tt.limit})
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(docs) != tt.want {
				t.Fatalf("Query() returned %d docs, want %d", len(docs), tt.want)
			}
			if tt.want > 0 && docs[0].Path != tt.first {
				t.Errorf("first = %q, want %q", docs[0].Path, tt.first)
			}
		})
	}

	// Same offset yields the same page.
	a, _ := s.Query(ctx, Query{Collection: "users", Offset: 5, Limit: 5})
	b, _ := s.Query(ctx, Query{Collection: "users", Offset: 5, Limit: 5})
	for i := range a {
		if a[i].Path != b[i].Path {
			t.Errorf("page not stable at %d: %q vs %q", i, a[i].Path, b[i].Path)
		}
	}
}

func TestMemoryStore_CollectionGroup(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "users/u1/posts/p1", "users/u2/posts/p2", "users/u1", "posts/p3", "users/u1/comments/c1")

	docs, err := s.Query(context.Background(), Query{Collection: "posts", CollectionGroup: true, Limit: 10})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("group query returned %d docs, want 3", len(docs))
	}

	docs, _ = s.Query(context.Background(), Query{Collection: "users/u1/posts", Limit: 10})
	if len(docs) != 1 || docs[0].ID != "p1" {
		t.Errorf("collection query = %+v", docs)
	}
}

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	before, after, err := s.Put(ctx, "/users/alice", map[string]any{"age": 30})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if before.Exists || !after.Exists || after.ID != "alice" || after.Path != "users/alice" {
		t.Errorf("Put() = %+v, %+v", before, after)
	}

	before, _, _ = s.Put(ctx, "users/alice", map[string]any{"age": 31})
	if !before.Exists || before.Data["age"] != 30 {
		t.Errorf("second Put() before = %+v", before)
	}

	got, _ := s.Get(ctx, "users/alice")
	if got.Data["age"] != 31 {
		t.Errorf("Get() = %+v", got)
	}

	deleted, err := s.Delete(ctx, "users/alice")
	if err != nil || deleted.Data["age"] != 31 {
		t.Errorf("Delete() = %+v, %v", deleted, err)
	}
	if _, err := s.Delete(ctx, "users/alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}

	missing, _ := s.Get(ctx, "users/alice")
	if missing.Exists {
		t.Error("deleted document should not exist")
	}

	if _, _, err := s.Put(ctx, "users", nil); !errors.Is(err, export.ErrInvalidPath) {
		t.Errorf("Put(collection path) error = %v, want ErrInvalidPath", err)
	}
}
