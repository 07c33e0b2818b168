package export

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolveWildcardIDs(t *testing.T) {
	tests := []struct {
		name     string
		template string
		path     string
		want     map[string]string
	}{
		{
			name:     "no wildcards",
			template: "users",
			path:     "users/alice",
			want:     map[string]string{},
		},
		{
			name:     "single wildcard",
			template: "users/{uid}/posts",
			path:     "users/alice/posts/p1",
			want:     map[string]string{"uid": "alice"},
		},
		{
			name:     "multiple wildcards",
			template: "orgs/{org}/users/{uid}/posts",
			path:     "orgs/acme/users/bob/posts/p9",
			want:     map[string]string{"org": "acme", "uid": "bob"},
		},
		{
			name:     "short path",
			template: "a/{x}/b/{y}",
			path:     "a/1",
			want:     map[string]string{"x": "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveWildcardIDs(tt.template, tt.path)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveWildcardIDs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchDocument(t *testing.T) {
	tests := []struct {
		name     string
		template string
		path     string
		want     map[string]string
		ok       bool
	}{
		{"top level", "users", "users/alice", map[string]string{DocumentIDParam: "alice"}, true},
		{"nested", "users/{uid}/posts", "users/alice/posts/p1", map[string]string{"uid": "alice", DocumentIDParam: "p1"}, true},
		{"wrong collection", "users", "orders/o1", nil, false},
		{"subcollection document", "users", "users/alice/posts/p1", nil, false},
		{"collection path", "users/{uid}/posts", "users/alice/posts", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchDocument(tt.template, tt.path)
			if ok != tt.ok {
				t.Fatalf("MatchDocument() ok = %v, want %v", ok, tt.ok)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MatchDocument() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDocumentName(t *testing.T) {
	got := DocumentName("demo", "/users/alice/")
	want := "projects/demo/databases/(default)/documents/users/alice"
	if got != want {
		t.Errorf("DocumentName() = %q, want %q", got, want)
	}
}

func TestPathHelpers(t *testing.T) {
	if got := LastSegment("users/{uid}/posts"); got != "posts" {
		t.Errorf("LastSegment() = %q, want %q", got, "posts")
	}
	if got := LastSegment(""); got != "" {
		t.Errorf("LastSegment(\"\") = %q, want empty", got)
	}
	if got := ParentCollection("users/alice/posts/p1"); got != "users/alice/posts" {
		t.Errorf("ParentCollection() = %q", got)
	}
	if !HasWildcards("users/{uid}/posts") {
		t.Error("HasWildcards() = false, want true")
	}
	if HasWildcards("users") {
		t.Error("HasWildcards() = true, want false")
	}
}

func TestValidateDocumentPath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"users/alice", false},
		{"users/alice/posts/p1", false},
		{"users", true},
		{"", true},
		{"users//alice", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidateDocumentPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateDocumentPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPath) {
				t.Errorf("error should wrap ErrInvalidPath, got %v", err)
			}
		})
	}
}
