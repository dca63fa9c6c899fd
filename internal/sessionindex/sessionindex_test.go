package sessionindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := Entry{ID: "s-1", WorkDir: "/repo", Title: "first session", UpdatedAt: time.Now()}
	if err := s.Upsert(ctx, e); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	list, err := s.List(ctx, "/repo")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "s-1" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestUpsertIsIdempotentByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, Entry{ID: "s-2", WorkDir: "/repo", Title: "v1", UpdatedAt: time.Now()})
	s.Upsert(ctx, Entry{ID: "s-2", WorkDir: "/repo", Title: "v2", UpdatedAt: time.Now()})

	list, err := s.List(ctx, "/repo")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "v2" {
		t.Fatalf("expected single updated entry, got %+v", list)
	}
}

func TestRename(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Upsert(ctx, Entry{ID: "s-3", WorkDir: "/repo", Title: "old", UpdatedAt: time.Now()})

	if err := s.Rename(ctx, "s-3", "new title"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	list, _ := s.List(ctx, "/repo")
	if len(list) != 1 || list[0].Title != "new title" {
		t.Fatalf("rename did not take effect: %+v", list)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Upsert(ctx, Entry{ID: "s-4", WorkDir: "/repo", UpdatedAt: time.Now()})

	if err := s.Delete(ctx, "s-4"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, _ := s.List(ctx, "/repo")
	if len(list) != 0 {
		t.Fatalf("expected empty list after delete, got %+v", list)
	}
}

func TestListScopesByWorkdir(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Upsert(ctx, Entry{ID: "s-5", WorkDir: "/a", UpdatedAt: time.Now()})
	s.Upsert(ctx, Entry{ID: "s-6", WorkDir: "/b", UpdatedAt: time.Now()})

	list, err := s.List(ctx, "/a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "s-5" {
		t.Fatalf("expected workdir scoping, got %+v", list)
	}
}
