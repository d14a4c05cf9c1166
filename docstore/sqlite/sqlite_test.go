package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/taskcache/docstore"
)

func openTemp(t *testing.T) docstore.Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "docs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestUpsertFindOne(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	c, err := s.Collection(ctx, "Job")
	if err != nil {
		t.Fatal(err)
	}

	at := time.Unix(1700000000, 42)
	doc := docstore.Document{UID: "a", UserID: "u1", BusinessName: "acme", TaskStatus: "init", Body: []byte(`{"x":1}`), UpdatedAt: at}
	if err := c.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	doc.TaskStatus = "done"
	doc.Body = []byte(`{"x":2}`)
	if err := c.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}

	got, ok, err := c.FindOne(ctx, docstore.Filter{UID: "a", UserID: "u1", BusinessName: "acme"})
	if err != nil || !ok {
		t.Fatalf("FindOne: ok=%v err=%v", ok, err)
	}
	if got.TaskStatus != "done" || string(got.Body) != `{"x":2}` || !got.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected document %+v", got)
	}

	if _, ok, _ := c.FindOne(ctx, docstore.Filter{UID: "a", UserID: "u2", BusinessName: "acme"}); ok {
		t.Fatalf("other owner must not match")
	}
	if _, ok, _ := c.FindOne(ctx, docstore.Filter{UID: "a", BusinessName: "acme"}); !ok {
		t.Fatalf("empty owner should match any")
	}
}

func TestDeletedHiddenUnlessIncluded(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	c, _ := s.Collection(ctx, "Job")
	if err := c.Upsert(ctx, docstore.Document{UID: "a", Deleted: true, Body: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.FindOne(ctx, docstore.Filter{UID: "a"}); ok {
		t.Fatalf("deleted doc should be hidden")
	}
	if _, ok, _ := c.FindOne(ctx, docstore.Filter{UID: "a", IncludeDeleted: true}); !ok {
		t.Fatalf("IncludeDeleted should find it")
	}
}

func TestBulkUpsertAndCollectionsIsolated(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	jobs, _ := s.Collection(ctx, "Job")
	runs, _ := s.Collection(ctx, "Run")

	docs := []docstore.Document{
		{UID: "a", Body: []byte("1")},
		{UID: "b", Body: []byte("2")},
		{UID: "a", Body: []byte("3")},
	}
	res, err := jobs.BulkUpsert(ctx, docs)
	if err != nil || res.Upserted != 3 {
		t.Fatalf("BulkUpsert: res=%+v err=%v", res, err)
	}
	got, ok, _ := jobs.FindOne(ctx, docstore.Filter{UID: "a"})
	if !ok || string(got.Body) != "3" {
		t.Fatalf("last write should win, got %q", got.Body)
	}
	if _, ok, _ := runs.FindOne(ctx, docstore.Filter{UID: "a"}); ok {
		t.Fatalf("collections must not share documents")
	}
	if res, err := jobs.BulkUpsert(ctx, nil); err != nil || res.Upserted != 0 {
		t.Fatalf("empty bulk: %+v %v", res, err)
	}
}

func TestCollectionNameRequired(t *testing.T) {
	s := openTemp(t)
	if _, err := s.Collection(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestOlderDocumentDoesNotReplaceNewer(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	c, _ := s.Collection(ctx, "Job")

	newer := time.Unix(1700000100, 0)
	if err := c.Upsert(ctx, docstore.Document{UID: "a", TaskStatus: "done", Body: []byte("new"), UpdatedAt: newer}); err != nil {
		t.Fatal(err)
	}
	older := docstore.Document{UID: "a", TaskStatus: "processing", Body: []byte("old"), UpdatedAt: newer.Add(-time.Second)}
	if err := c.Upsert(ctx, older); err != nil {
		t.Fatal(err)
	}
	res, err := c.BulkUpsert(ctx, []docstore.Document{older, {UID: "b", Body: []byte("b"), UpdatedAt: newer}})
	if err != nil || res.Upserted != 1 {
		t.Fatalf("BulkUpsert: res=%+v err=%v", res, err)
	}

	got, _, _ := c.FindOne(ctx, docstore.Filter{UID: "a"})
	if got.TaskStatus != "done" || string(got.Body) != "new" || !got.UpdatedAt.Equal(newer) {
		t.Fatalf("older write replaced newer: %+v", got)
	}
}
