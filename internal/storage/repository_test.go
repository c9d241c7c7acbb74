package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"orcamento/internal/core"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func ref(id string) core.EntityRef {
	return core.EntityRef{WorkspaceID: "ws1", Type: core.EntityDespesa, ID: id}
}

func TestEntityRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	e := CachedEntity{Ref: ref("d1"), Version: 3, Payload: []byte(`{"nome":"mercado"}`)}
	if err := repo.PutEntity(ctx, e); err != nil {
		t.Fatalf("put entity: %v", err)
	}

	got, err := repo.GetEntity(ctx, ref("d1"))
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if got.Version != 3 || string(got.Payload) != `{"nome":"mercado"}` {
		t.Errorf("got %+v", got)
	}

	// Upsert replaces version and payload.
	e.Version = 4
	e.Payload = []byte(`{"nome":"feira"}`)
	if err := repo.PutEntity(ctx, e); err != nil {
		t.Fatalf("put entity again: %v", err)
	}
	got, _ = repo.GetEntity(ctx, ref("d1"))
	if got.Version != 4 || string(got.Payload) != `{"nome":"feira"}` {
		t.Errorf("after upsert: %+v", got)
	}

	if _, err := repo.GetEntity(ctx, ref("ghost")); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteEntity(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	repo.PutEntity(ctx, CachedEntity{Ref: ref("d1"), Version: 1, Payload: []byte(`{}`)})
	if err := repo.DeleteEntity(ctx, ref("d1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetEntity(ctx, ref("d1")); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting a missing row is not an error.
	if err := repo.DeleteEntity(ctx, ref("d1")); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestScanIsWorkspaceAndTypeScoped(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	repo.PutEntity(ctx, CachedEntity{Ref: ref("d2"), Version: 1, Payload: []byte(`{}`)})
	repo.PutEntity(ctx, CachedEntity{Ref: ref("d1"), Version: 1, Payload: []byte(`{}`)})
	repo.PutEntity(ctx, CachedEntity{
		Ref:     core.EntityRef{WorkspaceID: "ws1", Type: core.EntityCartao, ID: "c1"},
		Version: 1, Payload: []byte(`{}`),
	})
	repo.PutEntity(ctx, CachedEntity{
		Ref:     core.EntityRef{WorkspaceID: "ws2", Type: core.EntityDespesa, ID: "d9"},
		Version: 1, Payload: []byte(`{}`),
	})

	got, err := repo.Scan(ctx, "ws1", core.EntityDespesa)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 || got[0].Ref.ID != "d1" || got[1].Ref.ID != "d2" {
		t.Errorf("scan result = %+v", got)
	}
}

func TestQueueLifecycle(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	id1, err := repo.Enqueue(ctx, PushItem{Ref: ref("d1"), Version: 1, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id2, _ := repo.Enqueue(ctx, PushItem{Ref: ref("d2"), Version: 1, Payload: []byte(`{}`)})

	batch, err := repo.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(batch) != 2 || batch[0].ID != id1 || batch[1].ID != id2 {
		t.Fatalf("batch = %+v, want enqueue order", batch)
	}

	if err := repo.MarkProcessing(ctx, id1); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := repo.MarkCompleted(ctx, id1); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	batch, _ = repo.DequeueBatch(ctx, 10)
	if len(batch) != 1 || batch[0].ID != id2 {
		t.Errorf("after completion batch = %+v", batch)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Completed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBackoffHidesItemUntilNextAttempt(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	id, _ := repo.Enqueue(ctx, PushItem{Ref: ref("d1"), Version: 1, Payload: []byte(`{}`)})
	if err := repo.IncrementAttempt(ctx, id, "network unavailable", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("increment attempt: %v", err)
	}

	batch, _ := repo.DequeueBatch(ctx, 10)
	if len(batch) != 0 {
		t.Errorf("backed-off item should be hidden, got %+v", batch)
	}

	// The item is still visible to workspace reconciliation.
	pending, err := repo.PendingForWorkspace(ctx, "ws1")
	if err != nil {
		t.Fatalf("pending for workspace: %v", err)
	}
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Errorf("pending = %+v", pending)
	}
}

func TestResetStaleProcessing(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	id, _ := repo.Enqueue(ctx, PushItem{Ref: ref("d1"), Version: 1, Payload: []byte(`{}`)})
	repo.MarkProcessing(ctx, id)

	if err := repo.ResetStaleProcessing(ctx); err != nil {
		t.Fatalf("reset stale: %v", err)
	}
	batch, _ := repo.DequeueBatch(ctx, 10)
	if len(batch) != 1 {
		t.Errorf("reset item should be pending again, got %+v", batch)
	}
}

func TestRetryFailed(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	id, _ := repo.Enqueue(ctx, PushItem{Ref: ref("d1"), Version: 1, Payload: []byte(`{}`)})
	repo.MarkFailed(ctx, id, "remote rejected")

	batch, _ := repo.DequeueBatch(ctx, 10)
	if len(batch) != 0 {
		t.Fatalf("failed item must not be dequeued, got %+v", batch)
	}

	if err := repo.RetryFailed(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	batch, _ = repo.DequeueBatch(ctx, 10)
	if len(batch) != 1 || batch[0].Attempts != 0 {
		t.Errorf("after retry batch = %+v", batch)
	}
}

func TestPurgeWorkspace(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	repo.PutEntity(ctx, CachedEntity{Ref: ref("d1"), Version: 1, Payload: []byte(`{}`)})
	repo.Enqueue(ctx, PushItem{Ref: ref("d1"), Version: 1, Payload: []byte(`{}`)})

	if err := repo.PurgeWorkspace(ctx, "ws1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := repo.GetEntity(ctx, ref("d1")); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("entity should be purged, got %v", err)
	}
	pending, _ := repo.PendingForWorkspace(ctx, "ws1")
	if len(pending) != 0 {
		t.Errorf("queue should be purged, got %+v", pending)
	}
}
