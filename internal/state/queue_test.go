package state

import (
	"context"
	"testing"
	"time"
)

func newTestQueueStore(t *testing.T) *QueueStore {
	t.Helper()
	qs, err := NewQueueStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { qs.Close() })
	return qs
}

func TestNewCollectionAddIDsAndFinalize(t *testing.T) {
	qs := newTestQueueStore(t)
	ctx := context.Background()

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	id, err := qs.NewCollection(ctx, "hash1", from, to)
	if err != nil {
		t.Fatal(err)
	}
	if err := qs.AddID(ctx, id, "dedup.1"); err != nil {
		t.Fatal(err)
	}
	if err := qs.AddID(ctx, id, "dedup.1"); err != nil {
		t.Fatal("expected duplicate AddID to be a no-op, got error:", err)
	}
	if err := qs.AddID(ctx, id, "dedup.2"); err != nil {
		t.Fatal(err)
	}

	finalized, err := qs.Finalize(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !finalized {
		t.Error("expected a collection with queued ids to finalize")
	}

	cursor, err := qs.IDs(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for {
		v, ok, err := cursor.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		ids = append(ids, v)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want 2 entries", ids)
	}
}

func TestFinalizeEmptyCollectionStaysBuilding(t *testing.T) {
	qs := newTestQueueStore(t)
	ctx := context.Background()

	id, err := qs.NewCollection(ctx, "hash-empty", time.Now(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	finalized, err := qs.Finalize(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if finalized {
		t.Error("expected an empty collection not to finalize")
	}
}

func TestFindReusableMatchesCoveringWindow(t *testing.T) {
	qs := newTestQueueStore(t)
	ctx := context.Background()

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	id, err := qs.NewCollection(ctx, "hash1", from, to)
	if err != nil {
		t.Fatal(err)
	}
	if err := qs.AddID(ctx, id, "dedup.1"); err != nil {
		t.Fatal(err)
	}
	if _, err := qs.Finalize(ctx, id); err != nil {
		t.Fatal(err)
	}

	// a request window fully inside [from, to] should reuse the collection.
	got, ok, err := qs.FindReusable(ctx, "hash1", from.Add(24*time.Hour), to.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got != id {
		t.Errorf("FindReusable = (%q, %v), want (%q, true)", got, ok, id)
	}

	// a window extending past `to` cannot be served by this collection.
	_, ok, err = qs.FindReusable(ctx, "hash1", from, to.Add(48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected no reusable collection for a window extending past to_ts")
	}
}

func TestDropRemovesCollectionAndIDs(t *testing.T) {
	qs := newTestQueueStore(t)
	ctx := context.Background()

	id, err := qs.NewCollection(ctx, "hash1", time.Now(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := qs.AddID(ctx, id, "dedup.1"); err != nil {
		t.Fatal(err)
	}
	if err := qs.Drop(ctx, id); err != nil {
		t.Fatal(err)
	}

	_, ok, err := qs.FindReusable(ctx, "hash1", time.Now(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected dropped collection to no longer be found")
	}
}

func TestCleanupOlderThanDropsStaleFinalAndBuildingCollections(t *testing.T) {
	qs := newTestQueueStore(t)
	ctx := context.Background()

	oldFrom := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	oldTo := time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)
	staleID, err := qs.NewCollection(ctx, "stale-hash", oldFrom, oldTo)
	if err != nil {
		t.Fatal(err)
	}
	if err := qs.AddID(ctx, staleID, "dedup.1"); err != nil {
		t.Fatal(err)
	}
	if _, err := qs.Finalize(ctx, staleID); err != nil {
		t.Fatal(err)
	}

	keepID, err := qs.NewCollection(ctx, "keep-hash", time.Now(), time.Now())
	if err != nil {
		t.Fatal(err)
	}

	staleBuildingID, err := qs.NewCollection(ctx, "stale-building-hash", time.Now(), time.Now())
	if err != nil {
		t.Fatal(err)
	}

	if err := qs.CleanupOlderThan(ctx, time.Now(), keepID); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := qs.FindReusable(ctx, "stale-hash", oldFrom, oldTo); ok {
		t.Error("expected the stale final collection to be dropped")
	}

	rows, err := qs.db.QueryContext(ctx, `SELECT id FROM queue_collections WHERE id = ?`, staleBuildingID)
	if err != nil {
		t.Fatal(err)
	}
	if rows.Next() {
		t.Error("expected the stale building collection to be dropped")
	}
	rows.Close()
}
