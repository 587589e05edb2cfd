package queue

import (
	"context"
	"testing"
	"time"

	"github.com/indexcore/solrupdater/internal/state"
	"github.com/indexcore/solrupdater/solrupdater"
)

// fakeStore is a minimal in-memory solrupdater.Store sufficient to drive
// the queue's two-stage record scan.
type fakeStore struct {
	records []solrupdater.Record
	dedups  []solrupdater.DedupGroup
}

func (f *fakeStore) FindRecords(ctx context.Context, filter solrupdater.RecordFilter) (solrupdater.RecordCursor, error) {
	var matched []solrupdater.Record
	for _, r := range f.records {
		if filter.SingleID != "" && r.ID != filter.SingleID {
			continue
		}
		if len(filter.SourceIDIn) > 0 && !containsStr(filter.SourceIDIn, r.SourceID) {
			continue
		}
		if filter.DedupIDSet && r.DedupID == "" {
			continue
		}
		if !filter.UpdatedGE.IsZero() && r.Updated.Before(filter.UpdatedGE) {
			continue
		}
		matched = append(matched, r)
	}
	return &sliceCursor{records: matched}, nil
}

func containsStr(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (f *fakeStore) CountRecords(ctx context.Context, filter solrupdater.RecordFilter) (int64, error) {
	return 0, nil
}
func (f *fakeStore) GetRecord(ctx context.Context, id string) (solrupdater.Record, bool, error) {
	return solrupdater.Record{}, false, nil
}
func (f *fakeStore) GetDedup(ctx context.Context, id string) (solrupdater.DedupGroup, bool, error) {
	return solrupdater.DedupGroup{}, false, nil
}
func (f *fakeStore) FindDedupMembers(ctx context.Context, ids []string) ([]solrupdater.Record, error) {
	return nil, nil
}
func (f *fakeStore) FindDedups(ctx context.Context, filter solrupdater.DedupFilter) (solrupdater.DedupCursor, error) {
	var matched []solrupdater.DedupGroup
	for _, g := range f.dedups {
		if filter.SingleID != "" && g.ID != filter.SingleID {
			continue
		}
		if !filter.ChangedGE.IsZero() && g.Changed.Before(filter.ChangedGE) {
			continue
		}
		matched = append(matched, g)
	}
	return &dedupSliceCursor{groups: matched}, nil
}

type dedupSliceCursor struct {
	groups []solrupdater.DedupGroup
	i      int
}

func (c *dedupSliceCursor) Next(ctx context.Context) (solrupdater.DedupGroup, bool, error) {
	if c.i >= len(c.groups) {
		return solrupdater.DedupGroup{}, false, nil
	}
	g := c.groups[c.i]
	c.i++
	return g, true, nil
}
func (c *dedupSliceCursor) Close(ctx context.Context) error { return nil }
func (f *fakeStore) LatestRecordTimestamp(ctx context.Context) (time.Time, error) {
	return time.Time{}, nil
}
func (f *fakeStore) Reconnect(ctx context.Context) error { return nil }

type sliceCursor struct {
	records []solrupdater.Record
	i       int
}

func (c *sliceCursor) Next(ctx context.Context) (solrupdater.Record, bool, error) {
	if c.i >= len(c.records) {
		return solrupdater.Record{}, false, nil
	}
	r := c.records[c.i]
	c.i++
	return r, true, nil
}
func (c *sliceCursor) Close(ctx context.Context) error { return nil }

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

func newTestManager(t *testing.T, records []solrupdater.Record) *Manager {
	t.Helper()
	return newTestManagerWithDedups(t, records, nil)
}

func newTestManagerWithDedups(t *testing.T, records []solrupdater.Record, dedups []solrupdater.DedupGroup) *Manager {
	t.Helper()
	qs, err := state.NewQueueStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { qs.Close() })
	return New(qs, &fakeStore{records: records, dedups: dedups}, nopLogger{})
}

func TestResolveBuildsCollectionFromDedupGroups(t *testing.T) {
	records := []solrupdater.Record{
		{ID: "s1.1", SourceID: "s1", DedupID: "d1", Updated: time.Now()},
		{ID: "s1.2", SourceID: "s1", DedupID: "d1", Updated: time.Now()},
		{ID: "s1.3", SourceID: "s1", DedupID: "d2", Updated: time.Now()},
	}
	m := newTestManager(t, records)
	ctx := context.Background()

	id, err := m.Resolve(ctx, Params{Latest: time.Now()})
	if err != nil {
		t.Fatal(err)
	}

	cursor, err := m.IDs(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for {
		dedupID, ok, err := cursor.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		ids = append(ids, dedupID)
	}

	if len(ids) != 2 {
		t.Fatalf("got %d queued dedup ids, want 2 (d1, d2 deduped by group)", len(ids))
	}
}

func TestResolveReusesCollectionForSameParams(t *testing.T) {
	records := []solrupdater.Record{
		{ID: "s1.1", SourceID: "s1", DedupID: "d1", Updated: time.Now()},
	}
	m := newTestManager(t, records)
	ctx := context.Background()

	latest := time.Now()
	id1, err := m.Resolve(ctx, Params{Latest: latest})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := m.Resolve(ctx, Params{Latest: latest})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("expected the same params to reuse a collection, got %q then %q", id1, id2)
	}
}

func TestResolveErrorsWhenNothingMatches(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Resolve(ctx, Params{Latest: time.Now()})
	if err == nil {
		t.Fatal("expected an error when no records match the selection")
	}
}

func TestParamsHashDistinguishesSources(t *testing.T) {
	a := Params{Sources: []string{"s1"}}
	b := Params{Sources: []string{"s2"}}
	if a.Hash() == b.Hash() {
		t.Error("expected different source sets to hash differently")
	}
}

// TestResolveStage2CatchesGroupLevelChangeWithNoMemberInWindow covers a
// dedup group whose own Changed timestamp advances (a merge, a split, or
// a group-level delete) without any member record's Updated timestamp
// falling inside the requested window — stage 1 alone would miss it.
func TestResolveStage2CatchesGroupLevelChangeWithNoMemberInWindow(t *testing.T) {
	from := time.Now().Add(-time.Hour)
	records := []solrupdater.Record{
		{ID: "s1.1", SourceID: "s1", DedupID: "d1", Updated: from.Add(-48 * time.Hour)},
	}
	dedups := []solrupdater.DedupGroup{
		{ID: "d1", Members: []string{"s1.1"}, Changed: time.Now()},
	}
	m := newTestManagerWithDedups(t, records, dedups)
	ctx := context.Background()

	id, err := m.Resolve(ctx, Params{From: from, HasFrom: true, Latest: time.Now()})
	if err != nil {
		t.Fatal(err)
	}

	cursor, err := m.IDs(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for {
		dedupID, ok, err := cursor.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		ids = append(ids, dedupID)
	}
	if !containsStr(ids, "d1") {
		t.Errorf("ids = %v, want d1 enqueued via its own Changed timestamp", ids)
	}
}
