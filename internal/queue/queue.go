// Package queue implements the Queue Collection Manager (§4.H): content-
// addressed, two-stage materialization of dedup ids awaiting
// re-indexing, persisted through internal/state's sqlite-backed
// QueueStore.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/indexcore/solrupdater/internal/state"
	"github.com/indexcore/solrupdater/solrupdater"
)

// Params selects the record/dedup-group window a queue collection
// materializes. Sources is the already-resolved source id restriction
// (nil means every configured source); see coordinator.Options.
type Params struct {
	Sources []string
	SingleID  string
	From      time.Time
	Latest    time.Time
	HasFrom   bool
}

// Hash computes a content hash over the selection parameters, used both
// as the collection's reuse key and as its storage id.
func (p Params) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "sources=%s;single=%s;from=%d;hasfrom=%t",
		strings.Join(p.Sources, ","), p.SingleID, p.From.UnixNano(), p.HasFrom)
	return hex.EncodeToString(h.Sum(nil))
}

// Manager builds and reuses queue collections.
type Manager struct {
	store  *state.QueueStore
	doc    solrupdater.Store
	log    solrupdater.Logger
}

// New builds a Manager over doc (dedup-id and record lookups) and q
// (the persisted collection backend).
func New(q *state.QueueStore, doc solrupdater.Store, log solrupdater.Logger) *Manager {
	return &Manager{store: q, doc: doc, log: log}
}

// Resolve returns a final collection id covering params's window,
// reusing an existing one when possible and otherwise building fresh.
func (m *Manager) Resolve(ctx context.Context, params Params) (string, error) {
	hash := params.Hash()

	if id, ok, err := m.store.FindReusable(ctx, hash, params.From, params.Latest); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}

	if err := m.gc(ctx, params, hash); err != nil {
		m.log.Warn("queue: opportunistic gc failed", "error", err)
	}

	id, err := m.store.NewCollection(ctx, hash, params.From, params.Latest)
	if err != nil {
		return "", err
	}

	if err := m.stage1(ctx, params, id); err != nil {
		_ = m.store.Drop(ctx, id)
		return "", err
	}
	if err := m.stage2(ctx, params, id); err != nil {
		_ = m.store.Drop(ctx, id)
		return "", err
	}

	finalized, err := m.store.Finalize(ctx, id)
	if err != nil {
		return "", err
	}
	if !finalized {
		_ = m.store.Drop(ctx, id)
		return "", fmt.Errorf("queue: no records matched selection, nothing to index")
	}
	return id, nil
}

// stage1 scans records matching params in dedup-id order, enqueuing on
// each change of dedup id.
func (m *Manager) stage1(ctx context.Context, params Params, collectionID string) error {
	filter := solrupdater.RecordFilter{DedupIDSet: true}
	if params.SingleID != "" {
		filter.SingleID = params.SingleID
	} else if params.Sources != nil {
		filter.SourceIDIn = params.Sources
	}
	if params.HasFrom {
		filter.UpdatedGE = params.From
	}

	cursor, err := m.doc.FindRecords(ctx, filter)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	last := ""
	for {
		rec, ok, err := cursor.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if rec.DedupID == "" || rec.DedupID == last {
			continue
		}
		last = rec.DedupID
		if err := m.store.AddID(ctx, collectionID, rec.DedupID); err != nil {
			return err
		}
	}
	return nil
}

// stage2 scans the dedup-group collection itself, by the group's own
// Changed/SingleID filter, queuing any group id not already present.
// This is what catches a group-level change (merge, split, or group
// delete) that never touches a member record's own updated timestamp.
func (m *Manager) stage2(ctx context.Context, params Params, collectionID string) error {
	if !params.HasFrom && params.SingleID == "" {
		m.log.Warn("queue: building without a from-date scans all dedup groups; stale deleted groups may inflate the set")
	}

	filter := solrupdater.DedupFilter{}
	if params.SingleID != "" {
		filter.SingleID = params.SingleID
	}
	if params.HasFrom {
		filter.ChangedGE = params.From
	}

	cursor, err := m.doc.FindDedups(ctx, filter)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for {
		group, ok, err := cursor.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := m.store.AddID(ctx, collectionID, group.ID); err != nil {
			return err
		}
	}
	return nil
}

// gc opportunistically drops queue collections made stale by params's
// window before a fresh build begins.
func (m *Manager) gc(ctx context.Context, params Params, keepBuildingID string) error {
	return m.store.CleanupOlderThan(ctx, params.Latest, keepBuildingID)
}

// Abandon drops a building collection on interrupted shutdown.
func (m *Manager) Abandon(ctx context.Context, collectionID string) error {
	return m.store.Drop(ctx, collectionID)
}

// IDs returns a cursor over the dedup ids in a resolved collection.
func (m *Manager) IDs(ctx context.Context, collectionID string) (solrupdater.QueuedIDCursor, error) {
	return m.store.IDs(ctx, collectionID)
}
