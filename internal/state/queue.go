package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/indexcore/solrupdater/solrupdater"
)

// QueueCollectionStatus is the lifecycle state of a materialized queue
// collection (spec.md §3).
type QueueCollectionStatus string

const (
	StatusBuilding QueueCollectionStatus = "building"
	StatusFinal    QueueCollectionStatus = "final"
)

// QueueStore persists queue collections: content-addressed sets of dedup
// ids awaiting re-indexing. Backed by sqlite — the relational window
// query ("final collection whose window covers [from, latest]") and the
// per-id membership table do not map cleanly onto the redis/etcd KV
// backends, so this store is sqlite-only (see DESIGN.md).
type QueueStore struct {
	db *sql.DB
}

// NewQueueStore opens (creating if absent) the sqlite-backed queue store,
// laying its two tables onto a connection from the same openSQLiteDB
// helper sqliteKV uses (sqlite.go) rather than duplicating the open/DDL
// dance.
func NewQueueStore(path string) (*QueueStore, error) {
	if path == "" {
		path = "solrupdater-queue.db"
	}
	db, err := openSQLiteDB(path,
		`CREATE TABLE IF NOT EXISTS queue_collections (
			id TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			from_ts INTEGER NOT NULL,
			to_ts INTEGER NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queue_ids (
			collection_id TEXT NOT NULL,
			dedup_id TEXT NOT NULL,
			PRIMARY KEY (collection_id, dedup_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_collections_hash ON queue_collections(hash)`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}
	return &QueueStore{db: db}, nil
}

// Close closes the underlying database handle.
func (q *QueueStore) Close() error { return q.db.Close() }

// FindReusable looks up a final collection for hash whose window covers
// [from, to]; returns its id.
func (q *QueueStore) FindReusable(ctx context.Context, hash string, from, to time.Time) (string, bool, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id FROM queue_collections WHERE hash = ? AND status = ? AND from_ts <= ? AND to_ts >= ? ORDER BY to_ts DESC LIMIT 1`,
		hash, StatusFinal, from.UnixNano(), to.UnixNano())
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

// NewCollection starts a fresh building collection named by hash,
// clearing any stale rows for the same id.
func (q *QueueStore) NewCollection(ctx context.Context, hash string, from, to time.Time) (string, error) {
	id := hash
	if _, err := q.db.ExecContext(ctx, `DELETE FROM queue_ids WHERE collection_id = ?`, id); err != nil {
		return "", err
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO queue_collections (id, hash, from_ts, to_ts, status) VALUES (?, ?, ?, ?, ?)`,
		id, hash, from.UnixNano(), to.UnixNano(), StatusBuilding)
	if err != nil {
		return "", err
	}
	return id, nil
}

// AddID enqueues dedupID into collectionID, ignoring duplicates.
func (q *QueueStore) AddID(ctx context.Context, collectionID, dedupID string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO queue_ids (collection_id, dedup_id) VALUES (?, ?)`, collectionID, dedupID)
	return err
}

// Finalize marks collectionID final iff it has at least one queued id;
// returns whether it was finalized.
func (q *QueueStore) Finalize(ctx context.Context, collectionID string) (bool, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_ids WHERE collection_id = ?`, collectionID).Scan(&count); err != nil {
		return false, err
	}
	if count == 0 {
		return false, nil
	}
	_, err := q.db.ExecContext(ctx, `UPDATE queue_collections SET status = ? WHERE id = ?`, StatusFinal, collectionID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Drop removes a collection and its ids (used on clean-shutdown rollback
// of a building collection, or opportunistic GC).
func (q *QueueStore) Drop(ctx context.Context, collectionID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM queue_ids WHERE collection_id = ?`, collectionID); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, `DELETE FROM queue_collections WHERE id = ?`, collectionID)
	return err
}

// CleanupOlderThan opportunistically drops final collections whose
// high-water mark is older than latest, and any leftover building
// collections not equal to keepBuildingID (spec.md §4.H GC note).
func (q *QueueStore) CleanupOlderThan(ctx context.Context, latest time.Time, keepBuildingID string) error {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id FROM queue_collections WHERE (status = ? AND to_ts < ?) OR (status = ? AND id != ?)`,
		StatusFinal, latest.UnixNano(), StatusBuilding, keepBuildingID)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		stale = append(stale, id)
	}
	rows.Close()

	for _, id := range stale {
		if err := q.Drop(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// IDs returns a cursor over the dedup ids queued in collectionID.
func (q *QueueStore) IDs(ctx context.Context, collectionID string) (solrupdater.QueuedIDCursor, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT dedup_id FROM queue_ids WHERE collection_id = ?`, collectionID)
	if err != nil {
		return nil, err
	}
	return &queueIDCursor{rows: rows}, nil
}

type queueIDCursor struct {
	rows *sql.Rows
}

func (c *queueIDCursor) Next(ctx context.Context) (string, bool, error) {
	if !c.rows.Next() {
		return "", false, c.rows.Err()
	}
	var id string
	if err := c.rows.Scan(&id); err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (c *queueIDCursor) Close(ctx context.Context) error {
	return c.rows.Close()
}
