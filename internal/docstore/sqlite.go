// Package docstore provides a sqlite-backed solrupdater.Store. The
// document store is treated as an external collaborator by the rest of
// the pipeline (internal/coordinator, internal/queue and
// internal/solrdoc talk only to solrupdater.Store); this package is one
// concrete, self-contained implementation of it, reusing the same
// modernc.org/sqlite driver internal/state uses for checkpoint and queue
// persistence.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/indexcore/solrupdater/solrupdater"
)

// Store is a sqlite-backed solrupdater.Store.
type Store struct {
	path string
	db   *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("docstore: open: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{path: path, db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			format TEXT NOT NULL,
			oai_id TEXT,
			original_data BLOB,
			linking_id TEXT,
			host_record_id TEXT,
			deleted INTEGER NOT NULL DEFAULT 0,
			created TEXT NOT NULL,
			updated TEXT NOT NULL,
			dedup_id TEXT,
			date TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_source ON records(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_records_dedup ON records(dedup_id)`,
		`CREATE INDEX IF NOT EXISTS idx_records_updated ON records(updated)`,
		`CREATE TABLE IF NOT EXISTS dedup_groups (
			id TEXT PRIMARY KEY,
			members TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			changed TEXT
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("docstore: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Reconnect closes and reopens the sqlite handle. The Worker Pool
// Manager's per-worker initializer calls this to give the sibling
// merged-stream goroutine (or a record worker) its own connection.
func (s *Store) Reconnect(ctx context.Context) error {
	if s.db != nil {
		s.db.Close()
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("docstore: reconnect: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return err
	}
	s.db = db
	return nil
}

func timeVal(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return ""
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

// PutRecord inserts or replaces a record, used by tests and by out-of-band
// ingestion paths that feed this store.
func (s *Store) PutRecord(ctx context.Context, r solrupdater.Record) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO records
		(id, source_id, format, oai_id, original_data, linking_id, host_record_id, deleted, created, updated, dedup_id, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SourceID, r.Format, r.OAIID, r.OriginalData,
		encodeList(r.LinkingIDs), encodeList(r.HostRecordIDs),
		boolToInt(r.Deleted), timeVal(r.Created), timeVal(r.Updated), r.DedupID, timeVal(r.Date))
	return err
}

// PutDedup inserts or replaces a dedup group.
func (s *Store) PutDedup(ctx context.Context, g solrupdater.DedupGroup) error {
	members, _ := json.Marshal(g.Members)
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO dedup_groups (id, members, deleted, changed)
		VALUES (?, ?, ?, ?)`, g.ID, string(members), boolToInt(g.Deleted), timeVal(g.Changed))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanRecord(row interface {
	Scan(dest ...interface{}) error
}) (solrupdater.Record, error) {
	var r solrupdater.Record
	var oaiID, linking, host, created, updated, dedupID, date sql.NullString
	var deleted int
	err := row.Scan(&r.ID, &r.SourceID, &r.Format, &oaiID, &r.OriginalData,
		&linking, &host, &deleted, &created, &updated, &dedupID, &date)
	if err != nil {
		return r, err
	}
	r.OAIID = oaiID.String
	r.LinkingIDs = decodeList(linking.String)
	r.HostRecordIDs = decodeList(host.String)
	r.Deleted = deleted != 0
	r.Created = parseTime(created.String)
	r.Updated = parseTime(updated.String)
	r.DedupID = dedupID.String
	r.Date = parseTime(date.String)
	return r, nil
}

const recordColumns = "id, source_id, format, oai_id, original_data, linking_id, host_record_id, deleted, created, updated, dedup_id, date"

func buildFilter(filter solrupdater.RecordFilter) (string, []interface{}) {
	var where []string
	var args []interface{}

	if filter.SingleID != "" {
		where = append(where, "id = ?")
		args = append(args, filter.SingleID)
	}
	if filter.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if len(filter.SourceIDIn) > 0 {
		ph := make([]string, len(filter.SourceIDIn))
		for i, v := range filter.SourceIDIn {
			ph[i] = "?"
			args = append(args, v)
		}
		where = append(where, "source_id IN ("+strings.Join(ph, ",")+")")
	}
	if !filter.UpdatedGE.IsZero() {
		where = append(where, "updated >= ?")
		args = append(args, timeVal(filter.UpdatedGE))
	}
	if filter.NoDedupID {
		where = append(where, "(dedup_id IS NULL OR dedup_id = '')")
	}
	if filter.DedupIDSet {
		where = append(where, "dedup_id IS NOT NULL AND dedup_id != ''")
	}
	if len(filter.HostRecordIDIn) > 0 {
		var clauses []string
		for _, id := range filter.HostRecordIDIn {
			clauses = append(clauses, "host_record_id LIKE ?")
			args = append(args, "%\""+id+"\"%")
		}
		where = append(where, "("+strings.Join(clauses, " OR ")+")")
	}

	query := "SELECT " + recordColumns + " FROM records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.DedupIDSet || filter.NoDedupID {
		query += " ORDER BY dedup_id, id"
	} else {
		query += " ORDER BY id"
	}
	return query, args
}

// FindRecords scans records matching filter, ordered so dedup-group
// boundaries (where relevant) are contiguous.
func (s *Store) FindRecords(ctx context.Context, filter solrupdater.RecordFilter) (solrupdater.RecordCursor, error) {
	query, args := buildFilter(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: find records: %w", err)
	}
	return &recordCursor{rows: rows}, nil
}

// CountRecords counts records matching filter without materializing them.
func (s *Store) CountRecords(ctx context.Context, filter solrupdater.RecordFilter) (int64, error) {
	query, args := buildFilter(filter)
	query = "SELECT COUNT(*) FROM (" + query + ")"
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("docstore: count records: %w", err)
	}
	return n, nil
}

// GetRecord looks up a single record by id.
func (s *Store) GetRecord(ctx context.Context, id string) (solrupdater.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return solrupdater.Record{}, false, nil
	}
	if err != nil {
		return solrupdater.Record{}, false, fmt.Errorf("docstore: get record: %w", err)
	}
	return r, true, nil
}

// GetDedup looks up a dedup group by id.
func (s *Store) GetDedup(ctx context.Context, id string) (solrupdater.DedupGroup, bool, error) {
	var g solrupdater.DedupGroup
	var members string
	var deleted int
	var changed sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT id, members, deleted, changed FROM dedup_groups WHERE id = ?", id).
		Scan(&g.ID, &members, &deleted, &changed)
	if err == sql.ErrNoRows {
		return solrupdater.DedupGroup{}, false, nil
	}
	if err != nil {
		return solrupdater.DedupGroup{}, false, fmt.Errorf("docstore: get dedup: %w", err)
	}
	_ = json.Unmarshal([]byte(members), &g.Members)
	g.Deleted = deleted != 0
	g.Changed = parseTime(changed.String)
	return g, true, nil
}

// FindDedups scans dedup groups matching filter, used by the Queue
// Collection Manager's stage 2 to catch group-level changes (merges,
// splits, group deletes) that never touch a member record's own
// updated timestamp.
func (s *Store) FindDedups(ctx context.Context, filter solrupdater.DedupFilter) (solrupdater.DedupCursor, error) {
	var where []string
	var args []interface{}

	if filter.SingleID != "" {
		where = append(where, "id = ?")
		args = append(args, filter.SingleID)
	}
	if !filter.ChangedGE.IsZero() {
		where = append(where, "changed >= ?")
		args = append(args, timeVal(filter.ChangedGE))
	}

	query := "SELECT id, members, deleted, changed FROM dedup_groups"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: find dedups: %w", err)
	}
	return &dedupCursor{rows: rows}, nil
}

type dedupCursor struct {
	rows *sql.Rows
}

func (c *dedupCursor) Next(ctx context.Context) (solrupdater.DedupGroup, bool, error) {
	if !c.rows.Next() {
		return solrupdater.DedupGroup{}, false, c.rows.Err()
	}
	var g solrupdater.DedupGroup
	var members string
	var deleted int
	var changed sql.NullString
	if err := c.rows.Scan(&g.ID, &members, &deleted, &changed); err != nil {
		return solrupdater.DedupGroup{}, false, err
	}
	_ = json.Unmarshal([]byte(members), &g.Members)
	g.Deleted = deleted != 0
	g.Changed = parseTime(changed.String)
	return g, true, nil
}

func (c *dedupCursor) Close(ctx context.Context) error {
	return c.rows.Close()
}

// FindDedupMembers looks up every record named in ids, silently skipping
// any that are missing (the group may reference a record since removed).
func (s *Store) FindDedupMembers(ctx context.Context, ids []string) ([]solrupdater.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id IN ("+strings.Join(ph, ",")+")", args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: find dedup members: %w", err)
	}
	defer rows.Close()

	var out []solrupdater.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRecordTimestamp returns the most recent updated timestamp across
// all records, used to bound a fresh queue collection's window.
func (s *Store) LatestRecordTimestamp(ctx context.Context) (time.Time, error) {
	var updated sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(updated) FROM records").Scan(&updated); err != nil {
		return time.Time{}, fmt.Errorf("docstore: latest timestamp: %w", err)
	}
	return parseTime(updated.String), nil
}

type recordCursor struct {
	rows *sql.Rows
}

func (c *recordCursor) Next(ctx context.Context) (solrupdater.Record, bool, error) {
	if !c.rows.Next() {
		return solrupdater.Record{}, false, c.rows.Err()
	}
	r, err := scanRecord(c.rows)
	if err != nil {
		return solrupdater.Record{}, false, err
	}
	return r, true, nil
}

func (c *recordCursor) Close(ctx context.Context) error {
	return c.rows.Close()
}
