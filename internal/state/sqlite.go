package state

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// openSQLiteDB opens (creating if absent) a sqlite database at path and
// applies each ddl statement. It is the one place a sqlite connection
// gets opened in this package — both the checkpoint KV's "states" table
// (below) and the Queue Collection Manager's "queue_collections"/
// "queue_ids" tables (queue.go) are laid onto a connection from here,
// since both stores commonly point at the same state-store file
// (cmd/solrupdater/wiring.go derives the queue store's default path
// from the same config.StateStoreConfig.Path).
func openSQLiteDB(path string, ddl ...string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite state store %q: %w", path, err)
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
		}
	}
	return db, nil
}

// sqliteKV is the checkpoint key-value table: the simplest of the two
// schemas built on openSQLiteDB, holding nothing but the last-processed
// timestamp per checkpoint key (internal/state/checkpoint.go).
type sqliteKV struct {
	db *sql.DB
}

func newSQLiteKV(path string) (*sqliteKV, error) {
	db, err := openSQLiteDB(path, `CREATE TABLE IF NOT EXISTS states (
		key TEXT PRIMARY KEY,
		value BLOB
	)`)
	if err != nil {
		return nil, err
	}
	return &sqliteKV{db: db}, nil
}

func (s *sqliteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM states WHERE key = ?", key).Scan(&val)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *sqliteKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO states (key, value) VALUES (?, ?)", key, value)
	return err
}

func (s *sqliteKV) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM states WHERE key = ?", key)
	return err
}

func (s *sqliteKV) Close() error {
	return s.db.Close()
}
