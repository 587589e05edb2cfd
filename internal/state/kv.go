// Package state implements the checkpoint key-value store, selectable
// between sqlite, redis and etcd, and the sqlite-only queue collection
// persistence layer (§4.H) backing the Queue Collection Manager.
package state

import (
	"context"
	"fmt"

	"github.com/indexcore/solrupdater/internal/config"
)

// KVStore is a minimal byte-oriented key-value store used for checkpoint
// persistence.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NewKVStore builds the configured KVStore backend.
func NewKVStore(cfg config.StateStoreConfig) (KVStore, error) {
	switch cfg.Type {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "solrupdater-state.db"
		}
		return newSQLiteKV(path)
	case "redis":
		return newRedisKV(cfg), nil
	case "etcd":
		return newEtcdKV(cfg)
	default:
		return nil, fmt.Errorf("state: unknown store type %q", cfg.Type)
	}
}
