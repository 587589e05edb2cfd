package state

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// CheckpointStore persists the "Last Index Update[ <update_url>]" entry
// (spec.md §3, §4.I).
type CheckpointStore struct {
	kv KVStore
}

// NewCheckpointStore wraps a KVStore for checkpoint access.
func NewCheckpointStore(kv KVStore) *CheckpointStore {
	return &CheckpointStore{kv: kv}
}

// Key computes the checkpoint key, optionally suffixed by update_url when
// track_updates_per_update_url / date_per_server is in effect.
func Key(updateURL string, perServer bool) string {
	if perServer && updateURL != "" {
		return fmt.Sprintf("Last Index Update[ %s]", updateURL)
	}
	return "Last Index Update"
}

// Get returns the stored checkpoint timestamp, or the zero time if unset.
func (c *CheckpointStore) Get(ctx context.Context, key string) (time.Time, error) {
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	if len(raw) == 0 {
		return time.Time{}, nil
	}
	unixNano, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("checkpoint: malformed value for %q: %w", key, err)
	}
	return time.Unix(0, unixNano).UTC(), nil
}

// Set stores ts as the checkpoint for key.
func (c *CheckpointStore) Set(ctx context.Context, key string, ts time.Time) error {
	return c.kv.Set(ctx, key, []byte(strconv.FormatInt(ts.UnixNano(), 10)))
}
