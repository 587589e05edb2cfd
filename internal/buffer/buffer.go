// Package buffer implements the Update Buffer (§4.A): JSON batch
// accumulation with size/count triggers, delete batching, and an optional
// dump-file mode for offline runs.
package buffer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/indexcore/solrupdater/internal/config"
	"github.com/indexcore/solrupdater/internal/metrics"
)

// Sink receives a fully-formed JSON batch body ready to POST to Solr, or
// to append to a dump file.
type Sink interface {
	Submit(ctx context.Context, body []byte) error
}

const deleteBatchThreshold = 1000

// UpdateBuffer accumulates documents and delete directives and dispatches
// them in batches. It is used single-threadedly by the Coordinator and
// therefore carries no internal lock (spec.md §5).
type UpdateBuffer struct {
	cfg  config.SolrConfig
	sink Sink

	pendingDocs  [][]byte
	pendingBytes int
	pendingDels  []string
}

// New builds an UpdateBuffer dispatching through sink (the Solr client
// in normal operation, or a dump-file writer in dump mode).
func New(cfg config.SolrConfig, sink Sink) *UpdateBuffer {
	return &UpdateBuffer{cfg: cfg, sink: sink}
}

// Append adds a marshaled document, dispatching the batch immediately if
// item count or byte-size triggers are crossed.
func (b *UpdateBuffer) Append(ctx context.Context, docJSON []byte) error {
	b.pendingDocs = append(b.pendingDocs, docJSON)
	b.pendingBytes += len(docJSON) + 1

	metrics.BufferDocsBuffered.WithLabelValues("doc").Inc()

	if b.cfg.MaxUpdateRecords > 0 && len(b.pendingDocs) >= b.cfg.MaxUpdateRecords {
		return b.flushDocsReason(ctx, "count")
	}
	if b.cfg.MaxUpdateSizeBytes() > 0 && b.pendingBytes >= b.cfg.MaxUpdateSizeBytes() {
		return b.flushDocsReason(ctx, "size")
	}
	return nil
}

// Delete queues a delete directive, dispatching at the 1000-id threshold.
func (b *UpdateBuffer) Delete(ctx context.Context, id string) error {
	b.pendingDels = append(b.pendingDels, id)
	metrics.BufferDocsBuffered.WithLabelValues("delete").Inc()

	if len(b.pendingDels) >= deleteBatchThreshold {
		return b.flushDeletesReason(ctx, "count")
	}
	return nil
}

// Flush dispatches any pending documents and deletes.
func (b *UpdateBuffer) Flush(ctx context.Context) error {
	if err := b.flushDocsReason(ctx, "explicit"); err != nil {
		return err
	}
	return b.flushDeletesReason(ctx, "explicit")
}

// Pending reports whether there is unflushed work.
func (b *UpdateBuffer) Pending() bool {
	return len(b.pendingDocs) > 0 || len(b.pendingDels) > 0
}

func (b *UpdateBuffer) flushDocsReason(ctx context.Context, reason string) error {
	if len(b.pendingDocs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, d := range b.pendingDocs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(d)
	}
	buf.WriteByte(']')

	if err := b.sink.Submit(ctx, buf.Bytes()); err != nil {
		return fmt.Errorf("update buffer: flush docs: %w", err)
	}
	metrics.BufferFlushes.WithLabelValues(reason).Inc()
	b.pendingDocs = b.pendingDocs[:0]
	b.pendingBytes = 0
	return nil
}

func (b *UpdateBuffer) flushDeletesReason(ctx context.Context, reason string) error {
	if len(b.pendingDels) == 0 {
		return nil
	}
	body, err := buildDeleteBody(b.pendingDels)
	if err != nil {
		return fmt.Errorf("update buffer: build delete body: %w", err)
	}
	if err := b.sink.Submit(ctx, body); err != nil {
		return fmt.Errorf("update buffer: flush deletes: %w", err)
	}
	metrics.BufferFlushes.WithLabelValues("delete_"+reason).Inc()
	b.pendingDels = b.pendingDels[:0]
	return nil
}

func buildDeleteBody(ids []string) ([]byte, error) {
	type deleteDirective struct {
		Delete struct {
			ID string `json:"id"`
		} `json:"delete"`
	}
	directives := make([]deleteDirective, len(ids))
	for i, id := range ids {
		directives[i].Delete.ID = id
	}
	return json.Marshal(directives)
}
