package coordinator

import (
	"context"
	"time"

	"github.com/indexcore/solrupdater/internal/solrclient"
)

// solrSink adapts *solrclient.Client to the buffer.Sink interface the
// Update Buffer dispatches through.
type solrSink struct {
	client *solrclient.Client
}

func (s solrSink) Submit(ctx context.Context, body []byte) error {
	return s.client.Request(ctx, body, 300*time.Second)
}
