// Package solrclient implements the Solr Client (§4.B) and the Cluster
// Monitor (§4.C): a single retrying HTTP operation gated on SolrCloud
// cluster health.
package solrclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/indexcore/solrupdater/internal/config"
	"github.com/indexcore/solrupdater/internal/metrics"
	"github.com/indexcore/solrupdater/solrupdater"
)

// Client performs gated, retrying POSTs to update_url, and GETs against
// search_url for compare/check-indexed.
type Client struct {
	cfg     config.SolrConfig
	http    *retryablehttp.Client
	cluster *ClusterMonitor
	log     solrupdater.Logger
}

// New builds a Client bound to cfg; it owns a keep-alive HTTP transport
// shared by all requests issued from this worker.
func New(cfg config.SolrConfig, log solrupdater.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0 // the retry loop below implements spec-exact semantics
	rc.Logger = stdLogger(log)
	rc.HTTPClient.Timeout = 0 // per-request timeout set via context

	return &Client{
		cfg:     cfg,
		http:    rc,
		cluster: NewClusterMonitor(cfg, log),
		log:     log,
	}
}

func stdLogger(l solrupdater.Logger) retryablehttp.LeveledLogger {
	return &leveledLogAdapter{l: l}
}

type leveledLogAdapter struct{ l solrupdater.Logger }

func (a *leveledLogAdapter) Error(msg string, kv ...interface{}) {
	if a.l != nil {
		a.l.Error(msg, kv...)
	}
}
func (a *leveledLogAdapter) Info(msg string, kv ...interface{}) {
	if a.l != nil {
		a.l.Debug(msg, kv...)
	}
}
func (a *leveledLogAdapter) Debug(msg string, kv ...interface{}) {
	if a.l != nil {
		a.l.Debug(msg, kv...)
	}
}
func (a *leveledLogAdapter) Warn(msg string, kv ...interface{}) {
	if a.l != nil {
		a.l.Warn(msg, kv...)
	}
}

// ClusterMonitor exposes the client's bound monitor, e.g. for CLI status
// reporting.
func (c *Client) ClusterMonitor() *ClusterMonitor { return c.cluster }

// HTTPClient exposes the standard-library client backing retries, for
// the read-only search/scroll helpers that don't need gating or retry.
func (c *Client) HTTPClient() *http.Client { return c.http.StandardClient() }

// SearchURL returns the configured search endpoint.
func (c *Client) SearchURL() string { return c.cfg.SearchURL }

// Request posts body to update_url, retrying up to max_update_tries on any
// transport error or HTTP >= 300, sleeping update_retry_wait between
// attempts. Before the first send and before each retry it blocks on the
// Cluster Monitor; if the cluster stays in error beyond max_update_tries
// it fails fast (§4.B, §4.C).
func (c *Client) Request(ctx context.Context, body []byte, timeout time.Duration) error {
	maxTries := c.cfg.MaxUpdateTries
	if maxTries <= 0 {
		maxTries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxTries; attempt++ {
		if err := c.cluster.WaitUntilOK(ctx, maxTries); err != nil {
			metrics.SolrRequests.WithLabelValues("cluster_unreachable").Inc()
			return fmt.Errorf("solr request: %w", err)
		}

		start := time.Now()
		err := c.post(ctx, c.cfg.UpdateURL, body, timeout)
		metrics.SolrRequestLatency.WithLabelValues(outcomeLabel(err)).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.SolrRequests.WithLabelValues("success").Inc()
			return nil
		}

		lastErr = err
		metrics.SolrRequests.WithLabelValues("retry").Inc()

		if attempt == maxTries {
			break
		}

		metrics.SolrRetries.WithLabelValues(retryReason(err)).Inc()
		if c.log != nil {
			c.log.Warn("solr update failed, retrying", "attempt", attempt, "max_tries", maxTries, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryWait()):
		}
	}

	metrics.SolrRequests.WithLabelValues("failure").Inc()
	return fmt.Errorf("solr update: giving up after %d attempts: %w", maxTries, lastErr)
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "error"
}

func retryReason(err error) string {
	if _, ok := err.(httpStatusError); ok {
		return "http_status"
	}
	return "transport"
}

type httpStatusError struct{ code int }

func (e httpStatusError) Error() string { return fmt.Sprintf("solr responded with status %d", e.code) }

func (c *Client) post(ctx context.Context, url string, body []byte, timeout time.Duration) error {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "keep-alive")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return httpStatusError{code: resp.StatusCode}
	}
	return nil
}

// discardLogger is a no-op standard logger. Nothing in the package refers
// to it; a nil Logger is handled by the leveled adapter's own nil checks.
var discardLogger = log.New(io.Discard, "", 0)

// Commit issues an explicit commit with a 3600s timeout, as required
// before a checkpoint advance or at the configured commit interval.
func (c *Client) Commit(ctx context.Context) error {
	return c.Request(ctx, []byte(`{"commit":{}}`), 3600*time.Second)
}

// DeleteByQuery issues a delete-by-query directive followed by a commit
// with a long timeout (delete-source mode, §4.I).
func (c *Client) DeleteByQuery(ctx context.Context, query string) error {
	body := fmt.Sprintf(`{"delete":{"query":%q}}`, query)
	if err := c.Request(ctx, []byte(body), 3600*time.Second); err != nil {
		return err
	}
	return c.Commit(ctx)
}
