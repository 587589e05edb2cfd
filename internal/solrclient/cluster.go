package solrclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/indexcore/solrupdater/internal/config"
	"github.com/indexcore/solrupdater/internal/metrics"
	"github.com/indexcore/solrupdater/solrupdater"
)

// ClusterState is the cached classification of a SolrCloud deployment.
type ClusterState string

const (
	// StateOK means every shard and replica looked healthy on the last probe.
	StateOK ClusterState = "ok"
	// StateDegraded means some shard or replica deviated from normal.
	StateDegraded ClusterState = "degraded"
	// StateError means the probe itself failed (network, non-200, bad body).
	StateError ClusterState = "error"
)

var normalShardStates = map[string]bool{
	"active":       true,
	"inactive":     true,
	"construction": true,
}

// ClusterMonitor periodically probes a SolrCloud admin endpoint and caches
// the classification for at least cluster_state_check_interval seconds.
type ClusterMonitor struct {
	cfg    config.SolrConfig
	client *http.Client
	log    solrupdater.Logger

	mu          sync.Mutex
	lastProbe   time.Time
	lastState   ClusterState
	errorStreak int
}

// NewClusterMonitor builds a monitor bound to cfg.AdminURL.
func NewClusterMonitor(cfg config.SolrConfig, log solrupdater.Logger) *ClusterMonitor {
	return &ClusterMonitor{
		cfg:       cfg,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log,
		lastState: StateOK,
	}
}

// Always reports whether the monitor is disabled and therefore always ok.
func (m *ClusterMonitor) always() bool {
	return m.cfg.ClusterStateCheckSeconds <= 0 || m.cfg.AdminURL == ""
}

// Classify returns the cached or freshly-probed cluster classification.
func (m *ClusterMonitor) Classify(ctx context.Context) ClusterState {
	if m.always() {
		return StateOK
	}

	m.mu.Lock()
	fresh := time.Since(m.lastProbe) < m.cfg.ClusterCheckInterval()
	if fresh {
		state := m.lastState
		m.mu.Unlock()
		return state
	}
	m.mu.Unlock()

	state := m.probe(ctx)

	m.mu.Lock()
	m.lastProbe = time.Now()
	m.lastState = state
	if state == StateError {
		m.errorStreak++
	} else {
		m.errorStreak = 0
	}
	m.mu.Unlock()

	metrics.ClusterState.Reset()
	metrics.ClusterState.WithLabelValues(string(state)).Set(1)
	return state
}

// WaitUntilOK blocks, re-probing on the configured interval, until the
// cluster is ok or maxTries consecutive error outcomes have occurred, in
// which case it returns an error (fail fast).
func (m *ClusterMonitor) WaitUntilOK(ctx context.Context, maxTries int) error {
	for {
		state := m.Classify(ctx)
		switch state {
		case StateOK:
			return nil
		case StateError:
			m.mu.Lock()
			streak := m.errorStreak
			m.mu.Unlock()
			if streak >= maxTries {
				return fmt.Errorf("cluster monitor: %d consecutive error probes, giving up", streak)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.waitInterval()):
		}
	}
}

func (m *ClusterMonitor) waitInterval() time.Duration {
	if m.cfg.ClusterCheckInterval() <= 0 {
		return time.Second
	}
	return m.cfg.ClusterCheckInterval()
}

func (m *ClusterMonitor) probe(ctx context.Context) ClusterState {
	metrics.ClusterProbes.WithLabelValues("attempt").Inc()

	u := fmt.Sprintf("%s/zookeeper?wt=json&detail=true&path=%s&view=graph",
		m.cfg.AdminURL, url.QueryEscape("/clusterstate.json"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		metrics.ClusterProbes.WithLabelValues("error").Inc()
		return StateError
	}

	resp, err := m.client.Do(req)
	if err != nil {
		metrics.ClusterProbes.WithLabelValues("error").Inc()
		if m.log != nil {
			m.log.Warn("cluster probe failed", "error", err)
		}
		return StateError
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ClusterProbes.WithLabelValues("error").Inc()
		return StateError
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ClusterProbes.WithLabelValues("error").Inc()
		return StateError
	}

	if !gjson.ValidBytes(body) {
		metrics.ClusterProbes.WithLabelValues("error").Inc()
		return StateError
	}

	state := classifyClusterStateJSON(gjson.GetBytes(body, "znode.data").String())
	metrics.ClusterProbes.WithLabelValues(string(state)).Inc()
	return state
}

// classifyClusterStateJSON implements the ok/degraded classification over
// the raw clusterstate.json graph-view payload (collections -> shards ->
// replicas).
func classifyClusterStateJSON(raw string) ClusterState {
	if raw == "" || !gjson.Valid(raw) {
		return StateError
	}

	degraded := false
	gjson.Parse(raw).ForEach(func(_, collection gjson.Result) bool {
		shards := collection.Get("shards")
		if !shards.Exists() {
			return true
		}
		shards.ForEach(func(_, shard gjson.Result) bool {
			if !normalShardStates[shard.Get("state").String()] {
				degraded = true
				return false
			}
			shard.Get("replicas").ForEach(func(_, replica gjson.Result) bool {
				if replica.Get("state").String() != "active" {
					degraded = true
					return false
				}
				return true
			})
			return !degraded
		})
		return !degraded
	})

	if degraded {
		return StateDegraded
	}
	return StateOK
}
