// Package coordinator implements the Indexing Coordinator (§4.I): the
// top-level updateRecords operation, its single-record and merged
// (dedup-group) streams, compare/dump/delete-source modes, and the
// commit policy tying them together.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/indexcore/solrupdater/internal/buffer"
	"github.com/indexcore/solrupdater/internal/config"
	"github.com/indexcore/solrupdater/internal/enrichment"
	"github.com/indexcore/solrupdater/internal/mapping"
	"github.com/indexcore/solrupdater/internal/merge"
	"github.com/indexcore/solrupdater/internal/metarecord"
	"github.com/indexcore/solrupdater/internal/metrics"
	"github.com/indexcore/solrupdater/internal/queue"
	"github.com/indexcore/solrupdater/internal/solrclient"
	"github.com/indexcore/solrupdater/internal/solrdoc"
	"github.com/indexcore/solrupdater/internal/state"
	"github.com/indexcore/solrupdater/internal/workerpool"
	"github.com/indexcore/solrupdater/solrupdater"
)

// Options mirrors the top operation's inputs (spec.md §4.I). Sources is
// the already-resolved set of source ids the run is restricted to (the
// CLI expands --source's comma list, "-name" exclusions and "-/regex/"
// exclusions against the configured datasources before building
// Options); nil means "every configured source".
type Options struct {
	FromDate      *time.Time
	Sources       []string
	SingleID      string
	NoCommit      bool
	Delete        bool
	Compare       string
	DumpPrefix    string
	DatePerServer bool
}

// Coordinator wires the Update Buffer, Solr Client, Cluster Monitor,
// Worker Pools, Field Mapper, Enrichment Bridge, Queue Manager and
// document store into the updateRecords contract.
type Coordinator struct {
	cfg         *config.Config
	store       solrupdater.Store
	client      *solrclient.Client
	checkpoints *state.CheckpointStore
	queueMgr    *queue.Manager
	mapper      *mapping.Mapper
	bridge      *enrichment.Bridge
	clock       solrupdater.Clock
	transform   solrupdater.Transform
	log         solrupdater.Logger
}

// New builds a Coordinator from its collaborators. transform may be nil,
// in which case a configured solrTransformation falls back to the
// metadata record's native toSolrArray with a warning (solrdoc step 3).
func New(cfg *config.Config, store solrupdater.Store, client *solrclient.Client, checkpoints *state.CheckpointStore, queueMgr *queue.Manager, mapper *mapping.Mapper, bridge *enrichment.Bridge, clock solrupdater.Clock, transform solrupdater.Transform, log solrupdater.Logger) *Coordinator {
	return &Coordinator{
		cfg: cfg, store: store, client: client, checkpoints: checkpoints,
		queueMgr: queueMgr, mapper: mapper, bridge: bridge, clock: clock,
		transform: transform, log: log,
	}
}

// run carries the mutable state threaded through one updateRecords
// invocation: the shared buffer, commit counters and outcome flags.
type run struct {
	opts      Options
	buf       *buffer.UpdateBuffer
	counter   int
	anyUpdate bool
}

// UpdateRecords is the top operation (spec.md §4.I). A nil error means
// success; the caller maps that to the process exit code.
func (c *Coordinator) UpdateRecords(ctx context.Context, opts Options) error {
	if opts.Delete && len(opts.Sources) == 1 && opts.SingleID == "" && opts.Compare == "" && opts.DumpPrefix == "" {
		return c.deleteSource(ctx, opts.Sources[0])
	}

	key := state.Key(c.cfg.Solr.UpdateURL, opts.DatePerServer && c.cfg.Solr.TrackUpdatesPerURL)

	fromDate, hasFrom, err := c.resolveFromDate(ctx, key, opts)
	if err != nil {
		return fmt.Errorf("coordinator: resolve checkpoint: %w", err)
	}

	fullScope := opts.Sources == nil && opts.SingleID == "" && opts.FromDate == nil
	var lastIndexingDate time.Time
	if fullScope {
		lastIndexingDate = c.clock.Now()
	}
	if hasFrom {
		opts.FromDate = &fromDate
	}

	sink, closeSink, err := c.buildSink(opts)
	if err != nil {
		return err
	}
	defer closeSink()

	r := &run{opts: opts, buf: buffer.New(c.cfg.Solr, sink)}

	runDedup := opts.Sources == nil || c.anySourceHasDedup(opts.Sources)

	if runDedup && c.cfg.Solr.ThreadedMergedUpdate && !opts.Delete && opts.Compare == "" {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return c.processSingleStream(gctx, r) })
		g.Go(func() error { return c.processMergedStream(gctx, r) })
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		if err := c.processSingleStream(ctx, r); err != nil {
			return err
		}
		if runDedup {
			if err := c.processMergedStream(ctx, r); err != nil {
				return err
			}
		}
	}

	if err := r.buf.Flush(ctx); err != nil {
		return err
	}

	if r.anyUpdate && !opts.NoCommit && opts.Compare == "" && opts.DumpPrefix == "" {
		if err := c.client.Commit(ctx); err != nil {
			return fmt.Errorf("coordinator: final commit: %w", err)
		}
	}

	if fullScope && !lastIndexingDate.IsZero() {
		if err := c.checkpoints.Set(ctx, key, lastIndexingDate); err != nil {
			return fmt.Errorf("coordinator: advance checkpoint: %w", err)
		}
		metrics.CheckpointAdvances.Inc()
	}
	return nil
}

func (c *Coordinator) resolveFromDate(ctx context.Context, key string, opts Options) (time.Time, bool, error) {
	if opts.FromDate != nil {
		return *opts.FromDate, true, nil
	}
	ts, err := c.checkpoints.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, !ts.IsZero(), nil
}

func (c *Coordinator) buildSink(opts Options) (buffer.Sink, func(), error) {
	if opts.DumpPrefix != "" {
		dw, err := buffer.NewDumpWriter(opts.DumpPrefix)
		if err != nil {
			return nil, nil, err
		}
		return dw, func() { dw.Close() }, nil
	}
	return solrSink{client: c.client}, func() {}, nil
}

func (c *Coordinator) anySourceHasDedup(sources []string) bool {
	for _, id := range sources {
		if src, ok := c.cfg.DataSources[id]; ok && src.Dedup {
			return true
		}
	}
	return false
}

func (c *Coordinator) deleteSource(ctx context.Context, sourceID string) error {
	return c.client.DeleteByQuery(ctx, fmt.Sprintf("id:%s.*", sourceID))
}

// processSingleStream streams records not yet folded into a dedup
// group: new/changed records with no dedup_id, or the single requested
// id, building and buffering (or comparing) each in turn.
func (c *Coordinator) processSingleStream(ctx context.Context, r *run) error {
	filter := solrupdater.RecordFilter{NoDedupID: true}
	if r.opts.SingleID != "" {
		filter.SingleID = r.opts.SingleID
	} else if r.opts.Sources != nil {
		filter.SourceIDIn = r.opts.Sources
	}
	if fd := r.opts.FromDate; fd != nil {
		filter.UpdatedGE = *fd
	}

	cursor, err := c.store.FindRecords(ctx, filter)
	if err != nil {
		return fmt.Errorf("coordinator: single stream scan: %w", err)
	}
	defer cursor.Close(ctx)

	pool := workerpool.New(ctx, workerpool.Options{
		Name:        "record",
		Concurrency: c.cfg.Solr.RecordWorkers,
		Work: func(ctx context.Context, state interface{}, req workerpool.Request) (interface{}, error) {
			return c.buildOne(ctx, req.Payload.(solrupdater.Record))
		},
	})

	completed := 0
	for {
		rec, ok, err := cursor.Next(ctx)
		if err != nil {
			pool.DestroyWorkerPools()
			return fmt.Errorf("coordinator: single stream cursor: %w", err)
		}
		if !ok {
			break
		}
		pool.AddRequest(ctx, rec)

		for _, res := range pool.CheckForResults() {
			if err := c.handleBuildResult(ctx, r, res); err != nil {
				pool.DestroyWorkerPools()
				return err
			}
			completed++
			if completed%1000 == 0 {
				c.log.Info("single stream progress", "completed", completed)
			}
		}
	}

	pool.WaitUntilDone()
	for _, res := range pool.CheckForResults() {
		if err := c.handleBuildResult(ctx, r, res); err != nil {
			pool.DestroyWorkerPools()
			return err
		}
	}
	pool.DestroyWorkerPools()
	return r.buf.Flush(ctx)
}

type buildResult struct {
	doc      *solrdoc.Document
	skip     bool
	deleteID string
}

func (c *Coordinator) buildOne(ctx context.Context, rec solrupdater.Record) (buildResult, error) {
	if rec.Deleted {
		return buildResult{deleteID: rec.ID}, nil
	}
	meta, err := metarecord.New(rec)
	if err != nil {
		return buildResult{}, fmt.Errorf("metarecord for %q: %w", rec.ID, err)
	}
	srcCfg := c.cfg.DataSources[rec.SourceID]
	doc, _, err := solrdoc.Build(ctx, solrdoc.Input{
		Record: rec, Meta: meta, SourceID: rec.SourceID,
		SourceCfg: srcCfg, SolrCfg: c.cfg.Solr,
	}, solrdoc.Deps{Store: c.store, Mapper: c.mapper, Bridge: c.bridge, Clock: c.clock, Transform: c.transform})
	if err != nil {
		if err == solrdoc.ErrSkip {
			return buildResult{skip: true}, nil
		}
		return buildResult{}, err
	}
	return buildResult{doc: doc}, nil
}

func (c *Coordinator) handleBuildResult(ctx context.Context, r *run, res workerpool.Result) error {
	if res.Err != nil {
		return fmt.Errorf("coordinator: build record: %w", res.Err)
	}
	br := res.Value.(buildResult)
	if br.deleteID != "" {
		r.anyUpdate = true
		return r.buf.Delete(ctx, br.deleteID)
	}
	if br.skip || br.doc == nil {
		return nil
	}
	r.counter++
	r.anyUpdate = true

	if r.opts.Compare != "" {
		diff, err := c.compareOne(ctx, br.doc)
		if err != nil {
			return err
		}
		if diff != "" {
			c.log.Info("compare diff", "id", br.doc.First("id"), "diff", diff)
		}
		solrdoc.Release(br.doc)
		return nil
	}

	body, err := br.doc.MarshalJSON()
	solrdoc.Release(br.doc)
	if err != nil {
		return err
	}
	if err := r.buf.Append(ctx, body); err != nil {
		return err
	}
	return c.maybeCommit(ctx, r)
}

func (c *Coordinator) maybeCommit(ctx context.Context, r *run) error {
	if r.opts.NoCommit || r.opts.Compare != "" || r.opts.DumpPrefix != "" {
		return nil
	}
	interval := c.cfg.Solr.MaxCommitInterval
	if interval <= 0 || r.counter%interval != 0 {
		return nil
	}
	if err := r.buf.Flush(ctx); err != nil {
		return err
	}
	return c.client.Commit(ctx)
}

// processMergedStream materializes the queue of dedup ids changed since
// the last run and folds each group through processDedupRecord.
func (c *Coordinator) processMergedStream(ctx context.Context, r *run) error {
	latest, err := c.store.LatestRecordTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: latest record timestamp: %w", err)
	}

	params := queue.Params{Sources: r.opts.Sources, SingleID: r.opts.SingleID, Latest: latest}
	if r.opts.FromDate != nil {
		params.From = *r.opts.FromDate
		params.HasFrom = true
	}

	collectionID, err := c.queueMgr.Resolve(ctx, params)
	if err != nil {
		return fmt.Errorf("coordinator: resolve queue collection: %w", err)
	}

	ids, err := c.queueMgr.IDs(ctx, collectionID)
	if err != nil {
		return err
	}
	defer ids.Close(ctx)

	pool := workerpool.New(ctx, workerpool.Options{
		Name:        "merge",
		Concurrency: c.cfg.Solr.RecordWorkers,
		Work: func(ctx context.Context, state interface{}, req workerpool.Request) (interface{}, error) {
			return c.processDedupRecord(ctx, req.Payload.(string), r.opts)
		},
	})

	for {
		select {
		case <-ctx.Done():
			pool.DestroyWorkerPools()
			return ctx.Err()
		default:
		}

		dedupID, ok, err := ids.Next(ctx)
		if err != nil {
			pool.DestroyWorkerPools()
			return err
		}
		if !ok {
			break
		}
		pool.AddRequest(ctx, dedupID)

		for _, res := range pool.CheckForResults() {
			if err := c.handleDedupResult(ctx, r, res); err != nil {
				pool.DestroyWorkerPools()
				return err
			}
		}
	}

	pool.WaitUntilDone()
	for _, res := range pool.CheckForResults() {
		if err := c.handleDedupResult(ctx, r, res); err != nil {
			pool.DestroyWorkerPools()
			return err
		}
	}
	pool.DestroyWorkerPools()
	return nil
}

// dedupOutcome is what processDedupRecord hands back: documents to emit
// and ids to delete.
type dedupOutcome struct {
	emit    []*solrdoc.Document
	deletes []string
}

func (c *Coordinator) handleDedupResult(ctx context.Context, r *run, res workerpool.Result) error {
	if res.Err != nil {
		return fmt.Errorf("coordinator: process dedup record: %w", res.Err)
	}
	out := res.Value.(dedupOutcome)
	for _, doc := range out.emit {
		r.anyUpdate = true
		r.counter++
		body, err := doc.MarshalJSON()
		solrdoc.Release(doc)
		if err != nil {
			return err
		}
		if err := r.buf.Append(ctx, body); err != nil {
			return err
		}
		if err := c.maybeCommit(ctx, r); err != nil {
			return err
		}
	}
	for _, id := range out.deletes {
		r.anyUpdate = true
		if err := r.buf.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// processDedupRecord implements the dedup-group fold (spec.md §4.I):
// fetch the group, build a document per live member, merge, and decide
// what survives.
func (c *Coordinator) processDedupRecord(ctx context.Context, dedupID string, opts Options) (dedupOutcome, error) {
	group, ok, err := c.store.GetDedup(ctx, dedupID)
	if err != nil {
		return dedupOutcome{}, err
	}
	if !ok {
		c.log.Info("dedup group missing, skipping", "dedup_id", dedupID)
		return dedupOutcome{}, nil
	}
	if group.Deleted {
		return dedupOutcome{deletes: []string{dedupID}}, nil
	}

	members, err := c.store.FindDedupMembers(ctx, group.Members)
	if err != nil {
		return dedupOutcome{}, err
	}

	var children []merge.Child
	var deletes []string
	for _, rec := range members {
		srcCfg := c.cfg.DataSources[rec.SourceID]
		if contains(srcCfg.NonIndexedSources, rec.SourceID) {
			continue
		}
		if rec.Deleted || (opts.Delete && contains(opts.Sources, rec.SourceID)) {
			deletes = append(deletes, rec.ID)
			continue
		}

		meta, err := metarecord.New(rec)
		if err != nil {
			return dedupOutcome{}, fmt.Errorf("metarecord for %q: %w", rec.ID, err)
		}
		doc, _, err := solrdoc.Build(ctx, solrdoc.Input{
			Record: rec, Meta: meta, Dedup: &group, SourceID: rec.SourceID,
			SourceCfg: srcCfg, SolrCfg: c.cfg.Solr,
		}, solrdoc.Deps{Store: c.store, Mapper: c.mapper, Bridge: c.bridge, Clock: c.clock, Transform: c.transform})
		if err != nil {
			if err == solrdoc.ErrSkip {
				continue
			}
			return dedupOutcome{}, err
		}
		children = append(children, merge.Child{ID: doc.First("id"), Doc: doc})
	}

	switch len(children) {
	case 0:
		for _, c := range children {
			solrdoc.Release(c.Doc)
		}
		return dedupOutcome{deletes: append(deletes, dedupID)}, nil

	case 1:
		if !opts.Delete {
			c.log.Warn("dedup group collapsed to a single surviving member", "dedup_id", dedupID)
		}
		return dedupOutcome{emit: []*solrdoc.Document{children[0].Doc}, deletes: append(deletes, dedupID)}, nil

	default:
		merged, sortedChildren := merge.Merge(c.cfg.Solr, children)
		merge.CopyMergedDataToChildren(c.cfg.Solr, merged, sortedChildren)
		merged.Set("id", dedupID)
		merged.Set("record_format", "merged")
		merged.Set("merged_boolean", "true")

		emit := make([]*solrdoc.Document, 0, len(sortedChildren)+1)
		for _, ch := range sortedChildren {
			ch.Doc.Set("merged_child_boolean", "true")
			emit = append(emit, ch.Doc)
		}
		emit = append(emit, merged)
		return dedupOutcome{emit: emit, deletes: deletes}, nil
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// fixedCompareExclusions are always skipped in compare mode regardless
// of ignore_in_comparison, mirroring fields that are either derived or
// Solr-internal (spec.md §4.I).
var fixedCompareExclusions = []string{
	"allfields", "first_indexed", "last_indexed", "_version_", "fullrecord",
}

func excludedFromCompare(field string, ignore []string) bool {
	if contains(fixedCompareExclusions, field) || contains(ignore, field) {
		return true
	}
	suffixes := []string{"_unstemmed", "Str"}
	prefixes := []string{"spelling"}
	for _, sfx := range suffixes {
		if strings.HasSuffix(field, sfx) {
			return true
		}
	}
	for _, pfx := range prefixes {
		if strings.HasPrefix(field, pfx) {
			return true
		}
	}
	return false
}

// compareOne fetches the live indexed document by id and renders a
// per-field unified-style diff against the freshly built doc, skipping
// ignore_in_comparison plus the fixed exclusion set.
func (c *Coordinator) compareOne(ctx context.Context, doc *solrdoc.Document) (string, error) {
	id := doc.First("id")
	existingRaw, ok, err := solrclient.GetByID(ctx, c.cfg.Solr, c.client.HTTPClient(), id)
	if err != nil {
		return "", fmt.Errorf("coordinator: compare fetch %q: %w", id, err)
	}
	if !ok {
		return fmt.Sprintf("--- %s: not present in index\n", id), nil
	}
	existing := normalizeFields(existingRaw)

	var b strings.Builder
	fields := map[string]bool{}
	for k := range existing {
		fields[k] = true
	}
	for k := range doc.Fields() {
		fields[k] = true
	}

	for field := range fields {
		if excludedFromCompare(field, c.cfg.Solr.IgnoreInComparison) {
			continue
		}
		oldVals := existing[field]
		newVals, _ := doc.Get(field)
		if equalStringSets(oldVals, newVals) {
			continue
		}
		fmt.Fprintf(&b, "%s:\n--- %v\n+++ %v\n", field, oldVals, newVals)
	}
	return b.String(), nil
}

func normalizeFields(raw map[string]interface{}) map[string][]string {
	out := make(map[string][]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case []interface{}:
			vals := make([]string, 0, len(val))
			for _, item := range val {
				vals = append(vals, fmt.Sprintf("%v", item))
			}
			out[k] = vals
		default:
			out[k] = []string{fmt.Sprintf("%v", val)}
		}
	}
	return out
}

func equalStringSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

// CountValues implements the countValues auxiliary (spec.md §4.I):
// builds each non-deleted matching record's document and tallies the
// occurrences of field across them.
func (c *Coordinator) CountValues(ctx context.Context, field string, sources []string) (map[string]int64, error) {
	filter := solrupdater.RecordFilter{}
	if sources != nil {
		filter.SourceIDIn = sources
	}
	cursor, err := c.store.FindRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("coordinator: count values scan: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[string]int64)
	for {
		rec, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if rec.Deleted {
			continue
		}
		br, err := c.buildOne(ctx, rec)
		if err != nil || br.skip || br.doc == nil {
			continue
		}
		for _, v := range br.doc.Fields()[field] {
			counts[v]++
		}
		solrdoc.Release(br.doc)
	}
	return counts, nil
}

// CheckIndexedRecords implements the checkIndexedRecords auxiliary
// (spec.md §4.I): scrolls the entire Solr index, looks up each id's
// backing record (or dedup group, for merged documents) in the store,
// and deletes any id with no live backing record.
func (c *Coordinator) CheckIndexedRecords(ctx context.Context) (int, error) {
	buf := buffer.New(c.cfg.Solr, solrSink{client: c.client})
	removed := 0

	err := solrclient.Scroll(ctx, c.cfg.Solr, c.client.HTTPClient(), "*:*", func(docs []solrclient.IndexedDoc) bool {
		for _, d := range docs {
			live, err := c.isLive(ctx, d)
			if err != nil {
				c.log.Warn("check-indexed: lookup failed", "id", d.ID, "error", err)
				continue
			}
			if live {
				continue
			}
			if err := buf.Delete(ctx, d.ID); err != nil {
				c.log.Warn("check-indexed: queue delete failed", "id", d.ID, "error", err)
				continue
			}
			removed++
		}
		return true
	})
	if err != nil {
		return removed, fmt.Errorf("coordinator: check indexed scroll: %w", err)
	}

	if err := buf.Flush(ctx); err != nil {
		return removed, err
	}
	if removed > 0 {
		if err := c.client.Commit(ctx); err != nil {
			return removed, fmt.Errorf("coordinator: check indexed commit: %w", err)
		}
	}
	return removed, nil
}

func (c *Coordinator) isLive(ctx context.Context, d solrclient.IndexedDoc) (bool, error) {
	if d.RecordFormat == "merged" {
		group, ok, err := c.store.GetDedup(ctx, d.ID)
		return ok && !group.Deleted, err
	}
	_, ok, err := c.store.GetRecord(ctx, d.ID)
	return ok, err
}
