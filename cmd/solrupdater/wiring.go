package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/indexcore/solrupdater/internal/config"
	"github.com/indexcore/solrupdater/internal/coordinator"
	"github.com/indexcore/solrupdater/internal/docstore"
	"github.com/indexcore/solrupdater/internal/enrichment"
	"github.com/indexcore/solrupdater/internal/logging"
	"github.com/indexcore/solrupdater/internal/mapping"
	"github.com/indexcore/solrupdater/internal/queue"
	"github.com/indexcore/solrupdater/internal/solrclient"
	"github.com/indexcore/solrupdater/internal/state"
	"github.com/indexcore/solrupdater/internal/xslt"
	"github.com/indexcore/solrupdater/solrupdater"
)

// app bundles everything a subcommand needs to run, torn down via close.
type app struct {
	cfg   *config.Config
	log   solrupdater.Logger
	store *docstore.Store
	client *solrclient.Client
	coord *coordinator.Coordinator
	close func()
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.Logging)

	store, err := docstore.Open(docStorePath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	client := solrclient.New(cfg.Solr, log)

	kv, err := state.NewKVStore(cfg.StateStore)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open state store: %w", err)
	}
	checkpoints := state.NewCheckpointStore(kv)

	qpath := cfg.StateStore.Path
	if qpath == "" {
		qpath = "solrupdater-state.db"
	}
	queueStore, err := state.NewQueueStore(qpath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	queueMgr := queue.New(queueStore, store, log)

	mapper := mapping.New()
	bridge := enrichment.New()

	scripts := make(map[string]string)
	for id, src := range cfg.DataSources {
		if src.SolrTransformation != "" {
			scripts[id] = src.SolrTransformation
		}
	}
	transform := xslt.New(scripts)

	clock := solrupdater.SystemClock{}
	coord := coordinator.New(cfg, store, client, checkpoints, queueMgr, mapper, bridge, clock, transform, log)

	return &app{
		cfg: cfg, log: log, store: store, client: client, coord: coord,
		close: func() {
			store.Close()
			kv.Close()
		},
	}, nil
}

func docStorePath(cfg *config.Config) string {
	if cfg.StateStore.Type == "sqlite" && cfg.StateStore.Path != "" {
		return cfg.StateStore.Path + ".records"
	}
	return "solrupdater-records.db"
}

// sourceSelector resolves --source's "a,b,-c,-/regex/" syntax against
// the configured datasources (spec.md §6).
type sourceSelector struct {
	include      []string
	exclude      []string
	excludeRegex *regexp.Regexp
}

func parseSourceFlag(raw string) (sourceSelector, error) {
	var sel sourceSelector
	if raw == "" {
		return sel, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, "-") {
			sel.include = append(sel.include, part)
			continue
		}
		body := part[1:]
		if strings.HasPrefix(body, "/") && strings.HasSuffix(body, "/") && len(body) >= 2 {
			re, err := regexp.Compile(body[1 : len(body)-1])
			if err != nil {
				return sel, fmt.Errorf("invalid --source exclude regex %q: %w", body, err)
			}
			sel.excludeRegex = re
			continue
		}
		sel.exclude = append(sel.exclude, body)
	}
	return sel, nil
}

// resolve expands sel against the configured datasource ids. A nil
// result means "every configured source" (no restriction requested).
func (sel sourceSelector) resolve(cfg *config.Config) []string {
	if len(sel.include) == 0 && len(sel.exclude) == 0 && sel.excludeRegex == nil {
		return nil
	}
	base := sel.include
	if len(base) == 0 {
		for id := range cfg.DataSources {
			base = append(base, id)
		}
	}
	var out []string
	for _, id := range base {
		if containsStr(sel.exclude, id) {
			continue
		}
		if sel.excludeRegex != nil && sel.excludeRegex.MatchString(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func containsStr(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func parseFromFlag(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --from %q (want RFC3339): %w", raw, err)
	}
	return &t, nil
}

// exitCodeFor maps a returned error to the process exit code (spec.md
// §6): 0 handled by cobra on nil error, 1 interrupted/partial, 2 fatal.
func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return 1
	}
	return 2
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}
