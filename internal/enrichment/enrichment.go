// Package enrichment implements the Enrichment Bridge (§4.E): a builder
// registry of named enrichers, lazily instantiated and invoked in
// config order, grounded on the teacher's type-switch constructor
// registry in internal/engine/factory.go (CreateSource/CreateSink).
package enrichment

import (
	"context"
	"fmt"

	"github.com/indexcore/solrupdater/solrupdater"
)

// Enricher mutates a Solr document in place from the metadata record it
// was built from.
type Enricher interface {
	Enrich(ctx context.Context, sourceID string, record solrupdater.MetadataRecord, doc map[string][]string) error
}

// Builder constructs an Enricher from its (already env-substituted)
// configuration options.
type Builder func(options map[string]string) (Enricher, error)

var registry = make(map[string]Builder)

// Register adds a named enricher builder to the default namespace.
// Call from enricher package init()s.
func Register(name string, b Builder) {
	registry[name] = b
}

// Bridge lazily instantiates and invokes enrichers in config order:
// global enrichers precede per-source ones, and duplicate names
// (by resolved identity) run only once.
type Bridge struct {
	instances map[string]Enricher
}

// New builds an empty Bridge.
func New() *Bridge {
	return &Bridge{instances: make(map[string]Enricher)}
}

// Spec names one configured enricher invocation: Name resolves against
// the registry namespace (unqualified names are looked up directly);
// Options are passed to its Builder on first use.
type Spec struct {
	Name    string
	Options map[string]string
}

// Run invokes global specs followed by per-source specs, skipping names
// already run for this record (duplicates removed before invocation).
func (br *Bridge) Run(ctx context.Context, sourceID string, global, perSource []Spec, record solrupdater.MetadataRecord, doc map[string][]string) error {
	seen := make(map[string]bool, len(global)+len(perSource))
	for _, spec := range append(append([]Spec{}, global...), perSource...) {
		if seen[spec.Name] {
			continue
		}
		seen[spec.Name] = true

		e, err := br.resolve(spec)
		if err != nil {
			return err
		}
		if err := e.Enrich(ctx, sourceID, record, doc); err != nil {
			return fmt.Errorf("enrichment %q: %w", spec.Name, err)
		}
	}
	return nil
}

func (br *Bridge) resolve(spec Spec) (Enricher, error) {
	if e, ok := br.instances[spec.Name]; ok {
		return e, nil
	}
	build, ok := registry[spec.Name]
	if !ok {
		return nil, fmt.Errorf("enrichment: unknown enricher %q", spec.Name)
	}
	e, err := build(spec.Options)
	if err != nil {
		return nil, fmt.Errorf("enrichment: build %q: %w", spec.Name, err)
	}
	br.instances[spec.Name] = e
	return e, nil
}
