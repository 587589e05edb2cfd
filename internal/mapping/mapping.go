// Package mapping implements the Field Mapper (§4.E): source-specific and
// global default value remapping tables, generalized from the
// exact/range/regex lookup pattern of pkg/transformer/mapping.go.
package mapping

import (
	"regexp"
	"strconv"
	"strings"
)

// TableType selects how a Table's keys are matched against a field value.
type TableType string

const (
	Exact TableType = "exact"
	Range TableType = "range"
	Regex TableType = "regex"
)

// Table is one named remapping table: match a source field's value
// against Entries and replace it with the matched target value.
type Table struct {
	Field   string
	Type    TableType
	Entries map[string]string

	compiled map[string]*regexp.Regexp
}

// Mapper holds the global default table set plus any per-source
// overrides, keyed by field name.
type Mapper struct {
	global     map[string][]Table
	perSource  map[string]map[string][]Table
}

// New builds an empty Mapper; use AddGlobal/AddSource to populate tables.
func New() *Mapper {
	return &Mapper{
		global:    make(map[string][]Table),
		perSource: make(map[string]map[string][]Table),
	}
}

// AddGlobal registers a table applied to every source.
func (m *Mapper) AddGlobal(t Table) {
	m.global[t.Field] = append(m.global[t.Field], t)
}

// AddSource registers a table applied only to records from sourceID.
// Source-specific tables run after global ones for the same field.
func (m *Mapper) AddSource(sourceID string, t Table) {
	if m.perSource[sourceID] == nil {
		m.perSource[sourceID] = make(map[string][]Table)
	}
	m.perSource[sourceID][t.Field] = append(m.perSource[sourceID][t.Field], t)
}

// MapValues applies every table registered for sourceID (global tables
// first, then source-specific ones) to doc in place and returns it.
func (m *Mapper) MapValues(sourceID string, doc map[string][]string) map[string][]string {
	for field, tables := range m.global {
		doc = applyTables(doc, field, tables)
	}
	if bySource, ok := m.perSource[sourceID]; ok {
		for field, tables := range bySource {
			doc = applyTables(doc, field, tables)
		}
	}
	return doc
}

func applyTables(doc map[string][]string, field string, tables []Table) map[string][]string {
	vals, ok := doc[field]
	if !ok {
		return doc
	}
	mapped := make([]string, len(vals))
	for i, v := range vals {
		mapped[i] = v
		for _, t := range tables {
			if out, matched := t.lookup(v); matched {
				mapped[i] = out
				break
			}
		}
	}
	doc[field] = mapped
	return doc
}

// lookup resolves val against the table's entries per its Type.
func (t *Table) lookup(val string) (string, bool) {
	switch t.Type {
	case Range:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return "", false
		}
		for k, v := range t.Entries {
			if strings.Contains(k, "-") {
				parts := strings.SplitN(k, "-", 2)
				if len(parts) != 2 {
					continue
				}
				low, lerr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
				high, herr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
				if lerr == nil && herr == nil && f >= low && f <= high {
					return v, true
				}
			} else if strings.HasSuffix(k, "+") {
				low, lerr := strconv.ParseFloat(strings.TrimSuffix(k, "+"), 64)
				if lerr == nil && f >= low {
					return v, true
				}
			}
		}
		return "", false

	case Regex:
		if t.compiled == nil {
			t.compiled = make(map[string]*regexp.Regexp)
		}
		for k, v := range t.Entries {
			re, ok := t.compiled[k]
			if !ok {
				compiled, err := regexp.Compile(k)
				if err != nil {
					continue
				}
				t.compiled[k] = compiled
				re = compiled
			}
			if re.MatchString(val) {
				return v, true
			}
		}
		return "", false

	default: // Exact
		out, ok := t.Entries[val]
		return out, ok
	}
}
