// Package merge implements the Merge Engine (§4.G): per-child scoring
// via a longest-common-subsequence similarity measure, sorted fusion
// into a composite document, and copy-back to children.
package merge

import (
	"sort"
	"strings"

	"github.com/indexcore/solrupdater/internal/config"
	"github.com/indexcore/solrupdater/internal/solrdoc"
)

// Child is one source document contributing to a dedup group, paired
// with the Solr id the builder assigned it.
type Child struct {
	ID  string
	Doc *solrdoc.Document
}

// scored pairs a child with its computed fusion-priority score.
type scored struct {
	child Child
	score float64
}

// Score computes a child's fusion-priority score: the count of values
// across scoredFields (fc), the title length (tl), and the
// case-folding-damage ratio (capsRatio) — spec.md §4.G.
func Score(doc *solrdoc.Document, scoredFields []string, title string) float64 {
	fc := 0
	var ratioSum float64
	ratioFields := 0

	for _, field := range scoredFields {
		values, ok := doc.Get(field)
		if !ok {
			continue
		}
		fc += len(values)
		for _, v := range values {
			if v == "" {
				continue
			}
			ratioFields++
			ratioSum += capsDamageRatio(v)
		}
	}

	if fc == 0 {
		return 0
	}

	capsRatio := 0.0
	if ratioFields > 0 {
		capsRatio = ratioSum / float64(ratioFields)
	}

	tl := float64(len(title))
	if capsRatio == 0 {
		return float64(fc)
	}
	return (float64(fc) + tl) / capsRatio
}

// capsDamageRatio is 1 - similarity(v, lowercase(v)) / byteLen(v): how
// much of v differs from its lowercased form, as a fraction of length.
func capsDamageRatio(v string) float64 {
	lower := strings.ToLower(v)
	if len(v) == 0 {
		return 0
	}
	sim := lcsLength(v, lower)
	return 1 - float64(sim)/float64(len(v))
}

// lcsLength computes the longest-common-subsequence length of a and b.
func lcsLength(a, b string) int {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return 0
	}
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[m]
}

// Merge fuses sorted-by-score children into one composite document per
// the field-routing rules of spec.md §4.G, returning the merged
// document plus the score-descending child order (for local_ids_str_mv
// and for copy-back).
func Merge(cfg config.SolrConfig, children []Child) (*solrdoc.Document, []Child) {
	ranked := make([]scored, len(children))
	for i, c := range children {
		title := c.Doc.First("title")
		ranked[i] = scored{child: c, score: Score(c.Doc, cfg.ScoredFields, title)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	sortedChildren := make([]Child, len(ranked))
	for i, r := range ranked {
		sortedChildren[i] = r.child
	}

	merged := solrdoc.Acquire()
	mergedSet := make(map[string]bool)

	mergedFieldSet := toSet(cfg.MergedFields)
	singleFieldSet := toSet(cfg.SingleFields)
	hierarchicalSet := toSet(cfg.HierarchicalFacets)

	for _, c := range sortedChildren {
		merged.Append("local_ids_str_mv", c.ID)

		for k, values := range c.Doc.Fields() {
			if k == "local_ids_str_mv" {
				continue
			}
			targetKey := k
			if k == "author" && cfg.AuthorAlias {
				targetKey = "author2"
			}

			switch {
			case strings.HasSuffix(k, "_mv") || mergedFieldSet[k] || (k == "author" && cfg.AuthorAlias && authorDiffers(merged, targetKey, values)):
				merged.Append(targetKey, values...)
				mergedSet[targetKey] = true

			case singleFieldSet[k] || (k == "author" && !merged.Has("author2") && !merged.Has("author")):
				if !merged.Has(targetKey) {
					merged.SetAll(targetKey, values)
				}

			case k == "allfields":
				merged.Append("allfields", values...)
			}
		}
	}

	dedupeMergedFields(merged, mergedSet, hierarchicalSet)
	if merged.Has("allfields") {
		dedupeCaseInsensitive(merged, "allfields")
	}

	return merged, sortedChildren
}

func authorDiffers(merged *solrdoc.Document, key string, incoming []string) bool {
	existing, ok := merged.Get(key)
	if !ok || len(existing) == 0 {
		return true
	}
	return !equalStrings(existing, incoming)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toSet(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, v := range list {
		m[v] = true
	}
	return m
}

// dedupeMergedFields deduplicates every field merge touched:
// case-sensitive for hierarchical facets (case encodes path depth),
// case-insensitive otherwise.
func dedupeMergedFields(doc *solrdoc.Document, touched map[string]bool, hierarchical map[string]bool) {
	for field := range touched {
		if hierarchical[field] {
			dedupeCaseSensitive(doc, field)
		} else {
			dedupeCaseInsensitive(doc, field)
		}
	}
}

func dedupeCaseSensitive(doc *solrdoc.Document, field string) {
	values, ok := doc.Get(field)
	if !ok {
		return
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	doc.SetAll(field, out)
}

func dedupeCaseInsensitive(doc *solrdoc.Document, field string) {
	values, ok := doc.Get(field)
	if !ok {
		return
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	doc.SetAll(field, out)
}

// CopyMergedDataToChildren unions each copy_from_merged_record field's
// values from merged into every child's same field.
func CopyMergedDataToChildren(cfg config.SolrConfig, merged *solrdoc.Document, children []Child) {
	for _, field := range cfg.CopyFromMergedRecord {
		values, ok := merged.Get(field)
		if !ok {
			continue
		}
		for _, c := range children {
			existing, _ := c.Doc.Get(field)
			seen := make(map[string]bool, len(existing))
			for _, v := range existing {
				seen[v] = true
			}
			union := append([]string{}, existing...)
			for _, v := range values {
				if !seen[v] {
					seen[v] = true
					union = append(union, v)
				}
			}
			c.Doc.SetAll(field, union)
		}
	}
}
