package merge

import (
	"testing"

	"github.com/indexcore/solrupdater/internal/config"
	"github.com/indexcore/solrupdater/internal/solrdoc"
)

func TestCapsDamageRatio(t *testing.T) {
	tests := []struct {
		name string
		v    string
		want float64
	}{
		{"already lowercase", "hello world", 0},
		{"empty string", "", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := capsDamageRatio(tc.v); got != tc.want {
				t.Errorf("capsDamageRatio(%q) = %v, want %v", tc.v, got, tc.want)
			}
		})
	}

	if capsDamageRatio("ALL CAPS") == 0 {
		t.Error("expected a fully uppercase value to have nonzero damage ratio")
	}
}

func TestScoreRewardsFieldCountAndPenalizesCaps(t *testing.T) {
	quiet := solrdoc.Acquire()
	defer solrdoc.Release(quiet)
	quiet.SetAll("author", []string{"Smith, John"})
	quiet.SetAll("subject", []string{"History", "Europe"})

	shouty := solrdoc.Acquire()
	defer solrdoc.Release(shouty)
	shouty.SetAll("author", []string{"SMITH, JOHN"})
	shouty.SetAll("subject", []string{"HISTORY", "EUROPE"})

	fields := []string{"author", "subject"}
	quietScore := Score(quiet, fields, "A quiet title")
	shoutyScore := Score(shouty, fields, "A QUIET TITLE")

	if shoutyScore >= quietScore {
		t.Errorf("expected all-caps fields to score lower via capsRatio penalty: shouty=%v quiet=%v", shoutyScore, quietScore)
	}
}

func TestScoreEmptyFieldsIsZero(t *testing.T) {
	doc := solrdoc.Acquire()
	defer solrdoc.Release(doc)
	if got := Score(doc, []string{"author"}, "title"); got != 0 {
		t.Errorf("Score on empty fields = %v, want 0", got)
	}
}

func newChild(id string, fields map[string][]string) Child {
	doc := solrdoc.Acquire()
	for k, v := range fields {
		doc.SetAll(k, v)
	}
	return Child{ID: id, Doc: doc}
}

func TestMergeRoutesMultiValuedAndSingleFields(t *testing.T) {
	cfg := config.SolrConfig{
		ScoredFields: []string{"author"},
		MergedFields: []string{"topic_facet"},
		SingleFields: []string{"title"},
	}

	a := newChild("source1.rec1", map[string][]string{
		"title":       {"Book One"},
		"topic_facet": {"History"},
		"author":      {"Smith, John"},
	})
	b := newChild("source2.rec2", map[string][]string{
		"title":       {"Book One Alternate"},
		"topic_facet": {"Europe"},
		"author":      {"Doe, Jane"},
	})

	merged, sorted := Merge(cfg, []Child{a, b})
	defer solrdoc.Release(merged)

	if len(sorted) != 2 {
		t.Fatalf("expected 2 sorted children, got %d", len(sorted))
	}

	ids, _ := merged.Get("local_ids_str_mv")
	if len(ids) != 2 {
		t.Errorf("local_ids_str_mv = %v, want 2 ids", ids)
	}

	topics, _ := merged.Get("topic_facet")
	if len(topics) != 2 {
		t.Errorf("topic_facet = %v, want both contributors' values merged", topics)
	}

	title, ok := merged.Get("title")
	if !ok || len(title) != 1 {
		t.Errorf("title = %v, want exactly one single-field winner", title)
	}
}

func TestMergeDedupesCaseInsensitive(t *testing.T) {
	cfg := config.SolrConfig{MergedFields: []string{"topic_facet"}}

	a := newChild("s1.1", map[string][]string{"topic_facet": {"History"}})
	b := newChild("s2.2", map[string][]string{"topic_facet": {"history"}})

	merged, _ := Merge(cfg, []Child{a, b})
	defer solrdoc.Release(merged)

	topics, _ := merged.Get("topic_facet")
	if len(topics) != 1 {
		t.Errorf("topic_facet = %v, want a single case-insensitive-deduped value", topics)
	}
}

func TestMergeHierarchicalFacetsDedupeCaseSensitive(t *testing.T) {
	cfg := config.SolrConfig{
		MergedFields:       []string{"building_facet"},
		HierarchicalFacets: []string{"building_facet"},
	}

	a := newChild("s1.1", map[string][]string{"building_facet": {"0/Main/"}})
	b := newChild("s2.2", map[string][]string{"building_facet": {"0/Main/", "0/main/"}})

	merged, _ := Merge(cfg, []Child{a, b})
	defer solrdoc.Release(merged)

	facets, _ := merged.Get("building_facet")
	if len(facets) != 2 {
		t.Errorf("building_facet = %v, want both case variants preserved (hierarchical facets dedupe case-sensitively)", facets)
	}
}

func TestCopyMergedDataToChildrenUnions(t *testing.T) {
	cfg := config.SolrConfig{CopyFromMergedRecord: []string{"topic_facet"}}

	a := newChild("s1.1", map[string][]string{"topic_facet": {"History"}})
	b := newChild("s2.2", map[string][]string{"topic_facet": {"Europe"}})
	defer solrdoc.Release(a.Doc)
	defer solrdoc.Release(b.Doc)

	merged := solrdoc.Acquire()
	defer solrdoc.Release(merged)
	merged.SetAll("topic_facet", []string{"History", "Europe"})

	CopyMergedDataToChildren(cfg, merged, []Child{a, b})

	aTopics, _ := a.Doc.Get("topic_facet")
	if len(aTopics) != 2 {
		t.Errorf("child a topic_facet = %v, want merged values unioned in", aTopics)
	}
}
