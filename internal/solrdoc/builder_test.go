package solrdoc

import (
	"context"
	"reflect"
	"testing"

	"github.com/indexcore/solrupdater/internal/config"
	"github.com/indexcore/solrupdater/internal/metarecord"
	"github.com/indexcore/solrupdater/solrupdater"
)

func TestCreateSolrID(t *testing.T) {
	tests := []struct {
		name        string
		id          string
		stripPrefix bool
		want        string
	}{
		{"kept prefix", "alma.12345", false, "alma.12345"},
		{"stripped prefix", "alma.12345", true, "12345"},
		{"no dot to strip", "12345", true, "12345"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := createSolrID(tc.id, tc.stripPrefix); got != tc.want {
				t.Errorf("createSolrID(%q, %v) = %q, want %q", tc.id, tc.stripPrefix, got, tc.want)
			}
		})
	}
}

func TestExpandHierarchicalFacet(t *testing.T) {
	doc := Acquire()
	defer Release(doc)
	doc.SetAll("building_facet", []string{"Main/Floor1"})

	expandHierarchicalFacet(doc, "building_facet")

	got, _ := doc.Get("building_facet")
	want := []string{"0/Main/", "1/Main/Floor1/"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("building_facet = %v, want %v", got, want)
	}
}

func TestSynthesizeAllfieldsExcludesAndDedupes(t *testing.T) {
	doc := Acquire()
	defer Release(doc)
	doc.Set("id", "should-be-excluded")
	doc.Set("title", "A Title")
	doc.SetAll("subject", []string{"History", "history"})

	got := synthesizeAllfields(doc)
	for _, v := range got {
		if v == "should-be-excluded" {
			t.Error("allfields should not include the excluded id field's value")
		}
	}
	count := 0
	for _, v := range got {
		if v == "History" || v == "history" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected case-insensitive dedup to keep exactly one of History/history, got %d", count)
	}
}

func TestSubstituteDigits(t *testing.T) {
	if got := substituteDigits("abc123"); got != "abcbxcxdx" {
		t.Errorf("substituteDigits(abc123) = %q, want abcbxcxdx", got)
	}
}

func TestAddInstitutionToBuildingPrefixesExisting(t *testing.T) {
	doc := Acquire()
	defer Release(doc)
	doc.Set("building", "Main")

	addInstitutionToBuilding(doc, config.DataSourceSettings{InstitutionInBuilding: "source"}, "alma")

	got := doc.First("building")
	if got != "alma/Main" {
		t.Errorf("building = %q, want alma/Main", got)
	}
}

func TestAddInstitutionToBuildingNoPolicyIsNoOp(t *testing.T) {
	doc := Acquire()
	defer Release(doc)
	doc.Set("building", "Main")

	addInstitutionToBuilding(doc, config.DataSourceSettings{InstitutionInBuilding: "none"}, "alma")

	if doc.First("building") != "Main" {
		t.Errorf("building = %q, want unchanged Main", doc.First("building"))
	}
}

func TestIDPrefixFallsBackToSourceID(t *testing.T) {
	if got := idPrefix(config.DataSourceSettings{}, "alma"); got != "alma" {
		t.Errorf("idPrefix with no override = %q, want source id alma", got)
	}
	if got := idPrefix(config.DataSourceSettings{IDPrefix: "custom"}, "alma"); got != "custom" {
		t.Errorf("idPrefix with override = %q, want custom", got)
	}
}

func TestParseTransformedDocReadsFields(t *testing.T) {
	got, err := parseTransformedDoc([]byte(`<doc><field name="title">A Tale</field><field name="author">Someone</field></doc>`))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]string{"title": {"A Tale"}, "author": {"Someone"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseTransformedDoc = %+v, want %+v", got, want)
	}
}

func TestParseTransformedDocSkipsEmptyValues(t *testing.T) {
	got, err := parseTransformedDoc([]byte(`<doc><field name="title"></field></doc>`))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got = %+v, want no fields from an empty value", got)
	}
}

// fakeTransform is a stand-in XSLT collaborator recording what it was
// called with and returning a fixed transformed document.
type fakeTransform struct {
	gotXML    []byte
	gotParams map[string]string
	out       []byte
	err       error
}

func (f *fakeTransform) Transform(xml []byte, params map[string]string) ([]byte, error) {
	f.gotXML = xml
	f.gotParams = params
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestBuildUsesTransformCollaboratorWhenConfigured(t *testing.T) {
	rec := solrupdater.Record{ID: "src.1", SourceID: "src", Format: "xml"}
	meta, err := metarecord.New(rec)
	if err != nil {
		t.Fatal(err)
	}

	ft := &fakeTransform{out: []byte(`<doc><field name="title">Transformed Title</field></doc>`)}
	doc, _, err := Build(context.Background(), Input{
		Record:   rec,
		Meta:     meta,
		SourceID: "src",
		SourceCfg: config.DataSourceSettings{
			SolrTransformation: "stylesheet.lua",
			Institution:        "MyInst",
		},
	}, Deps{Transform: ft})
	if err != nil {
		t.Fatal(err)
	}
	defer Release(doc)

	if doc.First("title") != "Transformed Title" {
		t.Errorf("title = %q, want the transform collaborator's output", doc.First("title"))
	}
	if ft.gotParams["source_id"] != "src" || ft.gotParams["institution"] != "MyInst" {
		t.Errorf("params passed to Transform = %+v, want source_id/institution set", ft.gotParams)
	}
}

func TestBuildFallsBackWhenNoTransformWired(t *testing.T) {
	rec := solrupdater.Record{ID: "src.1", SourceID: "src", Format: "xml"}
	meta, err := metarecord.New(rec)
	if err != nil {
		t.Fatal(err)
	}

	doc, _, err := Build(context.Background(), Input{
		Record:    rec,
		Meta:      meta,
		SourceID:  "src",
		SourceCfg: config.DataSourceSettings{SolrTransformation: "stylesheet.lua"},
		SolrCfg:   config.SolrConfig{WarningsField: "warnings"},
	}, Deps{})
	if err != nil {
		t.Fatal(err)
	}
	defer Release(doc)

	if doc.First("recordtype") != "src" {
		t.Errorf("recordtype = %q, want src (fell back to native toSolrArray)", doc.First("recordtype"))
	}
	if got := doc.Fields()["warnings"]; len(got) != 1 {
		t.Errorf("warnings = %v, want one warning about the unwired transform", got)
	}
}

func TestShouldMergeComponentParts(t *testing.T) {
	cfg := config.SolrConfig{JournalFormats: []string{"Journal"}, EJournalFormats: []string{"EJournal"}}

	tests := []struct {
		policy string
		format string
		want   bool
	}{
		{"merge_all", "Journal", true},
		{"as_is", "Book", false},
		{"merge_non_earticles", "EJournal", false},
		{"merge_non_earticles", "Book", true},
		{"", "Journal", false},
		{"", "Book", true},
	}
	for _, tc := range tests {
		if got := shouldMergeComponentParts(tc.policy, tc.format, cfg); got != tc.want {
			t.Errorf("shouldMergeComponentParts(%q, %q) = %v, want %v", tc.policy, tc.format, got, tc.want)
		}
	}
}

func TestBuildWorkKeysCombinesTitleAndAuthor(t *testing.T) {
	doc := Acquire()
	defer Release(doc)

	wd := solrupdater.WorkIdentificationData{
		Titles:  []string{"The Title"},
		Authors: []string{"Smith, John"},
	}
	buildWorkKeys(doc, wd, "work_keys_str_mv")

	keys, ok := doc.Get("work_keys_str_mv")
	if !ok || len(keys) != 1 {
		t.Fatalf("work_keys_str_mv = %v, want exactly one key", keys)
	}
	if keys[0] != "AT smith, john the title" {
		t.Errorf("work key = %q, want %q", keys[0], "AT smith, john the title")
	}
}

func TestBuildWorkKeysEmptyIsNoOp(t *testing.T) {
	doc := Acquire()
	defer Release(doc)
	buildWorkKeys(doc, solrupdater.WorkIdentificationData{}, "work_keys_str_mv")
	if doc.Has("work_keys_str_mv") {
		t.Error("expected no work_keys_str_mv field when titles/authors are empty")
	}
}

func TestNormalizeAndCleanDropsZeroAndEmpty(t *testing.T) {
	doc := Acquire()
	defer Release(doc)
	doc.Set("isbn", "0")
	doc.Set("title", "Kept")
	doc.SetAll("subject", []string{"A", "a", ""})

	normalizeAndClean(doc, "", nil)

	if doc.Has("isbn") {
		t.Error("expected the sentinel \"0\" value to be dropped")
	}
	if doc.First("title") != "Kept" {
		t.Errorf("title = %q, want Kept", doc.First("title"))
	}
	subjects, _ := doc.Get("subject")
	if len(subjects) != 1 {
		t.Errorf("subject = %v, want a single case-insensitive-deduped value with empties dropped", subjects)
	}
}
