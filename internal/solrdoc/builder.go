package solrdoc

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/indexcore/solrupdater/internal/config"
	"github.com/indexcore/solrupdater/internal/enrichment"
	"github.com/indexcore/solrupdater/internal/mapping"
	"github.com/indexcore/solrupdater/internal/metarecord"
	"github.com/indexcore/solrupdater/solrupdater"
)

// ErrSkip is returned by Build when the record must not be indexed at
// all (step 1's hidden-component-part short-circuit).
var ErrSkip = errors.New("solrdoc: record skipped")

var excludedFromAllfields = map[string]bool{
	"fullrecord": true, "thumbnail": true, "id": true,
	"recordtype": true, "record_format": true, "ctrlnum": true,
}

// digitWord maps "0".."9" to the "ax".."jx" substitution used by
// formatInAllfields (step 10) to keep analyzers from splitting on
// digit/letter boundaries.
var digitWord = map[byte]string{
	'0': "ax", '1': "bx", '2': "cx", '3': "dx", '4': "ex",
	'5': "fx", '6': "gx", '7': "hx", '8': "ix", '9': "jx",
}

// Deps bundles the collaborators Build needs beyond its plain inputs.
type Deps struct {
	Store     solrupdater.Store
	Mapper    *mapping.Mapper
	Bridge    *enrichment.Bridge
	Clock     solrupdater.Clock
	Transform solrupdater.Transform
}

// Input is everything Build needs to know about one record.
type Input struct {
	Record    solrupdater.Record
	Meta      solrupdater.MetadataRecord
	Dedup     *solrupdater.DedupGroup
	SourceID  string
	SourceCfg config.DataSourceSettings
	SolrCfg   config.SolrConfig
}

// Build implements the 14-step buildDocument contract (spec.md §4.F).
// It returns ErrSkip itself (not wrapped) when the record must not be indexed.
func Build(ctx context.Context, in Input, deps Deps) (*Document, int, error) {
	mergedComponentCount := 0
	var warnings []string

	// Step 1: hidden component parts.
	if in.Record.IsComponentPart() && !in.SourceCfg.IndexMergedPartsEnabled() {
		return nil, 0, ErrSkip
	}

	meta := in.Meta

	// Step 2: component-part merge.
	if !in.Record.IsComponentPart() && len(in.Record.LinkingIDs) > 0 && deps.Store != nil {
		filter := solrupdater.RecordFilter{HostRecordIDIn: in.Record.LinkingIDs}
		if len(in.SourceCfg.ComponentPartSourceID) > 0 {
			filter.SourceIDIn = in.SourceCfg.ComponentPartSourceID
		} else {
			filter.SourceID = in.SourceID
		}
		parts, err := collectParts(ctx, deps.Store, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("solrdoc: find component parts: %w", err)
		}
		if len(parts) > 0 && shouldMergeComponentParts(in.SourceCfg.ComponentParts, meta.Format(), in.SolrCfg) {
			merged, latest := meta.MergeComponentParts(parts)
			if latest.After(in.Record.Date) {
				in.Record.Date = latest
			}
			meta = merged
			mergedComponentCount++
		}
	}

	// Step 3: transform. A configured solrTransformation is handed to the
	// XSLT collaborator; only when none is wired do we fall back to the
	// metadata record's native toSolrArray.
	var fields map[string][]string
	if in.SourceCfg.SolrTransformation != "" && deps.Transform != nil {
		xmlBytes, err := meta.ToXML()
		if err != nil {
			return nil, 0, fmt.Errorf("solrdoc: xslt source xml: %w", err)
		}
		params := map[string]string{
			"source_id":   in.SourceID,
			"institution": in.SourceCfg.Institution,
			"format":      meta.Format(),
			"id_prefix":   idPrefix(in.SourceCfg, in.SourceID),
		}
		out, err := deps.Transform.Transform(xmlBytes, params)
		if err != nil {
			return nil, 0, fmt.Errorf("solrdoc: xslt transform %q: %w", in.SourceCfg.SolrTransformation, err)
		}
		fields, err = parseTransformedDoc(out)
		if err != nil {
			return nil, 0, fmt.Errorf("solrdoc: parse transformed doc: %w", err)
		}
	} else {
		if in.SourceCfg.SolrTransformation != "" {
			warnings = append(warnings, fmt.Sprintf("solrTransformation %q is configured but no XSLT collaborator is wired; falling back to native toSolrArray", in.SourceCfg.SolrTransformation))
		}
		var err error
		fields, err = meta.ToSolrArray(in.SourceID)
		if err != nil {
			return nil, 0, fmt.Errorf("solrdoc: toSolrArray: %w", err)
		}
	}
	doc := Acquire()
	for k, v := range fields {
		doc.SetAll(k, v)
	}
	if deps.Bridge != nil {
		if err := deps.Bridge.Run(ctx, in.SourceID, nil, specEnrichments(in.SourceCfg.Enrichments), meta, doc.Fields()); err != nil {
			return nil, 0, fmt.Errorf("solrdoc: enrich: %w", err)
		}
	}

	// Step 4: identity and linkage.
	solrID := createSolrID(in.Record.ID, in.SourceCfg.IndexUnprefixedIDs)
	doc.Set("id", solrID)
	if in.Dedup != nil {
		doc.Set(in.SolrCfg.FieldOverrides.DedupIDField, in.Dedup.ID)
	}

	if in.Record.IsComponentPart() {
		foundHost := false
		for _, hostID := range in.Record.HostRecordIDs {
			host, ok, err := deps.Store.GetRecord(ctx, hostID)
			if err != nil {
				return nil, 0, fmt.Errorf("solrdoc: resolve host %q: %w", hostID, err)
			}
			if !ok {
				continue
			}
			foundHost = true
			hostSolrID := createSolrID(host.ID, in.SourceCfg.IndexUnprefixedIDs)
			doc.Append(in.SolrCfg.FieldOverrides.HierarchyParentIDField, hostSolrID)
			hostTitle := ""
			if hostMeta, err := metarecord.New(host); err == nil {
				hostTitle = hostMeta.Title()
			}
			doc.Append(in.SolrCfg.FieldOverrides.HierarchyParentTitleField, hostTitle)
		}
		if !foundHost {
			warnings = append(warnings, fmt.Sprintf("record %q declares a host record but none could be resolved", in.Record.ID))
			doc.Set(in.SolrCfg.FieldOverrides.ContainerTitleField, meta.Title())
		}
		doc.Set(in.SolrCfg.FieldOverrides.ContainerVolumeField, meta.Volume())
		doc.Set(in.SolrCfg.FieldOverrides.ContainerIssueField, meta.Issue())
		doc.Set(in.SolrCfg.FieldOverrides.ContainerStartPageField, meta.StartPage())
		doc.Set(in.SolrCfg.FieldOverrides.ContainerReferenceField, meta.ContainerReference())
	} else if topField := in.SolrCfg.FieldOverrides.HierarchyTopIDField; topField != "" {
		if raw, ok := doc.Get(topField); ok {
			mapped := make([]string, len(raw))
			for i, v := range raw {
				mapped[i] = createSolrID(v, in.SourceCfg.IndexUnprefixedIDs)
			}
			doc.SetAll(topField, mapped)
		}
	}

	if mergedComponentCount > 0 {
		doc.Set(in.SolrCfg.FieldOverrides.IsHierarchyIDField, solrID)
		doc.Set(in.SolrCfg.FieldOverrides.IsHierarchyTitleField, meta.Title())
	}

	// Step 5: defaults and extras.
	if !doc.Has("institution") && in.SourceCfg.Institution != "" {
		doc.Set("institution", in.SourceCfg.Institution)
	}
	for _, kv := range in.SourceCfg.ExtraFields {
		name, value, ok := strings.Cut(kv, ":")
		if !ok {
			continue
		}
		doc.Append(name, value)
	}

	// Step 6: building pipeline.
	applyBuilding := func() {
		addInstitutionToBuilding(doc, in.SourceCfg, in.SourceID)
	}
	if in.SourceCfg.AddInstitutionToBuildingBeforeMapping {
		applyBuilding()
		if deps.Mapper != nil {
			deps.Mapper.MapValues(in.SourceID, doc.Fields())
		}
	} else {
		if deps.Mapper != nil {
			deps.Mapper.MapValues(in.SourceID, doc.Fields())
		}
		applyBuilding()
	}

	// Step 7: hierarchical facet expansion.
	for _, facet := range in.SolrCfg.HierarchicalFacets {
		expandHierarchicalFacet(doc, facet)
	}

	// Step 8: allfields synthesis.
	if !doc.Has("allfields") {
		doc.SetAll("allfields", synthesizeAllfields(doc))
	}

	// Step 9: timestamps.
	doc.Set("first_indexed", in.Record.Created.UTC().Format(time.RFC3339))
	doc.Set("last_indexed", in.Record.Date.UTC().Format(time.RFC3339))
	if !doc.Has("fullrecord") {
		if xmlBytes, err := meta.ToXML(); err == nil {
			doc.Set("fullrecord", string(xmlBytes))
		}
	}

	// Step 10: format in allfields.
	if in.SolrCfg.FormatInAllFields {
		if formats, ok := doc.Get("format"); ok {
			all := doc.Fields()["allfields"]
			for _, f := range formats {
				all = append(all, substituteDigits(strings.ToLower(f)))
			}
			doc.SetAll("allfields", all)
		}
	}

	// Step 11: hidden marker. Records reaching this point are either not
	// component parts, or are component parts indexed alongside their
	// merged host (step 1 already skipped the fully-hidden case).
	if in.Record.IsComponentPart() {
		doc.Set("hidden_component_boolean", "true")
	}

	// Step 12: work keys.
	buildWorkKeys(doc, meta.WorkIdentificationData(), in.SolrCfg.FieldOverrides.WorkKeysField)

	// Step 13: normalization and cleanup.
	normalizeAndClean(doc, in.SolrCfg.UnicodeNormalizationForm, in.SolrCfg.HierarchicalFacets)

	// Step 14: warnings.
	allWarnings := append(append([]string{}, warnings...), meta.ProcessingWarnings()...)
	if len(allWarnings) > 0 && in.SolrCfg.WarningsField != "" {
		doc.SetAll(in.SolrCfg.WarningsField, allWarnings)
	}

	return doc, mergedComponentCount, nil
}

// idPrefix resolves the id_prefix parameter the XSLT transform receives:
// a source's own override, falling back to the source id itself.
func idPrefix(cfg config.DataSourceSettings, sourceID string) string {
	if cfg.IDPrefix != "" {
		return cfg.IDPrefix
	}
	return sourceID
}

// transformedField and transformedDoc decode the XSLT collaborator's
// output, "<doc><field name=\"...\">value</field>...</doc>" — the same
// flat wire shape metarecord.GenericXMLRecord produces on the way in,
// mirrored here on the way out.
type transformedField struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type transformedDoc struct {
	XMLName xml.Name            `xml:"doc"`
	Fields  []transformedField  `xml:"field"`
}

func parseTransformedDoc(data []byte) (map[string][]string, error) {
	var doc transformedDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	fields := make(map[string][]string, len(doc.Fields))
	for _, f := range doc.Fields {
		if f.Value == "" {
			continue
		}
		fields[f.Name] = append(fields[f.Name], f.Value)
	}
	return fields, nil
}

func collectParts(ctx context.Context, store solrupdater.Store, filter solrupdater.RecordFilter) ([]solrupdater.MetadataRecord, error) {
	cursor, err := store.FindRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []solrupdater.MetadataRecord
	for {
		rec, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		mr, err := metarecord.New(rec)
		if err != nil {
			continue
		}
		out = append(out, mr)
	}
	return out, nil
}

func shouldMergeComponentParts(policy, format string, cfg config.SolrConfig) bool {
	switch policy {
	case "merge_all":
		return true
	case "merge_non_earticles":
		return !contains(cfg.EJournalFormats, format)
	case "as_is":
		return false
	default:
		return !contains(cfg.JournalFormats, format)
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

// createSolrID builds the two-part "source.local" Solr id, stripping the
// source prefix when stripPrefix is set.
func createSolrID(recordID string, stripPrefix bool) string {
	if !stripPrefix {
		return recordID
	}
	for i := 0; i < len(recordID); i++ {
		if recordID[i] == '.' {
			return recordID[i+1:]
		}
	}
	return recordID
}

func addInstitutionToBuilding(doc *Document, src config.DataSourceSettings, sourceID string) {
	var prefix string
	switch src.InstitutionInBuilding {
	case "institution":
		prefix = src.Institution
	case "source":
		prefix = sourceID
	case "institution/source":
		prefix = src.Institution + "/" + sourceID
	case "driver", "none", "":
		return
	default:
		prefix = src.InstitutionInBuilding
	}
	if prefix == "" {
		return
	}
	existing, ok := doc.Get("building")
	if !ok || len(existing) == 0 {
		doc.Set("building", prefix)
		return
	}
	updated := make([]string, len(existing))
	for i, b := range existing {
		updated[i] = prefix + "/" + b
	}
	doc.SetAll("building", updated)
}

func expandHierarchicalFacet(doc *Document, field string) {
	values, ok := doc.Get(field)
	if !ok {
		return
	}
	var expanded []string
	for _, v := range values {
		parts := strings.Split(v, "/")
		acc := ""
		for depth, p := range parts {
			if acc == "" {
				acc = p
			} else {
				acc = acc + "/" + p
			}
			expanded = append(expanded, fmt.Sprintf("%d/%s/", depth, acc))
		}
	}
	doc.SetAll(field, expanded)
}

func synthesizeAllfields(doc *Document) []string {
	seen := make(map[string]bool)
	var out []string
	for field, values := range doc.Fields() {
		if excludedFromAllfields[field] {
			continue
		}
		for _, v := range values {
			key := strings.ToLower(v)
			if v == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func substituteDigits(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if w, ok := digitWord[s[i]]; ok {
			b.WriteString(w)
		} else {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func buildWorkKeys(doc *Document, wd solrupdater.WorkIdentificationData, field string) {
	if field == "" {
		return
	}
	if len(wd.Titles) == 0 && len(wd.Authors) == 0 {
		return
	}
	var keys []string
	for _, t := range wd.UniformTitles {
		keys = append(keys, "UT "+normalizeKey(t))
	}
	for _, t := range wd.Titles {
		for _, a := range wd.Authors {
			keys = append(keys, "AT "+normalizeKey(a)+" "+normalizeKey(t))
		}
	}
	for _, t := range wd.AltUniformTitles {
		keys = append(keys, "UT "+normalizeKey(t))
	}
	for _, t := range wd.AltTitles {
		for _, a := range wd.AltAuthors {
			keys = append(keys, "AT "+normalizeKey(a)+" "+normalizeKey(t))
		}
	}
	if len(keys) > 0 {
		doc.Append(field, keys...)
	}
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeAndClean(doc *Document, normForm string, hierarchicalFacets []string) {
	hierarchical := make(map[string]bool, len(hierarchicalFacets))
	for _, f := range hierarchicalFacets {
		hierarchical[f] = true
	}

	normalizer := pickNormalizer(normForm)

	for field, values := range doc.Fields() {
		if field == "fullrecord" {
			continue
		}
		if len(values) == 1 {
			v := normalizer(values[0])
			if v == "" || v == "0" {
				doc.Delete(field)
			} else {
				doc.Set(field, v)
			}
			continue
		}

		seen := make(map[string]bool, len(values))
		out := make([]string, 0, len(values))
		for _, v := range values {
			v = normalizer(v)
			if v == "" || v == "0" {
				continue
			}
			key := v
			if !hierarchical[field] && field != "allfields" {
				key = strings.ToLower(v)
			}
			if field == "allfields" {
				key = strings.ToLower(v)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
		if len(out) == 0 {
			doc.Delete(field)
		} else {
			doc.SetAll(field, out)
		}
	}
}

func pickNormalizer(form string) func(string) string {
	switch strings.ToUpper(form) {
	case "NFD":
		return norm.NFD.String
	case "NFKC":
		return norm.NFKC.String
	case "NFKD":
		return norm.NFKD.String
	case "NONE", "":
		return func(s string) string { return s }
	default:
		return norm.NFC.String
	}
}

// specEnrichments adapts a flat enrichment-name list into enrichment.Spec
// values with no options (per-source config in this corpus carries only
// names; named enrichers read their own tuning from environment/config
// at construction time).
func specEnrichments(names []string) []enrichment.Spec {
	specs := make([]enrichment.Spec, len(names))
	for i, n := range names {
		specs[i] = enrichment.Spec{Name: n}
	}
	return specs
}
