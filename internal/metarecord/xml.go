package metarecord

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/indexcore/solrupdater/solrupdater"
)

// xmlField is one "<field name=\"...\">value</field>" element of the
// generic record wire format.
type xmlField struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlDoc struct {
	XMLName xml.Name   `xml:"record"`
	Fields  []xmlField `xml:"field"`
}

// GenericXMLRecord is a format-agnostic MetadataRecord backed by a flat
// "<record><field name=\"x\">v</field>...</record>" document. It serves
// as the reference adapter for formats that don't need bespoke field
// extraction logic.
type GenericXMLRecord struct {
	rec      solrupdater.Record
	fields   map[string][]string
	warnings []string
	parseErr error
}

// NewGenericXMLRecord parses rec.OriginalData as the generic XML shape.
// A parse failure is recorded rather than returned so that a malformed
// record can still be carried through the pipeline as a warning.
func NewGenericXMLRecord(rec solrupdater.Record) (solrupdater.MetadataRecord, error) {
	g := &GenericXMLRecord{rec: rec, fields: make(map[string][]string)}
	if len(rec.OriginalData) == 0 {
		return g, nil
	}
	var doc xmlDoc
	if err := xml.Unmarshal(rec.OriginalData, &doc); err != nil {
		g.parseErr = err
		g.warnings = append(g.warnings, fmt.Sprintf("malformed record xml: %v", err))
		return g, nil
	}
	for _, f := range doc.Fields {
		if f.Value == "" {
			continue
		}
		g.fields[f.Name] = append(g.fields[f.Name], f.Value)
	}
	return g, nil
}

func (g *GenericXMLRecord) first(name string) string {
	v := g.fields[name]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func (g *GenericXMLRecord) Format() string { return g.rec.Format }
func (g *GenericXMLRecord) Title() string  { return g.first("title") }
func (g *GenericXMLRecord) Volume() string { return g.first("volume") }
func (g *GenericXMLRecord) Issue() string  { return g.first("issue") }
func (g *GenericXMLRecord) StartPage() string {
	return g.first("start_page")
}
func (g *GenericXMLRecord) ContainerReference() string { return g.first("container_reference") }
func (g *GenericXMLRecord) ContainerTitle() string     { return g.first("container_title") }
func (g *GenericXMLRecord) IsComponentPart() bool      { return g.rec.IsComponentPart() }

// ToSolrArray returns a copy of the parsed fields, merged with the
// core bibliographic fields every format is expected to surface.
func (g *GenericXMLRecord) ToSolrArray(source string) (map[string][]string, error) {
	out := make(map[string][]string, len(g.fields)+1)
	for k, v := range g.fields {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	if _, ok := out["format"]; !ok && g.rec.Format != "" {
		out["format"] = []string{g.rec.Format}
	}
	out["recordtype"] = []string{source}
	return out, nil
}

// ToXML re-serializes the parsed fields; if the source document failed
// to parse, the original bytes are returned unchanged.
func (g *GenericXMLRecord) ToXML() ([]byte, error) {
	if g.parseErr != nil {
		return g.rec.OriginalData, nil
	}
	return g.Serialize()
}

func (g *GenericXMLRecord) Serialize() ([]byte, error) {
	doc := xmlDoc{}
	for name, values := range g.fields {
		for _, v := range values {
			doc.Fields = append(doc.Fields, xmlField{Name: name, Value: v})
		}
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MergeComponentParts unions every part's fields into a copy of g's own
// fields, tracking the latest of each part's record date.
func (g *GenericXMLRecord) MergeComponentParts(parts []solrupdater.MetadataRecord) (solrupdater.MetadataRecord, time.Time) {
	merged := &GenericXMLRecord{rec: g.rec, fields: make(map[string][]string, len(g.fields))}
	for k, v := range g.fields {
		cp := make([]string, len(v))
		copy(cp, v)
		merged.fields[k] = cp
	}

	latest := g.rec.Date
	for _, p := range parts {
		gp, ok := p.(*GenericXMLRecord)
		if !ok {
			continue
		}
		for k, v := range gp.fields {
			merged.fields[k] = append(merged.fields[k], v...)
		}
		if gp.rec.Date.After(latest) {
			latest = gp.rec.Date
		}
		merged.warnings = append(merged.warnings, gp.warnings...)
	}
	return merged, latest
}

// WorkIdentificationData reads "title"/"uniform_title"/"author" and
// their "_alt" (alternate-script) counterparts.
func (g *GenericXMLRecord) WorkIdentificationData() solrupdater.WorkIdentificationData {
	return solrupdater.WorkIdentificationData{
		Titles:           g.fields["title"],
		UniformTitles:    g.fields["uniform_title"],
		Authors:          g.fields["author"],
		AltTitles:        g.fields["title_alt"],
		AltUniformTitles: g.fields["uniform_title_alt"],
		AltAuthors:       g.fields["author_alt"],
	}
}

func (g *GenericXMLRecord) ProcessingWarnings() []string { return g.warnings }

// Normalize applies Unicode NFC normalization to every field value.
func (g *GenericXMLRecord) Normalize() {
	for k, values := range g.fields {
		for i, v := range values {
			values[i] = norm.NFC.String(v)
		}
		g.fields[k] = values
	}
}
