package metarecord

import (
	"strings"
	"testing"

	"github.com/indexcore/solrupdater/solrupdater"
)

func TestNewGenericXMLRecordParsesFields(t *testing.T) {
	raw := `<record>
		<field name="title">A Title</field>
		<field name="author">Doe, Jane</field>
		<field name="author">Roe, Richard</field>
	</record>`
	rec := solrupdater.Record{Format: "xml", OriginalData: []byte(raw)}

	mr, err := NewGenericXMLRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	g := mr.(*GenericXMLRecord)

	if g.Title() != "A Title" {
		t.Errorf("Title() = %q", g.Title())
	}
	if len(g.fields["author"]) != 2 {
		t.Errorf("authors = %v", g.fields["author"])
	}
	if g.ProcessingWarnings() != nil {
		t.Errorf("expected no warnings for well-formed xml, got %v", g.ProcessingWarnings())
	}
}

func TestNewGenericXMLRecordEmptyDataIsNoOp(t *testing.T) {
	mr, err := NewGenericXMLRecord(solrupdater.Record{Format: "xml"})
	if err != nil {
		t.Fatal(err)
	}
	g := mr.(*GenericXMLRecord)
	if g.Title() != "" {
		t.Errorf("Title() = %q, want empty for a record with no original data", g.Title())
	}
}

func TestNewGenericXMLRecordMalformedXMLRecordsWarning(t *testing.T) {
	mr, err := NewGenericXMLRecord(solrupdater.Record{Format: "xml", OriginalData: []byte("<not-closed>")})
	if err != nil {
		t.Fatal(err)
	}
	g := mr.(*GenericXMLRecord)
	if len(g.ProcessingWarnings()) == 0 {
		t.Error("expected a warning for malformed xml")
	}
}

func TestToXMLFallsBackToOriginalBytesOnParseError(t *testing.T) {
	original := []byte("<not-closed>")
	mr, err := NewGenericXMLRecord(solrupdater.Record{Format: "xml", OriginalData: original})
	if err != nil {
		t.Fatal(err)
	}
	got, err := mr.ToXML()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(original) {
		t.Errorf("ToXML() = %q, want original bytes %q", got, original)
	}
}

func TestToSolrArrayIncludesFormatAndRecordtype(t *testing.T) {
	mr, err := NewGenericXMLRecord(solrupdater.Record{Format: "marcxml"})
	if err != nil {
		t.Fatal(err)
	}
	fields, err := mr.ToSolrArray("alma")
	if err != nil {
		t.Fatal(err)
	}
	if len(fields["format"]) != 1 || fields["format"][0] != "marcxml" {
		t.Errorf("format = %v", fields["format"])
	}
	if len(fields["recordtype"]) != 1 || fields["recordtype"][0] != "alma" {
		t.Errorf("recordtype = %v", fields["recordtype"])
	}
}

func TestMergeComponentPartsUnionsFieldsAndTracksLatestDate(t *testing.T) {
	host, err := NewGenericXMLRecord(solrupdater.Record{Format: "xml", OriginalData: []byte(`<record><field name="title">Host</field></record>`)})
	if err != nil {
		t.Fatal(err)
	}

	part1raw := `<record><field name="contents">Part One</field></record>`
	part1, err := NewGenericXMLRecord(solrupdater.Record{Format: "xml", OriginalData: []byte(part1raw)})
	if err != nil {
		t.Fatal(err)
	}

	merged, _ := host.(*GenericXMLRecord).MergeComponentParts([]solrupdater.MetadataRecord{part1})
	m := merged.(*GenericXMLRecord)
	if m.Title() != "Host" {
		t.Errorf("Title() = %q, want Host preserved from the host record", m.Title())
	}
	if len(m.fields["contents"]) != 1 || m.fields["contents"][0] != "Part One" {
		t.Errorf("contents = %v, want part field merged in", m.fields["contents"])
	}
}

func TestNewRegistryFallsBackToXMLForUnknownFormat(t *testing.T) {
	mr, err := New(solrupdater.Record{Format: "totally-unregistered-format"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := mr.(*GenericXMLRecord); !ok {
		t.Errorf("expected the xml fallback adapter, got %T", mr)
	}
}

func TestSerializeProducesParsableXML(t *testing.T) {
	mr, err := NewGenericXMLRecord(solrupdater.Record{Format: "xml", OriginalData: []byte(`<record><field name="title">T</field></record>`)})
	if err != nil {
		t.Fatal(err)
	}
	out, err := mr.(*GenericXMLRecord).Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "title") {
		t.Errorf("serialized xml missing field name: %s", out)
	}
}
