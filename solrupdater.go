// Package solrupdater defines the core domain interfaces shared across the
// indexing pipeline: records, dedup groups, metadata record adapters, the
// document store, and logging.
package solrupdater

import (
	"context"
	"time"
)

// Logger defines the interface for structured logging across the pipeline.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Record is a source record as persisted by the document store.
type Record struct {
	ID             string    `bson:"_id" json:"_id"`
	SourceID       string    `bson:"source_id" json:"source_id"`
	Format         string    `bson:"format" json:"format"`
	OAIID          string    `bson:"oai_id" json:"oai_id,omitempty"`
	OriginalData   []byte    `bson:"original_data" json:"-"`
	LinkingIDs     []string  `bson:"linking_id" json:"linking_id,omitempty"`
	HostRecordIDs  []string  `bson:"host_record_id" json:"host_record_id,omitempty"`
	Deleted        bool      `bson:"deleted" json:"deleted"`
	Created        time.Time `bson:"created" json:"created"`
	Updated        time.Time `bson:"updated" json:"updated"`
	DedupID        string    `bson:"dedup_id" json:"dedup_id,omitempty"`
	Date           time.Time `bson:"date" json:"date"`
}

// LocalID returns the record's source-local identifier, i.e. the part of
// the two-component "source.local" id after the first dot.
func (r Record) LocalID() string {
	for i := 0; i < len(r.ID); i++ {
		if r.ID[i] == '.' {
			return r.ID[i+1:]
		}
	}
	return r.ID
}

// IsComponentPart reports whether the record declares a host record.
func (r Record) IsComponentPart() bool {
	return len(r.HostRecordIDs) > 0
}

// DedupGroup is a set of records judged to describe the same work.
type DedupGroup struct {
	ID      string    `bson:"_id" json:"_id"`
	Members []string  `bson:"ids" json:"ids"`
	Deleted bool      `bson:"deleted" json:"deleted"`
	Changed time.Time `bson:"changed" json:"changed"`
}

// WorkIdentificationData captures the fields the Builder needs to derive
// work keys: uniform/non-uniform titles and authors, plus their alternate
// script counterparts.
type WorkIdentificationData struct {
	Titles         []string
	UniformTitles  []string
	Authors        []string
	AltTitles         []string
	AltUniformTitles  []string
	AltAuthors        []string
}

// MetadataRecord is the out-of-scope "metadata record" adapter: something
// that knows how to expose the fields of one source format and fuse
// component parts. Concrete formats register a constructor in
// internal/metarecord; internal/solrdoc talks only to this interface.
type MetadataRecord interface {
	ToSolrArray(source string) (map[string][]string, error)
	ToXML() ([]byte, error)
	Format() string
	Title() string
	Volume() string
	Issue() string
	StartPage() string
	ContainerReference() string
	ContainerTitle() string
	IsComponentPart() bool
	MergeComponentParts(parts []MetadataRecord) (merged MetadataRecord, latestDate time.Time)
	WorkIdentificationData() WorkIdentificationData
	ProcessingWarnings() []string
	Normalize()
	Serialize() ([]byte, error)
}

// MetadataRecordFactory constructs a MetadataRecord from a raw Record.
type MetadataRecordFactory func(rec Record) (MetadataRecord, error)

// QueuedIDCursor iterates dedup ids materialized by the queue manager.
type QueuedIDCursor interface {
	Next(ctx context.Context) (string, bool, error)
	Close(ctx context.Context) error
}

// RecordCursor iterates matching source records.
type RecordCursor interface {
	Next(ctx context.Context) (Record, bool, error)
	Close(ctx context.Context) error
}

// RecordFilter narrows a record scan; zero values mean "unset".
type RecordFilter struct {
	SingleID      string
	SourceID      string
	UpdatedGE     time.Time
	NoDedupID     bool
	DedupIDSet    bool
	HostRecordIDIn []string
	SourceIDIn    []string
}

// DedupFilter narrows a dedup-group scan; zero values mean "unset".
// SingleID restricts to one group id; ChangedGE restricts to groups
// whose own Changed timestamp has advanced at or after that time.
// Neither set means "every group" (stage 2's no-from-date case).
type DedupFilter struct {
	SingleID  string
	ChangedGE time.Time
}

// DedupCursor iterates matching dedup groups.
type DedupCursor interface {
	Next(ctx context.Context) (DedupGroup, bool, error)
	Close(ctx context.Context) error
}

// Store is the document store: the out-of-scope queryable record and
// dedup-group collection. internal/coordinator and internal/queue depend
// only on this interface.
type Store interface {
	FindRecords(ctx context.Context, filter RecordFilter) (RecordCursor, error)
	CountRecords(ctx context.Context, filter RecordFilter) (int64, error)
	GetRecord(ctx context.Context, id string) (Record, bool, error)
	GetDedup(ctx context.Context, id string) (DedupGroup, bool, error)
	FindDedups(ctx context.Context, filter DedupFilter) (DedupCursor, error)
	FindDedupMembers(ctx context.Context, ids []string) ([]Record, error)
	LatestRecordTimestamp(ctx context.Context) (time.Time, error)
	Reconnect(ctx context.Context) error
}

// Transform is the XSLT engine collaborator (spec.md §9 DESIGN NOTES):
// an external stylesheet processor the Builder calls when a source
// configures solrTransformation, passing the record's XML and the fixed
// {source_id, institution, format, id_prefix} parameter set, and getting
// back a complete Solr document serialized as
// "<doc><field name=\"...\">value</field>...</doc>". Implementations wrap
// whatever engine the host provides; internal/xslt ships a Lua-scripted one.
type Transform interface {
	Transform(xml []byte, params map[string]string) ([]byte, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
