// Package solrdoc implements the Solr Document Builder (§4.F): a pooled
// document type plus the 14-step buildDocument contract, grounded on the
// sync.Pool-backed DefaultMessage in pkg/message/message.go.
package solrdoc

import (
	"encoding/json"
	"strings"
	"sync"
)

// Document is a Solr update document: every field holds one or more
// string values. Obtain instances from Acquire/Release to reuse their
// backing map across build calls.
type Document struct {
	fields map[string][]string
}

var docPool = sync.Pool{
	New: func() interface{} { return &Document{fields: make(map[string][]string)} },
}

// Acquire returns a zeroed Document from the pool.
func Acquire() *Document {
	d := docPool.Get().(*Document)
	return d
}

// Release clears d and returns it to the pool.
func Release(d *Document) {
	d.Reset()
	docPool.Put(d)
}

// Reset clears all fields, keeping the backing map allocated.
func (d *Document) Reset() {
	for k := range d.fields {
		delete(d.fields, k)
	}
}

// Set assigns a single scalar value, replacing anything already stored.
func (d *Document) Set(field, value string) {
	d.fields[field] = []string{value}
}

// SetAll replaces field's values wholesale.
func (d *Document) SetAll(field string, values []string) {
	d.fields[field] = values
}

// Append adds value(s) to field, creating it if absent (§4.F step 5's
// "append-to-array semantics if the field already exists").
func (d *Document) Append(field string, values ...string) {
	d.fields[field] = append(d.fields[field], values...)
}

// Get returns field's values and whether it is set.
func (d *Document) Get(field string) ([]string, bool) {
	v, ok := d.fields[field]
	return v, ok
}

// First returns the first value of field, or "" if unset/empty.
func (d *Document) First(field string) string {
	v := d.fields[field]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Has reports whether field carries any value.
func (d *Document) Has(field string) bool {
	return len(d.fields[field]) > 0
}

// Delete removes field entirely.
func (d *Document) Delete(field string) {
	delete(d.fields, field)
}

// Fields returns the field map directly; callers in this package use it
// for in-place mutation during the build pipeline.
func (d *Document) Fields() map[string][]string {
	return d.fields
}

// Clone produces an independent copy (used when a record contributes its
// fields to multiple hierarchy parents).
func (d *Document) Clone() *Document {
	c := Acquire()
	for k, v := range d.fields {
		cp := make([]string, len(v))
		copy(cp, v)
		c.fields[k] = cp
	}
	return c
}

// MarshalJSON encodes a scalar (one value, field name not ending in
// "_mv") as a bare JSON string/number; every other field is encoded as
// an array, matching Solr's update-document field conventions.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.fields))
	for k, v := range d.fields {
		if len(v) == 1 && !strings.HasSuffix(k, "_mv") {
			out[k] = v[0]
		} else {
			out[k] = v
		}
	}
	return json.Marshal(out)
}
