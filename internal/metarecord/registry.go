// Package metarecord provides the format registry for MetadataRecord
// adapters (dynamic dispatch by format string rather than the teacher's
// compile-time type switch in internal/engine/factory.go) plus a
// reference XML-backed implementation.
package metarecord

import (
	"fmt"
	"sync"

	"github.com/indexcore/solrupdater/solrupdater"
)

var (
	mu       sync.RWMutex
	registry = make(map[string]solrupdater.MetadataRecordFactory)
)

// Register associates a format name (as found in Record.Format) with a
// constructor. Concrete format packages call this from init().
func Register(format string, factory solrupdater.MetadataRecordFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[format] = factory
}

// New builds the MetadataRecord for rec using the constructor registered
// for rec.Format.
func New(rec solrupdater.Record) (solrupdater.MetadataRecord, error) {
	mu.RLock()
	factory, ok := registry[rec.Format]
	mu.RUnlock()
	if !ok {
		factory, ok = registry["xml"]
		if !ok {
			return nil, fmt.Errorf("metarecord: no constructor registered for format %q", rec.Format)
		}
	}
	return factory(rec)
}

func init() {
	Register("xml", NewGenericXMLRecord)
	Register("marcxml", NewGenericXMLRecord)
	Register("dc", NewGenericXMLRecord)
}
