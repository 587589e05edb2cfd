package buffer

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// DumpWriter implements Sink by appending batches to numbered
// "<prefix>-<N>.json" files instead of POSTing them to Solr (dump mode,
// spec.md §4.I). Each batch is appended under an advisory exclusive lock
// so multiple cooperating processes sharing a prefix never interleave
// writes.
type DumpWriter struct {
	prefix string

	mu      sync.Mutex
	current *os.File
	n       int
}

// NewDumpWriter prepares a dump writer rooted at prefix; the first
// allocated file is "<prefix>-<N>.json" for the smallest N not already
// claimed on disk.
func NewDumpWriter(prefix string) (*DumpWriter, error) {
	dw := &DumpWriter{prefix: prefix}
	if err := dw.allocate(); err != nil {
		return nil, err
	}
	return dw, nil
}

// allocate claims the smallest unused N via an O_CREATE|O_EXCL touch lock.
func (dw *DumpWriter) allocate() error {
	for n := 0; ; n++ {
		path := fmt.Sprintf("%s-%d.json", dw.prefix, n)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("dump writer: allocate %s: %w", path, err)
		}
		dw.current = f
		dw.n = n
		return nil
	}
}

// Submit appends body as one line to the current dump file, holding an
// exclusive flock for the duration of the write.
func (dw *DumpWriter) Submit(ctx context.Context, body []byte) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := unix.Flock(int(dw.current.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("dump writer: lock: %w", err)
	}
	defer unix.Flock(int(dw.current.Fd()), unix.LOCK_UN)

	if _, err := dw.current.Seek(0, os.SEEK_END); err != nil {
		return fmt.Errorf("dump writer: seek: %w", err)
	}
	if _, err := dw.current.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("dump writer: write: %w", err)
	}
	return nil
}

// Close closes the currently-open dump file.
func (dw *DumpWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.current.Close()
}
