package buffer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDumpWriterAllocatesSmallestUnusedN(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "dump")

	if _, err := os.Create(prefix + "-0.json"); err != nil {
		t.Fatal(err)
	}

	dw, err := NewDumpWriter(prefix)
	if err != nil {
		t.Fatal(err)
	}
	defer dw.Close()

	if dw.n != 1 {
		t.Errorf("n = %d, want 1 (file 0 already claimed)", dw.n)
	}
}

func TestDumpWriterSubmitAppends(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "dump")

	dw, err := NewDumpWriter(prefix)
	if err != nil {
		t.Fatal(err)
	}
	defer dw.Close()

	ctx := context.Background()
	if err := dw.Submit(ctx, []byte(`{"id":"1"}`)); err != nil {
		t.Fatal(err)
	}
	if err := dw.Submit(ctx, []byte(`{"id":"2"}`)); err != nil {
		t.Fatal(err)
	}

	contents, err := os.ReadFile(prefix + "-0.json")
	if err != nil {
		t.Fatal(err)
	}
	want := "{\"id\":\"1\"}\n{\"id\":\"2\"}\n"
	if string(contents) != want {
		t.Errorf("dump file contents = %q, want %q", contents, want)
	}
}
