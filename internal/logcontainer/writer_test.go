package logcontainer

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriterRejectsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.plog")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Close()

	if _, err := Create(path); err == nil {
		t.Fatalf("expected Create to refuse an existing file")
	}
}

func TestWriterAppendAndDeclareChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.plog")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := w.DeclareChannel(1, "ping1d:front"); err != nil {
		t.Fatalf("DeclareChannel: %v", err)
	}
	if err := w.Append(1, time.Unix(0, 1000), []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append(1, time.Unix(0, 2000), nil); err != nil {
		t.Fatalf("Append empty payload: %v", err)
	}

	if got, want := w.RecordCount(), uint64(3); got != want {
		t.Fatalf("got %d records, want %d", got, want)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	// header(5) + channel record(15+len("ping1d:front")) + two data records
	// (15+2 and 15+0).
	want := int64(5 + 15 + len("ping1d:front") + 15 + 2 + 15)
	if info.Size() != want {
		t.Fatalf("got file size %d, want %d", info.Size(), want)
	}
}

func TestWriterRejectsWriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.plog")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Close()

	if err := w.Append(1, time.Now(), []byte("x")); err == nil {
		t.Fatalf("expected error appending after Close")
	}
	if err := w.DeclareChannel(2, "vehicle"); err == nil {
		t.Fatalf("expected error declaring a channel after Close")
	}
}
