package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/anikeev/taiga"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "taiga.db"))
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPutGetAttachment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	att := taiga.Attachment{FileID: "f1", Type: "image/png", Data: []byte{0x89, 0x50, 0x4e, 0x47}}
	if err := s.Put(ctx, taiga.PartitionAttachments, "f1", att); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, taiga.PartitionAttachments, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != "image/png" || string(got.Data) != string(att.Data) {
		t.Errorf("Get = %+v", got)
	}
	if got.FileID != "f1" {
		t.Errorf("FileID = %q", got.FileID)
	}
}

func TestGetWrongPartition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, taiga.PartitionHTML, "page", taiga.Attachment{Type: "text/html", Data: []byte("<html>")}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, taiga.PartitionAudio, "page"); err == nil {
		t.Error("cross-partition read succeeded")
	}
	if _, err := s.Get(ctx, taiga.PartitionHTML, "missing"); err == nil {
		t.Error("missing key read succeeded")
	}
}

func TestExecutionLogOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, data := range []string{`{"n":0}`, `{"n":1}`, `{"n":2}`} {
		if err := s.Append(ctx, "kernel-1", taiga.LogEntry{Data: []byte(data), Message: "сохранено"}); err != nil {
			t.Fatal(err)
		}
	}
	// Entries of another session must not interleave.
	if err := s.Append(ctx, "kernel-2", taiga.LogEntry{Data: []byte(`{"other":true}`)}); err != nil {
		t.Fatal(err)
	}

	for i, want := range []string{`{"n":0}`, `{"n":1}`, `{"n":2}`} {
		entry, err := s.Entry(ctx, "kernel-1", i)
		if err != nil {
			t.Fatal(err)
		}
		if string(entry.Data) != want {
			t.Errorf("entry %d = %s, want %s", i, entry.Data, want)
		}
	}
	if _, err := s.Entry(ctx, "kernel-1", 3); err == nil {
		t.Error("out-of-range index read succeeded")
	}
	if entry, err := s.Entry(ctx, "kernel-2", 0); err != nil || string(entry.Data) != `{"other":true}` {
		t.Errorf("kernel-2 entry = %v, %v", entry, err)
	}
}

func TestInitIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
}
