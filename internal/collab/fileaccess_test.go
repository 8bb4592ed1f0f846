package collab

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fame/core/internal/analysis"
	"github.com/fame/core/internal/catalog"
	"github.com/fame/core/internal/dispatcher"
	"github.com/fame/core/internal/layout"
	"github.com/fame/core/internal/queue"
	"github.com/fame/core/internal/store"
)

func newTestEngine(t *testing.T) (*analysis.Engine, store.Store) {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	c := catalog.New()
	if err := c.Load(s); err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	d := dispatcher.New(c)
	q := queue.NewInProcess()
	return analysis.NewEngine(s, c, d, q, nil), s
}

func TestLocalFileAccessPathIsIdentity(t *testing.T) {
	f := &LocalFileAccess{}
	got, err := f.Path(context.Background(), "a1", "/data/storage/h1/sample.bin")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if got != "/data/storage/h1/sample.bin" {
		t.Fatalf("expected identity path, got %s", got)
	}
}

func TestLocalFileAccessUploadGeneratedFile(t *testing.T) {
	root := t.TempDir()
	e, s := newTestEngine(t)
	if err := s.Put(store.CollectionFiles, "f1", map[string]any{"type": "executable", "sha256": "h1"}); err != nil {
		t.Fatalf("put file: %v", err)
	}
	a, err := e.CreateAnalysis("f1", "executable", nil, nil, "user1", nil)
	if err != nil {
		t.Fatalf("CreateAnalysis: %v", err)
	}

	src := filepath.Join(root, "produced.bin")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	access := &LocalFileAccess{Layout: layout.Layout{StoragePath: filepath.Join(root, "storage")}, Engine: e}
	stored, err := access.UploadGeneratedFile(context.Background(), a.ID, "strings", "produced.bin", src)
	if err != nil {
		t.Fatalf("UploadGeneratedFile: %v", err)
	}
	data, err := os.ReadFile(stored)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected stored content: %q", data)
	}

	got, err := e.Get(a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.GeneratedFiles["strings"]) != 1 || got.GeneratedFiles["strings"][0] != stored {
		t.Fatalf("expected generated file recorded, got %v", got.GeneratedFiles)
	}
}

func TestLocalFileAccessUploadSupportFile(t *testing.T) {
	root := t.TempDir()
	e, s := newTestEngine(t)
	if err := s.Put(store.CollectionFiles, "f1", map[string]any{"type": "executable", "sha256": "h1"}); err != nil {
		t.Fatalf("put file: %v", err)
	}
	a, err := e.CreateAnalysis("f1", "executable", nil, nil, "user1", nil)
	if err != nil {
		t.Fatalf("CreateAnalysis: %v", err)
	}

	src := filepath.Join(root, "report.txt")
	if err := os.WriteFile(src, []byte("report"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	access := &LocalFileAccess{Layout: layout.Layout{StoragePath: filepath.Join(root, "storage")}, Engine: e}
	stored, err := access.UploadSupportFile(context.Background(), a.ID, "Strings", "report.txt", src)
	if err != nil {
		t.Fatalf("UploadSupportFile: %v", err)
	}

	got, err := e.Get(a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SupportFiles["Strings"]["report.txt"] != stored {
		t.Fatalf("expected support file recorded, got %v", got.SupportFiles)
	}
}
