package remotefile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T, content []byte) (*httptest.Server, *int32) {
	t.Helper()
	var downloads int32
	mux := http.NewServeMux()
	mux.HandleFunc("/analyses/a1/get_file/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		atomic.AddInt32(&downloads, 1)
		w.Write(content)
	})
	mux.HandleFunc("/analyses/a1/generated_file", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") == "" || r.URL.Query().Get("filename") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != string(content) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"path":"/store/generated/%s"}`, r.URL.Query().Get("filename"))
	})
	mux.HandleFunc("/analyses/a1/support_file/Strings", func(w http.ResponseWriter, r *http.Request) {
		io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"path":"/store/support/%s"}`, r.URL.Query().Get("filename"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &downloads
}

func TestFetchDownloadsAndCaches(t *testing.T) {
	srv, downloads := newTestServer(t, []byte("payload"))
	c := &Cache{BaseURL: srv.URL, APIKey: "secret", Dir: t.TempDir()}

	path, err := c.Fetch(context.Background(), "a1", "/original/sample.bin")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cached file: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected content: %q", data)
	}
	if filepath.Base(path) != PathHash("/original/sample.bin") {
		t.Fatalf("expected cache file named by path hash, got %s", path)
	}

	if _, err := c.Fetch(context.Background(), "a1", "/original/sample.bin"); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if atomic.LoadInt32(downloads) != 1 {
		t.Fatalf("expected exactly one download, got %d", atomic.LoadInt32(downloads))
	}
}

func TestFetchConcurrentWaitsForSingleDownload(t *testing.T) {
	srv, downloads := newTestServer(t, []byte("payload"))
	c := &Cache{BaseURL: srv.URL, APIKey: "secret", Dir: t.TempDir(), PollInterval: 10 * time.Millisecond}

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Fetch(context.Background(), "a1", "/original/shared.bin"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Fetch failed: %v", err)
	}
	if got := atomic.LoadInt32(downloads); got != 1 {
		t.Fatalf("expected exactly one download across concurrent fetchers, got %d", got)
	}
}

func TestUploadGeneratedFile(t *testing.T) {
	srv, _ := newTestServer(t, []byte("generated"))
	c := &Cache{BaseURL: srv.URL, APIKey: "secret", Dir: t.TempDir()}

	local := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(local, []byte("generated"), 0o644); err != nil {
		t.Fatalf("write local: %v", err)
	}

	path, err := c.UploadGeneratedFile(context.Background(), "a1", "strings", "out.bin", local)
	if err != nil {
		t.Fatalf("UploadGeneratedFile: %v", err)
	}
	if path != "/store/generated/out.bin" {
		t.Fatalf("unexpected stored path: %s", path)
	}
}

func TestUploadSupportFile(t *testing.T) {
	srv, _ := newTestServer(t, []byte("report"))
	c := &Cache{BaseURL: srv.URL, APIKey: "secret", Dir: t.TempDir()}

	local := filepath.Join(t.TempDir(), "report.txt")
	if err := os.WriteFile(local, []byte("report"), 0o644); err != nil {
		t.Fatalf("write local: %v", err)
	}

	path, err := c.UploadSupportFile(context.Background(), "a1", "Strings", "report.txt", local)
	if err != nil {
		t.Fatalf("UploadSupportFile: %v", err)
	}
	if path != "/store/support/report.txt" {
		t.Fatalf("unexpected stored path: %s", path)
	}
}
