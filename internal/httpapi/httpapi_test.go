package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/fame/core/internal/analysis"
	"github.com/fame/core/internal/catalog"
	"github.com/fame/core/internal/collab"
	"github.com/fame/core/internal/dispatcher"
	"github.com/fame/core/internal/layout"
	"github.com/fame/core/internal/module"
	"github.com/fame/core/internal/queue"
	"github.com/fame/core/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Put(store.CollectionModules, "E", module.Info{
		Name: "E", Class: "demo.E", Type: module.TypeProcessing, ActsOn: []string{"binary"}, Enabled: true,
	}); err != nil {
		t.Fatalf("Put module: %v", err)
	}
	c := catalog.New()
	if err := c.Load(s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := dispatcher.New(c)
	q := queue.NewInProcess()
	e := analysis.NewEngine(s, c, d, q, nil)

	srv := &Server{
		Store:      s,
		Engine:     e,
		Catalog:    c,
		Auth:       collab.StaticAuth{UserID: "tester", Groups: []string{"default"}},
		Repository: collab.NoopRepository{},
		Layout:     layout.Layout{StoragePath: t.TempDir(), TempPath: t.TempDir()},
	}
	handler := New(srv, []string{"*"})
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts, srv
}

// multipartUpload builds a multipart/form-data body with a "type" field
// (when non-empty) plus a "file" part, matching what handleUploadFile reads.
func multipartUpload(t *testing.T, fileType, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if fileType != "" {
		if err := mw.WriteField("type", fileType); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadFileCreatesAnalysis(t *testing.T) {
	ts, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "binary", "sample.bin", []byte("hello world"))
	resp, err := http.Post(ts.URL+"/files/", contentType, body)
	if err != nil {
		t.Fatalf("POST /files/: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var out struct {
		File     analysis.File     `json:"file"`
		Analysis analysis.Analysis `json:"analysis"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.File.SHA256 == "" {
		t.Fatal("expected a computed sha256")
	}
	if out.Analysis.ID == "" {
		t.Fatal("expected a created analysis id")
	}
}

func TestListModules(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/modules/")
	if err != nil {
		t.Fatalf("GET /modules/: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var mods []module.Info
	if err := json.NewDecoder(resp.Body).Decode(&mods); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(mods) != 1 || mods[0].Name != "E" {
		t.Fatalf("unexpected modules list: %v", mods)
	}
}

func TestGetAnalysisNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/analyses/does-not-exist")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGeneratedFileRoundTrip(t *testing.T) {
	ts, srv := newTestServer(t)

	if err := srv.Store.Put(store.CollectionFiles, "f1", &analysis.File{ID: "f1", Type: "binary", SHA256: "h1"}); err != nil {
		t.Fatalf("put file: %v", err)
	}
	a, err := srv.Engine.CreateAnalysis("f1", "binary", nil, nil, "tester", nil)
	if err != nil {
		t.Fatalf("CreateAnalysis: %v", err)
	}

	form := url.Values{"type": {"memory_dump"}, "filename": {"dump.bin"}}
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/analyses/"+a.ID+"/generated_file?"+form.Encode(), bytes.NewReader([]byte("dump bytes")))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST generated_file: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	got, err := srv.Engine.Get(a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.GeneratedFiles["memory_dump"]) != 1 {
		t.Fatalf("expected one memory_dump generated file, got %v", got.GeneratedFiles)
	}
}

func TestSupportFileAndGetFileRoundTrip(t *testing.T) {
	ts, srv := newTestServer(t)

	if err := srv.Store.Put(store.CollectionFiles, "f1", &analysis.File{ID: "f1", Type: "binary", SHA256: "h1"}); err != nil {
		t.Fatalf("put file: %v", err)
	}
	a, err := srv.Engine.CreateAnalysis("f1", "binary", nil, nil, "tester", nil)
	if err != nil {
		t.Fatalf("CreateAnalysis: %v", err)
	}

	form := url.Values{"filename": {"report.json"}}
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/analyses/"+a.ID+"/support_file/E?"+form.Encode(), bytes.NewReader([]byte(`{"ok":true}`)))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST support_file: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	hash := pathMD5(created["path"])
	getResp, err := http.Get(ts.URL + "/analyses/" + a.ID + "/get_file/" + hash)
	if err != nil {
		t.Fatalf("GET get_file: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
	data, err := io.ReadAll(getResp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected downloaded content: %q", data)
	}
}

func TestRepositoryUpdate(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/modules/repository/repo1/update", bytes.NewReader([]byte("zipdata")))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT repository update: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
