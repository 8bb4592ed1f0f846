package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fame/core/internal/agentproto"
)

type stubRunner struct {
	payload agentproto.ResultsPayload
	err     error
}

func (r *stubRunner) Run(ctx context.Context, moduleSource []byte, name string, config map[string]any, targetPath, targetType string) (agentproto.ResultsPayload, error) {
	return r.payload, r.err
}

func TestFullTaskProtocol(t *testing.T) {
	runner := &stubRunner{payload: agentproto.ResultsPayload{
		Results:       map[string]any{"verdict": "clean"},
		ShouldRestore: false,
		Internal: agentproto.InternalResults{
			Tags:   []string{"scanned"},
			Result: true,
		},
	}}
	srv := httptest.NewServer(NewServer(t.TempDir(), runner))
	defer srv.Close()
	client := srv.Client()

	var newTask agentproto.NewTaskResponse
	getJSON(t, client, srv.URL+"/new_task", &newTask)
	if newTask.TaskID == "" {
		t.Fatal("expected a non-empty task id")
	}
	taskURL := srv.URL + "/" + newTask.TaskID

	resp, err := client.Post(taskURL+"/module_update", "application/octet-stream", bytes.NewReader([]byte("package main")))
	if err != nil {
		t.Fatalf("module_update: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("module_update status: %d", resp.StatusCode)
	}

	infoBody, _ := json.Marshal(agentproto.ModuleUpdateInfoRequest{Name: "Scan", Config: map[string]any{"verbose": true}})
	resp, err = client.Post(taskURL+"/module_update_info", "application/json", bytes.NewReader(infoBody))
	if err != nil {
		t.Fatalf("module_update_info: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("module_update_info status: %d", resp.StatusCode)
	}

	resp, err = client.Post(taskURL+"/module_each/executable", "application/octet-stream", bytes.NewReader([]byte("MZ...")))
	if err != nil {
		t.Fatalf("module_each: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("module_each status: %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	var ready agentproto.ReadyResponse
	for time.Now().Before(deadline) {
		getJSON(t, client, taskURL+"/ready", &ready)
		if ready.Ready {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !ready.Ready {
		t.Fatal("task never became ready")
	}

	var results agentproto.ResultsPayload
	getJSON(t, client, taskURL+"/results", &results)
	if !results.Internal.Result || len(results.Internal.Tags) != 1 || results.Internal.Tags[0] != "scanned" {
		t.Fatalf("unexpected results payload: %+v", results)
	}
}

func TestTaskIDMismatchRejected(t *testing.T) {
	srv := httptest.NewServer(NewServer(t.TempDir(), &stubRunner{}))
	defer srv.Close()
	client := srv.Client()

	var newTask agentproto.NewTaskResponse
	getJSON(t, client, srv.URL+"/new_task", &newTask)

	resp, err := client.Get(srv.URL + "/not-the-active-task/ready")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for mismatched task id, got %d", resp.StatusCode)
	}
}

func TestNewTaskEvictsPrevious(t *testing.T) {
	srv := httptest.NewServer(NewServer(t.TempDir(), &stubRunner{}))
	defer srv.Close()
	client := srv.Client()

	var first agentproto.NewTaskResponse
	getJSON(t, client, srv.URL+"/new_task", &first)

	var second agentproto.NewTaskResponse
	getJSON(t, client, srv.URL+"/new_task", &second)

	resp, err := client.Get(srv.URL + "/" + first.TaskID + "/ready")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected the evicted task id to be rejected, got %d", resp.StatusCode)
	}
}

func getJSON(t *testing.T, client *http.Client, url string, out any) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
