// Package agent implements the in-VM Agent: a small single-threaded HTTP
// server that receives a module's source, a target file, runs the
// module's execution method in a child process, and reports results back
// over the six-endpoint protocol.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fame/core/internal/agentproto"
)

// Runnable is the module execution contract the Agent drives once a task
// is fully configured (module source loaded, target file staged). It is
// the in-VM analogue of collab.Module -- the Agent never imports collab,
// since an agent binary ships alone inside the VM image.
type Runnable interface {
	Run(ctx context.Context, moduleSource []byte, name string, config map[string]any, targetPath, targetType string) (agentproto.ResultsPayload, error)
}

// task is the Agent's view of the one task it may have active at a time.
type task struct {
	id           string
	moduleSource []byte
	name         string
	config       map[string]any
	targetPath   string
	targetType   string

	mu      sync.Mutex
	ready   bool
	payload agentproto.ResultsPayload
	runErr  error
}

// Server is the Agent. It enforces "only one task active at any moment":
// every endpoint carrying a task_id checks it against the currently
// active task and answers 403 on mismatch.
type Server struct {
	scratchDir string
	runner     Runnable

	mu     sync.Mutex
	active *task

	router chi.Router
}

// NewServer creates an Agent server. scratchDir holds uploaded module
// sources and staged target files for the lifetime of one task.
func NewServer(scratchDir string, runner Runnable) *Server {
	s := &Server{scratchDir: scratchDir, runner: runner}
	r := chi.NewRouter()
	r.Get("/ready", s.handleAgentReady)
	r.Get("/new_task", s.handleNewTask)
	r.Post("/{task}/module_update", s.handleModuleUpdate)
	r.Post("/{task}/module_update_info", s.handleModuleUpdateInfo)
	r.Post("/{task}/module_each/{type}", s.handleModuleEach)
	r.Get("/{task}/ready", s.handleTaskReady)
	r.Get("/{task}/results", s.handleResults)
	r.Post("/{task}/get_file", s.handleGetFile)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleAgentReady answers the VM-level readiness probe the driver's
// prepare() polls before sending any task request.
func (s *Server) handleAgentReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) currentTask(r *http.Request) (*task, bool) {
	id := chi.URLParam(r, "task")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.id != id {
		return nil, false
	}
	return s.active, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleNewTask implements step 1. A fresh task id evicts any
// previous task: the Agent is single-threaded and runs one task at a time.
func (s *Server) handleNewTask(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	t := &task{id: uuid.New().String()}
	s.active = t
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, agentproto.NewTaskResponse{TaskID: t.id})
}

// handleModuleUpdate implements step 2: upload the module source file.
func (s *Server) handleModuleUpdate(w http.ResponseWriter, r *http.Request) {
	t, ok := s.currentTask(r)
	if !ok {
		writeError(w, http.StatusForbidden, "task not active")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read module source: %v", err))
		return
	}
	t.mu.Lock()
	t.moduleSource = data
	t.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// handleModuleUpdateInfo implements step 3: which class to instantiate
// and its configuration.
func (s *Server) handleModuleUpdateInfo(w http.ResponseWriter, r *http.Request) {
	t, ok := s.currentTask(r)
	if !ok {
		writeError(w, http.StatusForbidden, "task not active")
		return
	}
	var req agentproto.ModuleUpdateInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode module info: %v", err))
		return
	}
	t.mu.Lock()
	t.name = req.Name
	t.config = req.Config
	t.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// handleModuleEach implements step 4: stage one target file and kick off
// the module's execution method in a child goroutine. The child writes
// its results into t.payload on exit, mirroring the real Agent's
// child-process-plus-pipe design within one process, since a Go agent has
// no need for the original's cross-language IPC boundary.
func (s *Server) handleModuleEach(w http.ResponseWriter, r *http.Request) {
	t, ok := s.currentTask(r)
	if !ok {
		writeError(w, http.StatusForbidden, "task not active")
		return
	}
	targetType := chi.URLParam(r, "type")

	path := filepath.Join(s.scratchDir, t.id, "target")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("stage target: %v", err))
		return
	}
	f, err := os.Create(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("stage target: %v", err))
		return
	}
	if _, err := io.Copy(f, r.Body); err != nil {
		f.Close()
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("stage target: %v", err))
		return
	}
	f.Close()

	t.mu.Lock()
	t.targetPath = path
	t.targetType = targetType
	source, name, config := t.moduleSource, t.name, t.config
	t.mu.Unlock()

	go func() {
		payload, err := s.runner.Run(context.Background(), source, name, config, path, targetType)
		t.mu.Lock()
		t.payload, t.runErr, t.ready = payload, err, true
		t.mu.Unlock()
	}()

	w.WriteHeader(http.StatusAccepted)
}

// handleTaskReady implements step 4's polling half.
func (s *Server) handleTaskReady(w http.ResponseWriter, r *http.Request) {
	t, ok := s.currentTask(r)
	if !ok {
		writeError(w, http.StatusForbidden, "task not active")
		return
	}
	t.mu.Lock()
	ready := t.ready
	t.mu.Unlock()
	writeJSON(w, http.StatusOK, agentproto.ReadyResponse{Ready: ready})
}

// handleResults implements step 5.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	t, ok := s.currentTask(r)
	if !ok {
		writeError(w, http.StatusForbidden, "task not active")
		return
	}
	t.mu.Lock()
	ready, runErr, payload := t.ready, t.runErr, t.payload
	t.mu.Unlock()

	if !ready {
		writeError(w, http.StatusConflict, "task not ready")
		return
	}
	if runErr != nil {
		writeError(w, http.StatusInternalServerError, runErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleGetFile implements step 6: download an artifact the results
// payload referenced by filepath.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.currentTask(r); !ok {
		writeError(w, http.StatusForbidden, "task not active")
		return
	}
	path := r.FormValue("filepath")
	if path == "" {
		writeError(w, http.StatusBadRequest, "filepath is required")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}
