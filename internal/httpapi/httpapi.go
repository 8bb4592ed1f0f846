// Package httpapi implements the central orchestrator's HTTP surface
// exposed to remote workers: file upload/download, generated and
// support artifact upload, module catalog listing, and analysis status
// lookup.
package httpapi

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/fame/core/internal/analysis"
	"github.com/fame/core/internal/catalog"
	"github.com/fame/core/internal/collab"
	"github.com/fame/core/internal/layout"
	"github.com/fame/core/internal/store"
)

// Server is the HTTP surface bound to one core deployment.
type Server struct {
	Store      store.Store
	Engine     *analysis.Engine
	Catalog    *catalog.Catalog
	Auth       collab.Auth
	Repository collab.Repository
	Layout     layout.Layout

	// ModulesRoot, when non-empty, is zipped whole by GET /modules/download.
	ModulesRoot string

	router chi.Router
}

// New builds the router. corsOrigins configures the allowed origins for
// browser-originated requests, matching CORS posture on its
// own API (kept permissive by default for the remote-worker use case,
// since workers are not browsers).
func New(s *Server, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT"},
		AllowedHeaders: []string{"X-Api-Key", "Content-Type"},
	}))

	r.Post("/files/", s.handleUploadFile)
	r.Post("/analyses/{id}/generated_file", s.handleGeneratedFile)
	r.Post("/analyses/{id}/support_file/{module}", s.handleSupportFile)
	r.Get("/analyses/{id}/get_file/{hash}", s.handleGetFile)
	r.Get("/analyses/{id}", s.handleGetAnalysis)
	r.Get("/modules/download", s.handleModulesDownload)
	r.Get("/modules/", s.handleListModules)
	r.Put("/modules/repository/{id}/update", s.handleRepositoryUpdate)

	s.router = r
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// identify resolves the requesting user/groups from the X-Api-Key header
// via the configured Auth collaborator.
func (s *Server) identify(r *http.Request) (string, []string, error) {
	return s.Auth.Identify(r.Context(), r.Header.Get("X-Api-Key"))
}

// handleUploadFile implements POST /files/: store the uploaded bytes
// content-addressed by sha256, create the File document, and create the
// rooted Analysis.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	user, groups, err := s.identify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing file field: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read upload: %v", err))
		return
	}

	sum256 := sha256.Sum256(data)
	sum1 := sha1.Sum(data)
	sumMD5 := md5.Sum(data)

	f := &analysis.File{
		ID:     uuid.New().String(),
		MD5:    hex.EncodeToString(sumMD5[:]),
		SHA1:   hex.EncodeToString(sum1[:]),
		SHA256: hex.EncodeToString(sum256[:]),
		Path:   s.Layout.OriginalFile(hex.EncodeToString(sum256[:]), header.Filename),
		Type:   r.FormValue("type"),
		Size:   int64(len(data)),
		Names:  []string{header.Filename},
	}
	if f.Type == "" {
		f.Type = "binary"
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("store file: %v", err))
		return
	}
	if err := os.WriteFile(f.Path, data, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("store file: %v", err))
		return
	}

	if err := s.Store.Put(store.CollectionFiles, f.ID, f); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("save file: %v", err))
		return
	}

	a, err := s.Engine.CreateAnalysis(f.ID, f.Type, nil, nil, user, groups)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create analysis: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"file": f, "analysis": a})
}

// handleGeneratedFile implements POST /analyses/{id}/generated_file.
func (s *Server) handleGeneratedFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fileType := r.FormValue("type")
	filename := r.FormValue("filename")
	if fileType == "" || filename == "" {
		writeError(w, http.StatusBadRequest, "type and filename are required")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read upload: %v", err))
		return
	}
	path := s.Layout.GeneratedFile(id, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("store generated file: %v", err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("store generated file: %v", err))
		return
	}

	if err := s.Engine.AddGeneratedFiles(id, fileType, []string{path}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// handleSupportFile implements POST /analyses/{id}/support_file/{module}.
func (s *Server) handleSupportFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	module := chi.URLParam(r, "module")
	filename := r.FormValue("filename")
	if filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read upload: %v", err))
		return
	}
	path := s.Layout.SupportFile(module, id, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("store support file: %v", err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("store support file: %v", err))
		return
	}

	if err := s.Engine.AddSupportFile(id, module, filename, path); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// handleGetFile implements GET /analyses/{id}/get_file/{hash}: hash is the
// md5 of a file's original path string, so every candidate path reachable
// from the analysis is hashed and compared until one matches. This is
// the endpoint a remote worker's file cache uses both for the analysis's
// own target (input) file and for generated/support artifacts.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hash := chi.URLParam(r, "hash")

	a, err := s.Engine.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if a.FileID != "" {
		var f analysis.File
		if ok, err := s.Store.Get(store.CollectionFiles, a.FileID, &f); err == nil && ok && f.Path != "" {
			if pathMD5(f.Path) == hash {
				serveWithName(w, r, f.Path)
				return
			}
		}
	}
	for _, paths := range a.GeneratedFiles {
		for _, p := range paths {
			if pathMD5(p) == hash {
				serveWithName(w, r, p)
				return
			}
		}
	}
	for _, files := range a.SupportFiles {
		for _, p := range files {
			if pathMD5(p) == hash {
				serveWithName(w, r, p)
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "no file matches that hash")
}

func pathMD5(path string) string {
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}

func serveWithName(w http.ResponseWriter, r *http.Request, path string) {
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// handleGetAnalysis implements GET /analyses/{id}.
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.Engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleListModules implements GET /modules/.
func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Catalog.All())
}

// handleModulesDownload implements GET /modules/download: a zip of the
// configured module tree, for remote workers deciding whether to
// reinstall dependencies.
func (s *Server) handleModulesDownload(w http.ResponseWriter, r *http.Request) {
	if s.ModulesRoot == "" {
		writeError(w, http.StatusNotFound, "no module tree configured")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\"modules.zip\"")
	if err := zipDir(w, s.ModulesRoot); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
}

// handleRepositoryUpdate implements PUT /modules/repository/{id}/update,
// delegating to the Repository collaborator.
func (s *Server) handleRepositoryUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read upload: %v", err))
		return
	}
	if err := s.Repository.Update(r.Context(), id, data); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}
