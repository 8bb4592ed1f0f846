// Package layout implements the persisted filesystem layout shared by
// internal/httpapi (which writes and serves these paths) and
// internal/collab (whose LocalFileAccess resolves them for workers).
package layout

import (
	"path/filepath"
	"regexp"
)

// Layout resolves the on-disk paths for submitted, generated, and support
// files under two roots: permanent storage and ephemeral scratch space.
type Layout struct {
	StoragePath string
	TempPath    string
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeFilename strips characters that are unsafe as a path component,
// matching "safe_filename" convention for uploaded content.
func SafeFilename(name string) string {
	clean := filepath.Base(name)
	safe := unsafeFilenameChars.ReplaceAllString(clean, "_")
	if safe == "" || safe == "." || safe == ".." {
		return "file"
	}
	return safe
}

// OriginalFile returns storage_path/{sha256}/{safe_filename}.
func (l Layout) OriginalFile(sha256, filename string) string {
	return filepath.Join(l.StoragePath, sha256, SafeFilename(filename))
}

// SupportFile returns storage_path/support_files/{module}/{analysis_id}/{filename}.
func (l Layout) SupportFile(module, analysisID, filename string) string {
	return filepath.Join(l.StoragePath, "support_files", module, analysisID, SafeFilename(filename))
}

// GeneratedFile returns temp_path/generated_files/{analysis_id}/{filename}.
func (l Layout) GeneratedFile(analysisID, filename string) string {
	return filepath.Join(l.TempPath, "generated_files", analysisID, SafeFilename(filename))
}

// ScratchDir returns temp_path/{uuid}/, the unstructured scratch space an
// isolated or local module may use during one execution.
func (l Layout) ScratchDir(id string) string {
	return filepath.Join(l.TempPath, id)
}
