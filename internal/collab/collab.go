// Package collab defines the external-collaborator interfaces (auth,
// module loading, repository fetch, mail delivery, VM drivers, file
// access), plus small reference implementations so the core is
// exercisable end-to-end without a real FAME deployment.
package collab

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fame/core/internal/analysis"
	"github.com/fame/core/internal/layout"
	"github.com/fame/core/internal/remotefile"
)

// Auth attributes an analysis to a user id and group set. The core only
// ever consumes it this way.
type Auth interface {
	Identify(ctx context.Context, apiKey string) (userID string, groups []string, err error)
}

// StaticAuth attributes every request to one configured identity. Stands
// in for a pluggable authentication collaborator.
type StaticAuth struct {
	UserID string
	Groups []string
}

func (a StaticAuth) Identify(ctx context.Context, apiKey string) (string, []string, error) {
	return a.UserID, a.Groups, nil
}

// Module is one loaded, configured analysis module instance. Concrete
// analysis logic is out of scope; this is the shape the
// worker drives it through.
type Module interface {
	Initialize(config map[string]any) error
	Execute(ctx context.Context) (verdict bool, result any, tags []string, err error)
}

// Host loads a Module by its dotted class path.
type Host interface {
	Load(classPath string) (Module, error)
}

// LocalModuleHost resolves class paths against an in-process registry of
// named factories -- the Go analogue of a dotted-path dynamic loader,
// restricted to test/demo modules since real analysis modules are
// treated as collaborators here.
type LocalModuleHost struct {
	factories map[string]func() Module
}

// NewLocalModuleHost creates an empty registry.
func NewLocalModuleHost() *LocalModuleHost {
	return &LocalModuleHost{factories: make(map[string]func() Module)}
}

// Register adds a named factory under classPath.
func (h *LocalModuleHost) Register(classPath string, factory func() Module) {
	h.factories[classPath] = factory
}

func (h *LocalModuleHost) Load(classPath string) (Module, error) {
	factory, ok := h.factories[classPath]
	if !ok {
		return nil, fmt.Errorf("collab: no module registered at class path %q", classPath)
	}
	return factory(), nil
}

// Repository is the repository-fetch worker collaborator behind
// PUT /modules/repository/{id}/update.
type Repository interface {
	Update(ctx context.Context, repositoryID string, zipData []byte) error
}

// NoopRepository discards repository update pushes; the core only needs
// the route wired, not a functioning VCS mirror.
type NoopRepository struct{}

func (NoopRepository) Update(ctx context.Context, repositoryID string, zipData []byte) error {
	return nil
}

// Mailer sends reporting-module notifications. Out of scope here, so
// the only implementation swallows sends.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// NoopMailer discards every send.
type NoopMailer struct{}

func (NoopMailer) Send(ctx context.Context, to []string, subject, body string) error { return nil }

// VMDriver manages the disposable virtual machines IsolatedRunner modules
// execute inside. prepare() must guarantee the VM is
// running and its Agent answers /ready before any request; restore()
// performs a full stop/restore/start cycle.
type VMDriver interface {
	Prepare(ctx context.Context, label string) (agentBaseURL string, err error)
	Restore(ctx context.Context, label string) error
	Stop(ctx context.Context, label string) error
}

// SimulatedVMDriver never boots a real VM: prepare/restore are no-ops
// that report ready immediately, pointing at a caller-supplied base URL
// (typically an in-process agent.Server started by the same test). This
// lets internal/isolated and internal/agent be exercised without real
// virtualization infrastructure.
type SimulatedVMDriver struct {
	AgentBaseURL string
}

func (d SimulatedVMDriver) Prepare(ctx context.Context, label string) (string, error) {
	return d.AgentBaseURL, nil
}

func (d SimulatedVMDriver) Restore(ctx context.Context, label string) error { return nil }

func (d SimulatedVMDriver) Stop(ctx context.Context, label string) error { return nil }

// FileAccess abstracts how a module reaches the bytes of the file an
// analysis runs against and uploads whatever it produces. A local worker
// and a remote worker satisfy this identically from a module's point of
// view: only how Path is resolved and how uploads reach the central store
// differ.
type FileAccess interface {
	// Path resolves path (the analysis's recorded path for its target,
	// a generated file, or a support file) to a local filesystem path
	// the caller may open for reading.
	Path(ctx context.Context, analysisID, path string) (string, error)

	// UploadGeneratedFile registers a locally-produced file of fileType
	// and returns its stored path.
	UploadGeneratedFile(ctx context.Context, analysisID, fileType, filename, localPath string) (string, error)

	// UploadSupportFile registers a locally-produced support artifact for
	// module and returns its stored path.
	UploadSupportFile(ctx context.Context, analysisID, module, filename, localPath string) (string, error)
}

// LocalFileAccess is the local-worker FileAccess: the worker already
// shares a filesystem with the API, so Path is the identity function and
// uploads are plain copies into the shared layout, recorded through the
// same engine calls the HTTP surface uses for remote uploads.
type LocalFileAccess struct {
	Layout layout.Layout
	Engine *analysis.Engine
}

func (f *LocalFileAccess) Path(ctx context.Context, analysisID, path string) (string, error) {
	return path, nil
}

func (f *LocalFileAccess) UploadGeneratedFile(ctx context.Context, analysisID, fileType, filename, localPath string) (string, error) {
	dest := f.Layout.GeneratedFile(analysisID, filename)
	if err := copyFile(localPath, dest); err != nil {
		return "", err
	}
	if err := f.Engine.AddGeneratedFiles(analysisID, fileType, []string{dest}); err != nil {
		return "", err
	}
	return dest, nil
}

func (f *LocalFileAccess) UploadSupportFile(ctx context.Context, analysisID, module, filename, localPath string) (string, error) {
	dest := f.Layout.SupportFile(module, analysisID, filename)
	if err := copyFile(localPath, dest); err != nil {
		return "", err
	}
	if err := f.Engine.AddSupportFile(analysisID, module, filename, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("collab: open %s: %w", src, err)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("collab: create %s: %w", filepath.Dir(dest), err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("collab: create %s: %w", dest, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("collab: copy %s to %s: %w", src, dest, err)
	}
	return nil
}

// RemoteFileAccess is the remote-worker FileAccess: Path fetches through
// the orchestrator's HTTP surface into a local on-disk cache, and uploads
// push bytes back over the same surface instead of touching a shared
// filesystem.
type RemoteFileAccess struct {
	Cache *remotefile.Cache
}

func (f *RemoteFileAccess) Path(ctx context.Context, analysisID, path string) (string, error) {
	return f.Cache.Fetch(ctx, analysisID, path)
}

func (f *RemoteFileAccess) UploadGeneratedFile(ctx context.Context, analysisID, fileType, filename, localPath string) (string, error) {
	return f.Cache.UploadGeneratedFile(ctx, analysisID, fileType, filename, localPath)
}

func (f *RemoteFileAccess) UploadSupportFile(ctx context.Context, analysisID, module, filename, localPath string) (string, error) {
	return f.Cache.UploadSupportFile(ctx, analysisID, module, filename, localPath)
}
