package analysis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fame/core/internal/catalog"
	"github.com/fame/core/internal/module"
	"github.com/fame/core/internal/queue"
	"github.com/fame/core/internal/store"
)

// Catalog is the subset of catalog.Catalog the engine depends on.
type Catalog interface {
	Get(name string) (module.Info, bool)
	GeneralPurpose() []string
	TriggeredBy(tag string) []string
	Preloading() []module.Info
}

// Dispatcher is the subset of dispatcher.Dispatcher the engine depends on.
type Dispatcher interface {
	NextModule(typesAvailable map[string]bool, target string, excluded map[string]bool) (string, error)
	NextPreloadingModule(candidates []string, excluded map[string]bool) (string, error)
}

// maxConcurrentResolve bounds how many waiting modules' next hops resume()
// resolves at once.
const maxConcurrentResolve = 8

// Engine owns the resume()/queue_modules() control logic. It is stateless
// between calls: every operation refreshes the Analysis document from the
// Store first, operating on last-refreshed state plus conditional updates.
type Engine struct {
	store      store.Store
	catalog    Catalog
	dispatcher Dispatcher
	queue      queue.Queue
	onFinished func(analysisID string)
}

// NewEngine wires an Engine. onFinished fires after an analysis transitions
// to finished (the "reporting hook" of step 4); it may be nil.
func NewEngine(s store.Store, c Catalog, d Dispatcher, q queue.Queue, onFinished func(string)) *Engine {
	return &Engine{store: s, catalog: c, dispatcher: d, queue: q, onFinished: onFinished}
}

// Get loads an Analysis by id.
func (e *Engine) Get(id string) (*Analysis, error) {
	var a Analysis
	ok, err := e.store.Get(store.CollectionAnalysis, id, &a)
	if err != nil {
		return nil, fmt.Errorf("analysis: load %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("analysis: %s not found", id)
	}
	return &a, nil
}

// CreateAnalysis creates and persists a new Analysis rooted on fileID,
// queues the requested modules, runs the automatic general-purpose pass
// when applicable, and calls Resume once (Open Question #4: resume alone
// owns the finished transition, even when every module completes
// synchronously during creation).
func (e *Engine) CreateAnalysis(fileID, fileType string, requestedModules []string, options map[string]any, user string, groups []string) (*Analysis, error) {
	a := &Analysis{
		ID:             uuid.New().String(),
		FileID:         fileID,
		User:           user,
		Groups:         groups,
		CreatedAt:      time.Now(),
		Modules:        requestedModules,
		Options:        options,
		Results:        map[string]any{},
		GeneratedFiles: map[string][]string{},
		SupportFiles:   map[string]map[string]string{},
	}

	if fileType == "hash" {
		a.Status = StatusPreloading
		for _, m := range e.catalog.Preloading() {
			a.PreloadingModules = append(a.PreloadingModules, m.Name)
		}
	} else {
		a.Status = StatusRunning
	}

	if err := e.store.Put(store.CollectionAnalysis, a.ID, a); err != nil {
		return nil, fmt.Errorf("analysis: create %s: %w", a.ID, err)
	}

	if err := e.QueueModules(a.ID, requestedModules, true); err != nil {
		return nil, err
	}

	// Automatic general-purpose pass: only when nothing was
	// explicitly requested, the file isn't a hash, and magic is on.
	if fileType != "hash" && len(requestedModules) == 0 && a.MagicEnabled() {
		if err := e.QueueModules(a.ID, e.catalog.GeneralPurpose(), false); err != nil {
			return nil, err
		}
	}

	if err := e.Resume(a.ID); err != nil {
		return nil, err
	}
	return e.Get(a.ID)
}

// QueueModules implements queue_modules(names, fallback_waiting).
func (e *Engine) QueueModules(id string, names []string, fallbackWaiting bool) error {
	if len(names) == 0 {
		return nil
	}

	a, err := e.Get(id)
	if err != nil {
		return err
	}
	fileType, err := e.rootFileType(a)
	if err != nil {
		return err
	}
	available := typesAvailable(a, fileType)

	for _, name := range names {
		switch a.moduleState(name) {
		case "pending", "executed":
			continue
		}

		info, ok := e.catalog.Get(name)
		if !ok {
			log.Printf("analysis: warning: %s: module %q not found in catalog, canceling", id, name)
			if _, err := e.store.AddToSet(store.CollectionAnalysis, id, "canceled_modules", name); err != nil {
				return fmt.Errorf("analysis: cancel unknown module %s: %w", name, err)
			}
			continue
		}

		runnable := len(info.ActsOn) == 0
		for _, t := range info.ActsOn {
			if available[t] {
				runnable = true
				break
			}
		}

		switch {
		case runnable:
			added, err := e.store.AddToSet(store.CollectionAnalysis, id, "pending_modules", name)
			if err != nil {
				return fmt.Errorf("analysis: queue %s: %w", name, err)
			}
			if !added {
				continue
			}
			if err := e.store.Pull(store.CollectionAnalysis, id, "waiting_modules", name); err != nil {
				return fmt.Errorf("analysis: unwait %s: %w", name, err)
			}
			task := queue.Task{Name: "run_module", Analysis: id, Module: name}
			if err := e.queue.Publish(context.Background(), info.DefaultQueue(), task); err != nil {
				return fmt.Errorf("analysis: publish task for %s: %w", name, err)
			}
		case fallbackWaiting:
			if _, err := e.store.AddToSet(store.CollectionAnalysis, id, "waiting_modules", name); err != nil {
				return fmt.Errorf("analysis: wait %s: %w", name, err)
			}
		default:
			log.Printf("analysis: warning: %s: %q not runnable yet, dropping (fallback_waiting=false)", id, name)
		}
	}
	return nil
}

// Resume is the heart of the core.
func (e *Engine) Resume(id string) error {
	a, err := e.Get(id)
	if err != nil {
		return err
	}
	if len(a.PendingModules) > 0 {
		return nil // work already in flight
	}

	fileType, err := e.rootFileType(a)
	if err != nil {
		return err
	}

	enqueuedAny := false

	if fileType == "hash" {
		excluded := toSet(a.ExecutedModules, a.CanceledModules)
		next, err := e.dispatcher.NextPreloadingModule(a.PreloadingModules, excluded)
		if err == nil {
			if err := e.QueueModules(id, []string{next}, true); err != nil {
				return err
			}
			enqueuedAny = true
		} else {
			log.Printf("analysis: %s: no preloader left, canceling all waiters", id)
			for _, w := range a.WaitingModules {
				if err := e.store.Pull(store.CollectionAnalysis, id, "waiting_modules", w); err != nil {
					return err
				}
				if _, err := e.store.AddToSet(store.CollectionAnalysis, id, "canceled_modules", w); err != nil {
					return err
				}
			}
		}
	} else {
		available := typesAvailable(a, fileType)
		excluded := toSet(a.ExecutedModules, a.CanceledModules)
		waiting := append([]string(nil), a.WaitingModules...)

		// Resolving a path per waiting module only reads the catalog, so
		// resume() batch-resolves every waiter's next hop concurrently
		// pass") before applying any of the resulting store
		// mutations one at a time, in original order, to keep the
		// document writes serial.
		resolved := make([]string, len(waiting))
		resolveErrs := make([]error, len(waiting))
		var g errgroup.Group
		g.SetLimit(maxConcurrentResolve)
		for i, w := range waiting {
			i, w := i, w
			g.Go(func() error {
				next, err := e.dispatcher.NextModule(available, w, excluded)
				resolved[i], resolveErrs[i] = next, err
				return nil
			})
		}
		_ = g.Wait()

		for i, w := range waiting {
			if err := resolveErrs[i]; err != nil {
				log.Printf("analysis: %s: could not find execution path to %s", id, w)
				if err := e.store.Pull(store.CollectionAnalysis, id, "waiting_modules", w); err != nil {
					return err
				}
				if _, err := e.store.AddToSet(store.CollectionAnalysis, id, "canceled_modules", w); err != nil {
					return err
				}
				continue
			}
			if err := e.QueueModules(id, []string{resolved[i]}, true); err != nil {
				return err
			}
			enqueuedAny = true
		}
	}

	a, err = e.Get(id)
	if err != nil {
		return err
	}
	if !enqueuedAny && a.Status != StatusError && len(a.PendingModules) == 0 && len(a.WaitingModules) == 0 {
		now := time.Now()
		if err := e.store.SetField(store.CollectionAnalysis, id, "status", string(StatusFinished)); err != nil {
			return err
		}
		if err := e.store.SetField(store.CollectionAnalysis, id, "end_date", now); err != nil {
			return err
		}
		if e.onFinished != nil {
			e.onFinished(id)
		}
	}
	return nil
}

// AttachPreloadedFile transitions an analysis out of preloading once a
// preloader has attached real content of discoveredType to the root file.
func (e *Engine) AttachPreloadedFile(id, discoveredType string) error {
	a, err := e.Get(id)
	if err != nil {
		return err
	}
	if err := e.store.SetField(store.CollectionFiles, a.FileID, "type", discoveredType); err != nil {
		return fmt.Errorf("analysis: attach preloaded file for %s: %w", id, err)
	}
	if err := e.store.SetField(store.CollectionAnalysis, id, "status", string(StatusRunning)); err != nil {
		return fmt.Errorf("analysis: mark %s running: %w", id, err)
	}
	if len(a.Modules) == 0 && a.MagicEnabled() {
		if err := e.QueueModules(id, e.catalog.GeneralPurpose(), false); err != nil {
			return err
		}
	}
	return e.Resume(id)
}

// ChangeType handles "change type" operation, valid only
// for the root file: it re-runs the general-purpose pass when magic is on.
func (e *Engine) ChangeType(id, newType string) error {
	a, err := e.Get(id)
	if err != nil {
		return err
	}
	if err := e.store.SetField(store.CollectionFiles, a.FileID, "type", newType); err != nil {
		return fmt.Errorf("analysis: change type for %s: %w", id, err)
	}
	if a.MagicEnabled() {
		if err := e.QueueModules(id, e.catalog.GeneralPurpose(), false); err != nil {
			return err
		}
	}
	return e.Resume(id)
}

// AddTag implements tag emission: appending an already
// present tag is a no-op; a genuinely new tag enqueues every module
// triggered by it (when magic is enabled).
func (e *Engine) AddTag(id, tag string) error {
	a, err := e.Get(id)
	if err != nil {
		return err
	}
	added, err := e.store.AddToSet(store.CollectionAnalysis, id, "tags", tag)
	if err != nil {
		return fmt.Errorf("analysis: add tag %q: %w", tag, err)
	}
	if !added || !a.MagicEnabled() {
		return nil
	}
	return e.QueueModules(id, e.catalog.TriggeredBy(tag), true)
}

// AddGeneratedFiles implements "new generated file": records
// paths under fileType and, when magic is enabled, enqueues every module
// registered for the synthetic tag _generated_file(fileType).
func (e *Engine) AddGeneratedFiles(id, fileType string, paths []string) error {
	a, err := e.Get(id)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := e.store.PushMapSlice(store.CollectionAnalysis, id, "generated_files", fileType, p); err != nil {
			return fmt.Errorf("analysis: add generated file: %w", err)
		}
	}
	if !a.MagicEnabled() {
		return nil
	}
	return e.QueueModules(id, e.catalog.TriggeredBy(catalog.GeneratedFileTag(fileType)), true)
}

// AddExtractedFile implements "extracted file" handling,
// with Open Questions #2 and #3 resolved: a file whose hash is already
// known is not re-analyzed (just linked), and a genuinely new file's
// groups are copied from the parent analysis before its own Analysis is
// created, so it is never briefly ungoverned by any group.
func (e *Engine) AddExtractedFile(parentID string, extracted *File, defaultModules []string, user string) (*Analysis, error) {
	parent, err := e.Get(parentID)
	if err != nil {
		return nil, err
	}

	existingID, found, err := e.findFileBySHA256(extracted.SHA256)
	if err != nil {
		return nil, err
	}
	if found {
		var existing File
		if _, err := e.store.Get(store.CollectionFiles, existingID, &existing); err != nil {
			return nil, fmt.Errorf("analysis: load extracted file %s: %w", existingID, err)
		}
		existing.ExtractedFrom(parentID)
		if err := e.store.Put(store.CollectionFiles, existingID, existing); err != nil {
			return nil, fmt.Errorf("analysis: update extracted file %s: %w", existingID, err)
		}
		if _, err := e.store.AddToSet(store.CollectionAnalysis, parentID, "extracted_files", existingID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	extracted.OwnerGroups = mergeGroups(parent.Groups, extracted.OwnerGroups)
	extracted.ReadableGroups = mergeGroups(parent.Groups, extracted.ReadableGroups)
	extracted.ExtractedFrom(parentID)

	if err := e.store.Put(store.CollectionFiles, extracted.ID, extracted); err != nil {
		return nil, fmt.Errorf("analysis: create extracted file %s: %w", extracted.ID, err)
	}
	if _, err := e.store.AddToSet(store.CollectionAnalysis, parentID, "extracted_files", extracted.ID); err != nil {
		return nil, err
	}

	var modules []string
	if parent.MagicEnabled() {
		modules = defaultModules
	}
	return e.CreateAnalysis(extracted.ID, extracted.Type, modules, map[string]any{"magic_enabled": parent.MagicEnabled()}, user, parent.Groups)
}

// AddSupportFile records a named downloadable artifact under
// support_files[module][filename] = path.
func (e *Engine) AddSupportFile(id, module, filename, path string) error {
	a, err := e.Get(id)
	if err != nil {
		return err
	}
	files := map[string]string{}
	if existing, ok := a.SupportFiles[module]; ok {
		for k, v := range existing {
			files[k] = v
		}
	}
	files[filename] = path
	if err := e.store.SetMapField(store.CollectionAnalysis, id, "support_files", module, files); err != nil {
		return fmt.Errorf("analysis: add support file for %s: %w", module, err)
	}
	return nil
}

// OnModuleRan implements step 8: a module that ran to completion (no
// error) is always moved into executed, but the result is only saved and
// the bare module-name tag plus one module_name(tag) per declared tag
// are only emitted when verdict is true. A false verdict contributes no
// result and no tag -- it must not be able to spuriously trigger another
// module's triggered_by.
func (e *Engine) OnModuleRan(id, moduleName string, verdict bool, result any, declaredTags []string) error {
	if verdict {
		if err := e.store.SetMapField(store.CollectionAnalysis, id, "results", moduleName, result); err != nil {
			return fmt.Errorf("analysis: save result for %s: %w", moduleName, err)
		}
	}
	if err := e.finishModule(id, moduleName, true); err != nil {
		return err
	}
	if verdict {
		if err := e.AddTag(id, moduleName); err != nil {
			return err
		}
		for _, t := range declaredTags {
			if err := e.AddTag(id, fmt.Sprintf("%s(%s)", moduleName, t)); err != nil {
				return err
			}
		}
	}
	return e.Resume(id)
}

// OnModuleFailure implements catch-all: any exception from
// steps 5-8 is logged into the analysis and the module is canceled.
func (e *Engine) OnModuleFailure(id, moduleName, reason string) error {
	if err := e.store.AppendList(store.CollectionAnalysis, id, "logs", fmt.Sprintf("%s: %s", moduleName, reason)); err != nil {
		return fmt.Errorf("analysis: log failure for %s: %w", moduleName, err)
	}
	if err := e.finishModule(id, moduleName, false); err != nil {
		return err
	}
	return e.Resume(id)
}

// finishModule removes name from pending/waiting and moves it to executed,
// additionally to canceled when it failed (an executed-and-failed module
// is both, per invariant).
func (e *Engine) finishModule(id, name string, succeeded bool) error {
	if err := e.store.Pull(store.CollectionAnalysis, id, "pending_modules", name); err != nil {
		return err
	}
	if err := e.store.Pull(store.CollectionAnalysis, id, "waiting_modules", name); err != nil {
		return err
	}
	if _, err := e.store.AddToSet(store.CollectionAnalysis, id, "executed_modules", name); err != nil {
		return err
	}
	if !succeeded {
		if _, err := e.store.AddToSet(store.CollectionAnalysis, id, "canceled_modules", name); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) rootFileType(a *Analysis) (string, error) {
	var t string
	ok, err := e.store.GetField(store.CollectionFiles, a.FileID, "type", &t)
	if err != nil {
		return "", fmt.Errorf("analysis: load file type for %s: %w", a.FileID, err)
	}
	if !ok {
		return "", fmt.Errorf("analysis: file %s not found", a.FileID)
	}
	return t, nil
}

func (e *Engine) findFileBySHA256(sha256 string) (string, bool, error) {
	if sha256 == "" {
		return "", false, nil
	}
	ids, err := e.store.List(store.CollectionFiles)
	if err != nil {
		return "", false, fmt.Errorf("analysis: list files: %w", err)
	}
	for _, id := range ids {
		var f File
		ok, err := e.store.Get(store.CollectionFiles, id, &f)
		if err != nil {
			return "", false, fmt.Errorf("analysis: load file %s: %w", id, err)
		}
		if ok && f.SHA256 == sha256 {
			return id, true, nil
		}
	}
	return "", false, nil
}

func typesAvailable(a *Analysis, fileType string) map[string]bool {
	out := make(map[string]bool)
	if fileType != "" && fileType != "hash" {
		out[fileType] = true
	}
	for t := range a.GeneratedFiles {
		out[t] = true
	}
	return out
}

func toSet(lists ...[]string) map[string]bool {
	out := make(map[string]bool)
	for _, list := range lists {
		for _, v := range list {
			out[v] = true
		}
	}
	return out
}

func mergeGroups(parent, own []string) []string {
	out := make([]string, 0, len(parent)+len(own))
	seen := make(map[string]bool)
	for _, g := range append(append([]string(nil), parent...), own...) {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}
