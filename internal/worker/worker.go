// Package worker implements the worker runtime: a process bound to one
// or more named queues that pulls (analysis_id, module_name) tasks and
// executes them one at a time.
package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/fame/core/internal/analysis"
	"github.com/fame/core/internal/catalog"
	"github.com/fame/core/internal/collab"
	"github.com/fame/core/internal/module"
	"github.com/fame/core/internal/queue"
	"github.com/fame/core/internal/store"
)

// Worker pulls tasks off its bound queues and executes modules serially:
// one in-flight task per Worker, parallelism comes from running many.
type Worker struct {
	Store   store.Store
	Catalog *catalog.Catalog
	Engine  *analysis.Engine
	Host    collab.Host
	Queue   queue.Queue
	Queues  []string

	// Files resolves a module's target/support/generated file paths and
	// carries its uploads, local or remote depending on the worker's
	// deployment. Nil disables the config["target_path"]/["file_access"]
	// enrichment below, for tests that don't exercise file access.
	Files collab.FileAccess
}

// Run subscribes to every bound queue and processes tasks until ctx is
// canceled. Each queue lane runs its own Subscribe loop; tasks converge
// onto a single channel so execution stays serial per Worker.
func (w *Worker) Run(ctx context.Context) error {
	tasks := make(chan queue.Task)

	for _, name := range w.Queues {
		name := name
		go func() {
			for {
				t, err := w.Queue.Subscribe(ctx, name)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("worker: subscribe %s: %v", name, err)
					return
				}
				select {
				case tasks <- t:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-tasks:
			w.handleTask(ctx, t)
		}
	}
}

// handleTask implements the execution sequence of steps 1-10.
// Any exception in steps 5-8 is caught, logged into the analysis, and the
// module is moved to canceled -- the worker never crashes.
func (w *Worker) handleTask(ctx context.Context, t queue.Task) {
	if err := w.Catalog.Load(w.Store); err != nil {
		log.Printf("worker: reload catalog: %v", err)
		return
	}

	claimed, err := w.Store.AddToSet(store.CollectionAnalysis, t.Analysis, "executed_modules", t.Module)
	if err != nil {
		log.Printf("worker: %s: claim %s: %v", t.Analysis, t.Module, err)
		return
	}
	if !claimed {
		return // another worker already handled this module
	}

	info, ok := w.Catalog.Get(t.Module)
	if !ok {
		log.Printf("worker: %s: module %s no longer in catalog", t.Analysis, t.Module)
		if _, err := w.Store.AddToSet(store.CollectionAnalysis, t.Analysis, "canceled_modules", t.Module); err != nil {
			log.Printf("worker: %s: cancel missing module %s: %v", t.Analysis, t.Module, err)
		}
		return
	}

	statusField := "running"
	if info.Type == module.TypePreloading {
		statusField = "preloading"
	}
	if err := w.Store.SetField(store.CollectionAnalysis, t.Analysis, "status", statusField); err != nil {
		log.Printf("worker: %s: set status: %v", t.Analysis, err)
	}

	mod, err := w.Host.Load(info.Class)
	if err != nil {
		w.fail(t, fmt.Sprintf("load class %s: %v", info.Class, err))
		return
	}
	if err := mod.Initialize(w.moduleConfig(ctx, t, info)); err != nil {
		w.fail(t, fmt.Sprintf("initialize: %v", err))
		return
	}

	verdict, result, tags, err := mod.Execute(ctx)
	if err != nil {
		w.fail(t, fmt.Sprintf("execute: %v", err))
		return
	}
	if err := w.Engine.OnModuleRan(t.Analysis, t.Module, verdict, result, tags); err != nil {
		log.Printf("worker: %s: finish %s: %v", t.Analysis, t.Module, err)
	}
}

// moduleConfig merges a module's resolved deployment config with its
// target file's local path and the Worker's FileAccess collaborator, so a
// module can read its input and upload generated/support files without
// knowing whether it's running against a shared filesystem or fetching
// over HTTP from a remote orchestrator.
func (w *Worker) moduleConfig(ctx context.Context, t queue.Task, info module.Info) map[string]any {
	config := info.ResolvedConfig()
	if w.Files == nil {
		return config
	}

	a, err := w.Engine.Get(t.Analysis)
	if err != nil {
		log.Printf("worker: %s: resolve target path: %v", t.Analysis, err)
		return config
	}
	var f analysis.File
	if ok, err := w.Store.Get(store.CollectionFiles, a.FileID, &f); err != nil || !ok || f.Path == "" {
		return config
	}
	localPath, err := w.Files.Path(ctx, t.Analysis, f.Path)
	if err != nil {
		log.Printf("worker: %s: fetch target file: %v", t.Analysis, err)
		return config
	}

	config["target_path"] = localPath
	config["file_access"] = w.Files
	return config
}

func (w *Worker) fail(t queue.Task, reason string) {
	if err := w.Engine.OnModuleFailure(t.Analysis, t.Module, reason); err != nil {
		log.Printf("worker: %s: record failure for %s: %v", t.Analysis, t.Module, err)
	}
}
