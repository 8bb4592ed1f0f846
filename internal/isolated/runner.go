package isolated

import (
	"context"
	"fmt"
	"io"

	"github.com/fame/core/internal/agentproto"
	"github.com/fame/core/internal/collab"
	"github.com/fame/core/internal/module"
)

// Runner executes one isolated-module run end to end: acquire a VM label,
// prepare the VM, run the six-endpoint Agent protocol, then apply the
// lifecycle policy (restore, stop, or leave running) and release the
// label.
type Runner struct {
	Lock   *VMLock
	Driver collab.VMDriver

	// NewClient builds an Agent client for a base URL. Overridable in
	// tests; defaults to NewAgentClient.
	NewClient func(baseURL string) *AgentClient

	// counters tracks always_ready executions since the last restore, one
	// per (driver,label).
	counters map[string]int
}

// NewRunner creates a Runner against driver, backed by lock.
func NewRunner(lock *VMLock, driver collab.VMDriver) *Runner {
	return &Runner{Lock: lock, Driver: driver, NewClient: NewAgentClient, counters: make(map[string]int)}
}

func (r *Runner) newClient(baseURL string) *AgentClient {
	if r.NewClient != nil {
		return r.NewClient(baseURL)
	}
	return NewAgentClient(baseURL)
}

// Execute runs moduleSource (class name, config) against one target file
// of the given type, returning the Agent's results payload.
func (r *Runner) Execute(ctx context.Context, vm module.VMOptions, moduleSource []byte, name string, config map[string]any, target io.Reader, targetType string) (agentproto.ResultsPayload, error) {
	label, err := r.Lock.Acquire(ctx, vm.Driver, vm.Labels)
	if err != nil {
		return agentproto.ResultsPayload{}, fmt.Errorf("isolated: acquire vm: %w", err)
	}

	release := func() {
		if relErr := r.Lock.Release(vm.Driver, label); relErr != nil {
			_ = relErr // best-effort: a stale lock is reclaimed after staleAfter regardless
		}
	}

	baseURL, err := r.Driver.Prepare(ctx, label)
	if err != nil {
		release()
		return agentproto.ResultsPayload{}, fmt.Errorf("isolated: prepare vm %s: %w", label, err)
	}

	client := r.newClient(baseURL)
	if err := client.VMReady(ctx); err != nil {
		release()
		return agentproto.ResultsPayload{}, fmt.Errorf("isolated: vm %s not ready: %w", label, err)
	}

	payload, err := r.runProtocol(ctx, client, moduleSource, name, config, target, targetType)
	if err != nil {
		release()
		return agentproto.ResultsPayload{}, err
	}

	r.applyLifecycle(ctx, vm, label, payload.ShouldRestore)
	release()
	return payload, nil
}

func (r *Runner) runProtocol(ctx context.Context, client *AgentClient, moduleSource []byte, name string, config map[string]any, target io.Reader, targetType string) (agentproto.ResultsPayload, error) {
	taskID, err := client.NewTask(ctx)
	if err != nil {
		return agentproto.ResultsPayload{}, fmt.Errorf("isolated: new_task: %w", err)
	}
	if err := client.ModuleUpdate(ctx, taskID, moduleSource); err != nil {
		return agentproto.ResultsPayload{}, fmt.Errorf("isolated: module_update: %w", err)
	}
	if err := client.ModuleUpdateInfo(ctx, taskID, name, config); err != nil {
		return agentproto.ResultsPayload{}, fmt.Errorf("isolated: module_update_info: %w", err)
	}
	if err := client.ModuleEach(ctx, taskID, targetType, target); err != nil {
		return agentproto.ResultsPayload{}, fmt.Errorf("isolated: module_each: %w", err)
	}
	if err := client.TaskReady(ctx, taskID); err != nil {
		return agentproto.ResultsPayload{}, fmt.Errorf("isolated: task never became ready: %w", err)
	}
	payload, err := client.Results(ctx, taskID)
	if err != nil {
		return agentproto.ResultsPayload{}, fmt.Errorf("isolated: results: %w", err)
	}
	return payload, nil
}

// applyLifecycle implements VM lifecycle rule: when
// always_ready is set, only restore once restore_after executions have
// passed or the module asked for it; otherwise stop the VM every time.
func (r *Runner) applyLifecycle(ctx context.Context, vm module.VMOptions, label string, shouldRestore bool) {
	key := lockKey(vm.Driver, label)
	if !vm.AlwaysReady {
		_ = r.Driver.Stop(ctx, label)
		delete(r.counters, key)
		return
	}

	r.counters[key]++
	if shouldRestore || (vm.RestoreAfter > 0 && r.counters[key] >= vm.RestoreAfter) {
		_ = r.Driver.Restore(ctx, label)
		r.counters[key] = 0
	}
}
