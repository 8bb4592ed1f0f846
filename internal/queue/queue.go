// Package queue implements the named task queue collaborator: a durable
// publish/subscribe bus keyed on queue name, used to hand "run this
// module on this analysis" tasks from the orchestrator to workers. Tasks
// are msgpack-encoded on the wire, mirroring a Celery-style binary task
// envelope.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Task is the unit of work a worker pulls off a queue: run Module against
// Analysis. Name is always "run_module" in the current core, kept as a
// field rather than implied so the wire envelope can grow new task kinds
// without a breaking change.
type Task struct {
	Name     string `msgpack:"name"`
	Analysis string `msgpack:"analysis_id"`
	Module   string `msgpack:"module_name"`
}

// Encode serializes a Task to its msgpack wire form.
func (t Task) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("queue: encode task: %w", err)
	}
	return data, nil
}

// Decode parses a msgpack-encoded Task.
func Decode(data []byte) (Task, error) {
	var t Task
	if err := msgpack.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("queue: decode task: %w", err)
	}
	return t, nil
}

// Queue is the collaborator interface the orchestrator and workers depend
// on. A durable backend (e.g. an external broker) can satisfy this without
// the core knowing about it.
type Queue interface {
	// Publish enqueues task onto the named queue.
	Publish(ctx context.Context, queueName string, task Task) error

	// Subscribe blocks until a task is available on queueName or ctx is
	// canceled. Workers call this in their task loop.
	Subscribe(ctx context.Context, queueName string) (Task, error)
}

// InProcess is a reference Queue backed by per-name buffered Go channels.
// It is the "local" queue used by the single-binary `fame serve --worker`
// mode and by tests; a real deployment would swap in a broker-backed
// implementation satisfying the same interface.
type InProcess struct {
	mu   sync.Mutex
	cond *sync.Cond
	lanes map[string][]Task
	closed bool
}

// NewInProcess creates an empty InProcess queue.
func NewInProcess() *InProcess {
	q := &InProcess{lanes: make(map[string][]Task)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *InProcess) Publish(ctx context.Context, queueName string, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue: publish to %s: %w", queueName, context.Canceled)
	}
	q.lanes[queueName] = append(q.lanes[queueName], task)
	q.cond.Broadcast()
	return nil
}

func (q *InProcess) Subscribe(ctx context.Context, queueName string) (Task, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}
		if lane := q.lanes[queueName]; len(lane) > 0 {
			task := lane[0]
			q.lanes[queueName] = lane[1:]
			return task, nil
		}
		if q.closed {
			return Task{}, fmt.Errorf("queue: %s: %w", queueName, context.Canceled)
		}
		q.cond.Wait()
	}
}

// Close wakes every blocked Subscribe call with an error; used on shutdown.
func (q *InProcess) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
