package edgequeue

import (
	"context"
	"sync"
)

// WorkerFunc is a name-associated callback that consumes a job's id and
// payload. Returning an error marks the run failed; wrap it with Cancel to
// force a terminal failure, or leave it unwrapped to follow the normal
// retry policy.
type WorkerFunc func(ctx context.Context, id string, payload []byte) error

// WorkerOptions holds lifecycle hooks invoked around a worker's run.
// All hooks are optional.
type WorkerOptions struct {
	OnStart    func(job Job)
	OnSuccess  func(job Job)
	OnFailure  func(job Job, err error)
	OnFailed   func(job Job, err error)
	OnComplete func(job Job)
}

type registryEntry struct {
	fn      WorkerFunc
	options WorkerOptions
}

// Registry maps a job name to a worker. It has no ownership over jobs —
// lookup only.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]registryEntry
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]registryEntry)}
}

// AddWorker registers fn under name, replacing any existing registration.
func (r *Registry) AddWorker(name string, fn WorkerFunc, opts WorkerOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[name] = registryEntry{fn: fn, options: opts}
}

// RemoveWorker unregisters name. A no-op if name was not registered.
func (r *Registry) RemoveWorker(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, name)
}

// Get returns the entry registered for name, or ok == false if absent.
func (r *Registry) Get(name string) (fn WorkerFunc, options WorkerOptions, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.workers[name]
	if !ok {
		return nil, WorkerOptions{}, false
	}
	return entry.fn, entry.options, true
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.workers[name]
	return ok
}
