package engine

import "sync"

// Registry hands out one engine per thread so the dispatch guard holds across
// independent HTTP requests touching the same thread.
type Registry struct {
	deps Deps

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewRegistry creates an empty registry sharing one set of collaborators.
func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, engines: make(map[string]*Engine)}
}

// Get returns the engine for threadID, loading the thread on first use.
func (r *Registry) Get(threadID string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[threadID]; ok {
		return e, nil
	}
	e, err := Open(r.deps, threadID)
	if err != nil {
		return nil, err
	}
	r.engines[threadID] = e
	return e, nil
}

// Start creates a new thread and registers its engine.
func (r *Registry) Start() (*Engine, error) {
	e, err := StartThread(r.deps)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.engines[e.Thread().ID] = e
	r.mu.Unlock()
	return e, nil
}

// Forget drops the engine for a deleted thread.
func (r *Registry) Forget(threadID string) {
	r.mu.Lock()
	delete(r.engines, threadID)
	r.mu.Unlock()
}
