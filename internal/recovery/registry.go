package recovery

import (
	"sort"
	"sync"
)

// Registry keeps one Controller per rendering surface.
type Registry struct {
	opts Options

	mu    sync.RWMutex
	ctrls map[string]*Controller
}

// NewRegistry returns an empty registry. opts is applied to every surface;
// a nil Reacquirer gives each surface its own SignalReacquirer.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, ctrls: make(map[string]*Controller)}
}

// Initialize returns the controller for id, creating it when absent. created
// reports whether a new controller was made.
func (r *Registry) Initialize(id string) (c *Controller, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.ctrls[id]; ok {
		return c, false
	}
	c = New(id, r.opts)
	r.ctrls[id] = c
	return c, true
}

func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ctrls[id]
	return c, ok
}

// Remove closes and forgets the controller for id.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	c, ok := r.ctrls[id]
	delete(r.ctrls, id)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
	return ok
}

// IDs returns the registered surface ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.ctrls))
	for id := range r.ctrls {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close closes every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	ctrls := r.ctrls
	r.ctrls = make(map[string]*Controller)
	r.mu.Unlock()
	for _, c := range ctrls {
		c.Close()
	}
}
