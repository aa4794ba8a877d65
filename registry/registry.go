// Package registry tracks active model handles by generated identifier so
// multiple models can be loaded concurrently behind the bridge.
package registry

import (
	iface "VisionBridge/interface"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	HandleIdle = 0x1001
	HandleBusy = 0x1002
)

// Handle is one registered backend. Its state only concerns exclusive
// session allocation; the backend gates its own predict concurrency.
type Handle struct {
	ID          string
	Backend     iface.Backend
	Description string
	CreatedAt   time.Time

	mu    sync.Mutex
	state int
}

func (h *Handle) State() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) tryAcquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != HandleIdle {
		return false
	}
	h.state = HandleBusy
	return true
}

func (h *Handle) release() {
	h.mu.Lock()
	h.state = HandleIdle
	h.mu.Unlock()
}

type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

func New() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Add registers a backend under a fresh UUID. IDs are never reused.
func (r *Registry) Add(backend iface.Backend, description string) *Handle {
	h := &Handle{
		ID:          uuid.New().String(),
		Backend:     backend,
		Description: description,
		CreatedAt:   time.Now(),
		state:       HandleIdle,
	}
	r.mu.Lock()
	r.handles[h.ID] = h
	r.mu.Unlock()
	return h
}

func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	return h, ok
}

// List returns a snapshot of the current handles.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	r.mu.RUnlock()
	return out
}

// Remove destroys the backend and drops the handle. Removing an unknown or
// already removed id reports false, never panics.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	h, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.Backend.Destroy()
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Clear destroys every backend, for shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()
	for _, h := range handles {
		h.Backend.Destroy()
	}
}
