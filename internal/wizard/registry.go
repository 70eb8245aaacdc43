package wizard

import "sync"

// Registry holds one controller per key, created on first use.
type Registry struct {
	mu      sync.Mutex
	m       map[int64]*Controller
	factory func(key int64) *Controller
}

func NewRegistry(factory func(key int64) *Controller) *Registry {
	return &Registry{
		m:       make(map[int64]*Controller),
		factory: factory,
	}
}

func (r *Registry) Get(key int64) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.m[key]; ok {
		return c
	}
	c := r.factory(key)
	r.m[key] = c
	return c
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
