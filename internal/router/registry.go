package router

import "sync"

// registry is a thread-safe, insertion-ordered table where the first
// registration of a name wins.
type registry[T any] struct {
	mu    sync.RWMutex
	order []string
	items map[string]T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{items: make(map[string]T)}
}

// add records item under name. It reports false, leaving the table
// unchanged, when name is already taken.
func (r *registry[T]) add(name string, item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[name]; exists {
		return false
	}
	r.items[name] = item
	r.order = append(r.order, name)
	return true
}

func (r *registry[T]) has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.items[name]
	return exists
}

func (r *registry[T]) get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, exists := r.items[name]
	return item, exists
}

// list returns the items in registration order.
func (r *registry[T]) list() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.items[name])
	}
	return out
}
