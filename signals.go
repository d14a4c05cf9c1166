package taskcache

import (
	"context"
	"sync"
)

// Listener is called after a task entity of a registered type was saved.
type Listener func(ctx context.Context, task TaskEntity) error

// SignalRegistry maps a type name to its listeners. Listeners are appended
// and never removed. Safe for concurrent use.
type SignalRegistry struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

func NewSignalRegistry() *SignalRegistry {
	return &SignalRegistry{listeners: make(map[string][]Listener)}
}

func (r *SignalRegistry) Add(typeName string, l Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	r.listeners[typeName] = append(r.listeners[typeName], l)
	r.mu.Unlock()
}

// Listeners returns a copy of the listeners registered for typeName, in
// registration order.
func (r *SignalRegistry) Listeners(typeName string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ls := r.listeners[typeName]
	out := make([]Listener, len(ls))
	copy(out, ls)
	return out
}
