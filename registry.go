package taskcache

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Processor is a task that can be started.
type Processor interface {
	StartProcessing(ctx context.Context) error
}

// Resolver loads the task with the given id.
// found=false with a nil error means no such task.
type Resolver func(ctx context.Context, id string) (p Processor, found bool, err error)

// TypeRegistry resolves TaskReferences by type name. Populate it at startup.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]Resolver
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]Resolver)}
}

// Register binds name to r, replacing any previous binding.
func (r *TypeRegistry) Register(name string, res Resolver) {
	r.mu.Lock()
	r.types[name] = res
	r.mu.Unlock()
}

func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for n := range r.types {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the processor ref points at.
func (r *TypeRegistry) Resolve(ctx context.Context, ref TaskReference) (Processor, error) {
	r.mu.RLock()
	res, ok := r.types[ref.TaskType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resolve %s/%s: unknown task type", ref.TaskType, ref.TaskID)
	}
	p, found, err := res(ctx, ref.TaskID)
	if err != nil {
		return nil, fmt.Errorf("resolve %s/%s: %w", ref.TaskType, ref.TaskID, err)
	}
	if !found || p == nil {
		return nil, fmt.Errorf("resolve %s/%s: task not found", ref.TaskType, ref.TaskID)
	}
	return p, nil
}

// ResolverFor adapts a Cached lookup into a Resolver. lookup is typically
// a GetItem call with the caller's scope; start turns the loaded entity into
// a Processor (for example by binding it to its Tasks).
func ResolverFor[V Entity](lookup func(ctx context.Context, id string) (V, bool, error), start func(V) Processor) Resolver {
	return func(ctx context.Context, id string) (Processor, bool, error) {
		v, ok, err := lookup(ctx, id)
		if err != nil || !ok {
			return nil, ok, err
		}
		return start(v), true, nil
	}
}
