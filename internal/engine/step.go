package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Step is the business logic of one step copy. The engine never looks
// inside it; it only drives the three calls below from the copy's own
// goroutine. Any state a Step keeps (cached field indices, partial
// aggregates) belongs to that copy alone and needs no locking.
type Step interface {
	// Init runs once before any row is read. Returning an error fails the
	// copy and keeps the whole transformation from starting.
	Init(ctx context.Context, sc *StepContext) error

	// ProcessCycle handles one unit of work: typically one GetRow followed
	// by zero or more PutRow calls. It returns done=true once the input is
	// exhausted (or, for a source, once it produced everything). A *RowError
	// is redirected to the error target when error handling is configured.
	ProcessCycle(ctx context.Context, sc *StepContext) (done bool, err error)

	// Finalize runs once after the last cycle on the success path, before
	// end of stream is signalled downstream. Buffering steps flush here.
	Finalize(ctx context.Context, sc *StepContext) error
}

// Disposer is implemented by steps holding resources (connections, files).
// Dispose runs once when the copy reaches a terminal state, whatever it is.
type Disposer interface {
	Dispose() error
}

// Factory builds the Step for one copy of meta. It is called once per copy.
type Factory func(meta StepMeta, copyNr int) (Step, error)

// Registry maps step type ids to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds (or replaces) the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Lookup returns the factory for typ.
func (r *Registry) Lookup(typ string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typ]
	return f, ok
}

// Types lists the registered type ids in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) build(meta StepMeta, copyNr int) (Step, error) {
	f, ok := r.Lookup(meta.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, meta.Type)
	}
	return f(meta, copyNr)
}
