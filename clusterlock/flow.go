package clusterlock

import (
	"context"
	"sync"
)

// held is one entry on a flow's lock stack.
type held struct {
	spec      Spec
	owner     string
	fromStore bool
}

// Flow tracks the lock names held by one logical execution. It is safe for
// concurrent use, but a flow must not be shared between independently
// running goroutines; hand each spawned goroutine a Child instead.
type Flow struct {
	mu        sync.Mutex
	inherited map[string]struct{}
	stack     []held
}

// NewFlow returns an empty flow.
func NewFlow() *Flow {
	return &Flow{}
}

// Child returns a flow for work spawned by f. The child treats every name
// f holds at the time of the call as already held; its own acquisitions
// stay private to it.
func (f *Flow) Child() *Flow {
	f.mu.Lock()
	defer f.mu.Unlock()

	inherited := make(map[string]struct{}, len(f.inherited)+len(f.stack))
	for name := range f.inherited {
		inherited[name] = struct{}{}
	}
	for _, h := range f.stack {
		inherited[h.spec.Name] = struct{}{}
	}
	return &Flow{inherited: inherited}
}

// Holds reports whether the flow, or the flow it was spawned from, holds
// name.
func (f *Flow) Holds(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holdsLocked(name)
}

func (f *Flow) holdsLocked(name string) bool {
	if _, ok := f.inherited[name]; ok {
		return true
	}
	for _, h := range f.stack {
		if h.spec.Name == name {
			return true
		}
	}
	return false
}

// Held returns the names on the flow's own stack, innermost last.
func (f *Flow) Held() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, len(f.stack))
	for i, h := range f.stack {
		names[i] = h.spec.Name
	}
	return names
}

func (f *Flow) push(h held) {
	f.mu.Lock()
	f.stack = append(f.stack, h)
	f.mu.Unlock()
}

// pop removes the innermost entry for name.
func (f *Flow) pop(name string) (held, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.stack) - 1; i >= 0; i-- {
		if f.stack[i].spec.Name == name {
			h := f.stack[i]
			f.stack = append(f.stack[:i], f.stack[i+1:]...)
			return h, true
		}
	}
	return held{}, false
}

// storeEntry returns the entry for name that owns the persisted row.
func (f *Flow) storeEntry(name string) (held, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.stack) - 1; i >= 0; i-- {
		if f.stack[i].spec.Name == name && f.stack[i].fromStore {
			return f.stack[i], true
		}
	}
	return held{}, false
}

type flowKey struct{}

// WithFlow attaches f to ctx.
func WithFlow(ctx context.Context, f *Flow) context.Context {
	return context.WithValue(ctx, flowKey{}, f)
}

// FlowFrom returns the flow attached to ctx, or nil.
func FlowFrom(ctx context.Context) *Flow {
	f, _ := ctx.Value(flowKey{}).(*Flow) //nolint:errcheck // nil on miss
	return f
}

// EnsureFlow returns ctx with a flow attached, creating one if needed.
func EnsureFlow(ctx context.Context) (context.Context, *Flow) {
	if f := FlowFrom(ctx); f != nil {
		return ctx, f
	}
	f := NewFlow()
	return WithFlow(ctx, f), f
}
