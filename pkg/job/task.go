package job

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"
)

// executor runs a task against its raw JSON payload.
type executor interface {
	Execute(ctx context.Context, payload json.RawMessage) error
}

// registry maps task names to executors.
type registry struct {
	executors map[string]executor
	mu        sync.RWMutex
}

func newRegistry() *registry {
	return &registry{executors: make(map[string]executor)}
}

func (r *registry) register(name string, e executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = e
}

func (r *registry) get(name string) (executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	return e, ok
}

// names returns registered task names, sorted.
func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.executors))
}

// typedTask decodes the payload into P before calling the task.
type typedTask[P any, T interface {
	Name() string
	Handle(context.Context, P) error
}] struct {
	task T
}

func (w *typedTask[P, T]) Execute(ctx context.Context, raw json.RawMessage) error {
	var payload P
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return errors.Join(ErrInvalidPayload, err)
		}
	}
	return w.task.Handle(ctx, payload)
}

// scheduledTask runs a periodic handler; periodic jobs carry no payload.
type scheduledTask struct {
	handler func(context.Context) error
}

func (e *scheduledTask) Execute(ctx context.Context, _ json.RawMessage) error {
	return e.handler(ctx)
}
