// Package registry bridges the engine loop and the HTTP control surface.
// The gateway runs in its own goroutines; work that must touch engine
// state is marshaled into the engine's execution context via Submit.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultSubmitTimeout bounds how long Submit waits for the engine loop.
const DefaultSubmitTimeout = 10 * time.Second

// ErrNotReady is returned when no engine handle is published.
var ErrNotReady = errors.New("engine not ready")

type result struct {
	value any
	err   error
}

// Task is a unit of work queued for the engine loop.
type Task struct {
	fn   func(ctx context.Context) (any, error)
	done chan result
}

// Execute runs the task in the caller's goroutine and delivers the result
// to the waiting submitter. The engine loop calls this.
func (t *Task) Execute(ctx context.Context) {
	v, err := t.fn(ctx)
	t.done <- result{value: v, err: err}
}

// Bridge holds the published engine handle and the task queue between the
// control surface and the engine loop. It is an injected dependency, never
// a package-level global.
type Bridge struct {
	mu      sync.RWMutex
	handle  any
	tasks   chan *Task
	timeout time.Duration
}

// NewBridge creates a bridge with the given submit timeout.
// A non-positive timeout falls back to DefaultSubmitTimeout.
func NewBridge(timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	return &Bridge{
		tasks:   make(chan *Task, 32),
		timeout: timeout,
	}
}

// Publish installs the live engine handle. Called once the engine loop is
// running and able to consume tasks.
func (b *Bridge) Publish(handle any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handle = handle
}

// Unpublish clears the handle during shutdown; subsequent Submits fail
// fast with ErrNotReady.
func (b *Bridge) Unpublish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handle = nil
}

// Resolve returns the published handle, if any.
func (b *Bridge) Resolve() (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handle, b.handle != nil
}

// Tasks is the work queue the engine loop consumes.
func (b *Bridge) Tasks() <-chan *Task {
	return b.tasks
}

// Submit marshals fn into the engine loop's execution context and blocks
// for its result. If no handle is published it returns ErrNotReady
// immediately; otherwise it waits at most the bridge timeout (or the
// caller's context deadline, whichever fires first).
func (b *Bridge) Submit(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if _, ok := b.Resolve(); !ok {
		return nil, ErrNotReady
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	task := &Task{fn: fn, done: make(chan result, 1)}
	select {
	case b.tasks <- task:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-task.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
