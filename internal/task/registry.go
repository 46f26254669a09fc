// Package task tracks the per-account service goroutines so the watchdog
// can observe liveness and the supervisor can stop a session with a
// bounded join.
package task

import (
	"context"
	"sync"
	"time"

	"killswitch/internal/logger"
)

// Runner is one service loop. It must return promptly once ctx is done;
// cancellation is cooperative, there is no forced preemption.
type Runner func(ctx context.Context)

type handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns a set of named running tasks. One registry per account
// session; names are unique within it.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*handle
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*handle)}
}

// Spawn starts run on its own goroutine under a child context. If a task
// with the same name is still alive it is left untouched and Spawn
// reports false.
func (r *Registry) Spawn(ctx context.Context, name string, run Runner) bool {
	r.mu.Lock()
	if h, ok := r.tasks[name]; ok {
		select {
		case <-h.done:
			// finished, replaceable
		default:
			r.mu.Unlock()
			return false
		}
	}
	child, cancel := context.WithCancel(ctx)
	h := &handle{name: name, cancel: cancel, done: make(chan struct{})}
	r.tasks[name] = h
	r.mu.Unlock()

	go func() {
		defer close(h.done)
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorf("[task] %s panicked: %v", name, rec)
			}
		}()
		run(child)
	}()
	return true
}

// Alive reports whether the named task has been spawned and not yet
// returned.
func (r *Registry) Alive(name string) bool {
	r.mu.Lock()
	h, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Names returns all task names ever spawned and still registered.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	return names
}

// Stop cancels one task and waits for it up to timeout. Returns false on
// a join timeout, which callers log but tolerate: an in-flight
// collaborator call may still be draining.
func (r *Registry) Stop(name string, timeout time.Duration) bool {
	r.mu.Lock()
	h, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return true
	}
	h.cancel()
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// StopAll cancels every task and waits up to timeout for all of them.
func (r *Registry) StopAll(timeout time.Duration) bool {
	r.mu.Lock()
	handles := make([]*handle, 0, len(r.tasks))
	for _, h := range r.tasks {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	deadline := time.After(timeout)
	joined := true
	for _, h := range handles {
		select {
		case <-h.done:
		case <-deadline:
			logger.Warnf("[task] %s did not stop within %s", h.name, timeout)
			joined = false
		}
	}
	return joined
}

// Remove drops a finished task from the registry so the watchdog stops
// considering it. Alive tasks are kept.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.tasks[name]
	if !ok {
		return
	}
	select {
	case <-h.done:
		delete(r.tasks, name)
	default:
	}
}
