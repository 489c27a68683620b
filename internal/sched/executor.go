// Package sched implements the cooperative, single-threaded task executor
// that drives guest function calls to completion. There is no goroutine
// per guest call: a Future is a hand-rolled state machine that is re-polled
// from wherever it left off, the same way the ISA engine itself must be
// re-entered mid-instruction-stream rather than suspended as a native Go
// stack.
package sched

import "github.com/google/uuid"

// Future is anything the executor can drive forward one step at a time.
// Poll returns ok=true once the value is final; until then it may be
// called again, any number of times, possibly after other tasks have run.
type Future[T any] interface {
	Poll() (value T, ok bool)
}

// FuncFuture adapts a plain poll closure to the Future interface.
type FuncFuture[T any] struct {
	PollFunc func() (T, bool)
}

// Poll implements Future.
func (f *FuncFuture[T]) Poll() (T, bool) { return f.PollFunc() }

// task type-erases a Future[T] so the executor can hold a heterogeneous set
// of in-flight calls.
type task struct {
	id   uuid.UUID
	poll func() bool // returns true once complete
	done func()      // not set by Spawn; poll itself runs onDone on completion
}

// Executor pumps a set of independently-suspended tasks. Spawn registers a
// Future; Tick polls every still-pending task exactly once, in registration
// order. The executor has no step limit of its own; how far one poll runs
// is bounded by the future itself.
type Executor struct {
	tasks []*task
}

// New creates an empty executor.
func New() *Executor {
	return &Executor{}
}

// Spawn registers fut with the executor and returns an ID usable for log
// correlation across the suspensions it goes through. onDone, if non-nil,
// runs once when the future resolves.
func Spawn[T any](e *Executor, fut Future[T], onDone func(T)) uuid.UUID {
	id := uuid.New()
	t := &task{id: id}
	t.poll = func() bool {
		v, ok := fut.Poll()
		if ok && onDone != nil {
			onDone(v)
		}
		return ok
	}
	e.tasks = append(e.tasks, t)
	return id
}

// Tick polls every pending task once, removing the ones that complete, and
// reports how many remain afterward. It does not itself bound how much
// guest execution a single Poll call performs — that budget is supplied by
// whoever constructs the Future (see driver.RunFunction's step budget) so
// a single Tick can never run unboundedly even though the executor itself
// has no notion of "instruction count".
func (e *Executor) Tick() (pending int) {
	remaining := e.tasks[:0]
	for _, t := range e.tasks {
		if !t.poll() {
			remaining = append(remaining, t)
		}
	}
	e.tasks = remaining
	return len(e.tasks)
}

// Idle reports whether every spawned task has completed.
func (e *Executor) Idle() bool { return len(e.tasks) == 0 }

// Pending returns the number of tasks still in flight.
func (e *Executor) Pending() int { return len(e.tasks) }

// Cancel drops every in-flight task without polling them further. Used for
// timeout handling: the caller decides a future has taken too long and
// discards it; nothing in the executor itself imposes a wall-clock limit.
func (e *Executor) Cancel() {
	e.tasks = nil
}
