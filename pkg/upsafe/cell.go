// Package upsafe provides the exclusive-access cell used for kernel state
// that is shared between the scheduler and the task tree.
//
// The kernel runs on a single hardware thread, so a second acquisition of a
// cell that is already held can only come from re-entrant code (a handler
// touching a half-updated task, a nested borrow of the same task). That is a
// kernel bug, and Exclusive panics instead of waiting.
package upsafe

import "sync"

// Cell guards a value of type T. The zero value is not usable; use New.
type Cell[T any] struct {
	mu    sync.Mutex
	value T
}

// New wraps value in a cell.
func New[T any](value T) *Cell[T] {
	return &Cell[T]{value: value}
}

// Exclusive borrows the value. The returned release func must be called
// exactly once when the borrow ends, normally through defer. Extra calls to
// release are ignored.
func (c *Cell[T]) Exclusive() (*T, func()) {
	if !c.mu.TryLock() {
		panic("upsafe: already borrowed")
	}
	released := false
	return &c.value, func() {
		if released {
			return
		}
		released = true
		c.mu.Unlock()
	}
}

// With runs fn with the borrowed value and releases it when fn returns or
// panics.
func (c *Cell[T]) With(fn func(v *T)) {
	v, release := c.Exclusive()
	defer release()
	fn(v)
}

// Borrowed reports whether the cell is currently held.
func (c *Cell[T]) Borrowed() bool {
	if c.mu.TryLock() {
		c.mu.Unlock()
		return false
	}
	return true
}
