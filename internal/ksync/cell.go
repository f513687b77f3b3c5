// Package ksync provides the single-hart interior-mutability primitives the
// kernel uses for its process-wide singletons.
package ksync

import "github.com/GrassedgeT/Grass/internal/sbi"

// Cell serializes access to a value with a runtime exclusive-borrow check.
// It is not a mutex: the kernel runs single-hart with no preemption, so an
// overlapping borrow is a logic bug and trips the kernel panic path.
type Cell[T any] struct {
	value    T
	borrowed bool
}

// NewCell wraps a value.
func NewCell[T any](value T) *Cell[T] {
	return &Cell[T]{value: value}
}

// Borrow takes exclusive access. The returned release function ends the
// borrow; borrowing again before release is fatal.
func (c *Cell[T]) Borrow() (*T, func()) {
	if c.borrowed {
		sbi.Panic("re-entrant borrow of exclusive cell")
	}
	c.borrowed = true
	return &c.value, func() { c.borrowed = false }
}

// With runs f with exclusive access for the duration of the call.
func (c *Cell[T]) With(f func(*T)) {
	v, release := c.Borrow()
	defer release()
	f(v)
}
