// Package api
// Author: momentics@gmail.com
//
// Exactly-once completion guard for callbacks.

package api

import "sync/atomic"

// Completion guards a callback so that it runs at most once.
// The first Claim wins; later claims report false.
type Completion[T any] struct {
	fn   func(T)
	done atomic.Bool
}

// NewCompletion wraps fn. A nil fn is allowed and claims as a no-op.
func NewCompletion[T any](fn func(T)) *Completion[T] {
	return &Completion[T]{fn: fn}
}

// Claim marks the completion as used without running the callback and
// returns the callback for deferred delivery. ok is false if it already ran.
func (c *Completion[T]) Claim() (fn func(T), ok bool) {
	if !c.done.CompareAndSwap(false, true) {
		return nil, false
	}
	if c.fn == nil {
		return func(T) {}, true
	}
	return c.fn, true
}
