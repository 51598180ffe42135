// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"sync"

	"github.com/grailbio/e3db/errors"
)

// Executor runs completion callbacks.
type Executor interface {
	Execute(func())
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(func())

// Execute implements Executor.
func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// Inline runs callbacks on the goroutine that resolves the future, or,
// for futures that are already resolved, on the goroutine calling Then.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// Future is the eventual outcome of an asynchronous client operation.
// Every future is resolved exactly once, with either a value or an
// error.
type Future[T any] struct {
	exec Executor
	done chan struct{}

	mu        sync.Mutex
	resolved  bool
	value     T
	err       error
	callbacks []func(T, error)
}

func newFuture[T any](exec Executor) *Future[T] {
	if exec == nil {
		exec = Inline
	}
	return &Future[T]{exec: exec, done: make(chan struct{})}
}

// Done returns a channel that is closed when f is resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until f is resolved and returns its outcome. If ctx is
// done first, Wait returns ctx's error; the operation itself keeps
// running and f is still resolved when it completes.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, errors.E("waiting for operation", ctx.Err())
	}
}

// Then registers cb to be called with f's outcome through f's
// executor. Callbacks registered after f is resolved are dispatched
// immediately.
func (f *Future[T]) Then(cb func(T, error)) {
	f.mu.Lock()
	if !f.resolved {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()
	f.exec.Execute(func() { cb(value, err) })
}

// resolve sets f's outcome and dispatches its callbacks. Only the first
// call has an effect.
func (f *Future[T]) resolve(value T, err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.value, f.err = value, err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb := cb
		f.exec.Execute(func() { cb(value, err) })
	}
}
