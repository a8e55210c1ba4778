package aidl

import "context"

// Runtime runs server-side async handlers. GoRuntime starts a goroutine per
// call; tests and embedders may supply their own executor.
type Runtime interface {
	Go(fn func())
}

// GoRuntime is the default Runtime.
type GoRuntime struct{}

func (GoRuntime) Go(fn func()) { go fn() }

// Future is the result of an asynchronous call.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Ready returns a future that is already resolved.
func Ready[T any](v T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: v, err: err}
	close(f.done)
	return f
}

// Spawn runs fn on rt and returns a future for its result.
func Spawn[T any](rt Runtime, fn func() (T, error)) *Future[T] {
	if rt == nil {
		rt = GoRuntime{}
	}
	f := &Future[T]{done: make(chan struct{})}
	rt.Go(func() {
		defer close(f.done)
		f.val, f.err = fn()
	})
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the future resolves or ctx ends.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
