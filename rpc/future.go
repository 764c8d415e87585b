package rpc

import (
	"context"
	"sync"
)

// Future is a deferred call outcome. It is resolved with a value or rejected with an
// error exactly once.
type Future[T any] struct {
	done   chan struct{}
	once   sync.Once
	value  T
	err    error
	cancel func()
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(value T, err error) bool {
	completed := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		completed = true
	})
	return completed
}

// Done is closed once the future is resolved or rejected.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the outcome is available.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the outcome is available.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// Get waits for the outcome or for ctx. Giving up on ctx does not cancel the call.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, StatusOf(ctx.Err()).Err()
	}
}

// Cancel aborts the underlying call. The future is rejected with codes.Canceled unless it
// has already completed.
func (f *Future[T]) Cancel() {
	if f.cancel != nil {
		f.cancel()
	}
}
