package signals

import (
	"context"
	"sync"
	"sync/atomic"
)

// Operation is the pending result of a signal write. It resolves with the
// value the signal had right before the write was confirmed, or an error.
type Operation[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	value     T
	err       error
	resolved  bool
	callbacks []func(T, error)
}

func newOperation[T any]() *Operation[T] {
	return &Operation[T]{done: make(chan struct{})}
}

func resolvedOperation[T any](v T, err error) *Operation[T] {
	op := newOperation[T]()
	op.resolve(v, err)
	return op
}

// resolve settles the operation. Only the first call has any effect.
func (o *Operation[T]) resolve(v T, err error) {
	o.mu.Lock()
	if o.resolved {
		o.mu.Unlock()
		return
	}
	o.resolved = true
	o.value, o.err = v, err
	callbacks := o.callbacks
	o.callbacks = nil
	close(o.done)
	o.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
}

// then calls cb once the operation is resolved, right away if it already is.
func (o *Operation[T]) then(cb func(T, error)) {
	o.mu.Lock()
	if !o.resolved {
		o.callbacks = append(o.callbacks, cb)
		o.mu.Unlock()
		return
	}
	v, err := o.value, o.err
	o.mu.Unlock()
	cb(v, err)
}

// Done is closed when the operation is resolved.
func (o *Operation[T]) Done() <-chan struct{} {
	return o.done
}

func (o *Operation[T]) IsDone() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the operation is resolved or ctx is done.
func (o *Operation[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-o.done:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result blocks until the operation is resolved.
func (o *Operation[T]) Result() (T, error) {
	return o.Wait(context.Background())
}

// mapOperation returns an operation resolving with f applied to src's value.
func mapOperation[S, T any](src *Operation[S], f func(S, error) (T, error)) *Operation[T] {
	dst := newOperation[T]()
	src.then(func(v S, err error) {
		dst.resolve(f(v, err))
	})
	return dst
}

// CancelableOperation is returned by Update. Canceling stops further
// retries; an attempt that already committed is not rolled back.
type CancelableOperation[T any] struct {
	*Operation[T]
	canceled atomic.Bool
	onCancel func()
}

func (c *CancelableOperation[T]) Cancel() {
	if !c.canceled.Swap(true) && c.onCancel != nil {
		c.onCancel()
	}
}

func (c *CancelableOperation[T]) IsCanceled() bool {
	return c.canceled.Load()
}
