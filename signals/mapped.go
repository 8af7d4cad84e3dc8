package signals

import (
	"sync"
)

// MappedSignal is a two-way view of a parent signal. Reads apply the getter
// to the parent value. Writes merge the new child value into the current
// parent value and write the result to the parent, so the view never holds
// state of its own.
type MappedSignal[P, C any] struct {
	parent WritableSignal[P]
	getter func(P) C
	merger func(P, C) P
}

var _ WritableSignal[bool] = (*MappedSignal[int, bool])(nil)

func Map[P, C any](parent WritableSignal[P], getter func(P) C, merger func(P, C) P) *MappedSignal[P, C] {
	return &MappedSignal[P, C]{parent: parent, getter: getter, merger: merger}
}

func (m *MappedSignal[P, C]) Get() C {
	return m.getter(m.parent.Get())
}

func (m *MappedSignal[P, C]) Peek() C {
	return m.getter(m.parent.Peek())
}

// Set resolves with the child value before the write.
func (m *MappedSignal[P, C]) Set(v C) *Operation[C] {
	op := m.parent.Update(func(p P) P {
		return m.merger(p, v)
	})
	return mapOperation(op.Operation, func(prev P, err error) (C, error) {
		if err != nil {
			var zero C
			return zero, err
		}
		return m.getter(prev), nil
	})
}

// Replace writes v only if the child value currently equals expected.
func (m *MappedSignal[P, C]) Replace(expected, v C) *Operation[C] {
	var (
		mu       sync.Mutex
		mismatch bool
	)
	op := m.parent.Update(func(p P) P {
		matches := defaultEquals(m.getter(p), expected)
		mu.Lock()
		mismatch = !matches
		mu.Unlock()
		if !matches {
			return p
		}
		return m.merger(p, v)
	})
	return mapOperation(op.Operation, func(prev P, err error) (C, error) {
		if err != nil {
			var zero C
			return zero, err
		}
		mu.Lock()
		defer mu.Unlock()
		if mismatch {
			return m.getter(prev), ErrValueMismatch
		}
		return m.getter(prev), nil
	})
}

// Update applies fn to the child value and merges the result back.
func (m *MappedSignal[P, C]) Update(fn func(C) C) *CancelableOperation[C] {
	parentOp := m.parent.Update(func(p P) P {
		return m.merger(p, fn(m.getter(p)))
	})
	return &CancelableOperation[C]{
		Operation: mapOperation(parentOp.Operation, func(prev P, err error) (C, error) {
			if err != nil {
				var zero C
				return zero, err
			}
			return m.getter(prev), nil
		}),
		onCancel: parentOp.Cancel,
	}
}

func (m *MappedSignal[P, C]) AsReadonly() Signal[C] {
	return readonly[C]{m}
}

type readonlyMapped[P, C any] struct {
	parent Signal[P]
	getter func(P) C
}

// MapReadonly returns a read-only view applying getter to parent.
func MapReadonly[P, C any](parent Signal[P], getter func(P) C) Signal[C] {
	return readonlyMapped[P, C]{parent: parent, getter: getter}
}

func (r readonlyMapped[P, C]) Get() C  { return r.getter(r.parent.Get()) }
func (r readonlyMapped[P, C]) Peek() C { return r.getter(r.parent.Peek()) }

// ComputedSignal caches the result of a function of other signals. The
// value is recomputed lazily, on the first read after a dependency changed.
type ComputedSignal[T any] struct {
	fn func() T

	mu    sync.Mutex
	value T
	usage Usage
	valid bool
}

func Computed[T any](fn func() T) *ComputedSignal[T] {
	return &ComputedSignal[T]{fn: fn}
}

// Get returns the value and makes the caller depend on every signal the
// computation read.
func (c *ComputedSignal[T]) Get() T {
	v, usage := c.current()
	RegisterUsage(usage)
	return v
}

func (c *ComputedSignal[T]) Peek() T {
	v, _ := c.current()
	return v
}

func (c *ComputedSignal[T]) current() (T, Usage) {
	if InTransaction() {
		// Staged values may still be rolled back, so they are not cached.
		var v T
		usage := Track(func() {
			v = c.fn()
		})
		return v, usage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || c.usage.HasChanges() {
		var v T
		usage := Track(func() {
			v = c.fn()
		})
		c.value, c.usage, c.valid = v, usage, true
	}
	return c.value, c.usage
}
