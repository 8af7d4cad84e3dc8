package signals

import (
	"reflect"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/vaadin/flow-sub072/pkg/metrics"
)

// Signal is a readable reactive value.
type Signal[T any] interface {
	// Get returns the value and registers the read with the tracked run in
	// progress.
	Get() T
	// Peek returns the value without registering a read.
	Peek() T
}

// WritableSignal is a signal that can be written. Writes return operations
// that resolve once the write is confirmed.
type WritableSignal[T any] interface {
	Signal[T]
	Set(v T) *Operation[T]
	Replace(expected, v T) *Operation[T]
	Update(fn func(T) T) *CancelableOperation[T]
	AsReadonly() Signal[T]
}

type state[T any] struct {
	value   T
	version uint64
}

type listenerEntry struct {
	fn      TransientListener
	since   uint64
	removed atomic.Bool
}

type valueConfig struct {
	name    string
	metrics *metrics.Metrics
}

type ValueOption func(*valueConfig)

func WithName(name string) ValueOption {
	return func(c *valueConfig) {
		c.name = name
	}
}

func WithSignalMetrics(m *metrics.Metrics) ValueOption {
	return func(c *valueConfig) {
		c.metrics = m
	}
}

// ValueSignal holds a single value. The value is kept in an immutable state
// swapped atomically, so readers never block and conflicting writers retry.
type ValueSignal[T any] struct {
	state atomic.Pointer[state[T]]
	equal func(a, b T) bool

	name    string
	metrics *metrics.Metrics

	mu        sync.Mutex
	listeners []*listenerEntry
}

var _ WritableSignal[int] = (*ValueSignal[int])(nil)

func NewValue[T any](initial T, opts ...ValueOption) *ValueSignal[T] {
	cfg := &valueConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	s := &ValueSignal[T]{
		equal:   defaultEquals[T],
		name:    cfg.name,
		metrics: cfg.metrics,
	}
	s.state.Store(&state[T]{value: initial})
	return s
}

// WithEquality replaces the comparison used to detect no-op writes.
func (s *ValueSignal[T]) WithEquality(equal func(a, b T) bool) *ValueSignal[T] {
	s.equal = equal
	return s
}

func (s *ValueSignal[T]) String() string {
	if s.name != "" {
		return s.name
	}
	return "ValueSignal"
}

func (s *ValueSignal[T]) Get() T {
	v, version := s.read()
	RegisterUsage(&signalUsage[T]{sig: s, value: v, version: version})
	return v
}

func (s *ValueSignal[T]) Peek() T {
	v, _ := s.read()
	return v
}

// read returns the value as seen by the active transaction, along with the
// committed version.
func (s *ValueSignal[T]) read() (T, uint64) {
	st := s.state.Load()
	if tx := currentTransaction(); tx != nil {
		if staged, ok := lookupStaged[T](tx, s); ok {
			return staged.value, st.version
		}
	}
	return st.value, st.version
}

// Set overwrites the value. The operation resolves with the previous value.
func (s *ValueSignal[T]) Set(v T) *Operation[T] {
	var zero T
	if err := checkEffectLoop(s); err != nil {
		return resolvedOperation(zero, err)
	}
	s.metrics.SignalWrite("set")
	if tx := currentTransaction(); tx != nil {
		return stageSet(tx, s, v)
	}

	for {
		old := s.state.Load()
		if s.equal(old.value, v) {
			return resolvedOperation(old.value, nil)
		}
		next := &state[T]{value: v, version: old.version + 1}
		if s.state.CompareAndSwap(old, next) {
			s.notify(next.version)
			return resolvedOperation(old.value, nil)
		}
	}
}

// Replace sets the value to v only if it currently equals expected. On a
// mismatch the operation fails with ErrValueMismatch and carries the value
// that was found.
func (s *ValueSignal[T]) Replace(expected, v T) *Operation[T] {
	var zero T
	if err := checkEffectLoop(s); err != nil {
		return resolvedOperation(zero, err)
	}
	s.metrics.SignalWrite("replace")
	if tx := currentTransaction(); tx != nil {
		return stageReplace(tx, s, expected, v)
	}

	for {
		old := s.state.Load()
		if !s.equal(old.value, expected) {
			return resolvedOperation(old.value, ErrValueMismatch)
		}
		if s.equal(old.value, v) {
			return resolvedOperation(old.value, nil)
		}
		next := &state[T]{value: v, version: old.version + 1}
		if s.state.CompareAndSwap(old, next) {
			s.notify(next.version)
			return resolvedOperation(old.value, nil)
		}
	}
}

// Update applies fn to the current value and writes the result. If another
// write lands in between, fn is called again with the new value, until the
// write succeeds or the operation is canceled. The first attempt runs on
// the calling goroutine; retries continue in the background.
//
// Updates never take part in transactions.
func (s *ValueSignal[T]) Update(fn func(T) T) *CancelableOperation[T] {
	op := &CancelableOperation[T]{Operation: newOperation[T]()}
	if err := checkEffectLoop(s); err != nil {
		var zero T
		op.resolve(zero, err)
		return op
	}
	s.metrics.SignalWrite("update")

	if s.attemptUpdate(op, fn) {
		return op
	}
	go func() {
		for {
			s.metrics.UpdateRetry()
			runtime.Gosched()
			if s.attemptUpdate(op, fn) {
				return
			}
		}
	}()
	return op
}

// attemptUpdate makes one attempt and reports whether op got resolved.
func (s *ValueSignal[T]) attemptUpdate(op *CancelableOperation[T], fn func(T) T) bool {
	var zero T
	if op.IsCanceled() {
		op.resolve(zero, ErrCanceled)
		return true
	}

	old := s.state.Load()
	next, err := callUpdater(fn, old.value)
	if err != nil {
		op.resolve(zero, err)
		return true
	}

	if s.equal(old.value, next) {
		if s.state.Load() != old {
			return false
		}
		op.resolve(old.value, nil)
		return true
	}

	st := &state[T]{value: next, version: old.version + 1}
	if !s.state.CompareAndSwap(old, st) {
		return false
	}
	s.notify(st.version)
	op.resolve(old.value, nil)
	return true
}

func callUpdater[T any](fn func(T) T, v T) (next T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UpdaterPanicError{Value: r}
		}
	}()
	return fn(v), nil
}

// Modify runs fn on a copy of the value and stores the result. Listeners
// are always notified, since fn may have changed data the value only points
// to.
func (s *ValueSignal[T]) Modify(fn func(v *T)) {
	s.metrics.SignalWrite("modify")
	for {
		old := s.state.Load()
		v := old.value
		fn(&v)
		next := &state[T]{value: v, version: old.version + 1}
		if s.state.CompareAndSwap(old, next) {
			s.notify(next.version)
			return
		}
	}
}

func (s *ValueSignal[T]) AsReadonly() Signal[T] {
	return readonly[T]{s}
}

type readonly[T any] struct {
	s Signal[T]
}

func (r readonly[T]) Get() T  { return r.s.Get() }
func (r readonly[T]) Peek() T { return r.s.Peek() }

// onNextChange registers l to hear about changes after version. If the
// signal has already moved past version, l is invoked immediately.
func (s *ValueSignal[T]) onNextChange(version uint64, l TransientListener) Registration {
	s.mu.Lock()
	current := s.state.Load().version
	if current != version {
		s.mu.Unlock()
		if !l(true) {
			return func() {}
		}
		s.mu.Lock()
		current = s.state.Load().version
	}
	entry := &listenerEntry{fn: l, since: current}
	s.listeners = append(s.listeners, entry)
	s.mu.Unlock()

	return func() {
		s.removeListener(entry)
	}
}

func (s *ValueSignal[T]) removeListener(entry *listenerEntry) {
	if entry.removed.Swap(true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = slices.DeleteFunc(s.listeners, func(e *listenerEntry) bool {
		return e == entry
	})
}

// notify tells every listener registered before version about the change.
func (s *ValueSignal[T]) notify(version uint64) {
	s.mu.Lock()
	entries := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, e := range entries {
		if e.since >= version || e.removed.Load() {
			continue
		}
		if !e.fn(false) {
			s.removeListener(e)
		}
	}
}

func (s *ValueSignal[T]) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// signalUsage is the record of one read of a ValueSignal.
type signalUsage[T any] struct {
	sig     *ValueSignal[T]
	value   T
	version uint64
}

func (u *signalUsage[T]) HasChanges() bool {
	if tx := currentTransaction(); tx != nil {
		if staged, ok := lookupStaged[T](tx, u.sig); ok {
			return !u.sig.equal(staged.value, u.value)
		}
	}
	return u.sig.state.Load().version != u.version
}

func (u *signalUsage[T]) OnNextChange(l TransientListener) Registration {
	return u.sig.onNextChange(u.version, l)
}

func (u *signalUsage[T]) source() any {
	return u.sig
}

// checkEffectLoop fails a write to source made while an effect that read
// source is running on this goroutine. The writing effect is closed.
func checkEffectLoop(source any) error {
	effects := runningEffects()
	if len(effects) == 0 {
		return nil
	}
	for _, e := range effects {
		if e.dependsOn(source) {
			effects[len(effects)-1].closeForLoop()
			return ErrEffectLoop
		}
	}
	return nil
}

func defaultEquals[T any](a, b T) bool {
	switch av := any(a).(type) {
	case int:
		bv, ok := any(b).(int)
		return ok && av == bv
	case int64:
		bv, ok := any(b).(int64)
		return ok && av == bv
	case uint64:
		bv, ok := any(b).(uint64)
		return ok && av == bv
	case float64:
		bv, ok := any(b).(float64)
		return ok && av == bv
	case string:
		bv, ok := any(b).(string)
		return ok && av == bv
	case bool:
		bv, ok := any(b).(bool)
		return ok && av == bv
	default:
		return reflect.DeepEqual(a, b)
	}
}
