// Package reactive is the dependency tracking engine used by the client side
// of the framework. A Computation records every ReactiveValue read while it
// recomputes and is invalidated when any of them changes. Invalidated
// computations are queued on the engine and recomputed when it is flushed.
//
// The engine is not safe for concurrent use. All reads, writes and flushes
// of one engine happen on a single goroutine.
package reactive

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/vaadin/flow-sub072/collections"
	"github.com/vaadin/flow-sub072/pkg/logging"
	"github.com/vaadin/flow-sub072/pkg/metrics"
	"go.uber.org/zap"
)

// EventRemover removes a previously added listener.
type EventRemover func()

func (r EventRemover) Remove() {
	if r != nil {
		r()
	}
}

// FlushListener is run once when the engine is flushed.
type FlushListener func()

type collector struct {
	listener ReactiveValueChangeListener
}

// Reactive is the engine. It keeps the queue of pending flush listeners,
// the global event collectors and the current computation.
type Reactive struct {
	flushListeners     *collections.Array[FlushListener]
	postFlushListeners *collections.Array[FlushListener]
	eventCollectors    mapset.Set[*collector]
	current            *Computation
	flushing           bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Reactive)

func WithLogger(l *zap.Logger) Option {
	return func(r *Reactive) {
		r.logger = logging.OrNop(l)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reactive) {
		r.metrics = m
	}
}

func New(opts ...Option) *Reactive {
	r := &Reactive{
		flushListeners:     collections.NewArray[FlushListener](),
		postFlushListeners: collections.NewArray[FlushListener](),
		eventCollectors:    mapset.NewThreadUnsafeSet[*collector](),
		logger:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddFlushListener queues l to run during the next flush. Listeners added
// while a flush is in progress run in that same flush.
func (r *Reactive) AddFlushListener(l FlushListener) {
	r.flushListeners.Push(l)
}

// AddPostFlushListener queues l to run once all flush listeners have run.
func (r *Reactive) AddPostFlushListener(l FlushListener) {
	r.postFlushListeners.Push(l)
}

// Flush runs queued flush listeners one at a time until the queue is empty,
// then runs the post flush listeners, repeating until neither queue has
// entries. Calling Flush from inside a listener does nothing; the outer
// flush picks up the new work.
func (r *Reactive) Flush() {
	if r.flushing {
		return
	}
	r.flushing = true
	defer func() {
		r.flushing = false
	}()

	r.metrics.Flush()
	for !r.flushListeners.IsEmpty() || !r.postFlushListeners.IsEmpty() {
		for !r.flushListeners.IsEmpty() {
			l := r.flushListeners.Shift()
			l()
		}

		if !r.postFlushListeners.IsEmpty() {
			batch := r.postFlushListeners
			r.postFlushListeners = collections.NewArray[FlushListener]()
			batch.ForEach(func(l FlushListener) {
				l()
			})
		}
	}
}

// AddEventCollector registers a listener notified of every change event
// fired through this engine.
func (r *Reactive) AddEventCollector(l ReactiveValueChangeListener) EventRemover {
	c := &collector{listener: l}
	r.eventCollectors.Add(c)
	return func() {
		r.eventCollectors.Remove(c)
	}
}

// NotifyEventCollectors passes event to every registered event collector.
func (r *Reactive) NotifyEventCollectors(event ReactiveValueChangeEvent) {
	for _, c := range r.eventCollectors.ToSlice() {
		c.listener(event)
	}
}

// CurrentComputation returns the computation being recomputed, or nil.
func (r *Reactive) CurrentComputation() *Computation {
	return r.current
}

// RunWithComputation runs fn with c as the current computation and restores
// the previous one afterwards, also when fn panics.
func (r *Reactive) RunWithComputation(c *Computation, fn func()) {
	prev := r.current
	r.current = c
	defer func() {
		r.current = prev
	}()
	fn()
}

// RunWhenDependenciesChange runs fn now-ish (on the next flush) and again
// after any value it read changes.
func (r *Reactive) RunWhenDependenciesChange(fn func()) *Computation {
	return NewComputation(r, func(*Computation) {
		fn()
	})
}

// Reset drops all queued listeners and collectors.
func (r *Reactive) Reset() {
	r.flushListeners.Clear()
	r.postFlushListeners.Clear()
	r.eventCollectors.Clear()
	r.current = nil
	r.flushing = false
}
