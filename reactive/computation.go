package reactive

import (
	"github.com/vaadin/flow-sub072/collections"
	"go.uber.org/zap"
)

// InvalidateEvent is passed to invalidate listeners.
type InvalidateEvent struct {
	Source *Computation
}

type InvalidateListener func(InvalidateEvent)

type invalidateEntry struct {
	listener InvalidateListener
	removed  bool
}

// A Computation is re-run every time one of the reactive values it read
// during its last run changes.
//
// States: fresh, invalidated (queued for recompute) and stopped. A stopped
// computation never gains dependencies and never notifies invalidate
// listeners again.
type Computation struct {
	reactive    *Reactive
	doRecompute func(c *Computation)

	invalidated bool
	stopped     bool

	dependencies        *collections.Array[EventRemover]
	invalidateListeners *collections.Array[*invalidateEntry]
}

// NewComputation creates a computation that is already invalidated, so
// doRecompute runs on the next flush of r.
func NewComputation(r *Reactive, doRecompute func(c *Computation)) *Computation {
	c := &Computation{
		reactive:            r,
		doRecompute:         doRecompute,
		dependencies:        collections.NewArray[EventRemover](),
		invalidateListeners: collections.NewArray[*invalidateEntry](),
	}
	c.Invalidate()
	return c
}

// AddDependency makes the computation depend on v. Called by reactive values
// when they are read during a recompute.
func (c *Computation) AddDependency(v ReactiveValue) {
	if c.stopped {
		return
	}
	remover := v.AddReactiveValueChangeListener(func(ReactiveValueChangeEvent) {
		c.Invalidate()
	})
	c.dependencies.Push(remover)
}

// OnNextInvalidate adds a listener that is run the next time the
// computation is invalidated, and then forgotten.
func (c *Computation) OnNextInvalidate(l InvalidateListener) EventRemover {
	if c.stopped {
		return func() {}
	}
	entry := &invalidateEntry{listener: l}
	c.invalidateListeners.Push(entry)
	return func() {
		entry.removed = true
	}
}

// Invalidate marks the computation as needing a recompute, drops its
// dependencies, notifies the current invalidate listeners once and queues
// the recompute on the engine.
func (c *Computation) Invalidate() {
	if c.invalidated || c.stopped {
		return
	}
	c.invalidated = true
	c.clearDependencies()

	if !c.invalidateListeners.IsEmpty() {
		batch := c.invalidateListeners
		c.invalidateListeners = collections.NewArray[*invalidateEntry]()
		event := InvalidateEvent{Source: c}
		batch.ForEach(func(e *invalidateEntry) {
			if !e.removed && !c.stopped {
				e.listener(event)
			}
		})
	}

	c.reactive.AddFlushListener(c.Recompute)
}

// Recompute runs doRecompute if the computation is invalidated and not
// stopped. The invalidated flag is cleared even if doRecompute panics.
func (c *Computation) Recompute() {
	if !c.invalidated || c.stopped {
		return
	}
	defer func() {
		c.invalidated = false
	}()

	c.reactive.metrics.Recompute()
	c.reactive.logger.Debug("recomputing", zap.Int("dependencies", c.dependencies.Length()))
	c.reactive.RunWithComputation(c, func() {
		c.doRecompute(c)
	})
}

// Stop permanently stops the computation.
func (c *Computation) Stop() {
	c.stopped = true
	c.invalidateListeners.Clear()
	c.clearDependencies()
}

func (c *Computation) IsInvalidated() bool {
	return c.invalidated
}

func (c *Computation) IsStopped() bool {
	return c.stopped
}

func (c *Computation) clearDependencies() {
	deps := c.dependencies
	c.dependencies = collections.NewArray[EventRemover]()
	deps.ForEach(func(remove EventRemover) {
		remove.Remove()
	})
}
