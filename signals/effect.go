package signals

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EffectContext describes why an effect is running.
type EffectContext struct {
	initialRun       bool
	backgroundChange bool
}

// IsInitialRun is true only for the first run of an effect.
func (c EffectContext) IsInitialRun() bool {
	return c.initialRun
}

// IsBackgroundChange is true when the run was triggered by a change made
// outside of any user request: a timer, a push from another session, or the
// completion of asynchronous work started by a request. It is never true for
// the initial run.
func (c EffectContext) IsBackgroundChange() bool {
	return c.backgroundChange
}

type effectConfig struct {
	name string
}

type EffectOption func(*effectConfig)

func WithEffectName(name string) EffectOption {
	return func(c *effectConfig) {
		c.name = name
	}
}

// Effect runs a function every time a signal it read during its previous run
// changes.
type Effect struct {
	rt   *Runtime
	fn   func(EffectContext) error
	name string

	// Serializes runs; a rerun may be dispatched to another goroutine.
	runMu sync.Mutex

	mu           sync.Mutex
	collector    *usageCollector
	registration Registration
	generation   uint64

	pending    atomic.Bool
	background atomic.Bool
	closed     atomic.Bool
}

// NewEffect creates an effect and runs it once on the calling goroutine.
// Later runs go through the runtime's dispatcher.
//
// The first run must read at least one signal, otherwise the effect is
// discarded and a *MissingSignalUsageError is returned. An error returned
// by fn is passed to the runtime's error handler and the effect stays
// active. A panic in fn closes the effect.
func NewEffect(rt *Runtime, fn func(EffectContext) error, opts ...EffectOption) (*Effect, error) {
	cfg := &effectConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	e := &Effect{rt: rt, fn: fn, name: cfg.name}
	if err := e.run(true); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Effect) String() string {
	if e.name != "" {
		return e.name
	}
	return fmt.Sprintf("effect@%p", e)
}

// Close stops the effect. A rerun already dispatched does nothing.
func (e *Effect) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.mu.Lock()
	reg := e.registration
	e.registration = nil
	e.mu.Unlock()
	reg.Remove()
}

func (e *Effect) IsClosed() bool {
	return e.closed.Load()
}

func (e *Effect) run(initial bool) error {
	usage, gen, err := e.execute(initial)
	if err != nil || usage == nil {
		return err
	}

	// Registering may rerun the effect right away when a dependency changed
	// concurrently; that rerun then owns the registration.
	reg := usage.OnNextChange(e.onChange)
	e.mu.Lock()
	if e.closed.Load() || e.generation != gen {
		e.mu.Unlock()
		reg.Remove()
		return nil
	}
	e.registration = reg
	e.mu.Unlock()
	return nil
}

// execute runs fn once and returns the usage to listen to, or nil when the
// effect should not rerun.
func (e *Effect) execute(initial bool) (Usage, uint64, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.closed.Load() {
		return nil, 0, nil
	}

	ctx := EffectContext{initialRun: initial}
	if !initial {
		ctx.backgroundChange = e.background.Load()
	}
	e.pending.Store(false)

	trigger := "request"
	switch {
	case initial:
		trigger = "initial"
	case ctx.backgroundChange:
		trigger = "background"
	}
	e.rt.metrics.EffectRun(trigger)
	_, span := e.rt.tracer.Start(context.Background(), "signals.effect",
		trace.WithAttributes(
			attribute.String("effect", e.String()),
			attribute.String("trigger", trigger),
		),
	)
	defer span.End()

	c := newUsageCollector()
	e.mu.Lock()
	e.generation++
	gen := e.generation
	old := e.registration
	e.registration = nil
	e.collector = c
	e.mu.Unlock()
	old.Remove()

	err, panicked := e.invoke(c, ctx)

	e.mu.Lock()
	e.collector = nil
	e.mu.Unlock()

	if panicked != nil {
		span.SetStatus(codes.Error, "panic")
		e.Close()
		e.rt.report(e, panicked)
		return nil, gen, nil
	}

	usage := c.usage()
	if initial && usage == NoUsage {
		e.Close()
		return nil, gen, &MissingSignalUsageError{
			Reason: "An effect must read at least one signal in its first run to be able to rerun.",
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.rt.report(e, err)
	}
	if e.closed.Load() {
		return nil, gen, nil
	}
	return usage, gen, nil
}

func (e *Effect) invoke(c *usageCollector, ctx EffectContext) (err, panicked error) {
	pushEffect(e)
	defer popEffect()
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				panicked = errors.Wrap(rerr, "effect panicked")
				return
			}
			panicked = errors.Errorf("effect panicked: %v", r)
		}
	}()
	runWithCollector(c, func() {
		err = e.fn(ctx)
	})
	return err, nil
}

// onChange is the one-shot listener registered after each run. A change that
// had already happened when listening started came from a concurrent writer
// and counts as a background change.
func (e *Effect) onChange(immediate bool) bool {
	if e.closed.Load() {
		return false
	}
	if e.pending.CompareAndSwap(false, true) {
		e.background.Store(immediate || !InRequest())
		e.rt.dispatcher.Dispatch(func() {
			if err := e.run(false); err != nil {
				e.rt.report(e, err)
			}
		})
	}
	return false
}

func (e *Effect) dependsOn(source any) bool {
	e.mu.Lock()
	c := e.collector
	e.mu.Unlock()
	return c != nil && c.dependsOn(source)
}

func (e *Effect) closeForLoop() {
	e.Close()
	e.rt.report(e, errors.WithStack(ErrEffectLoop))
}
