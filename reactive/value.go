package reactive

// ReactiveValueChangeEvent tells listeners that Source has changed.
type ReactiveValueChangeEvent struct {
	Source ReactiveValue
}

type ReactiveValueChangeListener func(ReactiveValueChangeEvent)

// A ReactiveValue notifies listeners when it changes. Computations reading
// the value during a recompute add themselves as listeners.
type ReactiveValue interface {
	AddReactiveValueChangeListener(l ReactiveValueChangeListener) EventRemover
}

type routerEntry struct {
	listener ReactiveValueChangeListener
	removed  bool
}

// ChangeRouter keeps the change listeners of one reactive value. Values
// embed it, call RegisterRead from their getters and FireChange from their
// setters.
type ChangeRouter struct {
	reactive  *Reactive
	source    ReactiveValue
	listeners []*routerEntry
}

func NewChangeRouter(r *Reactive, source ReactiveValue) *ChangeRouter {
	return &ChangeRouter{reactive: r, source: source}
}

func (cr *ChangeRouter) AddReactiveValueChangeListener(l ReactiveValueChangeListener) EventRemover {
	e := &routerEntry{listener: l}
	cr.listeners = append(cr.listeners, e)
	return func() {
		if e.removed {
			return
		}
		e.removed = true
		for i, other := range cr.listeners {
			if other == e {
				cr.listeners = append(cr.listeners[:i:i], cr.listeners[i+1:]...)
				break
			}
		}
	}
}

// RegisterRead adds the source as a dependency of the current computation,
// if there is one.
func (cr *ChangeRouter) RegisterRead() {
	if c := cr.reactive.CurrentComputation(); c != nil {
		c.AddDependency(cr.source)
	}
}

// FireChange notifies the engine's event collectors and then every listener
// registered when the change started.
func (cr *ChangeRouter) FireChange() {
	event := ReactiveValueChangeEvent{Source: cr.source}
	cr.reactive.NotifyEventCollectors(event)

	snapshot := cr.listeners
	for _, e := range snapshot {
		if !e.removed {
			e.listener(event)
		}
	}
}

func (cr *ChangeRouter) ListenerCount() int {
	return len(cr.listeners)
}

// Property is a reactive value holding a single comparable value.
type Property[T comparable] struct {
	router *ChangeRouter
	value  T
}

func NewProperty[T comparable](r *Reactive, initial T) *Property[T] {
	p := &Property[T]{value: initial}
	p.router = NewChangeRouter(r, p)
	return p
}

// Get returns the value and makes the current computation depend on p.
func (p *Property[T]) Get() T {
	p.router.RegisterRead()
	return p.value
}

// Set stores v. Listeners are only notified if the value changed.
func (p *Property[T]) Set(v T) {
	if p.value == v {
		return
	}
	p.value = v
	p.router.FireChange()
}

func (p *Property[T]) AddReactiveValueChangeListener(l ReactiveValueChangeListener) EventRemover {
	return p.router.AddReactiveValueChangeListener(l)
}

func (p *Property[T]) HasListeners() bool {
	return p.router.ListenerCount() > 0
}
