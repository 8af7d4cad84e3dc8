package component

import (
	"reflect"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/pkg/errors"
	"github.com/vaadin/flow-sub072/collections"
	"github.com/vaadin/flow-sub072/pkg/logging"
	"github.com/vaadin/flow-sub072/pkg/metrics"
	"go.uber.org/zap"
)

type listenerEntry struct {
	call    func(any)
	removed atomic.Bool
}

// listenerSet holds the listeners of one event type and, for DOM bound
// types, the registration of the element listener feeding them.
type listenerSet struct {
	meta    *EventMeta
	entries []*listenerEntry
	domReg  Registration
}

// ComponentEventBus dispatches component events to listeners registered per
// event type. The element listener of a DOM bound event type exists only
// while the type has listeners.
type ComponentEventBus struct {
	// The bus must not keep its component alive, see BusFor.
	owner   weak.Pointer[Component]
	element *Element
	cache   *EventDataCache

	mu        sync.Mutex
	listeners map[reflect.Type]*listenerSet

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type BusOption func(*ComponentEventBus)

func WithCache(c *EventDataCache) BusOption {
	return func(b *ComponentEventBus) {
		b.cache = c
	}
}

func WithLogger(l *zap.Logger) BusOption {
	return func(b *ComponentEventBus) {
		b.logger = logging.OrNop(l)
	}
}

func WithMetrics(m *metrics.Metrics) BusOption {
	return func(b *ComponentEventBus) {
		b.metrics = m
	}
}

func NewComponentEventBus(c *Component, opts ...BusOption) *ComponentEventBus {
	b := &ComponentEventBus{
		owner:     weak.Make(c),
		element:   c.Element(),
		cache:     DefaultCache,
		listeners: map[reflect.Type]*listenerSet{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var buses = collections.NewWeakMap[Component, *ComponentEventBus]()
var busesMu sync.Mutex

// BusFor returns the event bus of c, creating it on first use. Buses are
// dropped once their component is garbage collected.
func BusFor(c *Component, opts ...BusOption) *ComponentEventBus {
	busesMu.Lock()
	defer busesMu.Unlock()
	if b, ok := buses.Get(c); ok {
		return b
	}
	b := NewComponentEventBus(c, opts...)
	// c is non-nil here, NewComponentEventBus dereferenced it.
	_ = buses.Set(c, b)
	return b
}

// AddListener registers l for events of type E on bus. The first listener
// of a DOM bound type adds the element listener.
func AddListener[E any](bus *ComponentEventBus, l func(*E)) (Registration, error) {
	if l == nil {
		return nil, errors.New("listener must not be nil")
	}
	t := typeOf[E]()
	entry := &listenerEntry{call: func(ev any) {
		l(ev.(*E))
	}}
	if err := bus.add(t, entry); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			bus.remove(t, entry)
		})
	}, nil
}

// HasListener reports whether any listener is registered for type t.
func (b *ComponentEventBus) HasListener(t reflect.Type) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.listeners[t]
	return ok
}

// HasListenerFor reports whether bus has a listener for events of type E.
func HasListenerFor[E any](bus *ComponentEventBus) bool {
	return bus.HasListener(typeOf[E]())
}

// FireEvent delivers event, a pointer to a component event struct, to the
// listeners of its type. Every listener runs; a listener panic is returned
// as an error once all have run.
func (b *ComponentEventBus) FireEvent(event any) error {
	t := reflect.TypeOf(event)
	if t == nil || t.Kind() != reflect.Pointer {
		return errors.Errorf("cannot fire %T, events are passed by pointer", event)
	}
	return b.fire(t.Elem(), event)
}

func (b *ComponentEventBus) add(t reflect.Type, entry *listenerEntry) error {
	meta, err := b.cache.Get(t)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.listeners[t]
	if !ok {
		set = &listenerSet{meta: meta}
		if meta.IsDomEvent() {
			set.domReg = b.element.AddEventListener(meta.DomEventType(), func(de DomEvent) error {
				return b.handleDomEvent(meta, de)
			}, meta.Expressions()...)
			b.logger.Debug("wired dom listener",
				zap.String("dom_type", meta.DomEventType()),
				zap.Stringer("event", t),
			)
		}
		b.listeners[t] = set
	}
	set.entries = append(set.entries, entry)
	return nil
}

func (b *ComponentEventBus) remove(t reflect.Type, entry *listenerEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.listeners[t]
	if !ok {
		return
	}
	entry.removed.Store(true)
	kept := make([]*listenerEntry, 0, len(set.entries))
	for _, e := range set.entries {
		if e != entry {
			kept = append(kept, e)
		}
	}
	if len(kept) > 0 {
		set.entries = kept
		return
	}

	set.domReg.Remove()
	delete(b.listeners, t)
	if set.meta.IsDomEvent() {
		b.logger.Debug("unwired dom listener",
			zap.String("dom_type", set.meta.DomEventType()),
			zap.Stringer("event", t),
		)
	}
}

func (b *ComponentEventBus) handleDomEvent(meta *EventMeta, de DomEvent) error {
	b.metrics.DomEvent(de.Type)
	ev, err := meta.decode(b.owner.Value(), de)
	if err != nil {
		return err
	}
	return b.fire(meta.typ, ev)
}

func (b *ComponentEventBus) fire(t reflect.Type, ev any) error {
	b.mu.Lock()
	set, ok := b.listeners[t]
	var entries []*listenerEntry
	if ok {
		entries = set.entries
	}
	b.mu.Unlock()

	var failures []error
	for _, e := range entries {
		if e.removed.Load() {
			continue
		}
		if err := callListener(e, ev); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	b.logger.Debug("component listeners failed",
		zap.Stringer("event", t),
		zap.Int("failures", len(failures)),
	)
	return errors.Wrapf(failures[0], "%d of %d listeners for %s failed", len(failures), len(entries), t)
}

func callListener(e *listenerEntry, ev any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = rerr
				return
			}
			err = errors.Errorf("listener panicked: %v", r)
		}
	}()
	e.call(ev)
	return nil
}
