package eventbus

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/vaadin/flow-sub072/pkg/logging"
	"github.com/vaadin/flow-sub072/pkg/metrics"
	"go.uber.org/zap"
)

// EventBus is the interface shared by SimpleEventBus and ResettableEventBus.
type EventBus interface {
	AddHandler(t *Type, h Handler) (HandlerRegistration, error)
	AddHandlerToSource(t *Type, source any, h Handler) (HandlerRegistration, error)
	FireEvent(e Event) error
	FireEventFromSource(e Event, source any) error
}

type handlerEntry struct {
	handler Handler
}

type command func()

// SimpleEventBus keeps handlers in a table of type, then source (nil for
// global handlers), then handlers in registration order.
//
// Handlers may add and remove handlers while an event is being dispatched;
// those changes are queued and applied once the outermost dispatch is done.
// The bus is not safe for concurrent use.
type SimpleEventBus struct {
	handlers    map[*Type]map[any][]*handlerEntry
	firingDepth int
	deferred    []command

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*SimpleEventBus)

func WithLogger(l *zap.Logger) Option {
	return func(b *SimpleEventBus) {
		b.logger = logging.OrNop(l)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *SimpleEventBus) {
		b.metrics = m
	}
}

func New(opts ...Option) *SimpleEventBus {
	b := &SimpleEventBus{
		handlers: map[*Type]map[any][]*handlerEntry{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddHandler adds a handler receiving every event of type t, regardless of
// source.
func (b *SimpleEventBus) AddHandler(t *Type, h Handler) (HandlerRegistration, error) {
	return b.doAdd(t, nil, h)
}

// AddHandlerToSource adds a handler receiving events of type t fired from
// source. Sources are matched with ==, so source must be comparable.
func (b *SimpleEventBus) AddHandlerToSource(t *Type, source any, h Handler) (HandlerRegistration, error) {
	if err := checkSource(source); err != nil {
		return nil, err
	}
	return b.doAdd(t, source, h)
}

// FireEvent delivers e to the global handlers of its type.
func (b *SimpleEventBus) FireEvent(e Event) error {
	return b.doFire(e, nil)
}

// FireEventFromSource delivers e to the handlers registered for source and
// then to the global handlers. The same source rules as AddHandlerToSource
// apply.
func (b *SimpleEventBus) FireEventFromSource(e Event, source any) error {
	if err := checkSource(source); err != nil {
		return err
	}
	return b.doFire(e, source)
}

func checkSource(source any) error {
	if source == nil {
		return ErrNilSource
	}
	if !reflect.ValueOf(source).Comparable() {
		return errors.Wrapf(ErrUnhashableSource, "%T", source)
	}
	return nil
}

// IsEventHandled reports whether any handler, global or source scoped, is
// registered for t.
func (b *SimpleEventBus) IsEventHandled(t *Type) bool {
	_, ok := b.handlers[t]
	return ok
}

// HandlerCount returns the number of global handlers for t.
func (b *SimpleEventBus) HandlerCount(t *Type) int {
	return len(b.handlers[t][nil])
}

func (b *SimpleEventBus) doAdd(t *Type, source any, h Handler) (HandlerRegistration, error) {
	if t == nil {
		return nil, ErrNilType
	}
	if h == nil {
		return nil, ErrNilHandler
	}

	entry := &handlerEntry{handler: h}
	b.run(func() {
		b.addNow(t, source, entry)
	})

	removed := false
	return registrationFunc(func() {
		if removed {
			return
		}
		removed = true
		b.run(func() {
			b.removeNow(t, source, entry)
		})
	}), nil
}

// run applies cmd now, or queues it if a dispatch is in progress.
func (b *SimpleEventBus) run(cmd command) {
	if b.firingDepth > 0 {
		b.deferred = append(b.deferred, cmd)
		return
	}
	cmd()
}

func (b *SimpleEventBus) addNow(t *Type, source any, entry *handlerEntry) {
	sourceMap, ok := b.handlers[t]
	if !ok {
		sourceMap = map[any][]*handlerEntry{}
		b.handlers[t] = sourceMap
	}
	sourceMap[source] = append(sourceMap[source], entry)
}

func (b *SimpleEventBus) removeNow(t *Type, source any, entry *handlerEntry) {
	sourceMap, ok := b.handlers[t]
	if !ok {
		return
	}
	list := sourceMap[source]
	for i, e := range list {
		if e == entry {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) > 0 {
		sourceMap[source] = list
		return
	}

	delete(sourceMap, source)
	if len(sourceMap) == 0 {
		delete(b.handlers, t)
	}
}

func (b *SimpleEventBus) dispatchList(t *Type, source any) []*handlerEntry {
	sourceMap := b.handlers[t]
	global := sourceMap[nil]
	if source == nil {
		return global
	}
	scoped := sourceMap[source]
	list := make([]*handlerEntry, 0, len(scoped)+len(global))
	list = append(list, scoped...)
	return append(list, global...)
}

func (b *SimpleEventBus) doFire(e Event, source any) error {
	if e == nil {
		return ErrNilEvent
	}
	t := e.AssociatedType()
	if t == nil {
		return ErrNilType
	}
	b.metrics.EventFired(t.String())

	oldSource := e.Source()
	e.setSource(source)
	b.firingDepth++
	defer func() {
		b.firingDepth--
		e.setSource(oldSource)
		if b.firingDepth == 0 {
			b.applyDeferred()
		}
	}()

	var causes []error
	for _, entry := range b.dispatchList(t, source) {
		if cause := b.callHandler(entry.handler, e); cause != nil {
			b.metrics.HandlerFailed(t.String())
			b.logger.Debug("event handler failed",
				zap.Stringer("type", t),
				zap.Error(cause),
			)
			causes = append(causes, cause)
		}
	}
	if len(causes) > 0 {
		return &UmbrellaError{causes: causes}
	}
	return nil
}

func (b *SimpleEventBus) callHandler(h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = errors.WithStack(rerr)
				return
			}
			err = &PanicError{Value: r}
		}
	}()
	return h(e)
}

// applyDeferred replays queued adds and removes. The queue is cleared even
// if a command panics.
func (b *SimpleEventBus) applyDeferred() {
	cmds := b.deferred
	b.deferred = nil
	for _, cmd := range cmds {
		cmd()
	}
}
