package eventbus

// ResettableEventBus wraps another bus and remembers the handlers added
// through it, so they can all be removed at once.
type ResettableEventBus struct {
	wrapped       EventBus
	registrations map[*resettableRegistration]struct{}
}

type resettableRegistration struct {
	owner *ResettableEventBus
	real  HandlerRegistration
}

func (r *resettableRegistration) RemoveHandler() {
	r.real.RemoveHandler()
	delete(r.owner.registrations, r)
}

func NewResettable(wrapped EventBus) *ResettableEventBus {
	return &ResettableEventBus{
		wrapped:       wrapped,
		registrations: map[*resettableRegistration]struct{}{},
	}
}

func (b *ResettableEventBus) AddHandler(t *Type, h Handler) (HandlerRegistration, error) {
	real, err := b.wrapped.AddHandler(t, h)
	if err != nil {
		return nil, err
	}
	return b.track(real), nil
}

func (b *ResettableEventBus) AddHandlerToSource(t *Type, source any, h Handler) (HandlerRegistration, error) {
	real, err := b.wrapped.AddHandlerToSource(t, source, h)
	if err != nil {
		return nil, err
	}
	return b.track(real), nil
}

func (b *ResettableEventBus) FireEvent(e Event) error {
	return b.wrapped.FireEvent(e)
}

func (b *ResettableEventBus) FireEventFromSource(e Event, source any) error {
	return b.wrapped.FireEventFromSource(e, source)
}

// RemoveHandlers removes every handler added through b.
func (b *ResettableEventBus) RemoveHandlers() {
	regs := b.registrations
	b.registrations = map[*resettableRegistration]struct{}{}
	for r := range regs {
		r.real.RemoveHandler()
	}
}

// RegistrationCount returns the number of handlers added through b that are
// still registered.
func (b *ResettableEventBus) RegistrationCount() int {
	return len(b.registrations)
}

func (b *ResettableEventBus) track(real HandlerRegistration) HandlerRegistration {
	r := &resettableRegistration{owner: b, real: real}
	b.registrations[r] = struct{}{}
	return r
}
