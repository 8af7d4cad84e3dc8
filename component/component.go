package component

// Component is a server side UI component backed by an element.
type Component struct {
	element *Element
}

func NewComponent(tag string) *Component {
	return &Component{element: NewElement(tag)}
}

func (c *Component) Element() *Element {
	return c.element
}

// EventBus returns the event bus of c, creating it on first use.
func (c *Component) EventBus() *ComponentEventBus {
	return BusFor(c)
}

// ComponentEvent is embedded in every component event struct. A DOM event
// name can be given with a domevent tag on the embedded field:
//
//	type ClickEvent struct {
//		component.ComponentEvent `domevent:"click"`
//		Button int `eventdata:"event.button"`
//	}
//
// Fields tagged with eventdata are filled from the DOM event data.
type ComponentEvent struct {
	source     *Component
	fromClient bool
}

// Source is the component the event was fired on.
func (e *ComponentEvent) Source() *Component {
	return e.source
}

// IsFromClient reports whether the event was created from a DOM event.
func (e *ComponentEvent) IsFromClient() bool {
	return e.fromClient
}

func (e *ComponentEvent) bind(source *Component, fromClient bool) {
	e.source = source
	e.fromClient = fromClient
}

// NewEvent returns an event of type E for source, as fired from server code.
func NewEvent[E any](source *Component) (*E, error) {
	ev := new(E)
	base, ok := any(ev).(event)
	if !ok {
		return nil, errNoBase(typeOf[E]())
	}
	base.bind(source, false)
	return ev, nil
}

type event interface {
	Source() *Component
	bind(source *Component, fromClient bool)
}
