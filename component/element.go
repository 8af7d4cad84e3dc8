// Package component binds DOM events of an element to typed component
// events. The Element type stands in for the server side DOM element model.
package component

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// DomEvent is an event reported by the browser. Data holds the values of
// the event data expressions requested for the event type.
type DomEvent struct {
	Type string                     `json:"type"`
	Data map[string]json.RawMessage `json:"data,omitempty"`
}

type DomListener func(DomEvent) error

// Registration removes what it was returned for. Removing twice is a no-op.
type Registration func()

func (r Registration) Remove() {
	if r != nil {
		r()
	}
}

type domListener struct {
	listener  DomListener
	eventData []string
}

// Element is a DOM element with event listeners.
type Element struct {
	tag string

	mu        sync.Mutex
	listeners map[string][]*domListener
}

func NewElement(tag string) *Element {
	return &Element{tag: tag, listeners: map[string][]*domListener{}}
}

func (e *Element) Tag() string {
	return e.tag
}

// AddEventListener listens for DOM events of domType. eventData lists the
// expressions the browser should send along with the event.
func (e *Element) AddEventListener(domType string, l DomListener, eventData ...string) Registration {
	entry := &domListener{listener: l, eventData: eventData}
	e.mu.Lock()
	e.listeners[domType] = append(e.listeners[domType], entry)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			list := slices.DeleteFunc(slices.Clone(e.listeners[domType]), func(d *domListener) bool {
				return d == entry
			})
			if len(list) == 0 {
				delete(e.listeners, domType)
				return
			}
			e.listeners[domType] = list
		})
	}
}

// ListenerCount returns the number of listeners for domType.
func (e *Element) ListenerCount(domType string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[domType])
}

// EventData returns the distinct event data expressions requested by the
// listeners of domType, in registration order.
func (e *Element) EventData(domType string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, l := range e.listeners[domType] {
		for _, expr := range l.eventData {
			if !slices.Contains(out, expr) {
				out = append(out, expr)
			}
		}
	}
	return out
}

// Dispatch delivers event to every listener of its type. All listeners run;
// the first error is returned.
func (e *Element) Dispatch(event DomEvent) error {
	e.mu.Lock()
	list := e.listeners[event.Type]
	e.mu.Unlock()

	var first error
	for _, l := range list {
		if err := l.listener(event); err != nil && first == nil {
			first = errors.Wrapf(err, "dispatching %q on <%s>", event.Type, e.tag)
		}
	}
	return first
}
