// Package eventbus dispatches events to handlers registered per event type,
// optionally scoped to a source object.
package eventbus

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNilType    = errors.New("cannot add a handler with a nil type")
	ErrNilHandler = errors.New("cannot add a nil handler")
	ErrNilSource  = errors.New("cannot add a handler to a nil source")
	ErrNilEvent   = errors.New("cannot fire nil event")
)

// ErrUnhashableSource rejects sources that cannot be compared with ==, such
// as slices, maps or structs holding them. Pass a pointer instead.
var ErrUnhashableSource = errors.New("source must be comparable")

// Type identifies a kind of event. Two types are the same only if they are
// the same pointer, names are informational.
type Type struct {
	name string
}

func NewType(name string) *Type {
	return &Type{name: name}
}

func (t *Type) String() string {
	return t.name
}

// Event is implemented by embedding Base.
type Event interface {
	AssociatedType() *Type
	Source() any

	setSource(source any)
}

// Base carries the type and source of an event.
type Base struct {
	typ    *Type
	source any
}

func NewBase(t *Type) Base {
	return Base{typ: t}
}

func (b *Base) AssociatedType() *Type {
	return b.typ
}

// Source is the object the event was fired from, nil for events fired
// without a source. Only valid during dispatch.
func (b *Base) Source() any {
	return b.source
}

func (b *Base) setSource(source any) {
	b.source = source
}

// Handler handles one event. A returned error does not stop dispatch to the
// remaining handlers.
type Handler func(Event) error

// HandlerRegistration removes the handler it was returned for.
type HandlerRegistration interface {
	RemoveHandler()
}

type registrationFunc func()

func (f registrationFunc) RemoveHandler() {
	f()
}

// UmbrellaError collects the failures of the handlers of one dispatch.
type UmbrellaError struct {
	causes []error
}

func (e *UmbrellaError) Error() string {
	if len(e.causes) == 1 {
		return "exception caught: " + e.causes[0].Error()
	}
	msgs := make([]string, len(e.causes))
	for i, c := range e.causes {
		msgs[i] = c.Error()
	}
	return fmt.Sprintf("%d exceptions caught: %s", len(e.causes), strings.Join(msgs, "; "))
}

// Unwrap returns the first cause.
func (e *UmbrellaError) Unwrap() error {
	if len(e.causes) == 0 {
		return nil
	}
	return e.causes[0]
}

func (e *UmbrellaError) Causes() []error {
	return append([]error(nil), e.causes...)
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}
