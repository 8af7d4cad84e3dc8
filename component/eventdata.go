package component

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

var (
	ErrNotStruct       = errors.New("component event must be a struct type")
	ErrMissingBase     = errors.New("component event must embed component.ComponentEvent")
	ErrEmptyExpression = errors.New("eventdata tag must not be empty")
	ErrUnexportedField = errors.New("eventdata field must be exported")
)

const (
	domEventTag  = "domevent"
	eventDataTag = "eventdata"
)

var baseType = reflect.TypeOf(ComponentEvent{})

type dataField struct {
	index      []int
	expression string
}

// EventMeta is what is known about one component event type.
type EventMeta struct {
	typ      reflect.Type
	domEvent string
	fields   []dataField
}

// Expressions lists the event data expressions in field order.
func (m *EventMeta) Expressions() []string {
	out := make([]string, len(m.fields))
	for i, f := range m.fields {
		out[i] = f.expression
	}
	return out
}

// IsDomEvent reports whether the event type is bound to a DOM event.
func (m *EventMeta) IsDomEvent() bool {
	return m.domEvent != ""
}

func (m *EventMeta) DomEventType() string {
	return m.domEvent
}

// decode builds an event instance from a DOM event.
func (m *EventMeta) decode(source *Component, de DomEvent) (any, error) {
	ptr := reflect.New(m.typ)
	ptr.Interface().(event).bind(source, true)

	v := ptr.Elem()
	for _, f := range m.fields {
		raw, ok := de.Data[f.expression]
		if !ok || len(raw) == 0 {
			continue
		}
		field := v.FieldByIndex(f.index)
		if err := json.Unmarshal(raw, field.Addr().Interface()); err != nil {
			return nil, errors.Wrapf(err, "decoding %q for %s", f.expression, m.typ)
		}
	}
	return ptr.Interface(), nil
}

// EventDataCache keeps the metadata of component event types, keyed by a
// hash of the qualified type name.
type EventDataCache struct {
	mu      sync.RWMutex
	entries map[uint64][]*EventMeta
}

func NewEventDataCache() *EventDataCache {
	return &EventDataCache{entries: map[uint64][]*EventMeta{}}
}

// DefaultCache is shared by buses created without their own cache.
var DefaultCache = NewEventDataCache()

func typeKey(t reflect.Type) uint64 {
	name := t.String()
	if t.PkgPath() != "" {
		name = t.PkgPath() + "." + t.Name()
	}
	return xxhash.Sum64String(name)
}

// Get returns the metadata for t, reading it from the struct tags the first
// time t is seen.
func (c *EventDataCache) Get(t reflect.Type) (*EventMeta, error) {
	key := typeKey(t)

	c.mu.RLock()
	for _, m := range c.entries[key] {
		if m.typ == t {
			c.mu.RUnlock()
			return m, nil
		}
	}
	c.mu.RUnlock()

	m, err := readMeta(t)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.entries[key] {
		if existing.typ == t {
			return existing, nil
		}
	}
	c.entries[key] = append(c.entries[key], m)
	return m, nil
}

// Len returns the number of cached types.
func (c *EventDataCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, list := range c.entries {
		n += len(list)
	}
	return n
}

func readMeta(t reflect.Type) (*EventMeta, error) {
	if t.Kind() != reflect.Struct {
		return nil, errors.Wrapf(ErrNotStruct, "%s", t)
	}

	m := &EventMeta{typ: t}
	hasBase := false
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type == baseType {
			hasBase = true
			m.domEvent = strings.TrimSpace(f.Tag.Get(domEventTag))
			continue
		}

		expr, tagged := f.Tag.Lookup(eventDataTag)
		if !tagged {
			continue
		}
		expr = strings.TrimSpace(expr)
		if expr == "" {
			return nil, errors.Wrapf(ErrEmptyExpression, "%s.%s", t, f.Name)
		}
		if !f.IsExported() {
			return nil, errors.Wrapf(ErrUnexportedField, "%s.%s", t, f.Name)
		}
		m.fields = append(m.fields, dataField{index: f.Index, expression: expr})
	}
	if !hasBase {
		return nil, errNoBase(t)
	}
	return m, nil
}

func errNoBase(t reflect.Type) error {
	return errors.Wrapf(ErrMissingBase, "%s", t)
}

func typeOf[E any]() reflect.Type {
	return reflect.TypeOf((*E)(nil)).Elem()
}
