package component_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaadin/flow-sub072/component"
	"github.com/vaadin/flow-sub072/pkg/metrics"
)

type clickEvent struct {
	component.ComponentEvent `domevent:"click"`
	Button                   int  `eventdata:"event.button"`
	AltKey                   bool `eventdata:"event.altKey"`
}

type otherClickEvent struct {
	component.ComponentEvent `domevent:"click"`
	ClientX                  float64 `eventdata:"event.clientX"`
}

type savedEvent struct {
	component.ComponentEvent
	Name string
}

type noBase struct {
	Button int `eventdata:"event.button"`
}

type emptyExpression struct {
	component.ComponentEvent `domevent:"click"`
	Button                   int `eventdata:" "`
}

type unexportedField struct {
	component.ComponentEvent `domevent:"click"`
	button                   int `eventdata:"event.button"`
}

type notStruct int

func raw(v string) json.RawMessage {
	return json.RawMessage(v)
}

func TestDomListenerIsWiredLazily(t *testing.T) {
	c := component.NewComponent("button")
	bus := component.NewComponentEventBus(c, component.WithCache(component.NewEventDataCache()))
	assert.Equal(t, 0, c.Element().ListenerCount("click"))
	assert.False(t, component.HasListenerFor[clickEvent](bus))

	first, err := component.AddListener(bus, func(*clickEvent) {})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Element().ListenerCount("click"))
	assert.Equal(t, []string{"event.button", "event.altKey"}, c.Element().EventData("click"))

	second, err := component.AddListener(bus, func(*clickEvent) {})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Element().ListenerCount("click"))

	first.Remove()
	first.Remove()
	assert.Equal(t, 1, c.Element().ListenerCount("click"))
	assert.True(t, component.HasListenerFor[clickEvent](bus))

	second.Remove()
	assert.Equal(t, 0, c.Element().ListenerCount("click"))
	assert.False(t, bus.HasListener(reflect.TypeOf(clickEvent{})))
}

func TestDomEventIsDecoded(t *testing.T) {
	c := component.NewComponent("button")
	bus := component.NewComponentEventBus(c)
	var got []*clickEvent
	_, err := component.AddListener(bus, func(e *clickEvent) {
		got = append(got, e)
	})
	require.NoError(t, err)

	err = c.Element().Dispatch(component.DomEvent{
		Type: "click",
		Data: map[string]json.RawMessage{"event.button": raw("2")},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Button)
	assert.False(t, got[0].AltKey)
	assert.True(t, got[0].IsFromClient())
	assert.Same(t, c, got[0].Source())
}

func TestDomEventBadDataFails(t *testing.T) {
	c := component.NewComponent("button")
	bus := component.NewComponentEventBus(c)
	called := false
	_, err := component.AddListener(bus, func(*clickEvent) { called = true })
	require.NoError(t, err)

	err = c.Element().Dispatch(component.DomEvent{
		Type: "click",
		Data: map[string]json.RawMessage{"event.button": raw(`"left"`)},
	})
	assert.ErrorContains(t, err, "event.button")
	assert.False(t, called)
}

func TestOneInstancePerMappedType(t *testing.T) {
	c := component.NewComponent("div")
	bus := component.NewComponentEventBus(c)
	var clicks []*clickEvent
	var others []*otherClickEvent
	_, err := component.AddListener(bus, func(e *clickEvent) { clicks = append(clicks, e) })
	require.NoError(t, err)
	_, err = component.AddListener(bus, func(e *clickEvent) { clicks = append(clicks, e) })
	require.NoError(t, err)
	_, err = component.AddListener(bus, func(e *otherClickEvent) { others = append(others, e) })
	require.NoError(t, err)
	assert.Equal(t, 2, c.Element().ListenerCount("click"))
	assert.ElementsMatch(t, []string{"event.button", "event.altKey", "event.clientX"}, c.Element().EventData("click"))

	require.NoError(t, c.Element().Dispatch(component.DomEvent{
		Type: "click",
		Data: map[string]json.RawMessage{
			"event.button":  raw("1"),
			"event.clientX": raw("12.5"),
		},
	}))
	require.Len(t, clicks, 2)
	assert.Same(t, clicks[0], clicks[1])
	require.Len(t, others, 1)
	assert.Equal(t, 12.5, others[0].ClientX)
}

func TestServerEventIsNotFromClient(t *testing.T) {
	c := component.NewComponent("button")
	bus := component.NewComponentEventBus(c)
	var got *clickEvent
	_, err := component.AddListener(bus, func(e *clickEvent) { got = e })
	require.NoError(t, err)

	ev, err := component.NewEvent[clickEvent](c)
	require.NoError(t, err)
	ev.Button = 3
	require.NoError(t, bus.FireEvent(ev))
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Button)
	assert.False(t, got.IsFromClient())
	assert.Same(t, c, got.Source())

	assert.Error(t, bus.FireEvent(*ev))
	assert.Error(t, bus.FireEvent(nil))
}

func TestEventWithoutDomBinding(t *testing.T) {
	c := component.NewComponent("form")
	bus := component.NewComponentEventBus(c)
	var names []string
	reg, err := component.AddListener(bus, func(e *savedEvent) { names = append(names, e.Name) })
	require.NoError(t, err)
	assert.Equal(t, 0, c.Element().ListenerCount(""))

	ev, err := component.NewEvent[savedEvent](c)
	require.NoError(t, err)
	ev.Name = "draft"
	require.NoError(t, bus.FireEvent(ev))
	assert.Equal(t, []string{"draft"}, names)

	reg.Remove()
	require.NoError(t, bus.FireEvent(ev))
	assert.Equal(t, []string{"draft"}, names)
}

func TestListenerPanicsAreCollected(t *testing.T) {
	c := component.NewComponent("form")
	bus := component.NewComponentEventBus(c)
	ran := false
	_, err := component.AddListener(bus, func(*savedEvent) { panic("boom") })
	require.NoError(t, err)
	_, err = component.AddListener(bus, func(*savedEvent) { ran = true })
	require.NoError(t, err)

	expected := errors.New("expected")
	_, err = component.AddListener(bus, func(*savedEvent) { panic(expected) })
	require.NoError(t, err)

	ev, err := component.NewEvent[savedEvent](c)
	require.NoError(t, err)
	err = bus.FireEvent(ev)
	assert.True(t, ran)
	assert.ErrorContains(t, err, "boom")
	assert.ErrorContains(t, err, "listener panicked: boom")
	assert.ErrorContains(t, err, "2 of 3")

	type stackTracer interface{ StackTrace() errors.StackTrace }
	var st stackTracer
	require.ErrorAs(t, errors.Cause(err), &st)
	assert.NotEmpty(t, st.StackTrace())
}

func TestAddListenerRejectsInvalidTypes(t *testing.T) {
	c := component.NewComponent("div")
	bus := component.NewComponentEventBus(c, component.WithCache(component.NewEventDataCache()))

	_, err := component.AddListener(bus, func(*noBase) {})
	assert.ErrorIs(t, err, component.ErrMissingBase)
	_, err = component.AddListener(bus, func(*emptyExpression) {})
	assert.ErrorIs(t, err, component.ErrEmptyExpression)
	_, err = component.AddListener(bus, func(*unexportedField) {})
	assert.ErrorIs(t, err, component.ErrUnexportedField)
	_, err = component.AddListener(bus, func(*notStruct) {})
	assert.ErrorIs(t, err, component.ErrNotStruct)
	_, err = component.AddListener[clickEvent](bus, nil)
	assert.Error(t, err)

	assert.Equal(t, 0, c.Element().ListenerCount("click"))

	_, err = component.NewEvent[noBase](c)
	assert.ErrorIs(t, err, component.ErrMissingBase)
}

func TestEventDataCache(t *testing.T) {
	cache := component.NewEventDataCache()
	first, err := cache.Get(reflect.TypeOf(clickEvent{}))
	require.NoError(t, err)
	again, err := cache.Get(reflect.TypeOf(clickEvent{}))
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.True(t, first.IsDomEvent())
	assert.Equal(t, "click", first.DomEventType())
	assert.Equal(t, []string{"event.button", "event.altKey"}, first.Expressions())

	saved, err := cache.Get(reflect.TypeOf(savedEvent{}))
	require.NoError(t, err)
	assert.False(t, saved.IsDomEvent())
	assert.Empty(t, saved.Expressions())
	assert.Equal(t, 2, cache.Len())

	_, err = cache.Get(reflect.TypeOf(noBase{}))
	assert.Error(t, err)
	assert.Equal(t, 2, cache.Len())
}

func TestBusFor(t *testing.T) {
	c := component.NewComponent("span")
	bus := component.BusFor(c)
	assert.Same(t, bus, component.BusFor(c))
	assert.Same(t, bus, c.EventBus())
	assert.NotSame(t, bus, component.BusFor(component.NewComponent("span")))
}

func TestDomEventMetrics(t *testing.T) {
	m := metrics.New(metrics.WithRegistry(prometheus.NewRegistry()))
	c := component.NewComponent("button")
	bus := component.NewComponentEventBus(c, component.WithMetrics(m))
	_, err := component.AddListener(bus, func(*clickEvent) {})
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, c.Element().Dispatch(component.DomEvent{Type: "click"}))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DomEvents.WithLabelValues("click")))
}

func TestElementDispatchRunsAllListeners(t *testing.T) {
	el := component.NewElement("input")
	assert.Equal(t, "input", el.Tag())
	expected := errors.New("expected")
	calls := 0
	el.AddEventListener("change", func(component.DomEvent) error {
		calls++
		return expected
	}, "event.target.value")
	reg := el.AddEventListener("change", func(component.DomEvent) error {
		calls++
		return nil
	}, "event.target.value", "event.timeStamp")
	assert.Equal(t, []string{"event.target.value", "event.timeStamp"}, el.EventData("change"))

	err := el.Dispatch(component.DomEvent{Type: "change"})
	assert.ErrorIs(t, err, expected)
	assert.Equal(t, 2, calls)

	reg.Remove()
	assert.Equal(t, 1, el.ListenerCount("change"))
	assert.NoError(t, el.Dispatch(component.DomEvent{Type: "keyup"}))
}
