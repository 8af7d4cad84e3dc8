// Package metrics holds the Prometheus collectors shared by the reactive
// engine, the event buses and the signals runtime.
//
// A nil *Metrics is valid and records nothing, so libraries can take one
// as an optional dependency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "flow").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is where collectors are registered.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "flow",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics is the set of collectors.
type Metrics struct {
	Flushes        prometheus.Counter
	Recomputations prometheus.Counter

	EventsFired   *prometheus.CounterVec
	HandlerErrors *prometheus.CounterVec

	SignalWrites  *prometheus.CounterVec
	UpdateRetries prometheus.Counter
	EffectRuns    *prometheus.CounterVec
	EffectErrors  prometheus.Counter

	DomEvents *prometheus.CounterVec
}

// New registers the collectors with the configured registry.
// Registering twice against the same registry panics, as with promauto.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Metrics{
		Flushes:        counter("reactive_flushes_total", "Total number of reactive flush cycles"),
		Recomputations: counter("reactive_recomputations_total", "Total number of computation recomputes"),
		EventsFired:    counterVec("eventbus_events_total", "Total number of events fired", "type"),
		HandlerErrors:  counterVec("eventbus_handler_errors_total", "Total number of failing event handlers", "type"),
		SignalWrites:   counterVec("signal_writes_total", "Total number of committed signal writes", "op"),
		UpdateRetries:  counter("signal_update_retries_total", "Total number of conflicting update attempts that were retried"),
		EffectRuns:     counterVec("effect_runs_total", "Total number of effect executions", "trigger"),
		EffectErrors:   counter("effect_errors_total", "Total number of failed effect executions"),
		DomEvents:      counterVec("component_dom_events_total", "Total number of DOM events turned into component events", "dom_type"),
	}
}

func (m *Metrics) Flush() {
	if m == nil {
		return
	}
	m.Flushes.Inc()
}

func (m *Metrics) Recompute() {
	if m == nil {
		return
	}
	m.Recomputations.Inc()
}

func (m *Metrics) EventFired(eventType string) {
	if m == nil {
		return
	}
	m.EventsFired.WithLabelValues(eventType).Inc()
}

func (m *Metrics) HandlerFailed(eventType string) {
	if m == nil {
		return
	}
	m.HandlerErrors.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SignalWrite(op string) {
	if m == nil {
		return
	}
	m.SignalWrites.WithLabelValues(op).Inc()
}

func (m *Metrics) UpdateRetry() {
	if m == nil {
		return
	}
	m.UpdateRetries.Inc()
}

func (m *Metrics) EffectRun(trigger string) {
	if m == nil {
		return
	}
	m.EffectRuns.WithLabelValues(trigger).Inc()
}

func (m *Metrics) EffectFailed() {
	if m == nil {
		return
	}
	m.EffectErrors.Inc()
}

func (m *Metrics) DomEvent(domType string) {
	if m == nil {
		return
	}
	m.DomEvents.WithLabelValues(domType).Inc()
}
