package signals

import (
	"sync"

	"github.com/vaadin/flow-sub072/pkg/logging"
	"github.com/vaadin/flow-sub072/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Dispatcher decides where effect reruns execute.
type Dispatcher interface {
	Dispatch(task func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(task func())

func (f DispatcherFunc) Dispatch(task func()) {
	f(task)
}

// SyncDispatcher runs tasks right away on the goroutine that triggered them.
type SyncDispatcher struct{}

func (SyncDispatcher) Dispatch(task func()) {
	task()
}

// QueueDispatcher collects tasks until RunPending is called.
type QueueDispatcher struct {
	mu    sync.Mutex
	tasks []func()
}

func NewQueueDispatcher() *QueueDispatcher {
	return &QueueDispatcher{}
}

func (q *QueueDispatcher) Dispatch(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

// RunPending runs the tasks queued so far and returns how many ran. Tasks
// queued while running are left for the next call.
func (q *QueueDispatcher) RunPending() int {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

func (q *QueueDispatcher) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// ErrorHandler receives errors returned by effects and effect failures.
type ErrorHandler func(e *Effect, err error)

// Runtime holds what effects share: the dispatcher, the error handler and
// the observability hooks.
type Runtime struct {
	dispatcher Dispatcher
	onError    ErrorHandler
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics
}

type RuntimeOption func(*Runtime)

func WithDispatcher(d Dispatcher) RuntimeOption {
	return func(rt *Runtime) {
		rt.dispatcher = d
	}
}

func WithErrorHandler(h ErrorHandler) RuntimeOption {
	return func(rt *Runtime) {
		rt.onError = h
	}
}

func WithLogger(l *zap.Logger) RuntimeOption {
	return func(rt *Runtime) {
		rt.logger = logging.OrNop(l)
	}
}

func WithTracer(t trace.Tracer) RuntimeOption {
	return func(rt *Runtime) {
		rt.tracer = t
	}
}

func WithMetrics(m *metrics.Metrics) RuntimeOption {
	return func(rt *Runtime) {
		rt.metrics = m
	}
}

func NewRuntime(opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		dispatcher: SyncDispatcher{},
		logger:     zap.NewNop(),
		tracer:     otel.Tracer("github.com/vaadin/flow-sub072/signals"),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Runtime) report(e *Effect, err error) {
	rt.metrics.EffectFailed()
	if rt.onError != nil {
		rt.onError(e, err)
		return
	}
	rt.logger.Warn("effect failed", zap.String("effect", e.String()), zap.Error(err))
}
