package signals_test

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaadin/flow-sub072/pkg/metrics"
	"github.com/vaadin/flow-sub072/signals"
)

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) handler(_ *signals.Effect, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func newTestRuntime(t *testing.T, opts ...signals.RuntimeOption) (*signals.Runtime, *errorLog) {
	t.Helper()
	log := &errorLog{}
	opts = append([]signals.RuntimeOption{signals.WithErrorHandler(log.handler)}, opts...)
	return signals.NewRuntime(opts...), log
}

func TestEffectWithoutUsageFails(t *testing.T) {
	rt, _ := newTestRuntime(t)
	e, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		return nil
	})
	assert.Nil(t, e)
	var missing *signals.MissingSignalUsageError
	assert.ErrorAs(t, err, &missing)
}

func TestEffectRunsOnceThenOnChange(t *testing.T) {
	rt, log := newTestRuntime(t)
	s := signals.NewValue("")
	var invocations []string

	e, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		invocations = append(invocations, s.Get())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{""}, invocations)

	s.Set("update")
	assert.Equal(t, []string{"", "update"}, invocations)
	s.Set("update")
	assert.Equal(t, []string{"", "update"}, invocations)
	s.Set("again")
	assert.Equal(t, []string{"", "update", "again"}, invocations)

	e.Close()
	assert.True(t, e.IsClosed())
	s.Set("closed")
	assert.Equal(t, []string{"", "update", "again"}, invocations)
	assert.Empty(t, log.all())
}

func TestEffectStopsDependingOnUnreadSignals(t *testing.T) {
	rt, _ := newTestRuntime(t)
	useA := signals.NewValue(true)
	a := signals.NewValue("a")
	runs := 0

	_, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		runs++
		if useA.Get() {
			a.Get()
		}
		return nil
	})
	require.NoError(t, err)

	useA.Set(false)
	assert.Equal(t, 2, runs)
	a.Set("ignored")
	assert.Equal(t, 2, runs)
}

func TestEffectUntrackedReadDoesNotTrigger(t *testing.T) {
	rt, _ := newTestRuntime(t)
	tracked := signals.NewValue(0)
	untracked := signals.NewValue(0)
	runs := 0

	_, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		runs++
		tracked.Get()
		signals.Untracked(func() {
			untracked.Get()
		})
		return nil
	})
	require.NoError(t, err)

	untracked.Set(1)
	assert.Equal(t, 1, runs)
	tracked.Set(1)
	assert.Equal(t, 2, runs)
}

func TestEffectFailedReplaceDoesNotTrigger(t *testing.T) {
	rt, _ := newTestRuntime(t)
	s := signals.NewValue("")
	runs := 0
	_, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		runs++
		s.Get()
		return nil
	})
	require.NoError(t, err)

	s.Replace("other", "update")
	assert.Equal(t, 1, runs)
}

func TestEffectRunsOncePerTransaction(t *testing.T) {
	rt, _ := newTestRuntime(t)
	a := signals.NewValue("")
	b := signals.NewValue("")
	var invocations []string
	_, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		invocations = append(invocations, a.Get()+b.Get())
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, signals.RunInTransaction(func() error {
		a.Set("first")
		a.Set("sec")
		b.Set("ond")
		return nil
	}))
	assert.Equal(t, []string{"", "second"}, invocations)
}

func TestEffectReadsComputed(t *testing.T) {
	rt, _ := newTestRuntime(t)
	s := signals.NewValue(1)
	doubled := signals.Computed(func() int { return s.Get() * 2 })
	var invocations []int
	_, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		invocations = append(invocations, doubled.Get())
		return nil
	})
	require.NoError(t, err)

	s.Set(2)
	assert.Equal(t, []int{2, 4}, invocations)
}

func TestQueueDispatcherCoalescesWrites(t *testing.T) {
	dispatcher := signals.NewQueueDispatcher()
	rt, _ := newTestRuntime(t, signals.WithDispatcher(dispatcher))
	s := signals.NewValue("initial")
	var invocations []string

	_, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		invocations = append(invocations, s.Get())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"initial"}, invocations)

	s.Set("update1")
	s.Set("update2")
	assert.Equal(t, []string{"initial"}, invocations)
	assert.Equal(t, 1, dispatcher.Pending())

	assert.Equal(t, 1, dispatcher.RunPending())
	assert.Equal(t, []string{"initial", "update2"}, invocations)
}

func TestCloseWithPendingRun(t *testing.T) {
	dispatcher := signals.NewQueueDispatcher()
	rt, _ := newTestRuntime(t, signals.WithDispatcher(dispatcher))
	s := signals.NewValue("initial")
	var invocations []string

	e, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		invocations = append(invocations, s.Get())
		return nil
	})
	require.NoError(t, err)

	s.Set("update")
	e.Close()
	dispatcher.RunPending()
	assert.Equal(t, []string{"initial"}, invocations)
}

func TestEffectErrorKeepsEffectActive(t *testing.T) {
	rt, log := newTestRuntime(t)
	s := signals.NewValue("initial")
	expected := errors.New("expected")
	var invocations []string

	e, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		invocations = append(invocations, s.Get())
		return expected
	})
	require.NoError(t, err)

	s.Set("update")
	assert.Equal(t, []string{"initial", "update"}, invocations)
	assert.False(t, e.IsClosed())
	errs := log.all()
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[1], expected)
}

func TestEffectPanicClosesEffect(t *testing.T) {
	rt, log := newTestRuntime(t)
	s := signals.NewValue("initial")
	var invocations []string

	e, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		invocations = append(invocations, s.Get())
		panic("fatal")
	})
	require.NoError(t, err)
	assert.True(t, e.IsClosed())
	require.Len(t, log.all(), 1)
	assert.Contains(t, log.all()[0].Error(), "fatal")

	s.Set("update")
	assert.Equal(t, []string{"initial"}, invocations)
}

func TestWritingUnrelatedSignalIsNotALoop(t *testing.T) {
	rt, log := newTestRuntime(t)
	other := signals.NewValue("other")
	s := signals.NewValue("signal")

	_, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		other.Set(s.Get())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "signal", other.Peek())

	s.Set("update")
	assert.Equal(t, "update", other.Peek())
	assert.Empty(t, log.all())
}

func TestWritingOwnDependencyIsALoop(t *testing.T) {
	rt, log := newTestRuntime(t)
	s := signals.NewValue("signal")
	trigger := signals.NewValue("trigger")
	count := 0

	e, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		count++
		trigger.Get()
		s.Get()
		_, err := s.Set("update").Result()
		assert.ErrorIs(t, err, signals.ErrEffectLoop)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, e.IsClosed())
	assert.Equal(t, "signal", s.Peek())

	trigger.Set("update")
	assert.Equal(t, 1, count)
	require.Len(t, log.all(), 1)
	assert.ErrorIs(t, log.all()[0], signals.ErrEffectLoop)
}

func TestLoopBetweenEffectsIsDetected(t *testing.T) {
	rt, _ := newTestRuntime(t)
	signal1 := signals.NewValue("signal")
	signal2 := signals.NewValue("signal")
	loops := 0

	_, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		value := signal2.Get() + " update"
		if _, err := signal1.Set(value).Result(); errors.Is(err, signals.ErrEffectLoop) {
			loops++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, loops)

	_, err = signals.NewEffect(rt, func(signals.EffectContext) error {
		signal2.Set(signal1.Get() + " update")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, loops)
}

func TestEffectContextClassification(t *testing.T) {
	rt, _ := newTestRuntime(t)
	s := signals.NewValue(0)
	var contexts []signals.EffectContext

	_, err := signals.NewEffect(rt, func(ctx signals.EffectContext) error {
		s.Get()
		contexts = append(contexts, ctx)
		return nil
	})
	require.NoError(t, err)

	signals.RunInRequest(func() {
		assert.True(t, signals.InRequest())
		s.Set(1)
	})
	assert.False(t, signals.InRequest())
	s.Set(2)

	done := make(chan struct{})
	signals.RunInRequest(func() {
		// Work started by a request but finished later is a background
		// change.
		go func() {
			defer close(done)
			s.Set(3)
		}()
		<-done
	})

	require.Len(t, contexts, 4)
	assert.True(t, contexts[0].IsInitialRun())
	assert.False(t, contexts[0].IsBackgroundChange())

	assert.False(t, contexts[1].IsInitialRun())
	assert.False(t, contexts[1].IsBackgroundChange())

	assert.True(t, contexts[2].IsBackgroundChange())
	assert.True(t, contexts[3].IsBackgroundChange())
}

func TestInitialRunIsNeverBackground(t *testing.T) {
	rt, _ := newTestRuntime(t)
	s := signals.NewValue(0)
	var first signals.EffectContext
	_, err := signals.NewEffect(rt, func(ctx signals.EffectContext) error {
		s.Get()
		if ctx.IsInitialRun() {
			first = ctx
		}
		return nil
	})
	require.NoError(t, err)
	assert.False(t, signals.InRequest())
	assert.False(t, first.IsBackgroundChange())
}

func TestEffectMetrics(t *testing.T) {
	m := metrics.New(metrics.WithRegistry(prometheus.NewRegistry()))
	rt, _ := newTestRuntime(t, signals.WithMetrics(m))
	s := signals.NewValue(0)
	_, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		if s.Get() > 0 {
			return errors.New("positive")
		}
		return nil
	})
	require.NoError(t, err)

	signals.RunInRequest(func() {
		s.Set(1)
	})
	s.Set(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EffectRuns.WithLabelValues("initial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EffectRuns.WithLabelValues("request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EffectRuns.WithLabelValues("background")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EffectErrors))
}
