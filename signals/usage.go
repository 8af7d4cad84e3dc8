package signals

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// TransientListener is told about a change. immediate is true when the
// change had already happened at registration time. Returning false drops
// the listener.
type TransientListener func(immediate bool) (keep bool)

// Registration undoes a listener registration.
type Registration func()

func (r Registration) Remove() {
	if r != nil {
		r()
	}
}

// Usage describes the signal reads of one tracked run.
type Usage interface {
	// HasChanges reports whether any read value has changed since it was
	// read.
	HasChanges() bool
	// OnNextChange registers l to be told about the next change. If there is
	// already a change, l is invoked right away with immediate set.
	OnNextChange(l TransientListener) Registration
}

type noUsage struct{}

func (noUsage) HasChanges() bool { return false }

func (noUsage) OnNextChange(TransientListener) Registration { return func() {} }

// NoUsage is the usage of a run that read no signals.
var NoUsage Usage = noUsage{}

// CombinedUsage is the union of several usages.
type CombinedUsage struct {
	usages []Usage
}

func NewCombinedUsage(usages ...Usage) *CombinedUsage {
	return &CombinedUsage{usages: usages}
}

func (c *CombinedUsage) HasChanges() bool {
	for _, u := range c.usages {
		if u.HasChanges() {
			return true
		}
	}
	return false
}

// OnNextChange registers l with every usage. When l asks to be dropped it is
// unregistered from all of them.
func (c *CombinedUsage) OnNextChange(l TransientListener) Registration {
	var (
		mu   sync.Mutex
		regs []Registration
		done bool
	)
	removeAll := func() {
		mu.Lock()
		if done {
			mu.Unlock()
			return
		}
		done = true
		all := regs
		regs = nil
		mu.Unlock()
		for _, r := range all {
			r.Remove()
		}
	}
	isDone := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done
	}

	wrapper := func(immediate bool) bool {
		if isDone() {
			return false
		}
		if l(immediate) {
			return true
		}
		removeAll()
		return false
	}

	for _, u := range c.usages {
		if isDone() {
			break
		}
		r := u.OnNextChange(wrapper)
		mu.Lock()
		if done {
			mu.Unlock()
			r.Remove()
			break
		}
		regs = append(regs, r)
		mu.Unlock()
	}
	return removeAll
}

// usageCollector records the usages registered while it is active. A
// collector with a deny reason rejects every read instead.
type usageCollector struct {
	usages   []Usage
	sources  mapset.Set[any]
	listener func(Usage)
	denied   string
	isDenied bool
}

func newUsageCollector() *usageCollector {
	return &usageCollector{sources: mapset.NewThreadUnsafeSet[any]()}
}

func (c *usageCollector) register(u Usage) {
	if c.isDenied {
		panic(&DeniedSignalUsageError{Reason: c.denied})
	}
	if c.listener != nil {
		c.listener(u)
	}
	c.usages = append(c.usages, u)
	c.addSources(u)
}

func (c *usageCollector) addSources(u Usage) {
	switch u := u.(type) {
	case sourced:
		c.sources.Add(u.source())
	case *CombinedUsage:
		for _, inner := range u.usages {
			c.addSources(inner)
		}
	}
}

func (c *usageCollector) dependsOn(source any) bool {
	return c.sources.Contains(source)
}

func (c *usageCollector) usage() Usage {
	switch len(c.usages) {
	case 0:
		return NoUsage
	case 1:
		return c.usages[0]
	default:
		return NewCombinedUsage(c.usages...)
	}
}

// sourced is implemented by usages created by signals, which lets a running
// effect know which signals it depends on.
type sourced interface {
	source() any
}

// RegisterUsage adds u to the usage of the tracked run in progress, if any.
// Inside RunDenied it panics with *DeniedSignalUsageError.
func RegisterUsage(u Usage) {
	if u == NoUsage {
		return
	}
	if c := currentCollector(); c != nil {
		c.register(u)
	}
}

// IsTracking reports whether reads are currently being recorded.
func IsTracking() bool {
	c := currentCollector()
	return c != nil && !c.isDenied
}

func runWithCollector(c *usageCollector, fn func()) {
	prev := setCollector(c)
	defer setCollector(prev)
	fn()
}

// Track runs fn and returns the usage of every signal it read.
func Track(fn func()) Usage {
	c := newUsageCollector()
	runWithCollector(c, fn)
	return c.usage()
}

// Untracked runs fn without recording its reads.
func Untracked(fn func()) {
	runWithCollector(nil, fn)
}

// UntrackedValue runs fn without recording its reads and returns its value.
func UntrackedValue[T any](fn func() T) T {
	var v T
	Untracked(func() {
		v = fn()
	})
	return v
}

// RunDenied runs fn in a context where reading signals is not allowed. A
// read fails with *DeniedSignalUsageError, which is returned. Other panics
// are propagated.
func RunDenied(reason string, fn func()) (err error) {
	c := &usageCollector{denied: reason, isDenied: true}
	defer func() {
		if r := recover(); r != nil {
			if denied, ok := r.(*DeniedSignalUsageError); ok {
				err = denied
				return
			}
			panic(r)
		}
	}()
	runWithCollector(c, fn)
	return nil
}

// TrackedSupplier runs a function and remembers which signals it read.
type TrackedSupplier[T any] struct {
	fn       func() T
	usage    Usage
	listener func(Usage)
}

func Tracked[T any](fn func() T) *TrackedSupplier[T] {
	return &TrackedSupplier[T]{fn: fn, usage: NoUsage}
}

// WithUsageListener calls l for every usage registered while supplying.
func (s *TrackedSupplier[T]) WithUsageListener(l func(Usage)) *TrackedSupplier[T] {
	s.listener = l
	return s
}

// Supply runs the function and records its usage.
func (s *TrackedSupplier[T]) Supply() T {
	c := newUsageCollector()
	c.listener = s.listener
	var v T
	runWithCollector(c, func() {
		v = s.fn()
	})
	s.usage = c.usage()
	return v
}

// Usage returns the usage of the last Supply.
func (s *TrackedSupplier[T]) Usage() Usage {
	return s.usage
}

// AssertHasUsage fails with *MissingSignalUsageError if the last Supply
// read no signals.
func (s *TrackedSupplier[T]) AssertHasUsage(reason string) (Usage, error) {
	if s.usage == NoUsage {
		return nil, &MissingSignalUsageError{Reason: reason}
	}
	return s.usage, nil
}

// AssertNoUsage fails with *DeniedSignalUsageError if the last Supply read
// any signal.
func (s *TrackedSupplier[T]) AssertNoUsage(reason string) error {
	if s.usage != NoUsage {
		return &DeniedSignalUsageError{Reason: reason}
	}
	return nil
}
