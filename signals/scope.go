package signals

import (
	"runtime"
	"sync"
)

// scope is the signal state of one goroutine: the collector recording
// reads, the active transaction, whether a user request is being handled
// and the effects currently running.
//
// Scopes are created on first use and dropped as soon as they are empty
// again, so goroutines that leave every Run* call leave nothing behind.
type scope struct {
	collector *usageCollector
	tx        *transaction
	requests  int
	effects   []*Effect
}

func (s *scope) empty() bool {
	return s.collector == nil && s.tx == nil && s.requests == 0 && len(s.effects) == 0
}

var scopes sync.Map

// goroutineID parses the id out of the "goroutine <id> [" stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// peekScope returns the current goroutine's scope or nil.
func peekScope() *scope {
	if s, ok := scopes.Load(goroutineID()); ok {
		return s.(*scope)
	}
	return nil
}

// withScope runs fn with the goroutine's scope, creating it if needed, and
// drops the scope afterwards if fn left it empty.
func withScope(fn func(s *scope)) {
	gid := goroutineID()
	var s *scope
	if v, ok := scopes.Load(gid); ok {
		s = v.(*scope)
	} else {
		s = &scope{}
		scopes.Store(gid, s)
	}

	fn(s)

	if s.empty() {
		scopes.Delete(gid)
	}
}

func currentCollector() *usageCollector {
	if s := peekScope(); s != nil {
		return s.collector
	}
	return nil
}

func setCollector(c *usageCollector) (prev *usageCollector) {
	withScope(func(s *scope) {
		prev = s.collector
		s.collector = c
	})
	return prev
}

func currentTransaction() *transaction {
	if s := peekScope(); s != nil {
		return s.tx
	}
	return nil
}

func setTransaction(tx *transaction) (prev *transaction) {
	withScope(func(s *scope) {
		prev = s.tx
		s.tx = tx
	})
	return prev
}

func runningEffects() []*Effect {
	if s := peekScope(); s != nil {
		return s.effects
	}
	return nil
}

func pushEffect(e *Effect) {
	withScope(func(s *scope) {
		s.effects = append(s.effects, e)
	})
}

func popEffect() {
	withScope(func(s *scope) {
		s.effects[len(s.effects)-1] = nil
		s.effects = s.effects[:len(s.effects)-1]
	})
}

// RunInRequest runs fn as part of handling a user request. Signal changes
// made inside fn are not background changes for the effects they trigger.
func RunInRequest(fn func()) {
	withScope(func(s *scope) {
		s.requests++
	})
	defer withScope(func(s *scope) {
		s.requests--
	})
	fn()
}

// InRequest reports whether the calling goroutine is inside RunInRequest.
func InRequest() bool {
	if s := peekScope(); s != nil {
		return s.requests > 0
	}
	return false
}
