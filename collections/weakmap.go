package collections

import (
	"runtime"
	"sync"
	"weak"

	"github.com/pkg/errors"
)

// ErrInvalidKey is returned when a weak map is given a key without reference
// identity.
var ErrInvalidKey = errors.New("weak map keys must be non-nil references")

// WeakMap associates values with keys that are held weakly. Once a key is
// garbage collected its entry is evicted. It is safe for concurrent use.
type WeakMap[K any, V any] struct {
	mu      sync.Mutex
	entries map[weak.Pointer[K]]V
}

func NewWeakMap[K any, V any]() *WeakMap[K, V] {
	return &WeakMap[K, V]{entries: map[weak.Pointer[K]]V{}}
}

func (m *WeakMap[K, V]) Set(key *K, value V) error {
	if key == nil {
		return ErrInvalidKey
	}
	wp := weak.Make(key)

	m.mu.Lock()
	if m.entries == nil {
		m.entries = map[weak.Pointer[K]]V{}
	}
	_, existed := m.entries[wp]
	m.entries[wp] = value
	m.mu.Unlock()

	if !existed {
		runtime.AddCleanup(key, m.evict, wp)
	}
	return nil
}

func (m *WeakMap[K, V]) Get(key *K) (V, bool) {
	var zero V
	if key == nil {
		return zero, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[weak.Make(key)]
	return v, ok
}

func (m *WeakMap[K, V]) Has(key *K) bool {
	_, ok := m.Get(key)
	return ok
}

func (m *WeakMap[K, V]) Delete(key *K) bool {
	if key == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	wp := weak.Make(key)
	_, ok := m.entries[wp]
	delete(m.entries, wp)
	return ok
}

// Len is the number of live entries, including keys that are unreachable
// but not yet collected.
func (m *WeakMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *WeakMap[K, V]) evict(wp weak.Pointer[K]) {
	m.mu.Lock()
	delete(m.entries, wp)
	m.mu.Unlock()
}
