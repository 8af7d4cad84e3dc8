package collections

// Map is an insertion ordered map. Setting an existing key keeps its
// original position.
type Map[K comparable, V any] struct {
	index map[K]int
	keys  []K
	vals  []V
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{index: map[K]int{}}
}

func (m *Map[K, V]) Set(key K, value V) *Map[K, V] {
	if m.index == nil {
		m.index = map[K]int{}
	}
	if i, ok := m.index[key]; ok {
		m.vals[i] = value
		return m
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, value)
	return m
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	i, ok := m.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return m.vals[i], true
}

func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.index[key]
	return ok
}

// Delete removes key and reports whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	i, ok := m.index[key]
	if !ok {
		return false
	}
	delete(m.index, key)
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	for j := i; j < len(m.keys); j++ {
		m.index[m.keys[j]] = j
	}
	return true
}

func (m *Map[K, V]) Clear() {
	clear(m.index)
	m.keys = nil
	m.vals = nil
}

func (m *Map[K, V]) Size() int {
	return len(m.keys)
}

// ForEach visits entries in insertion order. The callback must not modify
// the map.
func (m *Map[K, V]) ForEach(fn func(value V, key K)) {
	for i, k := range m.keys {
		fn(m.vals[i], k)
	}
}

func (m *Map[K, V]) Keys() *Array[K] {
	return ArrayOf(m.keys...)
}

func (m *Map[K, V]) Values() *Array[V] {
	return ArrayOf(m.vals...)
}
