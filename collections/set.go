package collections

// Set is an insertion ordered set.
type Set[T comparable] struct {
	m Map[T, struct{}]
}

func NewSet[T comparable]() *Set[T] {
	return &Set[T]{}
}

func (s *Set[T]) Add(item T) *Set[T] {
	if !s.m.Has(item) {
		s.m.Set(item, struct{}{})
	}
	return s
}

func (s *Set[T]) Has(item T) bool {
	return s.m.Has(item)
}

func (s *Set[T]) Delete(item T) bool {
	return s.m.Delete(item)
}

func (s *Set[T]) Clear() {
	s.m.Clear()
}

func (s *Set[T]) Size() int {
	return s.m.Size()
}

func (s *Set[T]) ForEach(fn func(T)) {
	s.m.ForEach(func(_ struct{}, item T) {
		fn(item)
	})
}

func (s *Set[T]) Values() *Array[T] {
	return s.m.Keys()
}
