package collections

// Array is an ordered list shared by the reactive engine and the component
// layer. The zero value is ready to use.
type Array[T any] struct {
	items []T
}

func NewArray[T any]() *Array[T] {
	return &Array[T]{}
}

// ArrayOf creates an array holding a copy of items.
func ArrayOf[T any](items ...T) *Array[T] {
	a := &Array[T]{items: make([]T, len(items))}
	copy(a.items, items)
	return a
}

// Get returns the item at index i, or the zero value if i is out of range.
func (a *Array[T]) Get(i int) T {
	var zero T
	if i < 0 || i >= len(a.items) {
		return zero
	}
	return a.items[i]
}

// Set stores v at index i, growing the array with zero values if needed.
func (a *Array[T]) Set(i int, v T) {
	if i < 0 {
		return
	}
	for len(a.items) <= i {
		var zero T
		a.items = append(a.items, zero)
	}
	a.items[i] = v
}

// Push appends items and returns the new length.
func (a *Array[T]) Push(items ...T) int {
	a.items = append(a.items, items...)
	return len(a.items)
}

func (a *Array[T]) Length() int {
	return len(a.items)
}

func (a *Array[T]) IsEmpty() bool {
	return len(a.items) == 0
}

// Remove deletes the item at index i and returns it.
func (a *Array[T]) Remove(i int) T {
	removed := a.Splice(i, 1)
	if len(removed) == 0 {
		var zero T
		return zero
	}
	return removed[0]
}

// Shift removes and returns the first item, or the zero value if the array
// is empty. It runs in constant time so draining a queue stays linear.
func (a *Array[T]) Shift() T {
	var zero T
	if len(a.items) == 0 {
		return zero
	}
	v := a.items[0]
	// Clear the slot so the backing array does not pin the item.
	a.items[0] = zero
	a.items = a.items[1:]
	return v
}

// Splice removes remove items starting at index, inserts add in their place
// and returns the removed items.
func (a *Array[T]) Splice(index, remove int, add ...T) []T {
	if index < 0 {
		index = 0
	}
	if index > len(a.items) {
		index = len(a.items)
	}
	if remove < 0 {
		remove = 0
	}
	if index+remove > len(a.items) {
		remove = len(a.items) - index
	}

	removed := make([]T, remove)
	copy(removed, a.items[index:index+remove])

	tail := append([]T{}, a.items[index+remove:]...)
	a.items = append(append(a.items[:index], add...), tail...)
	return removed
}

func (a *Array[T]) Clear() {
	clear(a.items)
	a.items = a.items[:0]
}

// ForEach calls fn for every item. Items pushed by fn are visited too.
func (a *Array[T]) ForEach(fn func(T)) {
	for i := 0; i < len(a.items); i++ {
		fn(a.items[i])
	}
}

// Slice returns a copy of the items.
func (a *Array[T]) Slice() []T {
	out := make([]T, len(a.items))
	copy(out, a.items)
	return out
}
