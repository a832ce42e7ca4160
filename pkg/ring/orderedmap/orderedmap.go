// Package orderedmap implements a small insertion-order-preserving map.
// The rotation fairness rule (see pkg/ring/passer) depends on iterating
// members in the order they joined; Go's map has no such guarantee, so
// this package pairs a map with a slice that records insertion order.
package orderedmap

// Map is a map[K]V that also remembers the order keys were first
// inserted. It is not safe for concurrent use; callers that share a Map
// across goroutines must provide their own locking.
type Map[K comparable, V any] struct {
	values map[K]V
	order  []K
}

// New returns an empty Map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{values: make(map[K]V)}
}

// Set inserts or overwrites the value for key. Overwriting an existing
// key does not change its position in iteration order.
func (m *Map[K, V]) Set(key K, val V) {
	if _, ok := m.values[key]; !ok {
		m.order = append(m.order, key)
	}
	m.values[key] = val
}

// Get returns the value for key and whether it was present.
func (m *Map[K, V]) Get(key K) (V, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.values[key]
	return ok
}

// Delete removes key, if present, and its entry in the order slice.
func (m *Map[K, V]) Delete(key K) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int { return len(m.order) }

// Keys returns the keys in insertion order. The returned slice is a copy
// and safe for the caller to retain.
func (m *Map[K, V]) Keys() []K {
	out := make([]K, len(m.order))
	copy(out, m.order)
	return out
}

// First returns the first key in insertion order.
func (m *Map[K, V]) First() (K, bool) {
	var zero K
	if len(m.order) == 0 {
		return zero, false
	}
	return m.order[0], true
}

// Last returns the most recently inserted key still present.
func (m *Map[K, V]) Last() (K, bool) {
	var zero K
	if len(m.order) == 0 {
		return zero, false
	}
	return m.order[len(m.order)-1], true
}

// Range calls fn for every entry in insertion order, stopping early if fn
// returns false.
func (m *Map[K, V]) Range(fn func(key K, val V) bool) {
	for _, k := range m.order {
		if v, ok := m.values[k]; ok {
			if !fn(k, v) {
				return
			}
		}
	}
}
