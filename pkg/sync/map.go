package sync

import "sync"

// TypedSyncMap is a generic wrapper around sync.Map.
type TypedSyncMap[K comparable, V any] struct {
	m sync.Map
}

func (m *TypedSyncMap[K, V]) Delete(key K) { m.m.Delete(key) }

func (m *TypedSyncMap[K, V]) Store(key K, value V) { m.m.Store(key, value) }

func (m *TypedSyncMap[K, V]) Load(key K) (V, bool) {
	v, ok := m.m.Load(key)
	if !ok {
		return *new(V), false
	}

	vv, ok := v.(V)
	return vv, ok
}

func (m *TypedSyncMap[K, V]) LoadAndDelete(key K) (V, bool) {
	v, loaded := m.m.LoadAndDelete(key)
	if !loaded {
		return *new(V), false
	}

	vv, _ := v.(V)
	return vv, true
}

// CompareAndDelete deletes the entry for key only if it is currently
// mapped to old. V must be comparable at runtime for this to succeed.
func (m *TypedSyncMap[K, V]) CompareAndDelete(key K, old V) bool {
	return m.m.CompareAndDelete(key, old)
}

// Range calls fn for every entry. Iteration stops when fn returns false.
func (m *TypedSyncMap[K, V]) Range(fn func(K, V) bool) {
	m.m.Range(func(k, v any) bool {
		return fn(k.(K), v.(V))
	})
}

// Values returns a snapshot of every value currently stored, in no
// particular order.
func (m *TypedSyncMap[K, V]) Values() []V {
	var out []V
	m.Range(func(_ K, v V) bool {
		out = append(out, v)
		return true
	})

	return out
}

func (m *TypedSyncMap[K, V]) Len() int {
	n := 0
	m.m.Range(func(_, _ any) bool {
		n++
		return true
	})

	return n
}
