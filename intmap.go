package forge

import "github.com/kamstrup/intmap"

// intMap is a thin typed wrapper around kamstrup/intmap.Map, used wherever
// this package needs a dense integer-keyed lookup on a dispatch hot path:
// the component type registry's identity lookup and the archetype graph's
// add/remove edge maps. (The action DAG keeps its adjacency in an idxVec
// and its tag lookups in plain Go maps.) Plain Go
// maps would work functionally; intmap is adopted here the way
// plus3-ooftn's engine uses it, trading a slightly larger footprint for
// branch-free open-addressed lookups on uint32/uint64 keys.
type intMap[K intmap.Key, V any] struct {
	m *intmap.Map[K, V]
}

func newIntMap[K intmap.Key, V any](sizeHint int) *intMap[K, V] {
	return &intMap[K, V]{m: intmap.New[K, V](sizeHint)}
}

func (m *intMap[K, V]) get(k K) (V, bool) {
	return m.m.Get(k)
}

func (m *intMap[K, V]) put(k K, v V) {
	m.m.Put(k, v)
}

func (m *intMap[K, V]) has(k K) bool {
	return m.m.Has(k)
}

func (m *intMap[K, V]) del(k K) {
	m.m.Del(k)
}

func (m *intMap[K, V]) len() int {
	return m.m.Len()
}
