// Package arena provides a slot map: a growable store whose keys stay cheap
// to copy and safe to hold across removals. Each slot carries a generation
// counter that is bumped on removal, so a key kept after its value is gone
// can never alias a value later stored in the reused slot.
package arena

// Key identifies one value in an Arena. The zero Key is never valid: live
// slots always have an odd generation.
type Key struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.Index == 0 && k.Generation == 0
}

type slot[T any] struct {
	value      T
	generation uint32 // odd = occupied, even = vacant
}

// Arena is a generation-checked slot map. The zero value is ready to use.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32 // indices of vacant slots
	count int
}

// Insert stores value and returns the key that addresses it.
func (a *Arena[T]) Insert(value T) Key {
	a.count++
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.value = value
		s.generation++
		return Key{Index: idx, Generation: s.generation}
	}
	a.slots = append(a.slots, slot[T]{value: value, generation: 1})
	return Key{Index: uint32(len(a.slots) - 1), Generation: 1}
}

// Get returns the value for key, or false if the key is stale or was never
// issued by this arena.
func (a *Arena[T]) Get(key Key) (T, bool) {
	if int(key.Index) >= len(a.slots) {
		var zero T
		return zero, false
	}
	s := a.slots[key.Index]
	if s.generation != key.Generation || key.Generation%2 == 0 {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Contains reports whether key addresses a live value.
func (a *Arena[T]) Contains(key Key) bool {
	_, ok := a.Get(key)
	return ok
}

// Remove deletes the value for key and returns it. A stale key is a no-op
// and returns false.
func (a *Arena[T]) Remove(key Key) (T, bool) {
	var zero T
	if int(key.Index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[key.Index]
	if s.generation != key.Generation || key.Generation%2 == 0 {
		return zero, false
	}
	value := s.value
	s.value = zero
	s.generation++ // now even: vacant
	a.free = append(a.free, key.Index)
	a.count--
	return value, true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	return a.count
}
