// Package crdt supplies the small join-semilattice types the gossip
// layer needs. Max is a register whose merge operation is "highest
// value wins"; its join is commutative, associative, and idempotent,
// which is what lets independently-gossiped updates always converge
// regardless of arrival order.
package crdt

// Max is a last-writer-wins-by-value register over any ordered type.
type Max[T Ordered] struct {
	value T
}

// Ordered is satisfied by any type with a natural total order; Go's
// generic comparison operators (<, >) require this rather than the
// standard library's cmp.Ordered, which isn't available at go 1.19.
type Ordered interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64 | ~string
}

// NewMax wraps a starting value.
func NewMax[T Ordered](v T) Max[T] {
	return Max[T]{value: v}
}

// Get returns the current value.
func (m Max[T]) Get() T {
	return m.value
}

// Merge applies the join in place, keeping the larger of the two values.
func (m *Max[T]) Merge(other Max[T]) {
	if other.value > m.value {
		m.value = other.value
	}
}

// Join returns the result of joining m with other without mutating
// either.
func (m Max[T]) Join(other Max[T]) Max[T] {
	if other.value > m.value {
		return other
	}
	return m
}
