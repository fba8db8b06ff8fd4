// Package live provides push-based views over the store: an observable
// value, the full ordered history, and per-id reply lookups.
package live

import (
	"context"
	"sync"
)

// Value holds the latest value of T and pushes it to subscribers.
// Subscribers always observe the most recent value; intermediate values may
// be skipped for a subscriber that reads slower than values change.
type Value[T any] struct {
	mu    sync.Mutex
	v     T
	subs  map[int]chan T
	next  int
	equal func(a, b T) bool
}

// NewValue creates a Value starting at initial. When equal is non-nil, Set
// ignores values equal to the current one.
func NewValue[T any](initial T, equal func(a, b T) bool) *Value[T] {
	return &Value[T]{
		v:     initial,
		subs:  make(map[int]chan T),
		equal: equal,
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

// Set replaces the current value and notifies subscribers. It reports
// whether the value changed.
func (v *Value[T]) Set(x T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.equal != nil && v.equal(v.v, x) {
		return false
	}
	v.v = x
	for _, ch := range v.subs {
		offer(ch, x)
	}
	return true
}

// offer delivers x, replacing a value the subscriber has not read yet.
// Callers hold v.mu, so no other sender races for the slot.
func offer[T any](ch chan T, x T) {
	select {
	case ch <- x:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- x:
	default:
	}
}

// Subscribe returns a channel that first yields the current value and then
// every change. The channel is closed when ctx is done.
func (v *Value[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)
	v.mu.Lock()
	id := v.next
	v.next++
	v.subs[id] = ch
	ch <- v.v
	v.mu.Unlock()

	go func() {
		<-ctx.Done()
		v.mu.Lock()
		delete(v.subs, id)
		close(ch)
		v.mu.Unlock()
	}()
	return ch
}

// Subscribers reports the number of active subscriptions.
func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}
