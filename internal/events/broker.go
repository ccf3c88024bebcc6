// Package events provides a small typed observer set. Spec §9 calls out
// two anti-patterns to replace: "event-emitter fan-out" via dynamic string
// channels, and "mutable inheritance of event-emitter behavior" where
// subsystems extend a shared emitter base class. Broker[T] is the
// replacement for both: each component that needs to publish a given kind
// of event owns one Broker[T] value for that event's concrete payload
// type, rather than subclassing or routing through string-keyed channels.
package events

import "sync"

// Broker fans out values of type T to every subscriber. The zero value is
// ready to use.
type Broker[T any] struct {
	mu   sync.RWMutex
	subs []func(T)
}

// Subscribe registers fn to be called on every future Publish. It returns
// an unsubscribe function.
func (b *Broker[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = append(b.subs, fn)
	id := len(b.subs) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if id < len(b.subs) {
			b.subs[id] = nil
		}
	}
}

// Publish synchronously delivers v to every current subscriber. Publish
// must not be called while holding a lock a subscriber might also need;
// callers that mutate shared state publish after releasing their own
// locks (spec §5 ownership rules).
func (b *Broker[T]) Publish(v T) {
	b.mu.RLock()
	subs := make([]func(T), len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, fn := range subs {
		if fn != nil {
			fn(v)
		}
	}
}
