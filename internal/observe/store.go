// Package observe provides the reactive state container every runtime store is
// built on: a snapshot-holding cell with subscribe/notify semantics.
package observe

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Store holds a state snapshot and notifies subscribers on every mutation.
//
// Mutation and notification form one atomic scheduling unit: a mutation's
// notifications complete before the next mutation's notifications begin.
// Subscribers receive the post-mutation snapshot in registration order.
//
// Mutate must not be called from inside a subscriber callback; Get, Subscribe
// and unsubscribe are safe there.
type Store[S any] struct {
	mu      sync.Mutex // serializes mutate+notify
	stateMu sync.RWMutex
	state   S

	subMu  sync.Mutex
	subs   []*subscriber[S]
	nextID uint64
}

type subscriber[S any] struct {
	id     uint64
	fn     func(S)
	active atomic.Bool
}

// New constructs a store holding the given initial snapshot.
func New[S any](initial S) *Store[S] {
	return &Store[S]{state: initial}
}

// Get returns the current snapshot. Callers must not mutate reference fields
// of the returned value.
func (s *Store[S]) Get() S {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Subscribe registers a callback invoked once per mutation with the
// post-mutation snapshot. The returned function deregisters the callback and
// is idempotent; it may be called from within any callback. After it returns,
// the callback is never invoked again.
func (s *Store[S]) Subscribe(fn func(S)) func() {
	sub := &subscriber[S]{fn: fn}
	sub.active.Store(true)

	s.subMu.Lock()
	s.nextID++
	sub.id = s.nextID
	s.subs = append(s.subs, sub)
	s.subMu.Unlock()

	return func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		s.subMu.Lock()
		for i, candidate := range s.subs {
			if candidate.id == sub.id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		s.subMu.Unlock()
	}
}

// Mutate replaces the snapshot with apply(current) and notifies every
// registered subscriber exactly once. A panicking subscriber is isolated and
// logged; remaining subscribers are still notified.
func (s *Store[S]) Mutate(apply func(S) S) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := apply(s.state)

	s.stateMu.Lock()
	s.state = next
	s.stateMu.Unlock()

	s.subMu.Lock()
	snapshot := make([]*subscriber[S], len(s.subs))
	copy(snapshot, s.subs)
	s.subMu.Unlock()

	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		notify(sub, next)
	}
}

func notify[S any](sub *subscriber[S], state S) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Subscriber panic recovered", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	sub.fn(state)
}

// SubscriberCount reports the number of currently registered subscribers.
func (s *Store[S]) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}
