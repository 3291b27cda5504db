// Package realtime provides in-process publish/subscribe primitives used for
// live snapshots: auth-state changes, session changes and document change
// notifications from the store.
//
// Every Subscribe call returns a Subscription handle. The owner of the handle
// must call Stop when it is done; Stop is idempotent and closes C().
//
// DELIVERY:
// Publishers never block. Each subscription buffers one value; when a new
// value arrives while an older one is still pending, the older one is
// replaced. Consumers therefore always see the latest snapshot, but may skip
// intermediate ones. A subscriber can miss a transition entirely (for
// example NotAuthenticated between two sign-ins), so work that must run on
// every transition belongs in the publisher, not in a subscriber.
package realtime

import "sync"

// Subscription is a handle on a stream of values of type T.
type Subscription[T any] struct {
	mu      sync.Mutex
	ch      chan T
	done    chan struct{}
	stopped bool
	onStop  func()
}

// NewSubscription creates a standalone subscription. onStop, if non-nil,
// runs once when Stop is first called. Producers push with Send.
func NewSubscription[T any](onStop func()) *Subscription[T] {
	return &Subscription[T]{
		ch:     make(chan T, 1),
		done:   make(chan struct{}),
		onStop: onStop,
	}
}

// C returns the receive side of the stream. It is closed by Stop.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Done is closed by Stop. Producers select on it to exit their loops.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Send delivers v without blocking, replacing a pending value if the
// consumer has not read it yet. It returns false once the subscription has
// been stopped.
func (s *Subscription[T]) Send(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	select {
	case s.ch <- v:
		return true
	default:
	}
	// Buffer full: drop the stale value and keep the fresh one.
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
	return true
}

// Stop ends the subscription. Safe to call more than once and from any
// goroutine.
func (s *Subscription[T]) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	close(s.ch)
	onStop := s.onStop
	s.mu.Unlock()

	if onStop != nil {
		onStop()
	}
}

// Feed fans values out to any number of subscriptions.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewFeed creates an empty feed.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a new subscription. Subscribing to a closed feed
// returns an already-stopped subscription.
func (f *Feed[T]) Subscribe() *Subscription[T] {
	var sub *Subscription[T]
	sub = NewSubscription[T](func() { f.remove(sub) })

	f.mu.Lock()
	closed := f.closed
	if !closed {
		f.subs[sub] = struct{}{}
	}
	f.mu.Unlock()

	if closed {
		sub.Stop()
	}
	return sub
}

// Publish delivers v to every current subscriber.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		sub.Send(v)
	}
}

// Len returns the number of live subscriptions.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close stops every subscription and rejects future ones.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := make([]*Subscription[T], 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.subs = map[*Subscription[T]]struct{}{}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
}

func (f *Feed[T]) remove(sub *Subscription[T]) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}
