package bazelbuild

import "sync"

// subscriberQueue is one subscriber's independent unbounded buffer, backed
// by a growable slice guarded by a condition variable rather than a fixed
// Go channel, since Go channels don't have the "allocate on demand" size
// guarantee that the producer-never-blocks contract requires.
type subscriberQueue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

func newSubscriberQueue[T any]() *subscriberQueue[T] {
	q := &subscriberQueue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues v, returning false if this subscriber has been closed (by
// Subscriber.Close or by the broadcaster's Close), signalling the caller to
// drop it.
func (q *subscriberQueue[T]) push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, v)
	q.cond.Signal()
	return true
}

func (q *subscriberQueue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// recv blocks until an item is available or the queue is closed and
// drained, reporting ok=false in the latter case.
func (q *subscriberQueue[T]) recv() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return v, false
	}
	v, q.items = q.items[0], q.items[1:]
	return v, true
}

// tryRecv is the non-blocking counterpart; disconnected reports whether the
// queue is closed AND drained.
func (q *subscriberQueue[T]) tryRecv() (v T, ok bool, disconnected bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		v, q.items = q.items[0], q.items[1:]
		return v, true, false
	}
	return v, false, q.closed
}

// Subscriber is a fresh independent queue returned by Broadcaster.Subscribe.
// Events sent before subscription are never observed.
type Subscriber[T any] struct {
	q *subscriberQueue[T]
}

// Recv blocks until an event is available or the stream ends.
func (s *Subscriber[T]) Recv() (T, bool) { return s.q.recv() }

// TryRecv returns immediately: (value, true) if one was queued, (zero,
// false) otherwise.
func (s *Subscriber[T]) TryRecv() (T, bool) {
	v, ok, _ := s.q.tryRecv()
	return v, ok
}

// IsClosed reports whether the stream has ended and every buffered event
// has already been received.
func (s *Subscriber[T]) IsClosed() bool {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	return s.q.closed && len(s.q.items) == 0
}

// Close disconnects this subscriber only, independent of the broadcaster's
// lifecycle; a subsequent Broadcaster.Send lazily prunes it.
func (s *Subscriber[T]) Close() { s.q.close() }

// Broadcaster fans out events to every live subscriber without ever
// blocking the producer (spec.md §4.7). It must be explicitly closed by its
// owning producer: there is no destructor to disconnect subscribers when
// the last reference to a broadcaster goes out of scope, so Close is
// mandatory on the producer's exit path regardless of how many references
// remain (spec.md §9's "Broadcaster design choice").
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers []*subscriberQueue[T]
	closed      bool
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{}
}

// Subscribe returns a fresh queue. If the broadcaster is already closed,
// the returned Subscriber is immediately disconnected.
func (b *Broadcaster[T]) Subscribe() *Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := newSubscriberQueue[T]()
	if b.closed {
		q.close()
		return &Subscriber[T]{q: q}
	}
	b.subscribers = append(b.subscribers, q)
	return &Subscriber[T]{q: q}
}

// Send enqueues event on every live subscriber, pruning any that failed to
// accept it. O(n) in subscriber count; never suspends.
func (b *Broadcaster[T]) Send(event T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	live := b.subscribers[:0]
	for _, q := range b.subscribers {
		if q.push(event) {
			live = append(live, q)
		}
	}
	b.subscribers = live
}

// Close marks the broadcaster closed and disconnects every current
// subscriber (and any future Subscribe call). Calling Close more than once
// is a no-op.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, q := range b.subscribers {
		q.close()
	}
	b.subscribers = nil
}
