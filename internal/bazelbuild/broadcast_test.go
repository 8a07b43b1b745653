package bazelbuild

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSingleSubscriberReceivesEvents(t *testing.T) {
	b := NewBroadcaster[int]()
	sub := b.Subscribe()

	b.Send(1)
	b.Send(2)
	b.Send(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := sub.Recv()
		if !ok || got != want {
			t.Fatalf("Recv() = %d, %v; want %d, true", got, ok, want)
		}
	}
}

func TestMultipleSubscribersReceiveAllEvents(t *testing.T) {
	b := NewBroadcaster[int]()
	subs := []*Subscriber[int]{b.Subscribe(), b.Subscribe(), b.Subscribe()}

	for i := 0; i < 100; i++ {
		b.Send(i)
	}

	for _, sub := range subs {
		for i := 0; i < 100; i++ {
			got, ok := sub.Recv()
			if !ok || got != i {
				t.Fatalf("Recv() = %d, %v; want %d, true", got, ok, i)
			}
		}
	}
}

func TestSlowSubscriberDoesNotBlockFastSubscriber(t *testing.T) {
	b := NewBroadcaster[int]()
	fast := b.Subscribe()
	_ = b.Subscribe() // never drained

	const eventCount = 10_000
	start := time.Now()
	for i := 0; i < eventCount; i++ {
		b.Send(i)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Send took too long: %v", elapsed)
	}

	for i := 0; i < eventCount; i++ {
		got, ok := fast.Recv()
		if !ok || got != i {
			t.Fatalf("Recv() = %d, %v; want %d, true", got, ok, i)
		}
	}
}

func TestDroppedSubscriberIsCleanedUp(t *testing.T) {
	b := NewBroadcaster[int]()

	dropped := b.Subscribe()
	dropped.Close()

	sub := b.Subscribe()
	b.Send(42)

	got, ok := sub.Recv()
	if !ok || got != 42 {
		t.Fatalf("Recv() = %d, %v; want 42, true", got, ok)
	}

	b.mu.Lock()
	n := len(b.subscribers)
	b.mu.Unlock()
	if n != 1 {
		t.Fatalf("subscribers = %d; want 1", n)
	}
}

func TestZeroSubscribersDoesNotBlock(t *testing.T) {
	b := NewBroadcaster[int]()
	start := time.Now()
	for i := 0; i < 1000; i++ {
		b.Send(i)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Send with no subscribers took too long: %v", elapsed)
	}
}

func TestSubscribeAfterEventsMissesEarlyEvents(t *testing.T) {
	b := NewBroadcaster[int]()
	b.Send(1)
	b.Send(2)
	b.Send(3)

	sub := b.Subscribe()
	b.Send(4)
	b.Send(5)

	for _, want := range []int{4, 5} {
		got, ok := sub.Recv()
		if !ok || got != want {
			t.Fatalf("Recv() = %d, %v; want %d, true", got, ok, want)
		}
	}
	if _, ok := sub.TryRecv(); ok {
		t.Fatalf("TryRecv() returned a value after the expected events were drained")
	}
}

func TestIsClosedReportsCorrectly(t *testing.T) {
	b := NewBroadcaster[int]()
	sub := b.Subscribe()

	if sub.IsClosed() {
		t.Fatalf("IsClosed() = true before any Close()")
	}

	b.Send(1)
	if _, ok := sub.Recv(); !ok {
		t.Fatalf("Recv() failed")
	}
	if sub.IsClosed() {
		t.Fatalf("IsClosed() = true while broadcaster is still open")
	}

	b.Close()
	if !sub.IsClosed() {
		t.Fatalf("IsClosed() = false after Close()")
	}
}

// TestCloneIndependentFromClose is the regression test spec.md calls out
// explicitly: a broadcaster shared by two owners must not disconnect
// subscribers just because one owner stops using it. Only an explicit
// Close call disconnects a subscriber; dropping references, even every
// one of them, does not.
func TestCloneIndependentFromClose(t *testing.T) {
	b := NewBroadcaster[int]()
	sub := b.Subscribe()

	// A second "clone" of the broadcaster pointer going out of scope must
	// not disconnect anything, since Go shares the same *Broadcaster.
	func() {
		clone := b
		clone.Send(7)
	}()

	got, ok := sub.Recv()
	if !ok || got != 7 {
		t.Fatalf("Recv() = %d, %v; want 7, true (subscriber disconnected prematurely)", got, ok)
	}
	if sub.IsClosed() {
		t.Fatalf("IsClosed() = true without an explicit Close()")
	}

	b.Close()
	if !sub.IsClosed() {
		t.Fatalf("IsClosed() = false after explicit Close()")
	}
}

func TestConcurrentSendAndReceive(t *testing.T) {
	b := NewBroadcaster[int]()
	sub := b.Subscribe()

	const eventCount = 1000
	var received atomic.Int64

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < eventCount; i++ {
			if _, ok := sub.Recv(); ok {
				received.Add(1)
			}
		}
	}()

	for i := 0; i < eventCount; i++ {
		b.Send(i)
	}
	wg.Wait()

	if got := received.Load(); got != eventCount {
		t.Fatalf("received = %d; want %d", got, eventCount)
	}
}

func TestMultipleConcurrentSubscribers(t *testing.T) {
	b := NewBroadcaster[int]()
	const eventCount = 1000
	const subscriberCount = 5

	subs := make([]*Subscriber[int], subscriberCount)
	counts := make([]atomic.Int64, subscriberCount)
	for i := range subs {
		subs[i] = b.Subscribe()
	}

	var wg sync.WaitGroup
	for i := range subs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, ok := subs[i].Recv(); ok {
					counts[i].Add(1)
				} else {
					return
				}
			}
		}()
	}

	for i := 0; i < eventCount; i++ {
		b.Send(i)
	}
	b.Close()
	wg.Wait()

	for i := range counts {
		if got := counts[i].Load(); got != eventCount {
			t.Fatalf("subscriber %d received %d events; want %d", i, got, eventCount)
		}
	}
}
