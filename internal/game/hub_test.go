package game

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.GetClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("GetClientCount() = %d, want %d", hub.GetClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub.subscribers == nil {
		t.Error("Hub subscribers map is nil")
	}
	if hub.broadcast == nil {
		t.Error("Hub broadcast channel is nil")
	}
	if count := hub.GetClientCount(); count != 0 {
		t.Errorf("GetClientCount() = %v, want 0", count)
	}
}

func TestHub_BroadcastReachesEverySubscriber(t *testing.T) {
	hub, _ := startHub(t)

	subs := []*Subscriber{hub.Subscribe("a"), hub.Subscribe("b"), hub.Subscribe("c")}
	waitForClients(t, hub, 3)

	hub.Broadcast(Event{Type: EVENT_MULTIPLIER})

	for _, s := range subs {
		select {
		case ev := <-s.Events():
			if ev.Type != EVENT_MULTIPLIER {
				t.Errorf("subscriber %s got %q, want %q", s.UserID(), ev.Type, EVENT_MULTIPLIER)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s received nothing", s.UserID())
		}
	}
}

func TestHub_PreservesOrderPerSubscriber(t *testing.T) {
	hub, _ := startHub(t)
	s := hub.Subscribe("ordered")
	waitForClients(t, hub, 1)

	types := []string{EVENT_ROUND_WAITING, EVENT_ROUND_STARTED, EVENT_MULTIPLIER, EVENT_ROUND_CRASHED}
	for _, typ := range types {
		hub.Broadcast(Event{Type: typ})
	}

	for _, want := range types {
		select {
		case ev := <-s.Events():
			if ev.Type != want {
				t.Fatalf("got %q, want %q", ev.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub, _ := startHub(t)

	var drops int64
	hub.OnDrop(func() { atomic.AddInt64(&drops, 1) })

	slow := hub.Subscribe("slow")
	fast := hub.Subscribe("fast")
	waitForClients(t, hub, 2)

	total := SUBSCRIBER_QUEUE_SIZE + 10
	received := make(chan int)
	go func() {
		n := 0
		for range fast.Events() {
			n++
			if n == total {
				break
			}
		}
		received <- n
	}()

	for i := 0; i < total; i++ {
		hub.Broadcast(Event{Type: EVENT_MULTIPLIER})
		time.Sleep(time.Millisecond)
	}

	select {
	case n := <-received:
		if n != total {
			t.Errorf("fast subscriber got %d events, want %d", n, total)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscriber was stalled by the slow one")
	}

	if got := len(slow.Events()); got != SUBSCRIBER_QUEUE_SIZE {
		t.Errorf("slow subscriber queue = %d, want %d", got, SUBSCRIBER_QUEUE_SIZE)
	}
	if atomic.LoadInt64(&drops) == 0 {
		t.Error("expected dropped events for the slow subscriber")
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, _ := startHub(t)

	s := hub.Subscribe("leaver")
	waitForClients(t, hub, 1)

	hub.Unsubscribe(s)
	waitForClients(t, hub, 0)

	if _, ok := <-s.Events(); ok {
		t.Error("events channel should be closed after Unsubscribe")
	}
}

func TestHub_ConcurrentSubscribers(t *testing.T) {
	hub, _ := startHub(t)

	var wg sync.WaitGroup
	subs := make([]*Subscriber, 50)
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subs[i] = hub.Subscribe("client")
		}(i)
	}
	wg.Wait()
	waitForClients(t, hub, len(subs))

	for _, s := range subs {
		wg.Add(1)
		go func(s *Subscriber) {
			defer wg.Done()
			hub.Unsubscribe(s)
		}(s)
	}
	wg.Wait()
	waitForClients(t, hub, 0)
}

func TestHub_StopClosesSubscribers(t *testing.T) {
	hub, cancel := startHub(t)

	s := hub.Subscribe("viewer")
	waitForClients(t, hub, 1)
	cancel()

	select {
	case _, ok := <-s.Events():
		if ok {
			t.Error("expected closed channel after hub stop")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed after hub stop")
	}

	if hub.Subscribe("late") != nil {
		t.Error("Subscribe() after stop should return nil")
	}
	hub.Unsubscribe(s)
}
