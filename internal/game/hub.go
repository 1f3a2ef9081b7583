package game

import (
	"context"
	"log"
	"sync"
)

const (
	HUB_BROADCAST_BUFFER  = 256
	SUBSCRIBER_QUEUE_SIZE = 64
)

// Subscriber receives a queued copy of every event published after it joined.
type Subscriber struct {
	userID string
	events chan Event
}

func (s *Subscriber) Events() <-chan Event {
	return s.events
}

func (s *Subscriber) UserID() string {
	return s.userID
}

// Hub fans events out to every registered subscriber. Delivery is best effort:
// a subscriber whose queue is full misses that event instead of stalling the
// publisher.
type Hub struct {
	subscribers map[*Subscriber]bool
	broadcast   chan Event
	register    chan *Subscriber
	unregister  chan *Subscriber
	done        chan struct{}
	mu          sync.RWMutex
	onDrop      func()
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan Event, HUB_BROADCAST_BUFFER),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		done:        make(chan struct{}),
	}
}

// OnDrop installs a hook called whenever an event is dropped.
func (h *Hub) OnDrop(fn func()) {
	h.onDrop = fn
}

func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for s := range h.subscribers {
			delete(h.subscribers, s)
			close(s.events)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Println("[WS] Hub stopped")
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = true
			total := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("[WS] Subscriber joined: %s (Total: %d)", s.userID, total)

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
				close(s.events)
				log.Printf("[WS] Subscriber left: %s (Total: %d)", s.userID, len(h.subscribers))
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.RLock()
			for s := range h.subscribers {
				select {
				case s.events <- ev:
				default:
					h.dropped()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues ev for fan-out without blocking the caller.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		log.Println("[WS] Broadcast channel full, dropping message")
		h.dropped()
	}
}

// Subscribe registers a new subscriber. It returns nil once the hub has stopped.
func (h *Hub) Subscribe(userID string) *Subscriber {
	s := &Subscriber{
		userID: userID,
		events: make(chan Event, SUBSCRIBER_QUEUE_SIZE),
	}
	select {
	case h.register <- s:
		return s
	case <-h.done:
		return nil
	}
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) dropped() {
	if h.onDrop != nil {
		h.onDrop()
	}
}
