package cache

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"crashgame/internal/game"
)

const (
	EVENTS_CHANNEL = "crash:events"
	RELAY_ID       = "redis-relay"
)

// Relay republishes every hub event on a Redis channel for out-of-process
// consumers. It is an ordinary hub subscriber, so a slow Redis only costs the
// relay its own events.
type Relay struct {
	client  *redis.Client
	hub     *game.Hub
	channel string
}

func NewRelay(client *redis.Client, hub *game.Hub) *Relay {
	return &Relay{client: client, hub: hub, channel: EVENTS_CHANNEL}
}

// Run blocks until ctx is done or the hub stops.
func (r *Relay) Run(ctx context.Context) {
	sub := r.hub.Subscribe(RELAY_ID)
	if sub == nil {
		return
	}
	defer r.hub.Unsubscribe(sub)

	log.Printf("[CACHE] Relaying events to %s", r.channel)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := r.publish(ctx, ev); err != nil {
				log.Printf("[CACHE] Relay publish failed for %s: %v", ev.Type, err)
			}
		}
	}
}

func (r *Relay) publish(ctx context.Context, ev game.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}
