package chat

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fitfriends/messaging/internal/types"
)

const (
	relayChannel        = "messaging:broadcast"
	relayPublishTimeout = 2 * time.Second
)

// RelayEvent is one persisted message republished for other gateway
// instances. Origin identifies the publishing instance so it can skip
// its own events on receipt.
type RelayEvent struct {
	Origin  string         `json:"origin"`
	Message *types.Message `json:"message"`
}

// Relay distributes broadcasts across gateway instances. The registry
// itself stays in-process; the relay only re-delivers persisted messages
// into the registries of other instances.
type Relay interface {
	Publish(ctx context.Context, ev RelayEvent) error
}

type RedisRelay struct {
	client *redis.Client
	log    *log.Logger
}

func NewRedisRelay(client *redis.Client, l *log.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		log:    l,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, ev RelayEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, relayChannel, payload).Err()
}

// Run subscribes to the relay channel and feeds received events to
// handler until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, handler func(RelayEvent)) error {
	pubsub := r.client.Subscribe(ctx, relayChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var ev RelayEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.Println("relay: unmarshal event:", err)
				continue
			}

			handler(ev)
		}
	}
}
