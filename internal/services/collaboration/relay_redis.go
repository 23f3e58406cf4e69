package collaboration

import (
	"context"
	"encoding/json"
	"fmt"

	"coderoom/internal/logging"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RelayChannel is the Redis pub/sub channel shared by all instances
const RelayChannel = "collab:events"

// RedisRelay publishes gateway emits to Redis and feeds every emit seen on
// the channel back into the local gateway.
type RedisRelay struct {
	client *redis.Client
	log    *logrus.Entry
}

// NewRedisRelay creates a relay over an existing client
func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{
		client: client,
		log:    logging.Component("relay"),
	}
}

// Publish sends one envelope to every instance
func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, RelayChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

// Run subscribes and dispatches into gw until ctx is done.
// ready, if non-nil, is closed once the subscription is confirmed.
func (r *RedisRelay) Run(ctx context.Context, gw *Gateway, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, RelayChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", RelayChannel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.log.WithField("channel", RelayChannel).Info("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.WithError(err).Warn("dropping malformed envelope")
				continue
			}
			gw.Dispatch(env)
		}
	}
}
