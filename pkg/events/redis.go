package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/crewtube/billing/pkg/billing"
)

// DefaultChannel is the Redis pub/sub channel billing events are published to.
const DefaultChannel = "billing:events"

var ErrNilClient = errors.New("events: redis client is required")

// RedisPublisher publishes billing events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher on the given channel; an empty
// channel name falls back to DefaultChannel.
func NewRedisPublisher(client *redis.Client, channel string) (*RedisPublisher, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

// Publish implements billing.Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, event billing.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}
