package events

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
)

// RedisPublisher broadcasts events on a pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}
