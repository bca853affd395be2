package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes change events as JSON on a Redis channel
type RedisPublisher struct {
	rc      *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher for channel
func NewRedisPublisher(rc *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rc: rc, channel: channel}
}

// MembershipChanged implements Observer
func (p *RedisPublisher) MembershipChanged(ctx context.Context, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode membership event: %w", err)
	}
	if err := p.rc.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish membership event: %w", err)
	}
	return nil
}
