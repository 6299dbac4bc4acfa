package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tenantops/pkg/config"
)

// streamMaxLen caps the stream with approximate trimming.
const streamMaxLen = 10000

// RedisPublisher appends events to a Redis stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisPublisher connects to addr and appends to stream.
func NewRedisPublisher(addr, password string, db int, stream string) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisPublisherWithClient(rdb, stream)
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream}
}

// Name identifies the sink in logs.
func (p *RedisPublisher) Name() string { return config.SinkRedis }

// Publish appends e to the stream.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := e.encode()
	if err != nil {
		return err
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"id":      e.ID,
			"kind":    string(e.Kind),
			"key":     e.Key(),
			"payload": data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd to %s failed: %w", p.stream, err)
	}
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
