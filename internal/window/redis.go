package window

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKey     = "attendance:window:until"
	defaultChannel = "attendance:window:changed"
)

// RedisSlot keeps the expiry under a Redis key and announces every write on
// a pub/sub channel, so API replicas and CLI observers see the same window.
type RedisSlot struct {
	client  *redis.Client
	key     string
	channel string
}

// NewRedisSlot builds a slot on key, publishing changes to channel. Empty
// names fall back to the defaults.
func NewRedisSlot(client *redis.Client, key, channel string) *RedisSlot {
	if key == "" {
		key = defaultKey
	}
	if channel == "" {
		channel = defaultChannel
	}
	return &RedisSlot{client: client, key: key, channel: channel}
}

// Load reads the key; a missing key is not an error.
func (s *RedisSlot) Load(ctx context.Context) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Store sets the key and publishes the new value in one transaction.
func (s *RedisSlot) Store(ctx context.Context, value string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key, value, 0)
		pipe.Publish(ctx, s.channel, value)
		return nil
	})
	return err
}

// Clear deletes the key and publishes an empty value.
func (s *RedisSlot) Clear(ctx context.Context) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.Publish(ctx, s.channel, "")
		return nil
	})
	return err
}

// Subscribe listens on the change channel until ctx is done.
func (s *RedisSlot) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
