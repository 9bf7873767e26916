package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and returns a PresenceStore backed by a set. When
// reporter is non-nil every command is reported through an OperationHook.
func NewRedisStore(addr string, reporter OperationReporter) (PresenceStore, error) {
	opt := &redis.Options{
		Addr: addr,
	}
	client := redis.NewClient(opt)
	if reporter != nil {
		client.AddHook(NewOperationHook(reporter))
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{client: client}, nil
}

func (r *redisStore) Add(ctx context.Context, session string) error {
	if err := r.client.SAdd(ctx, presenceKey, session).Err(); err != nil {
		return fmt.Errorf("presence add: %w", err)
	}
	return nil
}

func (r *redisStore) Remove(ctx context.Context, session string) error {
	if err := r.client.SRem(ctx, presenceKey, session).Err(); err != nil {
		return fmt.Errorf("presence remove: %w", err)
	}
	return nil
}

func (r *redisStore) Count(ctx context.Context) (int64, error) {
	n, err := r.client.SCard(ctx, presenceKey).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count: %w", err)
	}
	return n, nil
}

func (r *redisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
