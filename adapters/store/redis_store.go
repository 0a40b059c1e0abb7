package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medoxie/gateway/core"
	"github.com/medoxie/gateway/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store; every key is namespaced under prefix
func NewRedisStore(client *redis.Client, prefix string) ports.Store {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Get retrieves a value by key
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.ErrKeyNotFound
		}
		return "", fmt.Errorf("%w: get: %v", core.ErrStoreOperationFailed, err)
	}
	return value, nil
}

// Set stores a value; Redis drops it after ttl when ttl is positive
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// Delete removes a key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: del: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// Take reads and deletes a key with GETDEL so two callers can never both see it
func (s *RedisStore) Take(ctx context.Context, key string) (string, error) {
	value, err := s.client.GetDel(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.ErrKeyNotFound
		}
		return "", fmt.Errorf("%w: getdel: %v", core.ErrStoreOperationFailed, err)
	}
	return value, nil
}
