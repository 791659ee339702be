package engine

import (
	"context"
	"errors"
	"time"

	"github.com/kauthdev/kauth/cache"
)

// RedisStateStore persists pending login states in Redis so callbacks can
// land on any instance. Expiry is delegated to Redis TTLs.
type RedisStateStore struct {
	client *cache.Client
}

const redisStateKeyPrefix = "oauth:state:"

// NewRedisStateStore creates a StateStore backed by the given Redis client.
func NewRedisStateStore(client *cache.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Save stores a pending state with a TTL matching its expiry.
func (s *RedisStateStore) Save(ctx context.Context, state State) error {
	ttl := time.Until(state.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.client.SetJSON(ctx, redisStateKeyPrefix+state.ID, state, ttl)
}

// Consume removes and returns a pending state.
func (s *RedisStateStore) Consume(ctx context.Context, id string) (*State, error) {
	var state State
	err := s.client.GetDelJSON(ctx, redisStateKeyPrefix+id, &state)
	if errors.Is(err, cache.ErrKeyNotFound) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}
