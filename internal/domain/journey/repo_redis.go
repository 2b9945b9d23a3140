package journey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// RedisRepository stores the state as a JSON string under the storage key.
type RedisRepository struct {
	rdb goredis.Cmdable
	key string
}

func NewRedisRepository(rdb goredis.Cmdable, key string) *RedisRepository {
	return &RedisRepository{rdb: rdb, key: key}
}

func (r *RedisRepository) Load(ctx context.Context) (JourneyState, error) {
	raw, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return JourneyState{}, ErrNotFound
	}
	if err != nil {
		return JourneyState{}, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	return decodeState(raw)
}

func (r *RedisRepository) Save(ctx context.Context, s JourneyState) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode journey state: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisRepository) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", r.key, err)
	}
	return nil
}
