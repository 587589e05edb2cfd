package state

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/indexcore/solrupdater/internal/config"
)

type redisKV struct {
	client *redis.Client
	prefix string
}

func newRedisKV(cfg config.StateStoreConfig) *redisKV {
	return &redisKV{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
	}
}

func (s *redisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func (s *redisKV) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

func (s *redisKV) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *redisKV) Close() error {
	return s.client.Close()
}
