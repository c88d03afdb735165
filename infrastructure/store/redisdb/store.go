package redisdb

import (
	"context"

	"github.com/Mr-browny/ethy/entities"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "ethy:transaction-count"

// Store keeps the transaction count hint in redis, for setups where the client has no writable disk.
type Store struct {
	rdb *redis.Client
	key string
}

func NewCountStore(rdb *redis.Client, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{rdb: rdb, key: key}
}

func (s *Store) SetTransactionCount(ctx context.Context, count uint64) error {
	err := s.rdb.Set(ctx, s.key, count, 0).Err()
	if err != nil {
		return errors.Wrapf(err, "setting key [%s] to [%d]", s.key, count)
	}
	return nil
}

func (s *Store) GetTransactionCount(ctx context.Context) (uint64, error) {
	count, err := s.rdb.Get(ctx, s.key).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, entities.ErrStoreEntityNotFound
	}
	if err != nil {
		return 0, errors.Wrapf(err, "getting value for key [%s]", s.key)
	}
	return count, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
