package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when no token record exists under the key.
var ErrCacheMiss = errors.New("cache miss")

var _ CacheClient = (*RedisClient)(nil)

// RedisClient holds token records as JSON values, one key per installation
// (see cacheKey). It backs both RedisTokenStore and the read-aside layer of
// CachedTokenStore.
type RedisClient struct {
	rdb *redis.Client
}

// NewRedisClient connects and pings so a misconfigured token backend is
// reported at startup rather than on the first token save.
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("token cache at %s unreachable: %w", addr, err)
	}
	return &RedisClient{rdb: rdb}, nil
}

// Get decodes the record stored under key into dest.
func (c *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("token cache get %s: %w", key, err)
	}
	return decodeRecord(key, val, dest)
}

// Set writes the record as JSON. RedisTokenStore passes a zero ttl so the
// installation's record survives until the next token change overwrites it.
func (c *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := encodeRecord(key, value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// Del drops the record so the next read-aside load goes to the backing store.
func (c *RedisClient) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

func encodeRecord(key string, value interface{}) ([]byte, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("token record for %s not encodable: %w", key, err)
	}
	return b, nil
}

// decodeRecord treats an undecodable value as corrupt rather than a miss, so
// callers never silently drop a stored token.
func decodeRecord(key string, val []byte, dest interface{}) error {
	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("token record under %s is corrupt: %w", key, err)
	}
	return nil
}
