package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrCacheMiss if the key is not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

func cacheKey(installationID string) string {
	return fmt.Sprintf("push:token:%s", installationID)
}

// RedisTokenStore keeps the token record in Redis only.
type RedisTokenStore struct {
	cache CacheClient
	key   string
}

func NewRedisTokenStore(cache CacheClient, installationID string) *RedisTokenStore {
	return &RedisTokenStore{cache: cache, key: cacheKey(installationID)}
}

func (s *RedisTokenStore) Load(ctx context.Context) (*push.TokenRecord, error) {
	var rec push.TokenRecord
	if err := s.cache.Get(ctx, s.key, &rec); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, push.ErrTokenNotFound
		}
		return nil, fmt.Errorf("redis token load failed: %w", err)
	}
	return &rec, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, record push.TokenRecord) error {
	return s.cache.Set(ctx, s.key, record, 0)
}

// CachedTokenStore is a Decorator that adds Read-Aside caching to any TokenStore.
type CachedTokenStore struct {
	realStore push.TokenStore
	cache     CacheClient
	key       string
	ttl       time.Duration
}

// NewCachedTokenStore creates the decorator.
func NewCachedTokenStore(realStore push.TokenStore, cache CacheClient, installationID string, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		key:       cacheKey(installationID),
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTokenStore) Load(ctx context.Context) (*push.TokenRecord, error) {
	var cached push.TokenRecord
	if err := s.cache.Get(ctx, s.key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Load(ctx)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; a Redis outage falls back to the real store.
	_ = s.cache.Set(ctx, s.key, fresh, s.ttl)
	return fresh, nil
}

// --- WRITE PATH (Invalidate-on-Write) ---

func (s *CachedTokenStore) Save(ctx context.Context, record push.TokenRecord) error {
	if err := s.realStore.Save(ctx, record); err != nil {
		return err
	}
	// The next Load must see the new token, not a stale cached one.
	return s.cache.Del(ctx, s.key)
}
