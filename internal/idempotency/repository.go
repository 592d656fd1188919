package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// InMemoryRepository keeps records in an expiring go-cache.
type InMemoryRepository struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewInMemoryRepository creates an in-memory repository whose records expire
// after ttl. A non-positive ttl uses DefaultExpiry.
func NewInMemoryRepository(ttl time.Duration) *InMemoryRepository {
	if ttl <= 0 {
		ttl = DefaultExpiry
	}
	return &InMemoryRepository{cache: cache.New(ttl, ttl/2), ttl: ttl}
}

// Get returns a copy of the record for key.
func (r *InMemoryRepository) Get(ctx context.Context, key string) (*Record, error) {
	v, ok := r.cache.Get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	rec := v.(Record)
	return &rec, nil
}

// Store saves a copy of rec.
func (r *InMemoryRepository) Store(ctx context.Context, rec *Record) error {
	if err := ValidateKey(rec.Key); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := r.cache.Add(rec.Key, *rec, r.ttl); err != nil {
		return ErrKeyExists
	}
	return nil
}

// Len reports the number of unexpired records.
func (r *InMemoryRepository) Len() int {
	return r.cache.ItemCount()
}

// RedisKeyPrefix namespaces idempotency records in Redis.
const RedisKeyPrefix = "idempotency:"

// RedisRepository stores records as JSON strings with a Redis TTL so every
// API replica sees the same keys.
type RedisRepository struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisRepository creates a Redis-backed repository. A non-positive ttl
// uses DefaultExpiry.
func NewRedisRepository(client redis.Cmdable, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = DefaultExpiry
	}
	return &RedisRepository{client: client, ttl: ttl}
}

// Get loads the record for key.
func (r *RedisRepository) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := r.client.Get(ctx, RedisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &rec, nil
}

// Store writes rec with SET NX so the first writer wins.
func (r *RedisRepository) Store(ctx context.Context, rec *Record) error {
	if err := ValidateKey(rec.Key); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	ok, err := r.client.SetNX(ctx, RedisKeyPrefix+rec.Key, raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}
