package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// localRedis returns a client for the Redis on localhost:6379, skipping the
// test when none is running.
func localRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis not available")
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// uniqueKey returns a rate limit key that is deleted when the test ends.
func uniqueKey(t *testing.T, client *redis.Client, base string) string {
	t.Helper()
	key := base + "|" + strconv.FormatInt(time.Now().UnixNano(), 10)
	t.Cleanup(func() { client.Del(context.Background(), RateLimitKeyPrefix+key) })
	return key
}

func TestRedisRateLimitStore_IdentifyWindow(t *testing.T) {
	client := localRedis(t)
	store := NewRedisRateLimitStore(client)
	ctx := context.Background()
	cfg := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}
	key := uniqueKey(t, client, "user:u1|identify")

	for i, want := range []int{2, 1, 0} {
		allowed, remaining, _ := store.Allow(ctx, key, cfg)
		if !allowed || remaining != want {
			t.Fatalf("request %d = (%v, %d), want (true, %d)", i+1, allowed, remaining, want)
		}
	}
	allowed, remaining, retryAfter := store.Allow(ctx, key, cfg)
	if allowed || remaining != 0 || retryAfter < 1 || retryAfter > 60 {
		t.Errorf("fourth request = (%v, %d, %d), want blocked with retry in 1..60", allowed, remaining, retryAfter)
	}

	ttl, err := client.PTTL(ctx, RateLimitKeyPrefix+key).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("counter TTL = %v (err %v), want within the window", ttl, err)
	}
}

func TestRedisRateLimitStore_ScopesAreIndependent(t *testing.T) {
	client := localRedis(t)
	store := NewRedisRateLimitStore(client)
	ctx := context.Background()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	identify := uniqueKey(t, client, "user:u1|identify")
	presign := uniqueKey(t, client, "user:u1|presign")

	if ok, _, _ := store.Allow(ctx, identify, cfg); !ok {
		t.Fatal("first identify blocked")
	}
	if ok, _, _ := store.Allow(ctx, presign, cfg); !ok {
		t.Error("presign blocked by the identify counter")
	}
	if ok, _, _ := store.Allow(ctx, identify, cfg); ok {
		t.Error("second identify allowed")
	}
}

func TestRedisRateLimitStore_WindowExpiry(t *testing.T) {
	client := localRedis(t)
	store := NewRedisRateLimitStore(client)
	ctx := context.Background()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 100 * time.Millisecond}
	key := uniqueKey(t, client, "ip:203.0.113.7|presign")

	store.Allow(ctx, key, cfg)
	if ok, _, _ := store.Allow(ctx, key, cfg); ok {
		t.Fatal("second request inside the window allowed")
	}
	time.Sleep(150 * time.Millisecond)
	if ok, _, _ := store.Allow(ctx, key, cfg); !ok {
		t.Error("request after the window blocked")
	}
}

func TestRedisRateLimitStore_FailOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:9999", MaxRetries: -1})
	defer client.Close()

	var logs bytes.Buffer
	metrics := NewMetrics()
	store := NewRedisRateLimitStore(client,
		WithStoreMetrics(metrics),
		WithStoreLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	cfg := RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}

	allowed, remaining, retryAfter := store.Allow(context.Background(), "user:u1|identify", cfg)
	if !allowed || remaining != cfg.RequestsPerWindow || retryAfter != 0 {
		t.Errorf("Allow() = (%v, %d, %d), want the full quota", allowed, remaining, retryAfter)
	}
	if got := testCounterValue(t, metrics.rateLimitRedisErrors); got != 1 {
		t.Errorf("redis errors = %v, want 1", got)
	}
	if !strings.Contains(logs.String(), "rate limit store unavailable") {
		t.Errorf("log = %q, want a fail-open warning", logs.String())
	}

	logs.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ok, _, _ := store.Allow(ctx, "user:u1|identify", cfg); !ok {
		t.Error("canceled request blocked")
	}
	if logs.Len() != 0 {
		t.Errorf("canceled request logged %q", logs.String())
	}
}
