// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitConfig defines the rate limiting configuration.
// Valid values:
//   - RequestsPerWindow: must be > 0
//   - WindowDuration: must be > 0
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests allowed per window.
	// Must be > 0.
	RequestsPerWindow int
	// WindowDuration is the time window for the rate limit.
	// Must be > 0.
	WindowDuration time.Duration
}

// Validate checks that the RateLimitConfig has valid values.
// Returns an error if RequestsPerWindow <= 0 or WindowDuration <= 0.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// defaultGlobalLimit is the default global rate limit (100 requests per minute).
var defaultGlobalLimit = RateLimitConfig{
	RequestsPerWindow: 100,
	WindowDuration:    time.Minute,
}

// defaultIdentifyLimit is the default identify endpoint rate limit (10 requests per minute).
// Each request costs one classifier call.
var defaultIdentifyLimit = RateLimitConfig{
	RequestsPerWindow: 10,
	WindowDuration:    time.Minute,
}

// defaultPresignLimit is the default presign endpoint rate limit (30 requests per minute).
var defaultPresignLimit = RateLimitConfig{
	RequestsPerWindow: 30,
	WindowDuration:    time.Minute,
}

// DefaultGlobalLimit returns a copy of the default global rate limit config.
func DefaultGlobalLimit() RateLimitConfig {
	return defaultGlobalLimit
}

// DefaultIdentifyLimit returns a copy of the default identify endpoint rate limit config.
func DefaultIdentifyLimit() RateLimitConfig {
	return defaultIdentifyLimit
}

// DefaultPresignLimit returns a copy of the default presign endpoint rate limit config.
func DefaultPresignLimit() RateLimitConfig {
	return defaultPresignLimit
}

// RateLimitStore defines the interface for rate limit state storage.
// This allows for different backends (in-memory, Redis, etc.).
type RateLimitStore interface {
	// Allow checks if a request from the given key should be allowed.
	// It returns whether the request is allowed, the requests remaining in the
	// current window and, when blocked, the seconds until the window resets.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, retryAfter int)
}

// bucket represents a rate limit bucket for a single key.
type bucket struct {
	count     int
	windowEnd time.Time
}

// InMemoryRateLimitStore implements RateLimitStore using an in-memory map.
// It uses a simple fixed window counter algorithm.
// Thread-safe for concurrent access.
type InMemoryRateLimitStore struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		buckets: make(map[string]*bucket),
	}
}

// Allow checks if a request from the given key should be allowed.
// Implements the RateLimitStore interface.
func (s *InMemoryRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	b, exists := s.buckets[key]
	if !exists || now.After(b.windowEnd) {
		// New window or expired window
		s.buckets[key] = &bucket{
			count:     1,
			windowEnd: now.Add(config.WindowDuration),
		}
		return true, config.RequestsPerWindow - 1, 0
	}

	// Check if we're within the limit
	if b.count < config.RequestsPerWindow {
		b.count++
		return true, config.RequestsPerWindow - b.count, 0
	}

	// Rate limited
	retryAfter := int(b.windowEnd.Sub(now).Seconds())
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, 0, retryAfter
}

// Cleanup removes expired buckets to prevent memory leaks.
// This should be called periodically in production.
// Recommended cleanup interval is 2-5x the longest configured WindowDuration
// to balance memory usage and overhead.
func (s *InMemoryRateLimitStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, b := range s.buckets {
		if now.After(b.windowEnd) {
			delete(s.buckets, key)
		}
	}
}

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc returns a KeyFunc that uses the client's IP address.
func IPKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		// Check X-Forwarded-For header first (for proxied requests)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Use the first IP in the chain, trimming whitespace per RFC 7239
			if idx := strings.Index(xff, ","); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		// Check X-Real-IP header
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
		// Fall back to RemoteAddr (strip port properly for both IPv4 and IPv6)
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			// RemoteAddr might not have a port
			return r.RemoteAddr
		}
		return host
	}
}

// UserKeyFunc returns a KeyFunc that uses the authenticated user ID if available,
// falling back to IP address.
func UserKeyFunc() KeyFunc {
	ipFunc := IPKeyFunc()
	return func(r *http.Request) string {
		if id := GetUserID(r.Context()); id != "" {
			return "user:" + id
		}
		return "ip:" + ipFunc(r)
	}
}

// ScopedKeyFunc suffixes the keys from next with scope so a route limiter
// counts separately from the global one sharing its store.
func ScopedKeyFunc(scope string, next KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		return next(r) + "|" + scope
	}
}

// keyType reports the label used for a rate limit key in metrics.
func keyType(key string) string {
	if strings.HasPrefix(key, "user:") {
		return "user"
	}
	return "ip"
}

// RateLimiter is a middleware that limits request rates.
// It returns HTTP 429 Too Many Requests when the limit is exceeded.
// metrics may be nil.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed, remaining, retryAfter := store.Allow(r.Context(), key, config)

			endpoint := normalizePath(r.URL.Path)
			if metrics != nil {
				metrics.IncRateLimitRequests(endpoint, keyType(key))
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				if metrics != nil {
					metrics.IncRateLimitBlocked(endpoint, keyType(key))
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				// X-RateLimit-Reset should be a Unix timestamp per API conventions
				resetTime := time.Now().Add(time.Duration(retryAfter) * time.Second).Unix()
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))
				writeError(w, r.Context(), http.StatusTooManyRequests, ErrCodeRateLimited, "Too Many Requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitKeyPrefix namespaces rate limit counters in Redis.
const RateLimitKeyPrefix = "ratelimit:"

// RedisRateLimitStore implements RateLimitStore with a fixed window counter in
// Redis, shared by every API replica. Redis errors fail open.
type RedisRateLimitStore struct {
	client  redis.Cmdable
	metrics *Metrics
	logger  *slog.Logger
}

// RedisStoreOption configures a RedisRateLimitStore.
type RedisStoreOption func(*RedisRateLimitStore)

// WithStoreMetrics counts fail-open events on m.
func WithStoreMetrics(m *Metrics) RedisStoreOption {
	return func(s *RedisRateLimitStore) { s.metrics = m }
}

// WithStoreLogger sets the logger used for fail-open warnings.
func WithStoreLogger(l *slog.Logger) RedisStoreOption {
	return func(s *RedisRateLimitStore) { s.logger = l }
}

// NewRedisRateLimitStore creates a Redis-backed rate limit store.
func NewRedisRateLimitStore(client redis.Cmdable, opts ...RedisStoreOption) *RedisRateLimitStore {
	s := &RedisRateLimitStore{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow increments the window counter for key. The first increment of a window
// sets its expiry.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	redisKey := RateLimitKeyPrefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.failOpen(ctx, err, config)
	}

	count := incr.Val()
	remainingTTL := ttl.Val()
	if count == 1 || remainingTTL < 0 {
		if err := s.client.PExpire(ctx, redisKey, config.WindowDuration).Err(); err != nil {
			return s.failOpen(ctx, err, config)
		}
		remainingTTL = config.WindowDuration
	}

	if count <= int64(config.RequestsPerWindow) {
		return true, config.RequestsPerWindow - int(count), 0
	}

	retryAfter := int((remainingTTL + time.Second - 1) / time.Second)
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, 0, retryAfter
}

func (s *RedisRateLimitStore) failOpen(ctx context.Context, err error, config RateLimitConfig) (bool, int, int) {
	if s.metrics != nil {
		s.metrics.IncRateLimitRedisErrors()
	}
	if !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "rate limit store unavailable, allowing request", slog.String("error", err.Error()))
	}
	return true, config.RequestsPerWindow, 0
}
