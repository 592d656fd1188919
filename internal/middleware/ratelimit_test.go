package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

func perMinuteLimit(n int) RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute}
}

func TestInMemoryRateLimitStore_Allow(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRateLimitStore()
	cfg := perMinuteLimit(3)

	wantRemaining := []int{2, 1, 0}
	for i, want := range wantRemaining {
		allowed, remaining, retryAfter := store.Allow(ctx, "user:u1|identify", cfg)
		if !allowed || remaining != want || retryAfter != 0 {
			t.Fatalf("request %d = (%v, %d, %d), want (true, %d, 0)", i+1, allowed, remaining, retryAfter, want)
		}
	}

	allowed, remaining, retryAfter := store.Allow(ctx, "user:u1|identify", cfg)
	if allowed || remaining != 0 {
		t.Errorf("fourth request = (%v, %d), want blocked", allowed, remaining)
	}
	if retryAfter < 1 || retryAfter > 60 {
		t.Errorf("retryAfter = %d, want 1..60", retryAfter)
	}
}

func TestInMemoryRateLimitStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRateLimitStore()
	cfg := perMinuteLimit(1)

	for _, key := range []string{"user:u1|identify", "user:u1|presign", "user:u2|identify", "ip:203.0.113.7|identify"} {
		if allowed, _, _ := store.Allow(ctx, key, cfg); !allowed {
			t.Errorf("first request for %s blocked", key)
		}
	}
	if allowed, _, _ := store.Allow(ctx, "user:u1|identify", cfg); allowed {
		t.Error("second identify request for u1 allowed")
	}
}

func TestInMemoryRateLimitStore_WindowExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRateLimitStore()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 20 * time.Millisecond}

	store.Allow(ctx, "ip:198.51.100.1", cfg)
	if allowed, _, _ := store.Allow(ctx, "ip:198.51.100.1", cfg); allowed {
		t.Fatal("request inside the window allowed")
	}
	time.Sleep(30 * time.Millisecond)
	if allowed, remaining, _ := store.Allow(ctx, "ip:198.51.100.1", cfg); !allowed || remaining != 0 {
		t.Errorf("request after the window = (%v, %d), want (true, 0)", allowed, remaining)
	}
}

func TestInMemoryRateLimitStore_Concurrency(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRateLimitStore()
	cfg := perMinuteLimit(50)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := store.Allow(ctx, "user:u1|presign", cfg); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly 50", allowed)
	}
}

func TestInMemoryRateLimitStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRateLimitStore()

	store.Allow(ctx, "user:expired", RateLimitConfig{RequestsPerWindow: 5, WindowDuration: 10 * time.Millisecond})
	store.Allow(ctx, "user:live", perMinuteLimit(5))
	time.Sleep(20 * time.Millisecond)
	store.Cleanup()

	store.mu.RLock()
	defer store.mu.RUnlock()
	if _, ok := store.buckets["user:expired"]; ok {
		t.Error("expired bucket kept")
	}
	if _, ok := store.buckets["user:live"]; !ok {
		t.Error("live bucket removed")
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.0.2.10:51234", nil, "192.0.2.10"},
		{"ipv6 remote addr", "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"no port", "192.0.2.10", nil, "192.0.2.10"},
		{"forwarded chain", "10.0.0.1:80", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.2"}, "203.0.113.7"},
		{"forwarded single", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.8"}, "203.0.113.8"},
		{"real ip", "10.0.0.1:80", map[string]string{"X-Real-IP": " 203.0.113.9 "}, "203.0.113.9"},
		{"forwarded wins", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "203.0.113.9"}, "203.0.113.7"},
	}

	keyFunc := IPKeyFunc()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/plants/presign", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := keyFunc(req); got != tt.want {
				t.Errorf("IPKeyFunc() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserKeyFunc(t *testing.T) {
	keyFunc := UserKeyFunc()

	req := httptest.NewRequest(http.MethodPost, "/plants/identify", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	if got := keyFunc(req); got != "ip:192.0.2.10" {
		t.Errorf("anonymous key = %q", got)
	}

	req = req.WithContext(SetUserID(req.Context(), "u1"))
	if got := keyFunc(req); got != "user:u1" {
		t.Errorf("signed-in key = %q", got)
	}
}

func TestScopedKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/plants/identify", nil)
	req = req.WithContext(SetUserID(req.Context(), "u1"))

	identify := ScopedKeyFunc("identify", UserKeyFunc())(req)
	presign := ScopedKeyFunc("presign", UserKeyFunc())(req)
	if identify != "user:u1|identify" || presign != "user:u1|presign" {
		t.Errorf("scoped keys = %q, %q", identify, presign)
	}
	if keyType(identify) != "user" || keyType("ip:192.0.2.10|presign") != "ip" {
		t.Error("keyType does not survive scoping")
	}
}

// identifyRoute mimics the per-user identify limiter mounted by the API server.
func identifyRoute(store RateLimitStore, limit int, metrics *Metrics) http.Handler {
	handler := RateLimiter(store, perMinuteLimit(limit), ScopedKeyFunc("identify", UserKeyFunc()), metrics)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get("X-Test-User"); user != "" {
			r = r.WithContext(SetUserID(r.Context(), user))
		}
		handler.ServeHTTP(w, r)
	})
}

func identifyRequest(user string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/plants/identify", strings.NewReader(`{"imageKey":"plants/u1/1.jpg"}`))
	req.RemoteAddr = "192.0.2.10:1234"
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	return req
}

func TestRateLimiter_IdentifyPerUser(t *testing.T) {
	handler := identifyRoute(NewInMemoryRateLimitStore(), 2, nil)

	for i, want := range []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, identifyRequest("u1"))
		if rr.Code != want {
			t.Fatalf("request %d status = %d, want %d", i+1, rr.Code, want)
		}
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, identifyRequest("u2"))
	if rr.Code != http.StatusCreated {
		t.Errorf("other user status = %d, want 201", rr.Code)
	}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, identifyRequest(""))
	if rr.Code != http.StatusCreated {
		t.Errorf("anonymous caller from the same IP status = %d, want 201", rr.Code)
	}
}

func TestRateLimiter_Headers(t *testing.T) {
	handler := identifyRoute(NewInMemoryRateLimitStore(), 1, nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, identifyRequest("u1"))
	if rr.Header().Get("X-RateLimit-Limit") != "1" || rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("allowed headers limit=%q remaining=%q", rr.Header().Get("X-RateLimit-Limit"), rr.Header().Get("X-RateLimit-Remaining"))
	}
	if rr.Header().Get("Retry-After") != "" {
		t.Error("Retry-After set on an allowed request")
	}

	before := time.Now().Unix()
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, identifyRequest("u1"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	retryAfter, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 || retryAfter > 60 {
		t.Errorf("Retry-After = %q, want 1..60", rr.Header().Get("Retry-After"))
	}
	reset, err := strconv.ParseInt(rr.Header().Get("X-RateLimit-Reset"), 10, 64)
	if err != nil || reset < before || reset > before+61 {
		t.Errorf("X-RateLimit-Reset = %q, want a unix time within the window", rr.Header().Get("X-RateLimit-Reset"))
	}
	if !strings.Contains(rr.Body.String(), ErrCodeRateLimited) {
		t.Errorf("body = %s, want %s", rr.Body.String(), ErrCodeRateLimited)
	}
}

func TestRateLimiter_ScopesShareStore(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	global := RateLimiter(store, perMinuteLimit(5), UserKeyFunc(), nil)
	presign := RateLimiter(store, perMinuteLimit(1), ScopedKeyFunc("presign", UserKeyFunc()), nil)
	handler := global(presign(ok))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/plants/presign", nil)
		req = req.WithContext(SetUserID(req.Context(), "u1"))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	if got := send(); got != http.StatusOK {
		t.Fatalf("first presign = %d", got)
	}
	if got := send(); got != http.StatusTooManyRequests {
		t.Errorf("second presign = %d, want the route limit to block", got)
	}

	list := httptest.NewRequest(http.MethodGet, "/plants", nil)
	list = list.WithContext(SetUserID(list.Context(), "u1"))
	rr := httptest.NewRecorder()
	global(ok).ServeHTTP(rr, list)
	if rr.Code != http.StatusOK || rr.Header().Get("X-RateLimit-Remaining") != "2" {
		t.Errorf("global bucket status = %d remaining = %q, want 200 and 2 left", rr.Code, rr.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimiter_Metrics(t *testing.T) {
	metrics := NewMetrics()
	handler := identifyRoute(NewInMemoryRateLimitStore(), 1, metrics)

	requests := gatherFamily(t, metrics, MetricRateLimitRequests, func() {
		for i := 0; i < 3; i++ {
			handler.ServeHTTP(httptest.NewRecorder(), identifyRequest("u1"))
		}
		handler.ServeHTTP(httptest.NewRecorder(), identifyRequest(""))
	})
	if got := labelValue(requests, map[string]string{"endpoint": "/plants/identify", "key_type": "user"}); got != 3 {
		t.Errorf("user requests = %v, want 3", got)
	}
	if got := labelValue(requests, map[string]string{"endpoint": "/plants/identify", "key_type": "ip"}); got != 1 {
		t.Errorf("ip requests = %v, want 1", got)
	}

	blocked := gatherFamily(t, metrics, MetricRateLimitBlocked, func() {})
	if got := labelValue(blocked, map[string]string{"endpoint": "/plants/identify", "key_type": "user"}); got != 2 {
		t.Errorf("user blocked = %v, want 2", got)
	}
}

func TestRateLimiter_RecoversAfterWindow(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 20 * time.Millisecond}
	handler := RateLimiter(store, cfg, IPKeyFunc(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/plants/heatmap", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	send()
	if got := send(); got != http.StatusTooManyRequests {
		t.Fatalf("status inside the window = %d, want 429", got)
	}
	time.Sleep(30 * time.Millisecond)
	if got := send(); got != http.StatusOK {
		t.Errorf("status after the window = %d, want 200", got)
	}
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RateLimitConfig
		wantErr string
	}{
		{"valid", perMinuteLimit(10), ""},
		{"zero requests", RateLimitConfig{WindowDuration: time.Minute}, "RequestsPerWindow"},
		{"negative requests", RateLimitConfig{RequestsPerWindow: -1, WindowDuration: time.Minute}, "RequestsPerWindow"},
		{"zero window", RateLimitConfig{RequestsPerWindow: 10}, "WindowDuration"},
		{"negative window", RateLimitConfig{RequestsPerWindow: 10, WindowDuration: -time.Second}, "WindowDuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultLimits(t *testing.T) {
	tests := []struct {
		name string
		get  func() RateLimitConfig
		want int
	}{
		{"global", DefaultGlobalLimit, 100},
		{"identify", DefaultIdentifyLimit, 10},
		{"presign", DefaultPresignLimit, 30},
	}
	for _, tt := range tests {
		cfg := tt.get()
		if cfg.RequestsPerWindow != tt.want || cfg.WindowDuration != time.Minute {
			t.Errorf("%s limit = %+v, want %d per minute", tt.name, cfg, tt.want)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s limit invalid: %v", tt.name, err)
		}

		cfg.RequestsPerWindow = 1
		if tt.get().RequestsPerWindow != tt.want {
			t.Errorf("%s default changed through a returned copy", tt.name)
		}
	}
}
