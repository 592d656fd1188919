package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

const webOrigin = "https://app.smartplant.example"

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	})
}

func corsRequest(method, target, origin string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCORS_Disabled(t *testing.T) {
	handler := CORS(CORSConfig{})(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, corsRequest(http.MethodGet, "/plants/heatmap", "https://evil.example"))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with CORS disabled", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want none", got)
	}
	if got := rr.Header().Get("Vary"); got != "" {
		t.Errorf("Vary = %q, want none", got)
	}
}

func TestCORS_HeatmapFromAllowedOrigin(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{webOrigin}, AllowCredentials: true})(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, corsRequest(http.MethodGet, "/plants/heatmap?format=geojson", webOrigin))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	h := rr.Header()
	if got := h.Get("Access-Control-Allow-Origin"); got != webOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := h.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q", got)
	}
	if got := h.Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
	exposed := h.Get("Access-Control-Expose-Headers")
	for _, want := range DefaultCORSExposedHeaders {
		if !strings.Contains(exposed, want) {
			t.Errorf("Access-Control-Expose-Headers %q missing %s", exposed, want)
		}
	}
	if !strings.Contains(rr.Body.String(), "FeatureCollection") {
		t.Error("heatmap body not passed through")
	}
}

func TestCORS_RejectsUnknownOrigin(t *testing.T) {
	metrics := NewMetrics()
	reached := false
	handler := CORS(CORSConfig{AllowedOrigins: []string{webOrigin}, Metrics: metrics})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/plants/heatmap"},
		{http.MethodGet, "/plants/heatmap?format=grid"},
		{http.MethodOptions, "/plants/presign"},
		{http.MethodGet, "/plants/plant_1743498000000_a1b2c3d4e"},
	}
	for _, tt := range tests {
		req := corsRequest(tt.method, tt.target, "https://evil.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusForbidden {
			t.Errorf("%s %s status = %d, want 403", tt.method, tt.target, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), ErrCodeOriginNotAllowed) {
			t.Errorf("%s %s body = %s, want %s", tt.method, tt.target, rr.Body.String(), ErrCodeOriginNotAllowed)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Errorf("%s %s leaked Access-Control-Allow-Origin", tt.method, tt.target)
		}
	}
	if reached {
		t.Error("rejected requests reached the route")
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	families, _ := reg.Gather()
	for _, mf := range families {
		if mf.GetName() != MetricCORSRejected {
			continue
		}
		if got := labelValue(mf, map[string]string{"path": "/plants/heatmap"}); got != 2 {
			t.Errorf("heatmap rejections = %v, want 2", got)
		}
		if got := labelValue(mf, map[string]string{"path": "/plants/{id}"}); got != 1 {
			t.Errorf("plant rejections = %v, want 1", got)
		}
	}
}

func TestCORS_SameOriginPassesThrough(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{webOrigin}})(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, corsRequest(http.MethodGet, "/plants/heatmap", ""))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want none", got)
	}
	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin so caches keep the variants apart", got)
	}
}

func TestCORS_PresignPreflight(t *testing.T) {
	reached := false
	handler := CORS(CORSConfig{AllowedOrigins: []string{webOrigin}, MaxAge: 600})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := corsRequest(http.MethodOptions, "/plants/presign", webOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type, idempotency-key")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if reached {
		t.Error("preflight reached the route")
	}
	h := rr.Header()
	if got := h.Get("Access-Control-Allow-Methods"); got != strings.Join(DefaultCORSMethods, ", ") {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
	allowed := h.Get("Access-Control-Allow-Headers")
	for _, want := range []string{"Content-Type", "Authorization", RequestIDHeader, IdempotencyKeyHeader} {
		if !strings.Contains(allowed, want) {
			t.Errorf("Access-Control-Allow-Headers %q missing %s", allowed, want)
		}
	}
	if got := h.Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("Access-Control-Max-Age = %q, want 600", got)
	}
}

func TestCORS_PreflightRejectsUnlistedMethod(t *testing.T) {
	handler := CORS(CORSConfig{
		AllowedOrigins: []string{webOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})(okHandler())

	req := corsRequest(http.MethodOptions, "/plants/plant_1/mask", webOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for a method outside the allowlist", rr.Code)
	}

	req = corsRequest(http.MethodOptions, "/plants/heatmap", webOrigin)
	req.Header.Set("Access-Control-Request-Method", "get")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 for a listed method in lower case", rr.Code)
	}
}

func TestCORS_OriginListIsTrimmed(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"  " + webOrigin + "  ", "", "   "}})(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, corsRequest(http.MethodGet, "/plants/heatmap", webOrigin))
	if rr.Code != http.StatusOK || rr.Header().Get("Access-Control-Allow-Origin") != webOrigin {
		t.Errorf("status = %d origin = %q, want the trimmed origin allowed", rr.Code, rr.Header().Get("Access-Control-Allow-Origin"))
	}

	onlyBlank := CORS(CORSConfig{AllowedOrigins: []string{"", " "}})(okHandler())
	rr = httptest.NewRecorder()
	onlyBlank.ServeHTTP(rr, corsRequest(http.MethodGet, "/plants/heatmap", "https://evil.example"))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want CORS disabled by a blank allowlist", rr.Code)
	}
}

func TestCORS_WithRequestID(t *testing.T) {
	handler := RequestID(CORS(CORSConfig{AllowedOrigins: []string{webOrigin}})(okHandler()))

	req := corsRequest(http.MethodOptions, "/plants/identify", webOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Header().Get(RequestIDHeader) == "" {
		t.Errorf("preflight status = %d request id = %q", rr.Code, rr.Header().Get(RequestIDHeader))
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, corsRequest(http.MethodGet, "/plants/heatmap", "https://evil.example"))
	if rr.Code != http.StatusForbidden || rr.Header().Get(RequestIDHeader) == "" {
		t.Errorf("rejected status = %d request id = %q", rr.Code, rr.Header().Get(RequestIDHeader))
	}
}
