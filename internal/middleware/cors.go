package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// Defaults applied when a CORSConfig list is empty. They cover the browser
// upload flow: presign, identify with an idempotency key, then read the
// request id and replay marker back.
var (
	DefaultCORSMethods        = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}
	DefaultCORSHeaders        = []string{"Content-Type", "Authorization", RequestIDHeader, IdempotencyKeyHeader}
	DefaultCORSExposedHeaders = []string{RequestIDHeader, IdempotentReplayHeader, "Retry-After"}
)

// CORSConfig holds the configuration for CORS middleware.
type CORSConfig struct {
	AllowedOrigins   []string // exact origins, no wildcards; empty disables CORS
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int // preflight cache duration in seconds
	// Metrics counts rejected origins per route. Optional.
	Metrics *Metrics
}

// CORS validates the Origin of cross-origin requests against an explicit
// allowlist and answers preflights. Unknown origins get 403 before any
// route runs; same-origin requests pass through untouched.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins[origin] = true
		}
	}
	methods := orDefault(cfg.AllowedMethods, DefaultCORSMethods)
	allowedMethods := make(map[string]bool, len(methods))
	for _, m := range methods {
		allowedMethods[strings.ToUpper(m)] = true
	}
	methodList := strings.Join(methods, ", ")
	headerList := strings.Join(orDefault(cfg.AllowedHeaders, DefaultCORSHeaders), ", ")
	exposedList := strings.Join(orDefault(cfg.ExposedHeaders, DefaultCORSExposedHeaders), ", ")

	return func(next http.Handler) http.Handler {
		if len(origins) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !origins[origin] {
				if cfg.Metrics != nil {
					cfg.Metrics.IncCORSRejected(normalizePath(r.URL.Path))
				}
				writeError(w, r.Context(), http.StatusForbidden, ErrCodeOriginNotAllowed, "Origin not allowed")
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			requested := r.Header.Get("Access-Control-Request-Method")
			if r.Method == http.MethodOptions && requested != "" {
				if !allowedMethods[strings.ToUpper(requested)] {
					writeError(w, r.Context(), http.StatusForbidden, ErrCodeOriginNotAllowed, "Method not allowed for cross-origin requests")
					return
				}
				h.Set("Access-Control-Allow-Methods", methodList)
				h.Set("Access-Control-Allow-Headers", headerList)
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.Set("Access-Control-Expose-Headers", exposedList)
			next.ServeHTTP(w, r)
		})
	}
}

func orDefault(values, fallback []string) []string {
	if len(values) == 0 {
		return fallback
	}
	return values
}
