package api

import (
	"net/http"

	"github.com/onnwee/smartplant/internal/idempotency"
	"github.com/onnwee/smartplant/internal/middleware"
)

// Route paths with per-route middleware.
const (
	PathPresign  = "/plants/presign"
	PathIdentify = "/plants/identify"
)

// RouterConfig holds everything NewRouter mounts.
type RouterConfig struct {
	Plants   *PlantHandlers
	Curation *CurationHandlers
	Health   *HealthHandlers

	// Metrics serves GET /metrics. Nil leaves the route unmounted.
	Metrics http.Handler

	// RateLimitStore enables the per-route identify and presign limits when set.
	RateLimitStore   middleware.RateLimitStore
	IdentifyLimit    middleware.RateLimitConfig
	PresignLimit     middleware.RateLimitConfig
	RateLimitMetrics *middleware.Metrics

	// Idempotency enables Idempotency-Key replay on POST /plants/identify.
	Idempotency idempotency.Repository
}

// NewRouter registers the service routes on a new ServeMux. Global
// middleware (request ID, tracing, logging, auth) is applied by the caller.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	if cfg.Health != nil {
		mux.HandleFunc("GET /health", cfg.Health.Health)
		mux.HandleFunc("GET /ready", cfg.Health.Ready)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	if p := cfg.Plants; p != nil {
		presign := http.Handler(http.HandlerFunc(p.Presign))
		identify := http.Handler(http.HandlerFunc(p.Identify))

		if cfg.Idempotency != nil {
			identify = middleware.Idempotency(cfg.Idempotency, map[string]bool{PathIdentify: true})(identify)
		}
		if cfg.RateLimitStore != nil {
			users := middleware.UserKeyFunc()
			presign = middleware.RateLimiter(cfg.RateLimitStore, limitOrDefault(cfg.PresignLimit, middleware.DefaultPresignLimit()),
				middleware.ScopedKeyFunc(PathPresign, users), cfg.RateLimitMetrics)(presign)
			identify = middleware.RateLimiter(cfg.RateLimitStore, limitOrDefault(cfg.IdentifyLimit, middleware.DefaultIdentifyLimit()),
				middleware.ScopedKeyFunc(PathIdentify, users), cfg.RateLimitMetrics)(identify)
		}

		mux.Handle("POST "+PathPresign, presign)
		mux.Handle("POST "+PathIdentify, identify)
		mux.HandleFunc("GET /plants", p.List)
		mux.HandleFunc("GET /plants/heatmap", p.Heatmap)
		mux.HandleFunc("GET /plants/{id}", p.Get)
		mux.HandleFunc("PUT /plants/{id}/mask", p.SetMask)
		mux.HandleFunc("GET /history", p.History)
	}

	if c := cfg.Curation; c != nil {
		mux.HandleFunc("GET /admin/unsure-images", c.ListUnsure)
		mux.HandleFunc("POST /admin/unsure-images", c.Review)
		mux.HandleFunc("POST /feedback", c.Feedback)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			writeJSON(w, r, http.StatusOK, map[string]string{"service": "smartplant-api"})
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})

	return mux
}

func limitOrDefault(c, def middleware.RateLimitConfig) middleware.RateLimitConfig {
	if c.Validate() != nil {
		return def
	}
	return c
}
