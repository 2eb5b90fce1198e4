package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appmol "github.com/turtacn/molcore/internal/application/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molcore/internal/interfaces/http/handlers"
	"github.com/turtacn/molcore/internal/interfaces/http/middleware"
)

// RouterConfig aggregates all handler and middleware dependencies required
// to construct the complete HTTP route tree.
type RouterConfig struct {
	MoleculeHandler *handlers.MoleculeHandler
	HealthHandler   *handlers.HealthHandler

	// MetricsHandler is mounted at MetricsPath when non-nil.
	MetricsHandler http.Handler
	MetricsPath    string

	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string

	// RateLimiter throttles /api/v1 per client when non-nil.
	RateLimiter middleware.RateLimiter

	// RequestTimeout cancels request contexts after this long.
	RequestTimeout time.Duration

	// Authenticate guards /api/v1 except /api/v1/version when non-nil.
	Authenticate func(http.Handler) http.Handler
	// ExportGuard additionally wraps the batch export route.
	ExportGuard func(http.Handler) http.Handler

	Logger  logging.Logger
	Metrics *prometheus.AppMetrics
}

// NewRouter wires global middleware, the public probes and the /api/v1
// molecule routes into one http.Handler.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := chi.NewRouter()

	// --- Global middleware (applied to every request) ---
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogging(logger.Named("http"), cfg.Metrics, middleware.DefaultLoggingConfig()))
	r.Use(chimw.Recoverer)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Location"},
			MaxAge:         300,
		}))
	}

	// --- Public probes ---
	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsHandler)
	}

	// --- API v1 ---
	r.Route("/api/v1", func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(middleware.RateLimit(cfg.RateLimiter, middleware.DefaultRateLimitConfig()))
		}
		if cfg.RequestTimeout > 0 {
			api.Use(chimw.Timeout(cfg.RequestTimeout))
		}
		if h := cfg.MoleculeHandler; h != nil {
			api.Get("/version", h.Version)
		}
		api.Group(func(priv chi.Router) {
			if cfg.Authenticate != nil {
				priv.Use(cfg.Authenticate)
			}
			registerMoleculeRoutes(priv, cfg.MoleculeHandler, cfg.ExportGuard)
		})
	})

	return r
}

// registerMoleculeRoutes mounts the molecule endpoints.
func registerMoleculeRoutes(r chi.Router, h *handlers.MoleculeHandler, exportGuard func(http.Handler) http.Handler) {
	if h == nil {
		return
	}

	r.Route("/molecules", func(mr chi.Router) {
		mr.Post("/", h.Create)

		// Stateless conversions
		mr.Post("/parse", h.Convert(appmol.ConvertParse))
		mr.Post("/canonical", h.Convert(appmol.ConvertCanonical))
		mr.Post("/hydrogens", h.Convert(appmol.ConvertHydrogens))
		mr.Post("/hydrogens/remove", h.Convert(appmol.ConvertRemoveHydrogen))
		mr.Post("/embed", h.Convert(appmol.ConvertEmbed))
		mr.Post("/molblock", h.Convert(appmol.ConvertMolBlock))
		mr.Post("/json", h.Convert(appmol.ConvertJSON))
		mr.Post("/fingerprint", h.Convert(appmol.ConvertFingerprint))
		mr.Post("/descriptors", h.Convert(appmol.ConvertDescriptors))
		mr.Post("/neutralize", h.Convert(appmol.ConvertNeutralize))
		mr.Post("/similarity", h.Similarity)
		mr.Post("/similar", h.Search)

		mr.Route("/{id}", func(item chi.Router) {
			item.Get("/", h.Get)
			item.Get("/graph", h.Graph)
		})
	})

	r.Get("/batches/{batchID}", h.BatchStatus)
	r.With(optional(exportGuard)...).Post("/batches/{batchID}/export", h.ExportBatch)
}

func optional(mw func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	if mw == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{mw}
}
