package api

import (
	"net/http"

	"online-subsystem/internal/online"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EngineInterface defines the engine methods used by the API.
// Handlers never touch the subsystem outside Do.
type EngineInterface interface {
	// Do runs fn on the subsystem under the engine lock
	Do(fn func(s *online.Subsystem))
	// Stats returns the last tick's stats
	Stats() online.TickStats
	// RecentEvents returns the newest logged events, oldest first
	RecentEvents(limit int) []online.Event
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: engine,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine drives the subsystem (required)
	Engine EngineInterface

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, localhost origins are allowed.
	CORSOrigins []string

	// ProfileVersion stamps profiles read or written through the API.
	ProfileVersion int32

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	engine         EngineInterface
	profileVersion int32
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// NewRouter has no side effects: no listeners are opened and the engine is
// not started.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimiter = GetRateLimiterFromRouter(cfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = LocalOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{engine: cfg.Engine, profileVersion: cfg.ProfileVersion}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.handleGetStatus)

		// Session lifecycle
		r.Get("/session", h.handleGetSession)
		r.Post("/session/create", h.handleCreateSession)
		r.Post("/session/start", h.handleStartSession)
		r.Post("/session/end", h.handleEndSession)
		r.Post("/session/destroy", h.handleDestroySession)
		r.Post("/session/join", h.handleJoinSession)
		r.Post("/session/players", h.handleRegisterPlayer)
		r.Post("/session/score", h.handleReportScore)

		// Matchmaking
		r.Get("/search", h.handleGetSearch)
		r.Post("/search/find", h.handleFindSessions)
		r.Post("/search/cancel", h.handleCancelSearch)

		r.Get("/tasks", h.handleGetTasks)
		r.Get("/events", h.handleGetEvents)

		// Per player caches
		r.Get("/players/{user}", h.handleGetPlayer)
		r.Get("/friends/{user}", h.handleGetFriends)
		r.Post("/friends/{user}/read", h.handleReadFriends)
		r.Get("/content/{user}", h.handleGetContent)
		r.Post("/invite/{user}/accept", h.handleAcceptInvite)
		r.Get("/profile/{user}", h.handleGetProfile)
		r.Post("/profile/{user}/read", h.handleReadProfile)
		r.Post("/profile/{user}/write", h.handleWriteProfile)

		// Stats and arbitration
		r.Get("/stats", h.handleGetStats)
		r.Post("/stats/read", h.handleReadStats)
		r.Post("/stats/flush", h.handleFlushStats)
		r.Get("/arbitration", h.handleGetArbitration)
		r.Post("/arbitration/register", h.handleRegisterArbitration)

		r.Get("/talkers", h.handleGetTalkers)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/status", http.StatusFound)
	})

	return r
}

// GetRateLimiterFromRouter returns the configured limiter, or builds one
// from RateLimitConfig.
func GetRateLimiterFromRouter(cfg RouterConfig) *IPRateLimiter {
	if cfg.RateLimiter != nil {
		return cfg.RateLimiter
	}
	rateLimitCfg := DefaultRateLimitConfig
	if cfg.RateLimitConfig != nil {
		rateLimitCfg = *cfg.RateLimitConfig
	}
	return NewIPRateLimiter(rateLimitCfg)
}
