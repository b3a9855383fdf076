package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"online-subsystem/internal/online"

	"github.com/go-chi/chi/v5"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with a WebSocket hub fed by subsystem events.
type Server struct {
	engine      *online.Engine
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
}

// NewServer creates a new API server over a running or not yet started
// engine.
//
// Background workers do NOT start until Run is called, so a server can be
// built in tests and exercised through Router.
func NewServer(engine *online.Engine, rateLimit RateLimitConfig, profileVersion int32) *Server {
	s := &Server{
		engine:      engine,
		wsHub:       NewWebSocketHub(),
		rateLimiter: NewIPRateLimiter(rateLimit),
	}

	s.router = NewRouter(RouterConfig{
		Engine:         engine,
		RateLimiter:    s.rateLimiter,
		ProfileVersion: profileVersion,
	})

	engine.Do(func(sub *online.Subsystem) { sub.AddObserver(s.wsHub) })
	s.setupWebSocketRoutes()

	return s
}

// setupWebSocketRoutes adds WebSocket-specific routes to the router.
// These routes need the hub, so they can't be part of NewRouter.
func (s *Server) setupWebSocketRoutes() {
	s.router.Get("/ws", s.wsHub.HandleWebSocket)
}

// Run serves addr and the WebSocket hub until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.wsHub.Run()
	s.wsHub.StartBroadcastLoop(s.engine)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️ API server shutdown: %v", err)
		}
		s.Stop()
	}()

	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("🎮 Session status: http://localhost%s/api/session", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Stop closes every WebSocket client.
func (s *Server) Stop() {
	s.wsHub.Stop()
}
