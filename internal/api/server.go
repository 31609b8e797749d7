package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/conrisk/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	limiter := NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(NewCORSMiddleware(cfg.AllowedOrigins)) // CORS for the web client
	router.Use(RecoverMiddleware)                     // Recover from panics
	router.Use(TracingMiddleware)                     // OpenTelemetry tracing
	router.Use(LoggingMiddleware)                     // Request logging
	router.Use(middleware.RealIP)                     // Extract real IP
	router.Use(middleware.Compress(5))                // Gzip compression

	// Health endpoints (no session required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", handler.Register)
		r.With(limiter.Middleware).Post("/auth/login", handler.Login)
		r.Post("/auth/logout", handler.Logout)

		// Session required
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(deps.Auth))

			r.Get("/auth/me", handler.Me)

			r.Get("/organizations", handler.GetOrganization)
			r.Patch("/organizations", handler.RenameOrganization)
			r.Post("/organizations/members", handler.InviteMember)
			r.Delete("/organizations/members/{id}", handler.RemoveMember)

			r.Route("/contracts", func(r chi.Router) {
				r.With(limiter.Middleware).Post("/analyze", handler.AnalyzeUpload)
				r.With(limiter.Middleware).Post("/", handler.CreateContract)
				r.Get("/", handler.ListContracts)
				r.Get("/{id}", handler.GetContract)
				r.Get("/{id}/summary", handler.GetSummary)
				r.With(limiter.Middleware).Post("/{id}/reanalyze", handler.Reanalyze)
				r.Get("/{id}/file", handler.DownloadFile)
				r.Delete("/{id}", handler.DeleteContract)
			})

			r.Get("/key-dates/upcoming", handler.UpcomingKeyDates)
			r.Get("/dashboard", handler.Dashboard)

			r.Get("/policies", handler.ListPolicies)
			r.Post("/policies", handler.CreatePolicy)
			r.Delete("/policies/{id}", handler.DeletePolicy)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
