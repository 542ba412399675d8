package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/opensource-finance/heron/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	stream  *AlertStream
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. The alert stream is fed from the
// bus when one is configured.
func NewServer(ctx context.Context, cfg domain.ServerConfig, auth domain.AuthConfig, deps Deps) (*Server, error) {
	stream := NewAlertStream()
	if deps.Bus != nil {
		if err := stream.Attach(ctx, deps.Bus); err != nil {
			return nil, fmt.Errorf("failed to attach alert stream: %w", err)
		}
	}

	handler := NewHandler(deps, stream)
	router := chi.NewRouter()

	router.Use(cors.Handler(corsOptions(cfg.AllowedOrigins)))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)

	// Probes and scraping
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler())
	}

	// Ingestion boundary
	router.Group(func(r chi.Router) {
		r.Use(RoleMiddleware(auth.JWTSecret, auth.RequiredRole))

		r.Post("/evaluate", handler.Evaluate)
		r.Post("/ingest", handler.Ingest)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/stats", handler.AlertStats)
			r.Get("/stream", handler.StreamAlerts)
			r.Get("/{id}", handler.GetAlert)
		})

		r.Get("/cooldowns", handler.ListCooldowns)
		r.Delete("/cooldowns", handler.ClearCooldowns)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", handler.ListRules)
			r.Post("/", handler.CreateRule)
			r.Post("/reload", handler.ReloadRules)
			r.Delete("/{description}", handler.DeleteRule)
		})

		r.Route("/sanctions", func(r chi.Router) {
			r.Get("/search", handler.SearchSanctions)
			r.Get("/status", handler.SanctionsStatus)
			r.Post("/refresh", handler.RefreshSanctions)
		})

		r.Get("/stats", handler.Stats)
	})

	return &Server{
		router:  router,
		handler: handler,
		stream:  stream,
		config:  cfg,
	}, nil
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader, TraceIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, TraceIDHeader},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           86400,
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
	s.stream.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Stream returns the websocket alert stream.
func (s *Server) Stream() *AlertStream {
	return s.stream
}
