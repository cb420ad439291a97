// Package server provides the HTTP server and routing for Foresight.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/config"
	"github.com/aristath/foresight/internal/database"
	"github.com/aristath/foresight/internal/events"
	evaluationhandlers "github.com/aristath/foresight/internal/modules/evaluation/handlers"
	predictionhandlers "github.com/aristath/foresight/internal/modules/prediction/handlers"
	traininghandlers "github.com/aristath/foresight/internal/modules/training/handlers"
	"github.com/aristath/foresight/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log        zerolog.Logger
	Cfg        *config.Config
	MarketDB   *database.DB
	FeaturesDB *database.DB
	ResultsDB  *database.DB
	Bus        *events.Bus
	Scheduler  *scheduler.Scheduler

	PredictionHandler *predictionhandlers.Handler
	EvaluationHandler *evaluationhandlers.Handler
	ModelHandler      *traininghandlers.Handler
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	scheduler      *scheduler.Scheduler
	systemHandlers *SystemHandlers
	eventsHandler  *EventsHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Cfg,
		scheduler:      cfg.Scheduler,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.Cfg.DataDir, cfg.MarketDB, cfg.FeaturesDB, cfg.ResultsDB),
		eventsHandler:  NewEventsHandler(cfg.Bus, cfg.Log),
	}

	s.setupMiddleware(cfg.Cfg.DevMode)
	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes.
//
// The request timeout lives on the API group rather than the router so the
// long-lived event stream is never subject to it; chi groups inherit every
// middleware registered with Use before them.
func (s *Server) setupRoutes(cfg Config) {
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/", s.systemHandlers.HandleStatus)
		r.Get("/health", s.systemHandlers.HandleHealth)

		cfg.PredictionHandler.RegisterRoutes(r)
		cfg.EvaluationHandler.RegisterRoutes(r)
		cfg.ModelHandler.RegisterRoutes(r)

		r.Route("/api/jobs", func(jr chi.Router) {
			jr.Get("/", s.handleListJobs)
			jr.Post("/{name}/run", s.handleRunJob)
		})
	})

	s.router.Get("/api/events/ws", s.eventsHandler.HandleWebSocket)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
