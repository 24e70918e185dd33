package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"

	"github.com/mediastash-io/mediastash/internal/config"
	"github.com/mediastash-io/mediastash/internal/manager"
	"github.com/mediastash-io/mediastash/internal/middleware"
	"github.com/mediastash-io/mediastash/internal/objectstore"
	"github.com/mediastash-io/mediastash/internal/observability"
)

// Server owns the HTTP app and its handlers.
type Server struct {
	app     *fiber.App
	config  *config.Config
	handler *UploadHandler
	metrics *observability.Metrics
}

// NewServer wires the Fiber app, middleware and routes.
func NewServer(cfg *config.Config, mgr *manager.Manager, objects *objectstore.Store, metrics *observability.Metrics) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "Mediastash",
		AppName:               "Mediastash",
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
		ErrorHandler:          customErrorHandler,
	})

	s := &Server{
		app:     app,
		config:  cfg,
		handler: NewUploadHandler(mgr, objects, &cfg.Upload),
		metrics: metrics,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, X-User-Id",
	}))
	if s.metrics != nil {
		s.app.Use(s.metrics.HTTPMiddleware())
	}
	s.app.Use(middleware.RequestLogger(middleware.RequestLoggerConfig{
		SkipPaths:            []string{s.config.Server.BasePath + "/health", "/metrics"},
		SlowRequestThreshold: time.Second,
	}))
}

func (s *Server) setupRoutes() {
	base := s.app.Group(s.config.Server.BasePath)

	base.Get("/health", s.handler.Health)
	base.Get("/config", s.handler.Config)
	base.Post("/initiate", s.handler.Initiate)
	base.Post("/chunk", s.handler.Chunk)
	base.Post("/finalize", s.handler.Finalize)
	base.Get("/status/:uploadId", s.handler.Status)
	base.Post("/cancel/:uploadId", s.handler.Cancel)
	base.Get("/sessions", s.handler.Sessions)

	if s.metrics != nil {
		s.app.Get("/metrics", s.metrics.Handler())
	}
}

// App exposes the Fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("HTTP server listening")
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
