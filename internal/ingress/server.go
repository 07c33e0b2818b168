// Package ingress provides the HTTP server that receives mutations and
// exposes pipeline administration.
package ingress

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/janovincze/tributary/internal/config"
	"github.com/janovincze/tributary/internal/docstore"
	"github.com/janovincze/tributary/internal/health"
	"github.com/janovincze/tributary/internal/ingress/auth"
	"github.com/janovincze/tributary/internal/ingress/handlers"
	"github.com/janovincze/tributary/internal/ingress/middleware"
	"github.com/janovincze/tributary/internal/metrics"
	"github.com/janovincze/tributary/internal/queue"
	"github.com/janovincze/tributary/internal/state"
)

// Server is the ingress HTTP server.
type Server struct {
	cfg        *config.Config
	opts       ServerConfig
	logger     *slog.Logger
	authCfg    middleware.AuthConfig
	httpServer *http.Server
	router     *gin.Engine
}

// ServerConfig holds server dependencies. Nil collaborators disable the
// routes that need them.
type ServerConfig struct {
	// Config is the application configuration.
	Config *config.Config

	// Logger is the structured logger.
	Logger *slog.Logger

	// HealthManager backs the /health endpoints.
	HealthManager *health.Manager

	// Capturer receives pushed mutations and captured document writes.
	Capturer handlers.Capturer

	// Queue backs setup scheduling and queue inspection.
	Queue queue.Queue

	// DeadLetters backs dead-letter inspection and requeue.
	DeadLetters queue.DeadLetterStore

	// State backs the processing state endpoint.
	State state.Store

	// SourceID names the live source whose checkpoint /v1/state reports.
	SourceID string

	// Documents backs the document API.
	Documents docstore.Store

	// EventStream serves the websocket event feed.
	EventStream http.Handler

	// Validator overrides the token validator derived from Config.
	Validator middleware.TokenValidator
}

// NewServer creates a new ingress server.
func NewServer(serverCfg ServerConfig) *Server {
	logger := serverCfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := serverCfg.Config

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	if cfg.Metrics.Enabled {
		metrics.Register()
	}

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	if cfg.Metrics.Enabled {
		router.Use(middleware.Metrics())
	}
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.Ingress.CORSOrigins,
		MaxAge:         middleware.DefaultCORSConfig().MaxAge,
	}))
	router.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.Ingress.RateLimitRPS,
		BurstSize:         cfg.Ingress.RateLimitBurst,
	}))

	s := &Server{
		cfg:     cfg,
		opts:    serverCfg,
		logger:  logger.With("component", "ingress-server"),
		authCfg: middleware.AuthConfig{Enabled: cfg.Ingress.AuthEnabled, Validator: serverCfg.Validator},
		router:  router,
	}

	if s.authCfg.Enabled && s.authCfg.Validator == nil {
		signer, err := auth.NewSigner(cfg.Ingress.JWTSecret, cfg.Ingress.JWTIssuer)
		if err != nil {
			s.logger.Error("token validation unavailable, rejecting authenticated routes", "error", err)
		} else {
			s.authCfg.Validator = signer
		}
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Ingress.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Ingress.ReadTimeout,
		WriteTimeout: cfg.Ingress.WriteTimeout,
		IdleTimeout:  cfg.Ingress.ReadTimeout * 4,
	}

	return s
}

func (s *Server) registerRoutes() {
	healthHandler := handlers.NewHealthHandler(s.opts.HealthManager)
	versionHandler := handlers.NewVersionHandler(s.cfg.Version)

	s.router.GET("/health", healthHandler.GetHealth)
	s.router.GET("/health/live", healthHandler.GetLiveness)
	s.router.GET("/health/ready", healthHandler.GetReadiness)

	if s.cfg.Metrics.Enabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := s.router.Group("/v1")
	v1.GET("/version", versionHandler.GetVersion)

	capture := v1.Group("", middleware.RequireScope(s.authCfg, auth.ScopeCapture))
	admin := v1.Group("", middleware.RequireScope(s.authCfg, auth.ScopeAdmin))

	if s.opts.Capturer != nil {
		mutationHandler := handlers.NewMutationHandler(s.opts.Capturer, int64(s.cfg.Export.MaxPayloadBytes)*2)
		capture.POST("/mutations", mutationHandler.Capture)
	}

	if s.opts.Documents != nil {
		documentHandler := handlers.NewDocumentHandler(s.opts.Documents, s.opts.Capturer, handlers.DocumentConfig{
			CollectionPath: s.cfg.Export.CollectionPath,
			ProjectID:      s.cfg.Export.ProjectID,
			CaptureWrites:  !s.cfg.Source.WALEnabled,
			MaxBodyBytes:   int64(s.cfg.Export.MaxPayloadBytes),
		}, s.logger)
		capture.GET("/documents/*path", documentHandler.GetDocument)
		capture.PUT("/documents/*path", documentHandler.PutDocument)
		capture.DELETE("/documents/*path", documentHandler.DeleteDocument)
	}

	if s.opts.Queue != nil {
		setupHandler := handlers.NewSetupHandler(s.opts.Queue)
		admin.POST("/setup", setupHandler.Setup)

		if s.opts.DeadLetters != nil {
			queueHandler := handlers.NewQueueHandler(s.opts.Queue, s.opts.DeadLetters)
			admin.GET("/queues", queueHandler.ListQueues)
			admin.GET("/queues/:name", queueHandler.GetQueue)
			admin.GET("/deadletters", queueHandler.ListDeadLetters)
			admin.POST("/deadletters/:id/requeue", queueHandler.RequeueDeadLetter)
		}
	}

	if s.opts.State != nil {
		stateHandler := handlers.NewStateHandler(s.opts.State, s.opts.SourceID)
		admin.GET("/state", stateHandler.GetState)
	}

	eventsHandler := handlers.NewEventsHandler(s.opts.EventStream)
	admin.GET("/events/stream", eventsHandler.Stream)
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting ingress server", "addr", s.cfg.Ingress.ListenAddr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server. A nil ctx waits up to 30 seconds.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping ingress server")

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying Gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}
