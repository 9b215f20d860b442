// Package server exposes the supervisor over HTTP: task submission, a
// server-sent-events progress stream, and session context inquiries.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ShayCichocki/maestro/internal/oracle"
	"github.com/ShayCichocki/maestro/internal/progress"
	"github.com/ShayCichocki/maestro/internal/supervisor"
	"github.com/ShayCichocki/maestro/internal/taskctx"
)

// defaultHeartbeat is the SSE keep-alive interval.
const defaultHeartbeat = 30 * time.Second

// Service is the execution boundary the server depends on. Assessment is
// separate from execution so submission can short-circuit delegation
// synchronously while execution runs in the background.
type Service interface {
	Assess(ctx context.Context, req supervisor.Request) *oracle.Assessment
	ExecuteAssessed(ctx context.Context, req supervisor.Request, assessment *oracle.Assessment) *supervisor.Result
}

// Config contains the server's collaborators.
type Config struct {
	// Service executes submitted requests. Required.
	Service Service
	// Bus is the progress event source for SSE streams. Required.
	Bus *progress.Bus
	// Store answers session context inquiries. Required.
	Store *taskctx.Store
	// AllowedOrigins lists CORS origins. Empty allows all.
	AllowedOrigins []string
	// Heartbeat overrides the SSE keep-alive interval. Zero selects the default.
	Heartbeat time.Duration
}

// Server is the HTTP surface over the supervisor.
type Server struct {
	engine    *gin.Engine
	service   Service
	bus       *progress.Bus
	store     *taskctx.Store
	heartbeat time.Duration
}

// New creates a Server and registers its routes.
func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsConfig))

	s := &Server{
		engine:    engine,
		service:   cfg.Service,
		bus:       cfg.Bus,
		store:     cfg.Store,
		heartbeat: cfg.Heartbeat,
	}
	if s.heartbeat <= 0 {
		s.heartbeat = defaultHeartbeat
	}

	engine.GET("/healthz", s.handleHealth)
	api := engine.Group("/api")
	{
		api.POST("/tasks", s.handleSubmit)
		api.GET("/tasks/:sessionID/events", s.handleEvents)
		api.GET("/tasks/:sessionID/context", s.handleContext)
	}
	return s
}

// Handler returns the HTTP handler, for tests and custom servers.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves HTTP on the given address until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}
