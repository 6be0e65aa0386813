// Package server exposes the job status API: submit a job, poll its
// status, stream its lifecycle events over a websocket, and scrape
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mantonx/vodforge/internal/config"
	"github.com/mantonx/vodforge/internal/events"
	"github.com/mantonx/vodforge/internal/jobs"
	"github.com/mantonx/vodforge/internal/pipeline"
)

// Server is the HTTP front of the pipeline.
type Server struct {
	cfg      config.ServerConfig
	pipeline *pipeline.Pipeline
	store    *jobs.Store
	bus      *events.Bus
	log      hclog.Logger

	http *http.Server
}

// New assembles the server and its routes.
func New(cfg config.ServerConfig, pipe *pipeline.Pipeline, store *jobs.Store, bus *events.Bus, log hclog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: pipe,
		store:    store,
		bus:      bus,
		log:      log.Named("server"),
	}
	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.Router(),
	}
	return s
}

// Router builds the gin engine. Exposed so tests can drive handlers
// without binding a port.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.log))
	if s.cfg.EnableCORS {
		r.Use(corsMiddleware())
	}

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/jobs", s.handleSubmitJob)
		api.GET("/jobs", s.handleListJobs)
		api.GET("/jobs/:id", s.handleGetJob)
		api.GET("/jobs/:id/events", s.handleJobEvents)
	}
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
