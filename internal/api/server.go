package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wonny/stratstats/pkg/config"
	"github.com/wonny/stratstats/pkg/logger"
)

// Server represents an HTTP server (API or metrics)
// ⭐ SSOT: API 서버 설정은 이 파일에서만
type Server struct {
	name       string
	httpServer *http.Server
	logger     *logger.Logger
	config     *config.Config
}

// New creates the API server
func New(cfg *config.Config, log *logger.Logger, router http.Handler) *Server {
	return newServer("api", ":"+cfg.Port, cfg, log, router, 60*time.Second)
}

// NewMetricsServer creates the Prometheus scrape server
func NewMetricsServer(cfg *config.Config, log *logger.Logger, handler http.Handler) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return newServer("metrics", ":"+cfg.MetricsPort, cfg, log, mux, 15*time.Second)
}

func newServer(name, addr string, cfg *config.Config, log *logger.Logger, handler http.Handler, writeTimeout time.Duration) *Server {
	return &Server{
		name: name,
		httpServer: &http.Server{
			Addr:    addr,
			Handler: handler,
			// uploads and exports can take a while
			ReadTimeout:  60 * time.Second,
			WriteTimeout: writeTimeout,
			IdleTimeout:  60 * time.Second,
		},
		logger: log,
		config: cfg,
	}
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.WithFields(map[string]interface{}{
		"server": s.name,
		"addr":   s.httpServer.Addr,
		"env":    s.config.Env,
	}).Info("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start %s server: %w", s.name, err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.WithField("server", s.name).Info("Shutting down HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown %s server: %w", s.name, err)
	}

	return nil
}
