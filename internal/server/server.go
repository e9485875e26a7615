// Package server exposes the engine over HTTP/JSON for the dashboard
// and other external collaborators.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liftgate/liftgate/internal/gate"
	"github.com/liftgate/liftgate/internal/stats"
	"github.com/liftgate/liftgate/internal/store"
)

type Server struct {
	store     *store.SQLiteStore
	engine    *stats.Engine
	gate      *gate.Gate
	port      int
	token     string
	router    *http.ServeMux
	logger    *slog.Logger
	startTime time.Time
}

func New(s *store.SQLiteStore, engine *stats.Engine, g *gate.Gate, port int, token string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{
		store:     s,
		engine:    engine,
		gate:      g,
		port:      port,
		token:     token,
		router:    http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.HandleFunc("/events", s.handleEvents)
	s.router.HandleFunc("/experiments", s.handleExperiments)
	s.router.HandleFunc("/experiments/", s.handleExperimentByID)
	s.router.HandleFunc("/safety", s.handleSafety)
	s.router.HandleFunc("/safety/", s.handleSafetyByContent)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("liftgate listening", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Handler() http.Handler {
	return s.router
}
