package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"chat-escalation-engine/pkg/config"
	"chat-escalation-engine/pkg/engine"
)

// Server exposes the escalation engine over HTTP.
type Server struct {
	cfg      *config.Config
	logger   *logrus.Logger
	engine   *engine.Engine
	registry *prometheus.Registry
	server   *http.Server
}

func New(cfg *config.Config, logger *logrus.Logger, eng *engine.Engine, registry *prometheus.Registry) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		engine:   eng,
		registry: registry,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.server = s.createHTTPServer()

	go func() {
		s.logger.WithField("port", s.cfg.Port).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
		return err
	}
	return nil
}

func (s *Server) createHTTPServer() *http.Server {
	router := mux.NewRouter()

	// API routes
	router.HandleFunc("/sessions/message", s.handleUserMessage).Methods("POST")
	router.HandleFunc("/sessions/{id}/operator-action", s.handleOperatorAction).Methods("POST")
	router.HandleFunc("/operators/{id}/claim", s.handleClaim).Methods("POST")
	router.HandleFunc("/resume/{token}", s.handleResume).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Metrics endpoint
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")

	return &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
