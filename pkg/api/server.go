package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/faultbridge/pkg/log"
	"github.com/cuemby/faultbridge/pkg/metrics"
	"github.com/cuemby/faultbridge/pkg/supervisor"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ClusterOperator is the supervisor surface exposed over HTTP
type ClusterOperator interface {
	Status() []supervisor.ClusterStatus
	StartCluster(name string) error
	StopCluster(name string) error
	RestartCluster(name string) error
}

// Server serves health, metrics and cluster operations
type Server struct {
	ops     ClusterOperator
	health  ClusterHealthSource
	router  *mux.Router
	logger  zerolog.Logger
	httpSrv *http.Server
}

// NewServer creates the HTTP server. health may be nil.
func NewServer(ops ClusterOperator, health ClusterHealthSource) *Server {
	s := &Server{
		ops:    ops,
		health: health,
		router: mux.NewRouter(),
		logger: log.WithComponent("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(instrument, s.recoverPanics)

	s.router.HandleFunc("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/health/clusters", s.clusterHealthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/clusters", s.listClusters).Methods(http.MethodGet)
	s.router.HandleFunc("/clusters/{name}", s.getCluster).Methods(http.MethodGet)
	s.router.HandleFunc("/clusters/{name}/{action:start|stop|restart}", s.clusterAction).Methods(http.MethodPost)
}

// Handler returns the router for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves until Shutdown. It returns once the
// listener is bound; serve errors are logged.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.httpSrv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metrics.RegisterComponent("api", true, "listening on "+lis.Addr().String())
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP API listening")

	go func() {
		if err := s.httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metrics.UpdateComponent("api", false, err.Error())
			s.logger.Error().Err(err).Msg("HTTP API stopped")
		}
	}()
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
