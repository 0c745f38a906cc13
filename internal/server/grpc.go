// Package server exposes the query API over HTTP/JSON and a gRPC health
// endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/observability"
	"github.com/AquaToken/aqua-voting-tracker/internal/query"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 5 * time.Second

// Deps holds what the servers need.
type Deps struct {
	Query         *query.Service
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server runs the gRPC health server and the HTTP gateway.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	handler    http.Handler

	grpcAddr string
	httpAddr string

	query   *query.Service
	checker *observability.HealthChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// New builds both servers. Health starts as NOT_SERVING until SetServing.
func New(grpcAddr, httpAddr string, deps Deps) (*Server, error) {
	s := &Server{
		grpcAddr: grpcAddr,
		httpAddr: httpAddr,
		query:    deps.Query,
		checker:  deps.HealthChecker,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.grpcServer = grpc.NewServer()
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	// Reflection for grpcurl
	reflection.Register(s.grpcServer)

	handler, err := s.routes()
	if err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}
	s.handler = handler
	return s, nil
}

// SetServing flips the gRPC health status and the readiness flag together.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	if s.checker != nil {
		s.checker.SetReady(serving)
	}
}

// Health returns the gRPC health service.
func (s *Server) Health() *health.Server {
	return s.health
}

// Handler returns the HTTP handler serving the API and health probes.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// StartHTTP serves the HTTP API until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}
