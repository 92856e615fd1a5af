// Package grpc exposes the ops port: the standard gRPC health service and reflection.
package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health entry reported for the storefront itself; "" covers the whole server.
const ServiceName = "storefront.v1.Storefront"

const DefaultCheckInterval = 10 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	db       Pinger
	interval time.Duration
	log      *slog.Logger
}

func NewServer(db Pinger, interval time.Duration, log *slog.Logger) *Server {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	gs := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	// Enable reflection for grpcurl/grpcui
	reflection.Register(gs)

	return &Server{
		grpc:     gs,
		health:   hs,
		db:       db,
		interval: interval,
		log:      log.With("component", "grpc"),
	}
}

// Serve blocks until the listener fails or Stop is called. Health is re-evaluated against
// the database every interval until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.check(ctx)
	go s.watch(ctx)

	s.log.Info("grpc server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *Server) check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.db.Ping(ctx); err != nil {
		s.log.Warn("database unreachable", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
