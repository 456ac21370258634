// internal/server/grpc_server.go
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GRPCServer serves the standard health service for orchestrators and
// grpcurl. Serving status follows the store's reachability.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	store  Pinger
	logger *zap.Logger
	port   int
}

func NewGRPCServer(store Pinger, logger *zap.Logger, port int) *GRPCServer {
	s := &GRPCServer{
		server: grpc.NewServer(
			grpc.MaxRecvMsgSize(1024*1024),
			grpc.MaxSendMsgSize(1024*1024),
		),
		health: health.NewServer(),
		store:  store,
		logger: logger,
		port:   port,
	}

	healthpb.RegisterHealthServer(s.server, s.health)

	// Register reflection service (for grpcurl, Postman, etc.)
	reflection.Register(s.server)

	return s
}

// Start starts the gRPC server
func (s *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("Starting gRPC server", zap.Int("port", s.port))

	if err := s.server.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// WatchHealth probes the store every interval and flips the serving status
// until ctx is done.
func (s *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval/2)
			err := s.store.Ping(pingCtx)
			cancel()

			switch {
			case err != nil && serving:
				s.logger.Warn("store unreachable, marking not serving", zap.Error(err))
				s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
				serving = false
			case err == nil && !serving:
				s.logger.Info("store reachable again, marking serving")
				s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
				serving = true
			}

		case <-ctx.Done():
			return
		}
	}
}

// Stop gracefully stops the gRPC server
func (s *GRPCServer) Stop() {
	s.logger.Info("Stopping gRPC server")
	s.health.Shutdown()
	s.server.GracefulStop()
}
