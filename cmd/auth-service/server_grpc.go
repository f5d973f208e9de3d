package main

import (
	"net"

	"github.com/NordCoder/Sentinel/internal/authority"
	config "github.com/NordCoder/Sentinel/internal/config/auth-service"
	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/introspect"
	"github.com/NordCoder/Sentinel/internal/obs"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// buildGRPCServer exposes introspection for gateways running in remote
// mode or with a remote revocation check.
func buildGRPCServer(cfg *config.Config, logger *zap.Logger, a *authority.Authority, checker token.RevocationChecker) (*grpc.Server, net.Listener, error) {
	s := grpc.NewServer(obs.GRPCServerOpts()...)

	introspect.Register(s, introspect.NewServer(a, checker, logger))

	hs := health.NewServer()
	hs.SetServingStatus(introspect.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	grpcprometheus.EnableHandlingTimeHistogram()
	grpcprometheus.Register(s)

	ln, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return nil, nil, err
	}
	return s, ln, nil
}

func serveGRPC(s *grpc.Server, ln net.Listener, logger *zap.Logger) error {
	logger.Info("grpc listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ln)
}
