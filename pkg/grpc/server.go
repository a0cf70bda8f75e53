package grpc

import (
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// Server grpc.Server 加上標準的 health service
type Server struct {
	*grpc.Server
	Health *health.Server
}

// NewServer 建立 gRPC Server: recovery + logging interceptor、health、reflection
func NewServer(log *zap.Logger, opts ...grpc.ServerOption) *Server {
	base := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(UnaryServerRecovery(log), UnaryServerLogging(log)),
		// 配合 Pool 的 keepalive (每 10 秒 Ping)
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	s := grpc.NewServer(append(base, opts...)...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	// 方便 grpcurl 等工具測試
	reflection.Register(s)

	return &Server{Server: s, Health: hs}
}

// SetServing 設定某個 service 的健康狀態 ("" 代表整個 server)
func (s *Server) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.Health.SetServingStatus(service, st)
}

// GracefulStop 先標記為 NOT_SERVING 再等待進行中的 RPC 完成
func (s *Server) GracefulStop() {
	s.Health.Shutdown()
	s.Server.GracefulStop()
}
