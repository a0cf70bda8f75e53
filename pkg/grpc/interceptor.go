package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// levelFor 伺服器端錯誤用 Warn，其餘 (含業務拒絕) 用 Debug
func levelFor(code codes.Code) zapcore.Level {
	switch code {
	case codes.Internal, codes.Unavailable, codes.DeadlineExceeded, codes.Unknown, codes.DataLoss:
		return zapcore.WarnLevel
	}
	return zapcore.DebugLevel
}

// UnaryServerLogging 每個 RPC 一行結構化 log
func UnaryServerLogging(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		if ce := log.Check(levelFor(code), "grpc request"); ce != nil {
			ce.Write(
				zap.String("method", info.FullMethod),
				zap.String("code", code.String()),
				zap.Duration("latency", time.Since(start)),
				zap.Error(err),
			)
		}
		return resp, err
	}
}

// UnaryClientLogging 客戶端呼叫的 log
func UnaryClientLogging(log *zap.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		code := status.Code(err)
		if ce := log.Check(levelFor(code), "grpc call"); ce != nil {
			ce.Write(
				zap.String("method", method),
				zap.String("target", cc.Target()),
				zap.String("code", code.String()),
				zap.Duration("latency", time.Since(start)),
				zap.Error(err),
			)
		}
		return err
	}
}

// UnaryServerRecovery 攔截 handler 的 panic，轉成 codes.Internal
func UnaryServerRecovery(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if v := recover(); v != nil {
				log.Error("panic in grpc handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", v),
					zap.Stack("stack"))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
