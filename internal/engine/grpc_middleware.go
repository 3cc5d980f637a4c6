package engine

import (
	"context"
	"runtime/debug"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const traceMDKey = "x-trace-id"

// UnaryTracingInterceptor gRPC аналог TracingMiddleware: trace id из metadata или новый,
// эхо через header ответа.
func UnaryTracingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		traceID := firstMD(md, traceMDKey)
		if traceID == "" {
			traceID = uuid.New().String()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(traceMDKey, traceID))

		return handler(WithTraceID(ctx, traceID), req)
	}
}

// UnaryRecoveryInterceptor паника в обработчике не роняет процесс (как middleware.Recoverer в HTTP)
func UnaryRecoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("grpc handler panic",
					zap.String("method", info.FullMethod),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
