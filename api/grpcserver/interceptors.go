package grpcserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"stockbroker/api/pb"
)

const requestIDHeader = "x-request-id"

// New builds a gRPC server with the interceptor chain and health
// service, and registers srv on it.
func New(srv pb.BrokerServer, logger *slog.Logger) (*grpc.Server, *health.Server) {
	g := grpc.NewServer(grpc.ChainUnaryInterceptor(
		requestIDInterceptor(),
		recoveryInterceptor(logger),
		loggingInterceptor(logger),
	))
	pb.RegisterBrokerServer(g, srv)

	hs := health.NewServer()
	hs.SetServingStatus(pb.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(g, hs)
	return g, hs
}

type requestIDKey struct{}

// RequestIDFromContext returns the id attached by the request id
// interceptor.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

func requestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var id string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(requestIDHeader); len(ids) > 0 {
				id = ids[0]
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		return handler(context.WithValue(ctx, requestIDKey{}, id), req)
	}
}

func recoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", "method", info.FullMethod, "panic", r)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []any{
			"method", info.FullMethod,
			"duration", time.Since(start),
			"request_id", RequestIDFromContext(ctx),
		}
		if err != nil {
			logger.Warn("grpc request failed", append(fields, "code", status.Code(err), "err", err)...)
		} else {
			logger.Debug("grpc request completed", fields...)
		}
		return resp, err
	}
}
