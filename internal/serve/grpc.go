package serve

import (
	"context"
	"errors"
	"log/slog"

	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/model"
)

// NotAvailable stands in for the probability when the model cannot estimate one.
const NotAvailable = "not available"

// #region grpc-server
// GRPCServer adapts a Service to the Inference gRPC API.
type GRPCServer struct {
	UnimplementedInferenceServer
	svc    *Service
	logger *slog.Logger
}

// NewGRPCServer builds a gRPC server exposing Inference and the standard health service.
// The overall health ("") reports SERVING as soon as the process is up; the Inference
// entry follows the service state.
func NewGRPCServer(svc *Service, logger *slog.Logger) *grpclib.Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpclib.NewServer(grpclib.UnaryInterceptor(loggingInterceptor(logger)))
	RegisterInferenceServer(srv, &GRPCServer{svc: svc, logger: logger})

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	svc.Watch(func(s State) {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if s == Serving {
			st = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(InferenceServiceName, st)
	})
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

func (g *GRPCServer) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pred, err := g.svc.Predict(ctx, req.AsMap())
	if err != nil {
		return nil, grpcError(err)
	}
	resp, err := structpb.NewStruct(predictionBody(pred))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return resp, nil
}

// #endregion grpc-server

func grpcError(err error) error {
	switch {
	case errors.Is(err, ErrNotReady):
		return status.Error(codes.Unavailable, err.Error())
	case fault.Is(err, fault.Request):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// predictionBody is the response shape shared by HTTP and gRPC.
func predictionBody(p model.Prediction) map[string]any {
	body := map[string]any{"prediction": p.Label, "probability": NotAvailable}
	if p.HasProbability {
		body["probability"] = p.Probability
	}
	return body
}

func loggingInterceptor(logger *slog.Logger) grpclib.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpclib.UnaryServerInfo, handler grpclib.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("grpc request failed", "method", info.FullMethod, "code", status.Code(err).String(), "error", err)
		}
		return resp, err
	}
}
