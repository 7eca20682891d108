package serve

// proto.go is a hand-written stand-in for generated stubs of brakeguard.inference.v1.
// Requests and responses are google.protobuf.Struct so no message types need generating.

import (
	"context"

	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	InferenceServiceName = "brakeguard.inference.v1.Inference"
	predictMethod        = "/" + InferenceServiceName + "/Predict"
)

// InferenceServer is the server API for Inference.
type InferenceServer interface {
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	mustEmbedUnimplementedInferenceServer()
}

// UnimplementedInferenceServer provides forward-compatible default implementations.
type UnimplementedInferenceServer struct{}

func (UnimplementedInferenceServer) Predict(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Predict not implemented")
}
func (UnimplementedInferenceServer) mustEmbedUnimplementedInferenceServer() {}

// RegisterInferenceServer registers srv with the gRPC server.
func RegisterInferenceServer(s *grpclib.Server, srv InferenceServer) {
	s.RegisterService(&_Inference_serviceDesc, srv)
}

var _Inference_serviceDesc = grpclib.ServiceDesc{
	ServiceName: InferenceServiceName,
	HandlerType: (*InferenceServer)(nil),
	Methods: []grpclib.MethodDesc{
		{MethodName: "Predict", Handler: _Inference_Predict_Handler},
	},
	Streams: []grpclib.StreamDesc{},
}

func _Inference_Predict_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpclib.UnaryServerInterceptor) (interface{}, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InferenceServer).Predict(ctx, req)
	}
	info := &grpclib.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InferenceServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, req, info, handler)
}

// InferenceClient is the client API for Inference.
type InferenceClient interface {
	Predict(ctx context.Context, in *structpb.Struct, opts ...grpclib.CallOption) (*structpb.Struct, error)
}

type inferenceClient struct {
	cc grpclib.ClientConnInterface
}

func NewInferenceClient(cc grpclib.ClientConnInterface) InferenceClient {
	return &inferenceClient{cc: cc}
}

func (c *inferenceClient) Predict(ctx context.Context, in *structpb.Struct, opts ...grpclib.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, predictMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
