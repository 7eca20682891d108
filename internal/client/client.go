// Package client calls a running inference service over gRPC.
package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/brakeguard/internal/model"
	"github.com/danielpatrickdp/brakeguard/internal/serve"
)

// #region client-struct
// Client wraps the gRPC connection to the inference service.
type Client struct {
	conn   *grpc.ClientConn
	client serve.InferenceClient
	health healthpb.HealthClient
}

// #endregion client-struct

// #region constructor
// New connects to the inference gRPC server. The connection is lazy; the first call dials.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		client: serve.NewInferenceClient(conn),
		health: healthpb.NewHealthClient(conn),
	}, nil
}

// NewWithService creates a Client over injected service implementations.
// Used for testing without a real gRPC connection.
func NewWithService(svc serve.InferenceClient, health healthpb.HealthClient) *Client {
	return &Client{client: svc, health: health}
}

// #endregion constructor

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #region predict
// Predict sends one named record to the service.
func (c *Client) Predict(ctx context.Context, fields map[string]float64) (model.Prediction, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	req, err := structpb.NewStruct(values)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("encode request: %w", err)
	}

	resp, err := c.client.Predict(ctx, req)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("predict rpc: %w", err)
	}
	return decodePrediction(resp)
}

func decodePrediction(resp *structpb.Struct) (model.Prediction, error) {
	label, ok := resp.GetFields()["prediction"]
	if !ok {
		return model.Prediction{}, fmt.Errorf("predict rpc: response has no prediction")
	}
	pred := model.Prediction{Label: int(label.GetNumberValue())}
	if p, ok := resp.GetFields()["probability"]; ok {
		if _, isNum := p.GetKind().(*structpb.Value_NumberValue); isNum {
			pred.Probability = p.GetNumberValue()
			pred.HasProbability = true
		}
	}
	return pred, nil
}

// #endregion predict

// #region ready
// Ready reports whether the Inference service is serving.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: serve.InferenceServiceName})
	if err != nil {
		return false, fmt.Errorf("health rpc: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// #endregion ready
