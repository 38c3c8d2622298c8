package predictor

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// gRPC method names of the predictor.v1.Predictor service.
const (
	grpcPredict    = "/predictor.v1.Predictor/Predict"
	grpcBacktest   = "/predictor.v1.Predictor/Backtest"
	grpcIndicators = "/predictor.v1.Predictor/Indicators"
)

// GRPCClient calls the Predictor gRPC service.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// DialGRPC connects to the gRPC server at addr without transport security.
// Extra options are appended after the defaults.
func DialGRPC(addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// Predict requests a combined signal for symbol.
func (c *GRPCClient) Predict(ctx context.Context, symbol string, horizon int) (*Prediction, error) {
	var p Prediction
	if err := c.invoke(ctx, grpcPredict, map[string]any{"symbol": symbol, "horizon": horizon}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Backtest runs a backtest of symbol on the server.
func (c *GRPCClient) Backtest(ctx context.Context, symbol string, horizon int) (*BacktestReport, error) {
	var r BacktestReport
	if err := c.invoke(ctx, grpcBacktest, map[string]any{"symbol": symbol, "horizon": horizon}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Indicators lists the indicators enabled on the server.
func (c *GRPCClient) Indicators(ctx context.Context) ([]IndicatorInfo, error) {
	var out struct {
		Indicators []IndicatorInfo `json:"indicators"`
	}
	if err := c.invoke(ctx, grpcIndicators, map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Indicators, nil
}

// invoke sends fields as a Struct and decodes the Struct response into out
// through its JSON form.
func (c *GRPCClient) invoke(ctx context.Context, method string, fields map[string]any, out any) error {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return err
	}
	data, err := protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}
