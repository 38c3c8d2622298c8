package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"predictor/internal/domain"
)

// Fully qualified gRPC names of the Predictor service.
const (
	ServiceName     = "predictor.v1.Predictor"
	PredictMethod   = "/" + ServiceName + "/Predict"
	BacktestMethod  = "/" + ServiceName + "/Backtest"
	IndicatorMethod = "/" + ServiceName + "/Indicators"
)

// PredictorServer is the gRPC Predictor service. Requests and responses are
// google.protobuf.Struct messages carrying the same fields as the HTTP API.
type PredictorServer interface {
	Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Backtest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Indicators(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// Compile-time interface check.
var _ PredictorServer = (*grpcService)(nil)

var predictorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PredictorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: unaryHandler(PredictMethod, PredictorServer.Predict)},
		{MethodName: "Backtest", Handler: unaryHandler(BacktestMethod, PredictorServer.Backtest)},
		{MethodName: "Indicators", Handler: unaryHandler(IndicatorMethod, PredictorServer.Indicators)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "predictor/v1/predictor.proto",
}

// unaryHandler adapts a PredictorServer method to a grpc.MethodHandler.
func unaryHandler(fullMethod string, call func(PredictorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PredictorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PredictorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterGRPC registers the Predictor service on the given gRPC server.
func (s *Server) RegisterGRPC(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&predictorServiceDesc, &grpcService{srv: s})
}

// unaryInterceptor records gRPC request metrics.
func (s *Server) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	s.metrics.Requests.WithLabelValues("grpc", info.FullMethod, code.String()).Inc()
	s.metrics.RequestDuration.WithLabelValues("grpc", info.FullMethod).Observe(time.Since(start).Seconds())
	if code == codes.Internal {
		s.log.Error("gRPC request failed", "method", info.FullMethod, "error", err)
	}
	return resp, err
}

// grpcService implements PredictorServer on top of the server's Service.
type grpcService struct {
	srv *Server
}

func (g *grpcService) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	horizon, err := intField(req, "horizon")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	p, err := g.srv.svc.Predict(ctx, stringField(req, "symbol"), horizon)
	if err != nil {
		return nil, grpcError(err)
	}
	g.srv.metrics.Predictions.WithLabelValues(string(p.Combined.Direction)).Inc()
	return toStruct(p)
}

func (g *grpcService) Backtest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	horizon, err := intField(req, "horizon")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	report, err := g.srv.svc.Backtest(ctx, stringField(req, "symbol"), horizon)
	if err != nil {
		g.srv.metrics.Backtests.WithLabelValues("error").Inc()
		return nil, grpcError(err)
	}
	g.srv.observeReport(report)
	return toStruct(report)
}

func (g *grpcService) Indicators(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"indicators": g.srv.svc.Indicators()})
}

// ---------------------------------------------------------------------------
// Message helpers
// ---------------------------------------------------------------------------

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

// intField reads an optional integral field that may be sent as a number or
// a numeric string.
func intField(s *structpb.Struct, name string) (int, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return 0, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%s: %v is not an integer", name, n)
		}
		return int(n), nil
	case *structpb.Value_StringValue:
		n, err := strconv.Atoi(k.StringValue)
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not an integer", name, k.StringValue)
		}
		return n, nil
	case *structpb.Value_NullValue:
		return 0, nil
	}
	return 0, fmt.Errorf("%s: unsupported value type", name)
}

// toStruct converts v to a Struct through its JSON encoding, so gRPC and HTTP
// responses carry identical fields.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// grpcError maps a service error to a gRPC status.
func grpcError(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrInsufficientData):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrAmbiguousConfig),
		errors.Is(err, domain.ErrInvalidHorizon),
		errors.Is(err, domain.ErrUnknownIndicator),
		errors.Is(err, domain.ErrInvalidTimescale),
		errors.Is(err, domain.ErrInvalidSymbol):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
