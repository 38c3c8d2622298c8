// Package api exposes the predictor over HTTP (JSON) and gRPC, and publishes
// Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"predictor/internal/backtest"
	"predictor/internal/config"
	"predictor/internal/domain"
	"predictor/internal/engine"
	"predictor/internal/store"
)

// Service is the prediction and backtesting surface served by the API.
// *engine.Engine implements it.
type Service interface {
	Predict(ctx context.Context, symbol string, horizon int) (*engine.Prediction, error)
	Backtest(ctx context.Context, symbol string, horizon int) (*domain.BacktestReport, error)
	BacktestMany(ctx context.Context, symbols []string, horizon int) ([]backtest.BatchResult, error)
	Report(ctx context.Context, runID string) (*domain.BacktestReport, error)
	Reports(ctx context.Context, symbol string, limit int) ([]store.ReportSummary, error)
	Signals(ctx context.Context, symbol string, limit int) ([]domain.Signal, error)
	Indicators() []engine.IndicatorInfo
}

// Compile-time interface check.
var _ Service = (*engine.Engine)(nil)

// Server hosts the HTTP and gRPC endpoints.
type Server struct {
	svc             Service
	metrics         *Metrics
	log             *slog.Logger
	httpAddr        string
	grpcAddr        string
	shutdownTimeout time.Duration
}

// NewServer creates a Server for svc listening on the addresses in cfg. A
// zero gRPC port disables the gRPC listener.
func NewServer(svc Service, cfg config.Server, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		svc:             svc,
		metrics:         NewMetrics(),
		log:             log.With("component", "api"),
		httpAddr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if cfg.GRPCPort > 0 {
		s.grpcAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GRPCPort))
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}
	return s
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// NewGRPCServer returns a gRPC server with the Predictor service registered
// and request metrics recorded.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.unaryInterceptor))
	gs := grpc.NewServer(opts...)
	s.RegisterGRPC(gs)
	return gs
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until ctx is
// cancelled or a listener fails, then shuts both down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var gs *grpc.Server
	var grpcLis net.Listener
	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
		grpcLis = lis
		gs = s.NewGRPCServer()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", s.httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if gs != nil {
		g.Go(func() error {
			s.log.Info("gRPC server listening", "addr", s.grpcAddr)
			if err := gs.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down API server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if gs != nil {
			stopped := make(chan struct{})
			go func() {
				gs.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-shutdownCtx.Done():
				gs.Stop()
			}
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

// httpStatus maps a service error to an HTTP status code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAmbiguousConfig),
		errors.Is(err, domain.ErrInvalidHorizon),
		errors.Is(err, domain.ErrUnknownIndicator),
		errors.Is(err, domain.ErrInvalidTimescale),
		errors.Is(err, domain.ErrInvalidSymbol):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
