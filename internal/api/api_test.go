package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"predictor/internal/backtest"
	"predictor/internal/config"
	"predictor/internal/domain"
	"predictor/internal/engine"
	"predictor/internal/store"
	"predictor/internal/util"
)

var asOf = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

// fakeService returns canned results, or err when set.
type fakeService struct {
	err       error
	symbol    string
	horizon   int
	reports   map[string]*domain.BacktestReport
	summaries []store.ReportSummary
	signals   []domain.Signal
}

func (f *fakeService) Predict(_ context.Context, symbol string, horizon int) (*engine.Prediction, error) {
	f.symbol, f.horizon = symbol, horizon
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Prediction{
		Combined: domain.CombinedSignal{
			Direction:  domain.DirectionBuy,
			Confidence: 0.4,
			BuyTotal:   1.2,
			SellTotal:  0.6,
			Reasoning:  "BUY wins",
		},
		Readings: map[string]domain.IndicatorReading{
			"RSI": domain.NewReading("RSI", domain.DirectionBuy, 0.7, 25, ""),
			"ADX": domain.HoldReading("ADX", "insufficient data"),
		},
		Symbol:    strings.ToUpper(symbol),
		Horizon:   horizon,
		AsOf:      asOf,
		LastClose: 101.5,
	}, nil
}

func (f *fakeService) Backtest(_ context.Context, symbol string, horizon int) (*domain.BacktestReport, error) {
	f.symbol, f.horizon = symbol, horizon
	if f.err != nil {
		return nil, f.err
	}
	return sampleReport(symbol, horizon), nil
}

func (f *fakeService) BacktestMany(_ context.Context, symbols []string, horizon int) ([]backtest.BatchResult, error) {
	out := make([]backtest.BatchResult, len(symbols))
	for i, sym := range symbols {
		out[i].Name = sym
		if sym == "BAD" {
			out[i].Err = &domain.InsufficientDataError{Have: 3, Need: 56}
			continue
		}
		out[i].Report = sampleReport(sym, horizon)
	}
	return out, nil
}

func (f *fakeService) Report(_ context.Context, runID string) (*domain.BacktestReport, error) {
	if r, ok := f.reports[runID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("report %s: %w", runID, domain.ErrNotFound)
}

func (f *fakeService) Reports(_ context.Context, symbol string, _ int) ([]store.ReportSummary, error) {
	f.symbol = symbol
	return f.summaries, nil
}

func (f *fakeService) Signals(_ context.Context, symbol string, _ int) ([]domain.Signal, error) {
	f.symbol = symbol
	return f.signals, nil
}

func (f *fakeService) Indicators() []engine.IndicatorInfo {
	return []engine.IndicatorInfo{{ID: "RSI", Category: "momentum", Lookback: 15, Weight: 1.1}}
}

func sampleReport(symbol string, horizon int) *domain.BacktestReport {
	return &domain.BacktestReport{
		RunID:          "run-" + symbol,
		Symbol:         symbol,
		Horizon:        horizon,
		InitialCapital: 10000,
		Trades: []domain.Trade{{
			EntryTime: asOf, ExitTime: asOf.AddDate(0, 0, horizon),
			EntryPrice: 100, ExitPrice: 110, Side: domain.SideLong,
			Quantity: 100, Notional: 10000, GrossPnL: 1000, NetPnL: 990, Correct: true,
		}},
		EquityCurve: []domain.EquityPoint{{Timestamp: asOf, Value: 10000}, {Timestamp: asOf.AddDate(0, 0, 1), Value: 10990}},
		Metrics: domain.Metrics{
			TotalTrades: 1, WinningTrades: 1, WinRate: 1, Accuracy: 1,
			TotalReturn: 0.099, ProfitFactor: math.Inf(1),
			Degenerate: []string{domain.DegenerateNoLosses},
		},
	}
}

func newTestServer(svc Service) *Server {
	return NewServer(svc, config.Server{Host: "127.0.0.1", Port: 0}, util.NewLoggerTo(io.Discard, "error", "json"))
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}).Handler(), "GET", "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestPredictHTTP(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc)
	rec := do(t, s.Handler(), "GET", "/api/v1/predict/aapl?horizon=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.symbol != "aapl" || svc.horizon != 3 {
		t.Errorf("service got %s/%d", svc.symbol, svc.horizon)
	}

	var body struct {
		Symbol   string                    `json:"symbol"`
		Horizon  int                       `json:"horizon"`
		Signal   domain.CombinedSignal     `json:"signal"`
		Readings map[string]map[string]any `json:"readings"`
	}
	decode(t, rec, &body)
	if body.Symbol != "AAPL" || body.Signal.Direction != domain.DirectionBuy || body.Signal.Confidence != 0.4 {
		t.Errorf("body = %+v", body)
	}
	if body.Readings["ADX"]["raw_value"] != nil {
		t.Errorf("NaN raw value encoded as %v, want null", body.Readings["ADX"]["raw_value"])
	}

	if got := testutil.ToFloat64(s.metrics.Predictions.WithLabelValues("BUY")); got != 1 {
		t.Errorf("predictions{BUY} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.metrics.Requests.WithLabelValues("http", "GET /api/v1/predict/{symbol}", "200")); got != 1 {
		t.Errorf("requests counter = %v, want 1", got)
	}
}

func TestPredictErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&domain.InsufficientDataError{Have: 10, Need: 50}, http.StatusUnprocessableEntity},
		{&domain.AmbiguousConfigError{Indicator: "ADX"}, http.StatusBadRequest},
		{domain.ValidateHorizon(31), http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrInvalidSymbol), http.StatusBadRequest},
		{fmt.Errorf("%w: RSI.short = -2", domain.ErrInvalidTimescale), http.StatusBadRequest},
		{fmt.Errorf("loading: %w", domain.ErrNotFound), http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s := newTestServer(&fakeService{err: tc.err})
		rec := do(t, s.Handler(), "GET", "/api/v1/predict/AAPL", "")
		if rec.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
		var body map[string]string
		decode(t, rec, &body)
		if body["error"] == "" {
			t.Errorf("%v: missing error message", tc.err)
		}
	}
}

func TestPredictBadHorizonQuery(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}).Handler(), "GET", "/api/v1/predict/AAPL?horizon=five", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestBacktestHTTP(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc)
	rec := do(t, s.Handler(), "POST", "/api/v1/backtest", `{"symbol":"MSFT","horizon":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var report domain.BacktestReport
	decode(t, rec, &report)
	if report.RunID != "run-MSFT" || len(report.Trades) != 1 || len(report.EquityCurve) != 2 {
		t.Errorf("report = %+v", report)
	}
	if !math.IsInf(report.Metrics.ProfitFactor, 1) {
		t.Errorf("profit factor = %v, want +Inf via \"inf\"", report.Metrics.ProfitFactor)
	}
	if !strings.Contains(rec.Body.String(), `"profit_factor":"inf"`) {
		t.Errorf("body lacks inf profit factor: %s", rec.Body.String())
	}
	if got := testutil.ToFloat64(s.metrics.Backtests.WithLabelValues("ok")); got != 1 {
		t.Errorf("backtests{ok} = %v", got)
	}
}

func TestBacktestBatchHTTP(t *testing.T) {
	s := newTestServer(&fakeService{})
	rec := do(t, s.Handler(), "POST", "/api/v1/backtest", `{"symbols":["AAA","BAD"],"horizon":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Results []BatchEntry `json:"results"`
	}
	decode(t, rec, &body)
	if len(body.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(body.Results))
	}
	if body.Results[0].Report == nil || body.Results[0].Error != "" {
		t.Errorf("AAA = %+v", body.Results[0])
	}
	if body.Results[1].Report != nil || !strings.Contains(body.Results[1].Error, "insufficient data") {
		t.Errorf("BAD = %+v", body.Results[1])
	}
	if got := testutil.ToFloat64(s.metrics.Backtests.WithLabelValues("error")); got != 1 {
		t.Errorf("backtests{error} = %v", got)
	}
}

func TestBacktestBadBody(t *testing.T) {
	h := newTestServer(&fakeService{}).Handler()
	for _, body := range []string{`{`, `{"symbol":"A","extra":1}`} {
		if rec := do(t, h, "POST", "/api/v1/backtest", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestGetBacktest(t *testing.T) {
	svc := &fakeService{reports: map[string]*domain.BacktestReport{"abc": sampleReport("IBM", 4)}}
	h := newTestServer(svc).Handler()

	rec := do(t, h, "GET", "/api/v1/backtests/abc", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var report domain.BacktestReport
	decode(t, rec, &report)
	if report.Symbol != "IBM" {
		t.Errorf("symbol = %q", report.Symbol)
	}

	if rec := do(t, h, "GET", "/api/v1/backtests/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing report status = %d, want 404", rec.Code)
	}
}

func TestListBacktestsAndSignals(t *testing.T) {
	svc := &fakeService{
		summaries: []store.ReportSummary{{RunID: "r1", Symbol: "SPY", Horizon: 5}},
		signals: []domain.Signal{{
			ID: 7, Symbol: "SPY", Horizon: 5, Direction: domain.DirectionSell,
			Strength: 0.3, Price: 500, AsOf: asOf, CreatedAt: asOf,
		}},
	}
	h := newTestServer(svc).Handler()

	rec := do(t, h, "GET", "/api/v1/backtests?symbol=spy&limit=5", "")
	var sums struct {
		Backtests []store.ReportSummary `json:"backtests"`
	}
	decode(t, rec, &sums)
	if len(sums.Backtests) != 1 || sums.Backtests[0].RunID != "r1" || svc.symbol != "SPY" {
		t.Errorf("backtests = %+v (symbol %q)", sums, svc.symbol)
	}

	rec = do(t, h, "GET", "/api/v1/signals?symbol=spy", "")
	var sigs struct {
		Signals []SignalJSON `json:"signals"`
	}
	decode(t, rec, &sigs)
	if len(sigs.Signals) != 1 || sigs.Signals[0].ID != 7 || sigs.Signals[0].Direction != domain.DirectionSell {
		t.Errorf("signals = %+v", sigs)
	}

	if rec := do(t, h, "GET", "/api/v1/signals?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

func TestIndicatorsAndMetricsEndpoints(t *testing.T) {
	h := newTestServer(&fakeService{}).Handler()

	rec := do(t, h, "GET", "/api/v1/indicators", "")
	if !strings.Contains(rec.Body.String(), `"RSI"`) {
		t.Errorf("indicators body = %s", rec.Body.String())
	}

	rec = do(t, h, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "predictor_requests_total") {
		t.Error("metrics output lacks predictor_requests_total")
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}).Handler(), "OPTIONS", "/api/v1/backtest", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

// ---------------------------------------------------------------------------
// gRPC
// ---------------------------------------------------------------------------

func dialBufconn(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := s.NewGRPCServer()
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient() error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCPredict(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc)
	conn := dialBufconn(t, s)

	req, _ := structpb.NewStruct(map[string]any{"symbol": "tsla", "horizon": 10})
	resp := new(structpb.Struct)
	if err := conn.Invoke(context.Background(), PredictMethod, req, resp); err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if svc.symbol != "tsla" || svc.horizon != 10 {
		t.Errorf("service got %s/%d", svc.symbol, svc.horizon)
	}
	fields := resp.GetFields()
	if fields["symbol"].GetStringValue() != "TSLA" {
		t.Errorf("symbol = %v", fields["symbol"])
	}
	sig := fields["signal"].GetStructValue().GetFields()
	if sig["direction"].GetStringValue() != "BUY" {
		t.Errorf("direction = %v", sig["direction"])
	}
	if got := testutil.ToFloat64(s.metrics.Requests.WithLabelValues("grpc", PredictMethod, "OK")); got != 1 {
		t.Errorf("grpc requests counter = %v, want 1", got)
	}
}

func TestGRPCBacktestAndIndicators(t *testing.T) {
	conn := dialBufconn(t, newTestServer(&fakeService{}))

	req, _ := structpb.NewStruct(map[string]any{"symbol": "NVDA", "horizon": "7"})
	resp := new(structpb.Struct)
	if err := conn.Invoke(context.Background(), BacktestMethod, req, resp); err != nil {
		t.Fatalf("Backtest Invoke() error: %v", err)
	}
	f := resp.GetFields()
	if f["run_id"].GetStringValue() != "run-NVDA" || f["horizon"].GetNumberValue() != 7 {
		t.Errorf("report fields = %v / %v", f["run_id"], f["horizon"])
	}
	if pf := f["metrics"].GetStructValue().GetFields()["profit_factor"].GetStringValue(); pf != "inf" {
		t.Errorf("profit_factor = %q, want inf", pf)
	}

	resp = new(structpb.Struct)
	if err := conn.Invoke(context.Background(), IndicatorMethod, &structpb.Struct{}, resp); err != nil {
		t.Fatalf("Indicators Invoke() error: %v", err)
	}
	if n := len(resp.GetFields()["indicators"].GetListValue().GetValues()); n != 1 {
		t.Errorf("indicators = %d, want 1", n)
	}
}

func TestGRPCErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{&domain.InsufficientDataError{Have: 1, Need: 2}, codes.FailedPrecondition},
		{domain.ValidateHorizon(0), codes.InvalidArgument},
		{fmt.Errorf("%w: RSI.short = 0", domain.ErrInvalidTimescale), codes.InvalidArgument},
		{fmt.Errorf("x: %w", domain.ErrNotFound), codes.NotFound},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		conn := dialBufconn(t, newTestServer(&fakeService{err: tc.err}))
		req, _ := structpb.NewStruct(map[string]any{"symbol": "A"})
		err := conn.Invoke(context.Background(), PredictMethod, req, new(structpb.Struct))
		if got := status.Code(err); got != tc.want {
			t.Errorf("%v: code = %v, want %v", tc.err, got, tc.want)
		}
	}

	conn := dialBufconn(t, newTestServer(&fakeService{}))
	req, _ := structpb.NewStruct(map[string]any{"symbol": "A", "horizon": 2.5})
	err := conn.Invoke(context.Background(), PredictMethod, req, new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("fractional horizon: code = %v, want InvalidArgument", status.Code(err))
	}
}
