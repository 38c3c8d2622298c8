package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"predictor/internal/config"
	"predictor/internal/domain"
	"predictor/internal/feed"
	"predictor/internal/indicator"
	"predictor/internal/signal"
	"predictor/internal/store"
	"predictor/internal/util"
)

var testNow = time.Date(2025, 6, 30, 21, 0, 0, 0, time.UTC)

// wave returns n daily bars ending the day before testNow.
func wave(symbol string, n int, phase float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	start := testNow.AddDate(0, 0, -n)
	for i := range bars {
		c := 100 + 10*math.Sin(float64(i)/7+phase) + 0.1*float64(i)
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: start.AddDate(0, 0, i),
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    int64(1000 + 50*(i%9)),
		}
	}
	return bars
}

func newTestEngine(t *testing.T, cfg *config.Config, bars map[string][]domain.Bar) (*Engine, *store.SQLiteStore) {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "predictor.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e, err := NewEngine(cfg, Deps{
		Source:  feed.NewStaticSource(bars),
		Reports: db,
		Signals: db,
		Logger:  util.NewLoggerTo(io.Discard, "error", "json"),
	})
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	e.now = func() time.Time { return testNow }
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
	return e, db
}

func TestNewEngineMissingWeight(t *testing.T) {
	cfg := config.Default()
	delete(cfg.Signal.Weights, indicator.IDRSI)
	_, err := NewEngine(cfg, Deps{Source: feed.NewStaticSource(nil)})
	if !errors.Is(err, domain.ErrAmbiguousConfig) {
		t.Fatalf("err = %v, want ErrAmbiguousConfig", err)
	}
}

func TestNewEngineInvalidTimescale(t *testing.T) {
	cfg := config.Default()
	cfg.Signal.Timescale[indicator.IDRSI] = signal.Multipliers{Short: -2, Medium: 1, Long: 1}
	_, err := NewEngine(cfg, Deps{Source: feed.NewStaticSource(nil)})
	if !errors.Is(err, domain.ErrInvalidTimescale) {
		t.Fatalf("err = %v, want ErrInvalidTimescale", err)
	}
}

func TestNewEngineRequiresSource(t *testing.T) {
	if _, err := NewEngine(config.Default(), Deps{}); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestIndicators(t *testing.T) {
	e, _ := newTestEngine(t, config.Default(), nil)
	infos := e.Indicators()
	if len(infos) != 9 {
		t.Fatalf("len = %d, want 9", len(infos))
	}
	for _, info := range infos {
		if info.Weight <= 0 {
			t.Errorf("%s weight = %v", info.ID, info.Weight)
		}
		if info.ID == indicator.IDRSI && info.Timescale.Short != 1.4 {
			t.Errorf("RSI short multiplier = %v, want 1.4", info.Timescale.Short)
		}
	}
}

func TestPredict(t *testing.T) {
	bars := wave("AAPL", 120, 0)
	e, db := newTestEngine(t, config.Default(), map[string][]domain.Bar{"AAPL": bars})

	p, err := e.Predict(context.Background(), "aapl", 3)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	if p.Symbol != "AAPL" || p.Horizon != 3 {
		t.Errorf("symbol/horizon = %s/%d", p.Symbol, p.Horizon)
	}
	if !p.Combined.Direction.Valid() {
		t.Errorf("direction = %q", p.Combined.Direction)
	}
	if c := p.Combined.Confidence; c < 0 || c > 1 {
		t.Errorf("confidence = %v, want [0,1]", c)
	}
	if len(p.Readings) != 9 {
		t.Errorf("readings = %d, want 9", len(p.Readings))
	}
	last := bars[len(bars)-1]
	if p.LastClose != last.Close || !p.AsOf.Equal(last.Timestamp) {
		t.Errorf("last close/as of = %v/%v", p.LastClose, p.AsOf)
	}

	saved, err := db.ListSignals(context.Background(), "AAPL", 10)
	if err != nil {
		t.Fatalf("ListSignals() error: %v", err)
	}
	if len(saved) != 1 || saved[0].ID == 0 || saved[0].Direction != p.Combined.Direction {
		t.Errorf("saved signals = %+v", saved)
	}
	if p.Signal.ID != saved[0].ID {
		t.Errorf("prediction signal id = %d, stored %d", p.Signal.ID, saved[0].ID)
	}
}

func TestPredictDefaultHorizon(t *testing.T) {
	e, _ := newTestEngine(t, config.Default(), map[string][]domain.Bar{"AAPL": wave("AAPL", 80, 1)})
	p, err := e.Predict(context.Background(), "AAPL", 0)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	if p.Horizon != config.Default().Signal.Horizon {
		t.Errorf("horizon = %d, want configured default", p.Horizon)
	}
}

func TestPredictErrors(t *testing.T) {
	e, _ := newTestEngine(t, config.Default(), map[string][]domain.Bar{"SHORT": wave("SHORT", 20, 0)})
	ctx := context.Background()

	if _, err := e.Predict(ctx, "SHORT", 5); !errors.Is(err, domain.ErrInsufficientData) {
		t.Errorf("short history: err = %v, want ErrInsufficientData", err)
	}
	if _, err := e.Predict(ctx, "SHORT", 31); !errors.Is(err, domain.ErrInvalidHorizon) {
		t.Errorf("horizon 31: err = %v, want ErrInvalidHorizon", err)
	}
	if _, err := e.Predict(ctx, "  ", 5); !errors.Is(err, domain.ErrInvalidSymbol) {
		t.Errorf("blank symbol: err = %v, want ErrInvalidSymbol", err)
	}
	if _, err := e.Predict(ctx, "NOPE", 5); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown symbol: err = %v, want ErrNotFound", err)
	}
}

func TestBacktestPersistsReport(t *testing.T) {
	bars := wave("MSFT", 150, 0.5)
	e, db := newTestEngine(t, config.Default(), map[string][]domain.Bar{"MSFT": bars})
	ctx := context.Background()

	report, err := e.Backtest(ctx, "msft", 5)
	if err != nil {
		t.Fatalf("Backtest() error: %v", err)
	}
	if report.RunID != "run-1" || !report.CreatedAt.Equal(testNow) {
		t.Errorf("run id/created = %q/%v", report.RunID, report.CreatedAt)
	}
	if report.Symbol != "MSFT" || report.Horizon != 5 {
		t.Errorf("symbol/horizon = %s/%d", report.Symbol, report.Horizon)
	}
	if len(report.EquityCurve) == 0 {
		t.Fatal("empty equity curve")
	}
	for _, tr := range report.Trades {
		if tr.ExitTime.Before(tr.EntryTime) {
			t.Errorf("trade exits before entry: %+v", tr)
		}
	}

	stored, err := db.GetReport(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetReport() error: %v", err)
	}
	if len(stored.Trades) != len(report.Trades) || len(stored.EquityCurve) != len(report.EquityCurve) {
		t.Errorf("stored %d trades / %d points, want %d / %d",
			len(stored.Trades), len(stored.EquityCurve), len(report.Trades), len(report.EquityCurve))
	}

	sums, err := e.Reports(ctx, "MSFT", 0)
	if err != nil || len(sums) != 1 {
		t.Fatalf("Reports() = %v, %v", sums, err)
	}
}

func TestBacktestInsufficientData(t *testing.T) {
	// 50 bars cover the longest lookback but not lookback + horizon + 1.
	e, _ := newTestEngine(t, config.Default(), map[string][]domain.Bar{"X": wave("X", 50, 0)})
	_, err := e.Backtest(context.Background(), "X", 5)
	var ide *domain.InsufficientDataError
	if !errors.As(err, &ide) {
		t.Fatalf("err = %v, want InsufficientDataError", err)
	}
	if ide.Need != 56 {
		t.Errorf("Need = %d, want 56", ide.Need)
	}
}

func TestBacktestMany(t *testing.T) {
	bars := map[string][]domain.Bar{
		"AAA": wave("AAA", 120, 0),
		"BBB": wave("BBB", 120, 2),
	}
	e, db := newTestEngine(t, config.Default(), bars)
	ctx := context.Background()

	results, err := e.BacktestMany(ctx, []string{"aaa", "missing", "BBB"}, 2)
	if err != nil {
		t.Fatalf("BacktestMany() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len = %d, want 3", len(results))
	}
	for _, i := range []int{0, 2} {
		if results[i].Err != nil || results[i].Report == nil {
			t.Errorf("result %d: %+v", i, results[i])
		}
	}
	if results[0].Name != "AAA" || results[2].Name != "BBB" {
		t.Errorf("names = %s, %s", results[0].Name, results[2].Name)
	}
	if !errors.Is(results[1].Err, domain.ErrNotFound) {
		t.Errorf("missing symbol err = %v", results[1].Err)
	}

	sums, err := db.ListReports(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListReports() error: %v", err)
	}
	if len(sums) != 2 {
		t.Errorf("stored %d reports, want 2", len(sums))
	}

	if _, err := e.BacktestMany(ctx, nil, 2); !errors.Is(err, domain.ErrInvalidSymbol) {
		t.Errorf("no symbols: err = %v", err)
	}
}

// barrierSource holds every Bars call until n calls are in flight.
type barrierSource struct {
	feed.Source
	arrived sync.WaitGroup
}

func (b *barrierSource) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	b.arrived.Done()
	done := make(chan struct{})
	go func() { b.arrived.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return nil, errors.New("bar loads were serialized")
	}
	return b.Source.Bars(ctx, symbol, start, end)
}

func TestBacktestManyLoadsConcurrently(t *testing.T) {
	src := &barrierSource{Source: feed.NewStaticSource(map[string][]domain.Bar{
		"AAA": wave("AAA", 120, 0),
		"BBB": wave("BBB", 120, 2),
	})}
	src.arrived.Add(2)

	cfg := config.Default()
	cfg.Backtest.Workers = 2
	e, err := NewEngine(cfg, Deps{Source: src, Logger: util.NewLoggerTo(io.Discard, "error", "json")})
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	e.now = func() time.Time { return testNow }

	results, err := e.BacktestMany(context.Background(), []string{"AAA", "BBB"}, 3)
	if err != nil {
		t.Fatalf("BacktestMany() error: %v", err)
	}
	for _, r := range results {
		if r.Err != nil || r.Report == nil {
			t.Errorf("%s: %v", r.Name, r.Err)
		}
	}
}

func TestBacktestDeterministic(t *testing.T) {
	bars := map[string][]domain.Bar{"DET": wave("DET", 130, 1.3)}
	e, _ := newTestEngine(t, config.Default(), bars)

	a, err := e.Backtest(context.Background(), "DET", 4)
	if err != nil {
		t.Fatalf("Backtest() error: %v", err)
	}
	b, err := e.Backtest(context.Background(), "DET", 4)
	if err != nil {
		t.Fatalf("Backtest() error: %v", err)
	}
	if len(a.Trades) != len(b.Trades) || a.FinalEquity() != b.FinalEquity() {
		t.Errorf("runs differ: %d/%v vs %d/%v", len(a.Trades), a.FinalEquity(), len(b.Trades), b.FinalEquity())
	}
}

func TestOpenRuntime(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.SQLitePath = filepath.Join(dir, "db", "predictor.db")

	rt, err := Open(cfg, util.NewLoggerTo(io.Discard, "error", "json"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer rt.Close()

	if rt.Engine == nil || rt.Cache == nil || rt.Bars == nil || rt.DB == nil {
		t.Fatalf("runtime not fully wired: %+v", rt)
	}
	if got := len(rt.Engine.Indicators()); got != 9 {
		t.Errorf("indicators = %d, want 9", got)
	}
	sums, err := rt.Engine.Reports(context.Background(), "", 5)
	if err != nil || len(sums) != 0 {
		t.Errorf("fresh database reports = %v, %v", sums, err)
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := config.Default()
	if !errors.Is(RequireCredentials(cfg), ErrNoCredentials) {
		t.Error("expected ErrNoCredentials for empty key pair")
	}
	cfg.Alpaca.APIKey, cfg.Alpaca.APISecret = "k", "s"
	if err := RequireCredentials(cfg); err != nil {
		t.Errorf("RequireCredentials() = %v", err)
	}
}
