package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"predictor/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ ReportStore = (*SQLiteStore)(nil)
var _ SignalStore = (*SQLiteStore)(nil)

// SQLiteStore implements ReportStore and SignalStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// migrations are applied in order; PRAGMA user_version records how many ran.
// Each migration is a list of single statements run in one transaction.
var migrations = [][]string{
	{
		`CREATE TABLE backtest_runs (
			run_id          TEXT PRIMARY KEY,
			symbol          TEXT NOT NULL,
			horizon         INTEGER NOT NULL,
			initial_capital REAL NOT NULL,
			cost_rate       REAL NOT NULL,
			start_ms        INTEGER NOT NULL,
			end_ms          INTEGER NOT NULL,
			final_equity    REAL NOT NULL,
			total_trades    INTEGER NOT NULL,
			winning_trades  INTEGER NOT NULL,
			losing_trades   INTEGER NOT NULL,
			win_rate        REAL NOT NULL,
			accuracy        REAL NOT NULL,
			total_return    REAL NOT NULL,
			max_drawdown    REAL NOT NULL,
			sharpe_ratio    REAL NOT NULL,
			profit_factor   REAL,
			degenerate      TEXT NOT NULL DEFAULT '',
			created_ms      INTEGER NOT NULL
		)`,
		`CREATE INDEX idx_backtest_runs_symbol ON backtest_runs(symbol, created_ms)`,
		`CREATE TABLE backtest_trades (
			run_id      TEXT NOT NULL REFERENCES backtest_runs(run_id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			entry_ms    INTEGER NOT NULL,
			exit_ms     INTEGER NOT NULL,
			entry_price REAL NOT NULL,
			exit_price  REAL NOT NULL,
			side        TEXT NOT NULL,
			quantity    REAL NOT NULL,
			notional    REAL NOT NULL,
			gross_pnl   REAL NOT NULL,
			net_pnl     REAL NOT NULL,
			correct     INTEGER NOT NULL,
			force_close INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE backtest_equity (
			run_id TEXT NOT NULL REFERENCES backtest_runs(run_id) ON DELETE CASCADE,
			seq    INTEGER NOT NULL,
			ts_ms  INTEGER NOT NULL,
			value  REAL NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
	},
	{
		`CREATE TABLE signals (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT NOT NULL,
			horizon    INTEGER NOT NULL,
			direction  TEXT NOT NULL,
			strength   REAL NOT NULL,
			price      REAL NOT NULL,
			as_of_ms   INTEGER NOT NULL,
			reasoning  TEXT NOT NULL DEFAULT '',
			created_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX idx_signals_symbol ON signals(symbol, created_ms)`,
	},
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// pending migrations and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway, and ":memory:"
	// databases are per connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return err
	}
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range migrations[i] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// ReportStore implementation
// ---------------------------------------------------------------------------

// SaveReport inserts a report with its trades and equity curve in one
// transaction.
func (s *SQLiteStore) SaveReport(ctx context.Context, r *domain.BacktestReport) error {
	if r.RunID == "" {
		return errors.New("saving report: empty run id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	m := r.Metrics
	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (
			run_id, symbol, horizon, initial_capital, cost_rate, start_ms, end_ms, final_equity,
			total_trades, winning_trades, losing_trades, win_rate, accuracy, total_return,
			max_drawdown, sharpe_ratio, profit_factor, degenerate, created_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, strings.ToUpper(r.Symbol), r.Horizon, r.InitialCapital, r.CostRate,
		r.Start.UnixMilli(), r.End.UnixMilli(), r.FinalEquity(),
		m.TotalTrades, m.WinningTrades, m.LosingTrades, m.WinRate, m.Accuracy, m.TotalReturn,
		m.MaxDrawdown, m.SharpeRatio, profitFactorValue(m.ProfitFactor),
		strings.Join(m.Degenerate, ","), r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.RunID, err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades (
			run_id, seq, entry_ms, exit_ms, entry_price, exit_price, side, quantity,
			notional, gross_pnl, net_pnl, correct, force_close
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer tradeStmt.Close()
	for i, t := range r.Trades {
		_, err := tradeStmt.ExecContext(ctx,
			r.RunID, i, t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(), t.EntryPrice, t.ExitPrice,
			string(t.Side), t.Quantity, t.Notional, t.GrossPnL, t.NetPnL, t.Correct, t.ForceClose,
		)
		if err != nil {
			return fmt.Errorf("inserting trade %d of %s: %w", i, r.RunID, err)
		}
	}

	eqStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO backtest_equity (run_id, seq, ts_ms, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer eqStmt.Close()
	for i, p := range r.EquityCurve {
		if _, err := eqStmt.ExecContext(ctx, r.RunID, i, p.Timestamp.UnixMilli(), p.Value); err != nil {
			return fmt.Errorf("inserting equity point %d of %s: %w", i, r.RunID, err)
		}
	}

	return tx.Commit()
}

const summaryColumns = `
	run_id, symbol, horizon, initial_capital, cost_rate, start_ms, end_ms, final_equity,
	total_trades, winning_trades, losing_trades, win_rate, accuracy, total_return,
	max_drawdown, sharpe_ratio, profit_factor, degenerate, created_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (ReportSummary, float64, error) {
	var (
		sum                     ReportSummary
		costRate                float64
		startMs, endMs, created int64
		pf                      sql.NullFloat64
		degenerate              string
	)
	m := &sum.Metrics
	err := row.Scan(
		&sum.RunID, &sum.Symbol, &sum.Horizon, &sum.InitialCapital, &costRate, &startMs, &endMs, &sum.FinalEquity,
		&m.TotalTrades, &m.WinningTrades, &m.LosingTrades, &m.WinRate, &m.Accuracy, &m.TotalReturn,
		&m.MaxDrawdown, &m.SharpeRatio, &pf, &degenerate, &created,
	)
	if err != nil {
		return ReportSummary{}, 0, err
	}
	sum.Start = time.UnixMilli(startMs).UTC()
	sum.End = time.UnixMilli(endMs).UTC()
	sum.CreatedAt = time.UnixMilli(created).UTC()
	m.ProfitFactor = profitFactorFrom(pf)
	if degenerate != "" {
		m.Degenerate = strings.Split(degenerate, ",")
	}
	return sum, costRate, nil
}

// GetReport loads a full report by run id.
func (s *SQLiteStore) GetReport(ctx context.Context, runID string) (*domain.BacktestReport, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM backtest_runs WHERE run_id = ?`, runID)
	sum, costRate, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	r := &domain.BacktestReport{
		RunID:          sum.RunID,
		Symbol:         sum.Symbol,
		Horizon:        sum.Horizon,
		InitialCapital: sum.InitialCapital,
		CostRate:       costRate,
		Start:          sum.Start,
		End:            sum.End,
		Metrics:        sum.Metrics,
		CreatedAt:      sum.CreatedAt,
		Trades:         []domain.Trade{},
		EquityCurve:    []domain.EquityPoint{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_ms, exit_ms, entry_price, exit_price, side, quantity, notional,
		       gross_pnl, net_pnl, correct, force_close
		FROM backtest_trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var t domain.Trade
		var entryMs, exitMs int64
		var side string
		if err := rows.Scan(&entryMs, &exitMs, &t.EntryPrice, &t.ExitPrice, &side, &t.Quantity,
			&t.Notional, &t.GrossPnL, &t.NetPnL, &t.Correct, &t.ForceClose); err != nil {
			rows.Close()
			return nil, err
		}
		t.EntryTime = time.UnixMilli(entryMs).UTC()
		t.ExitTime = time.UnixMilli(exitMs).UTC()
		t.Side = domain.PositionSide(side)
		r.Trades = append(r.Trades, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT ts_ms, value FROM backtest_equity WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ms int64
		var p domain.EquityPoint
		if err := rows.Scan(&ms, &p.Value); err != nil {
			return nil, err
		}
		p.Timestamp = time.UnixMilli(ms).UTC()
		r.EquityCurve = append(r.EquityCurve, p)
	}
	return r, rows.Err()
}

// ListReports returns report summaries, newest first.
func (s *SQLiteStore) ListReports(ctx context.Context, symbol string, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + summaryColumns + ` FROM backtest_runs`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, strings.ToUpper(symbol))
	}
	query += ` ORDER BY created_ms DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ReportSummary{}
	for rows.Next() {
		sum, _, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// profitFactorValue maps an infinite profit factor to NULL.
func profitFactorValue(pf float64) any {
	if math.IsInf(pf, 0) || math.IsNaN(pf) {
		return nil
	}
	return pf
}

func profitFactorFrom(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.Inf(1)
	}
	return v.Float64
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignal inserts a new signal into the database.
func (s *SQLiteStore) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (symbol, horizon, direction, strength, price, as_of_ms, reasoning, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(sig.Symbol), sig.Horizon, string(sig.Direction), sig.Strength, sig.Price,
		sig.AsOf.UnixMilli(), sig.Reasoning, sig.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting signal for %s: %w", sig.Symbol, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	sig.ID = id
	return nil
}

// ListSignals returns the most recent signals, newest first.
func (s *SQLiteStore) ListSignals(ctx context.Context, symbol string, limit int) ([]domain.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, symbol, horizon, direction, strength, price, as_of_ms, reasoning, created_ms FROM signals`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, strings.ToUpper(symbol))
	}
	query += ` ORDER BY created_ms DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Signal{}
	for rows.Next() {
		var sig domain.Signal
		var dir string
		var asOf, created int64
		if err := rows.Scan(&sig.ID, &sig.Symbol, &sig.Horizon, &dir, &sig.Strength, &sig.Price,
			&asOf, &sig.Reasoning, &created); err != nil {
			return nil, err
		}
		sig.Direction = domain.Direction(dir)
		sig.AsOf = time.UnixMilli(asOf).UTC()
		sig.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, sig)
	}
	return out, rows.Err()
}
