package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"predictor/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// RegisterRoutes registers all HTTP routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	s.handle(mux, "GET /healthz", s.handleHealth)
	s.handle(mux, "GET /api/v1/indicators", s.handleIndicators)
	s.handle(mux, "GET /api/v1/predict/{symbol}", s.handlePredict)
	s.handle(mux, "POST /api/v1/backtest", s.handleBacktest)
	s.handle(mux, "GET /api/v1/backtests", s.handleListBacktests)
	s.handle(mux, "GET /api/v1/backtests/{id}", s.handleGetBacktest)
	s.handle(mux, "GET /api/v1/signals", s.handleListSignals)
	mux.Handle("GET /metrics", s.metrics.Handler())
}

// Handler returns an http.Handler with all routes and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// handle registers h under pattern, recording request metrics labelled with
// the pattern.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.Requests.WithLabelValues("http", pattern, strconv.Itoa(rec.status)).Inc()
		s.metrics.RequestDuration.WithLabelValues("http", pattern).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeServiceError maps err to a status code and logs server-side failures.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", name, v)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleIndicators(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"indicators": s.svc.Indicators()})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	horizon, err := queryInt(r, "horizon")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.svc.Predict(r.Context(), r.PathValue("symbol"), horizon)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.metrics.Predictions.WithLabelValues(string(p.Combined.Direction)).Inc()
	writeJSON(w, p)
}

// BacktestRequest is the body of POST /api/v1/backtest. Symbols, when set,
// runs a batch and takes precedence over Symbol.
type BacktestRequest struct {
	Symbol  string   `json:"symbol"`
	Symbols []string `json:"symbols,omitempty"`
	Horizon int      `json:"horizon"`
}

// BatchEntry is one symbol's outcome in a batch backtest response.
type BatchEntry struct {
	Symbol string                 `json:"symbol"`
	Report *domain.BacktestReport `json:"report,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if len(req.Symbols) > 0 {
		results, err := s.svc.BacktestMany(r.Context(), req.Symbols, req.Horizon)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		entries := make([]BatchEntry, len(results))
		for i, res := range results {
			entries[i] = BatchEntry{Symbol: res.Name, Report: res.Report}
			if res.Err != nil {
				entries[i].Error = res.Err.Error()
				s.metrics.Backtests.WithLabelValues("error").Inc()
				continue
			}
			s.observeReport(res.Report)
		}
		writeJSON(w, map[string]any{"results": entries})
		return
	}

	report, err := s.svc.Backtest(r.Context(), req.Symbol, req.Horizon)
	if err != nil {
		s.metrics.Backtests.WithLabelValues("error").Inc()
		s.writeServiceError(w, r, err)
		return
	}
	s.observeReport(report)
	writeJSON(w, report)
}

func (s *Server) observeReport(report *domain.BacktestReport) {
	s.metrics.Backtests.WithLabelValues("ok").Inc()
	s.metrics.BacktestTrades.Observe(float64(report.Metrics.TotalTrades))
	s.metrics.BacktestReturns.Observe(report.Metrics.TotalReturn)
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sums, err := s.svc.Reports(r.Context(), strings.ToUpper(r.URL.Query().Get("symbol")), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"backtests": sums})
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// SignalJSON is the wire form of a stored prediction.
type SignalJSON struct {
	ID        int64            `json:"id"`
	Symbol    string           `json:"symbol"`
	Horizon   int              `json:"horizon"`
	Direction domain.Direction `json:"direction"`
	Strength  float64          `json:"strength"`
	Price     float64          `json:"price"`
	AsOf      time.Time        `json:"as_of"`
	Reasoning string           `json:"reasoning,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func signalJSON(sig domain.Signal) SignalJSON {
	return SignalJSON{
		ID:        sig.ID,
		Symbol:    sig.Symbol,
		Horizon:   sig.Horizon,
		Direction: sig.Direction,
		Strength:  sig.Strength,
		Price:     sig.Price,
		AsOf:      sig.AsOf,
		Reasoning: sig.Reasoning,
		CreatedAt: sig.CreatedAt,
	}
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sigs, err := s.svc.Signals(r.Context(), strings.ToUpper(r.URL.Query().Get("symbol")), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]SignalJSON, len(sigs))
	for i, sig := range sigs {
		out[i] = signalJSON(sig)
	}
	writeJSON(w, map[string]any{"signals": out})
}
