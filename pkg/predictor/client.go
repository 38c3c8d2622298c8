// Package predictor is a Go client for the predictor-server HTTP and gRPC
// APIs.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("predictor API: %d %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the predictor-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new predictor API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Predict requests a combined signal for symbol. A zero horizon uses the
// server default.
func (c *Client) Predict(ctx context.Context, symbol string, horizon int) (*Prediction, error) {
	path := "/api/v1/predict/" + url.PathEscape(symbol)
	if horizon != 0 {
		path += "?horizon=" + strconv.Itoa(horizon)
	}
	var p Prediction
	if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Backtest runs a backtest of symbol on the server.
func (c *Client) Backtest(ctx context.Context, symbol string, horizon int) (*BacktestReport, error) {
	var r BacktestReport
	body := map[string]any{"symbol": symbol, "horizon": horizon}
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtest", body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// BacktestBatch backtests several symbols in one request.
func (c *Client) BacktestBatch(ctx context.Context, symbols []string, horizon int) ([]BatchEntry, error) {
	var out struct {
		Results []BatchEntry `json:"results"`
	}
	body := map[string]any{"symbols": symbols, "horizon": horizon}
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtest", body, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// GetBacktest fetches a stored backtest report.
func (c *Client) GetBacktest(ctx context.Context, runID string) (*BacktestReport, error) {
	var r BacktestReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+url.PathEscape(runID), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListBacktests lists stored backtests, newest first. An empty symbol lists
// all symbols; a zero limit uses the server default.
func (c *Client) ListBacktests(ctx context.Context, symbol string, limit int) ([]ReportSummary, error) {
	var out struct {
		Backtests []ReportSummary `json:"backtests"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests"+listQuery(symbol, limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Backtests, nil
}

// ListSignals lists stored predictions, newest first.
func (c *Client) ListSignals(ctx context.Context, symbol string, limit int) ([]Signal, error) {
	var out struct {
		Signals []Signal `json:"signals"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/signals"+listQuery(symbol, limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Signals, nil
}

// Indicators lists the indicators enabled on the server.
func (c *Client) Indicators(ctx context.Context) ([]IndicatorInfo, error) {
	var out struct {
		Indicators []IndicatorInfo `json:"indicators"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/indicators", nil, &out); err != nil {
		return nil, err
	}
	return out.Indicators, nil
}

func listQuery(symbol string, limit int) string {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
