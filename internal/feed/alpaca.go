package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"predictor/internal/domain"
	"predictor/internal/util"
)

// Compile-time interface check.
var _ Source = (*AlpacaSource)(nil)

// barsClient is the subset of *marketdata.Client used by AlpacaSource.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaOptions configures an AlpacaSource.
type AlpacaOptions struct {
	APIKey          string
	APISecret       string
	DataURL         string
	Feed            string // "iex" or "sip"
	RateLimitPerMin int
	MaxRetries      int
	RetryDelay      time.Duration
}

// AlpacaSource fetches daily bars from the Alpaca market-data API. Requests
// are paced by a rate limiter and retried with exponential backoff.
type AlpacaSource struct {
	client     barsClient
	feed       string
	limiter    *util.RateLimiter
	maxRetries int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource with the given credentials.
func NewAlpacaSource(opts AlpacaOptions, log *slog.Logger) *AlpacaSource {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	return newAlpacaSource(marketdata.NewClient(clientOpts), opts, log)
}

func newAlpacaSource(client barsClient, opts AlpacaOptions, log *slog.Logger) *AlpacaSource {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &AlpacaSource{
		client:     client,
		feed:       opts.Feed,
		limiter:    util.NewRateLimiter(opts.RateLimitPerMin),
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		log:        log.With("component", "feed", "source", "alpaca"),
	}
}

// Bars fetches daily bars for symbol within [start, end].
func (a *AlpacaSource) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)
	req := marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
	}
	if a.feed != "" {
		req.Feed = marketdata.Feed(a.feed)
	}

	var raw []marketdata.Bar
	attempt := 0
	err := util.Retry(ctx, a.maxRetries, a.retryDelay, func() error {
		attempt++
		if err := a.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		bars, err := a.client.GetBars(symbol, req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return util.Permanent(err)
			}
			a.log.Warn("GetBars failed", "symbol", symbol, "attempt", attempt, "error", err)
			return err
		}
		raw = bars
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s bars: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	a.log.Debug("fetched bars", "symbol", symbol, "count", len(bars))
	return bars, nil
}
