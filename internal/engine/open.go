package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"predictor/internal/config"
	"predictor/internal/domain"
	"predictor/internal/feed"
	"predictor/internal/store"
)

// Runtime is an Engine wired to the production collaborators: Alpaca bars
// behind a parquet cache, and a SQLite history database.
type Runtime struct {
	Engine *Engine
	Cache  *feed.CachedSource
	Bars   *store.ParquetStore
	DB     *store.SQLiteStore
}

// Open builds a Runtime from cfg. Close releases the database.
func Open(cfg *config.Config, log *slog.Logger) (*Runtime, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite store: %w", err)
	}

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	alpaca := feed.NewAlpacaSource(feed.AlpacaOptions{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		RateLimitPerMin: cfg.Fetch.RateLimitPerMin,
		MaxRetries:      cfg.Fetch.MaxRetries,
		RetryDelay:      time.Second,
	}, log)
	cache := feed.NewCachedSource(alpaca, bars, string(domain.MarketUS), cfg.Fetch.CacheTTL, log)

	e, err := NewEngine(cfg, Deps{Source: cache, Reports: db, Signals: db, Logger: log})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Runtime{Engine: e, Cache: cache, Bars: bars, DB: db}, nil
}

// Close closes the SQLite database.
func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// ErrNoCredentials is returned by RequireCredentials when no Alpaca key pair
// is configured.
var ErrNoCredentials = errors.New("alpaca credentials not configured (set APCA_API_KEY_ID and APCA_API_SECRET_KEY)")

// RequireCredentials reports whether cfg can reach the Alpaca API.
func RequireCredentials(cfg *config.Config) error {
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		return ErrNoCredentials
	}
	return nil
}
