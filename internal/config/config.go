package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"predictor/internal/domain"
	"predictor/internal/indicator"
	"predictor/internal/signal"
)

// DefaultPath is used when PREDICTOR_CONFIG is unset.
const DefaultPath = "config/predictor.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the predictor.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	Server     Server     `yaml:"server"`
	Alpaca     Alpaca     `yaml:"alpaca"`
	Logging    Logging    `yaml:"logging"`
	Fetch      Fetch      `yaml:"fetch"`
	Signal     Signal     `yaml:"signal"`
	Backtest   Backtest   `yaml:"backtest"`
	Indicators Indicators `yaml:"indicators"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Fetch controls OHLCV retrieval and caching.
type Fetch struct {
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	HistoryDays     int           `yaml:"history_days"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	MaxRetries      int           `yaml:"max_retries"`
}

// Signal configures the combiner.
type Signal struct {
	Horizon            int                `yaml:"horizon"`
	AmbiguityThreshold float64            `yaml:"ambiguity_threshold"`
	Enabled            []string           `yaml:"enabled"`
	Weights            map[string]float64 `yaml:"weights"`

	// CategoryTimescale holds multipliers per indicator category; Timescale
	// overrides them for individual indicators.
	CategoryTimescale map[string]signal.Multipliers `yaml:"category_timescale"`
	Timescale         map[string]signal.Multipliers `yaml:"timescale"`
}

// Backtest holds simulation parameters.
type Backtest struct {
	InitialCapital      float64 `yaml:"initial_capital"`
	CostRate            float64 `yaml:"cost_rate"`
	WarmupBuffer        int     `yaml:"warmup_buffer"`
	AnnualizationFactor float64 `yaml:"annualization_factor"`
	Workers             int     `yaml:"workers"`
}

// Indicators holds indicator parameters.
type Indicators struct {
	SMAShort        int     `yaml:"sma_short"`
	SMALong         int     `yaml:"sma_long"`
	EMAShort        int     `yaml:"ema_short"`
	EMALong         int     `yaml:"ema_long"`
	MACDFast        int     `yaml:"macd_fast"`
	MACDSlow        int     `yaml:"macd_slow"`
	MACDSignal      int     `yaml:"macd_signal"`
	ADXPeriod       int     `yaml:"adx_period"`
	RSIPeriod       int     `yaml:"rsi_period"`
	RSIOversold     float64 `yaml:"rsi_oversold"`
	RSIOverbought   float64 `yaml:"rsi_overbought"`
	StochK          int     `yaml:"stoch_k"`
	StochD          int     `yaml:"stoch_d"`
	StochOversold   float64 `yaml:"stoch_oversold"`
	StochOverbought float64 `yaml:"stoch_overbought"`
	BBPeriod        int     `yaml:"bb_period"`
	BBStdDev        float64 `yaml:"bb_std_dev"`
	OBVPeriod       int     `yaml:"obv_period"`
}

// Params converts the section to indicator parameters.
func (in Indicators) Params() indicator.Params {
	return indicator.Params{
		SMAShort:        in.SMAShort,
		SMALong:         in.SMALong,
		EMAShort:        in.EMAShort,
		EMALong:         in.EMALong,
		MACDFast:        in.MACDFast,
		MACDSlow:        in.MACDSlow,
		MACDSignal:      in.MACDSignal,
		ADXPeriod:       in.ADXPeriod,
		RSIPeriod:       in.RSIPeriod,
		RSIOversold:     in.RSIOversold,
		RSIOverbought:   in.RSIOverbought,
		StochK:          in.StochK,
		StochD:          in.StochD,
		StochOversold:   in.StochOversold,
		StochOverbought: in.StochOverbought,
		BBPeriod:        in.BBPeriod,
		BBStdDev:        in.BBStdDev,
		OBVPeriod:       in.OBVPeriod,
	}
}

func (in Indicators) validate() error {
	periods := map[string]int{
		"sma_short": in.SMAShort, "sma_long": in.SMALong,
		"ema_short": in.EMAShort, "ema_long": in.EMALong,
		"macd_fast": in.MACDFast, "macd_slow": in.MACDSlow, "macd_signal": in.MACDSignal,
		"adx_period": in.ADXPeriod, "rsi_period": in.RSIPeriod,
		"stoch_k": in.StochK, "stoch_d": in.StochD,
		"bb_period": in.BBPeriod, "obv_period": in.OBVPeriod,
	}
	for name, v := range periods {
		if v < 1 {
			return fmt.Errorf("indicators.%s must be at least 1, got %d", name, v)
		}
	}
	switch {
	case in.SMAShort >= in.SMALong:
		return fmt.Errorf("indicators.sma_short (%d) must be below sma_long (%d)", in.SMAShort, in.SMALong)
	case in.EMAShort >= in.EMALong:
		return fmt.Errorf("indicators.ema_short (%d) must be below ema_long (%d)", in.EMAShort, in.EMALong)
	case in.MACDFast >= in.MACDSlow:
		return fmt.Errorf("indicators.macd_fast (%d) must be below macd_slow (%d)", in.MACDFast, in.MACDSlow)
	case in.BBStdDev <= 0:
		return fmt.Errorf("indicators.bb_std_dev must be positive, got %v", in.BBStdDev)
	}
	return nil
}

func indicatorsFromParams(p indicator.Params) Indicators {
	return Indicators{
		SMAShort:        p.SMAShort,
		SMALong:         p.SMALong,
		EMAShort:        p.EMAShort,
		EMALong:         p.EMALong,
		MACDFast:        p.MACDFast,
		MACDSlow:        p.MACDSlow,
		MACDSignal:      p.MACDSignal,
		ADXPeriod:       p.ADXPeriod,
		RSIPeriod:       p.RSIPeriod,
		RSIOversold:     p.RSIOversold,
		RSIOverbought:   p.RSIOverbought,
		StochK:          p.StochK,
		StochD:          p.StochD,
		StochOversold:   p.StochOversold,
		StochOverbought: p.StochOverbought,
		BBPeriod:        p.BBPeriod,
		BBStdDev:        p.BBStdDev,
		OBVPeriod:       p.OBVPeriod,
	}
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// DefaultWeights are the base indicator weights.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		indicator.IDSMA:        1.0,
		indicator.IDEMA:        1.0,
		indicator.IDMACD:       1.2,
		indicator.IDADX:        0.8,
		indicator.IDRSI:        1.1,
		indicator.IDStochastic: 1.0,
		indicator.IDBollinger:  0.9,
		indicator.IDVWAP:       0.8,
		indicator.IDOBV:        0.7,
	}
}

// DefaultCategoryTimescale boosts trend indicators on long horizons and
// momentum indicators on short ones.
func DefaultCategoryTimescale() map[string]signal.Multipliers {
	return map[string]signal.Multipliers{
		string(indicator.CategoryTrend):      {Short: 0.7, Medium: 1.0, Long: 1.4},
		string(indicator.CategoryMomentum):   {Short: 1.4, Medium: 1.0, Long: 0.7},
		string(indicator.CategoryVolatility): {Short: 1.2, Medium: 1.0, Long: 0.8},
		string(indicator.CategoryVolume):     {Short: 1.0, Medium: 1.0, Long: 1.0},
	}
}

// Default returns the complete default configuration.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/predictor.db",
		},
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8080,
			GRPCPort:        9090,
			ShutdownTimeout: 10 * time.Second,
		},
		Alpaca: Alpaca{
			DataURL: "https://data.alpaca.markets",
			Feed:    "iex",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Fetch: Fetch{
			CacheTTL:        300 * time.Second,
			HistoryDays:     730,
			RateLimitPerMin: 200,
			MaxRetries:      3,
		},
		Signal: Signal{
			Horizon:            5,
			AmbiguityThreshold: signal.DefaultAmbiguityThreshold,
			Weights:            DefaultWeights(),
			CategoryTimescale:  DefaultCategoryTimescale(),
			Timescale:          map[string]signal.Multipliers{},
		},
		Backtest: Backtest{
			InitialCapital:      10000,
			CostRate:            0.001,
			WarmupBuffer:        0,
			AnnualizationFactor: 252,
			Workers:             4,
		},
		Indicators: indicatorsFromParams(indicator.DefaultParams()),
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config file path from PREDICTOR_CONFIG, or DefaultPath.
func Path() string {
	if v := os.Getenv("PREDICTOR_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over the defaults
// and then applies environment variable overrides. An empty path loads the
// defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if err := mergeTimescale(cfg, data); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional is Load, falling back to defaults plus environment when the
// file does not exist.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Load("")
	}
	return Load(path)
}

// multiplierOverride is a timescale entry as written in YAML. Nil fields
// were omitted.
type multiplierOverride struct {
	Short  *float64 `yaml:"short"`
	Medium *float64 `yaml:"medium"`
	Long   *float64 `yaml:"long"`
}

func (o multiplierOverride) over(base signal.Multipliers) signal.Multipliers {
	if o.Short != nil {
		base.Short = *o.Short
	}
	if o.Medium != nil {
		base.Medium = *o.Medium
	}
	if o.Long != nil {
		base.Long = *o.Long
	}
	return base
}

// mergeTimescale re-applies the timescale entries in data bucket by bucket.
// yaml.v3 decodes each map value into a zero struct, which would zero the
// buckets an entry omits. Omitted category buckets keep their default;
// omitted per-indicator buckets keep the indicator's category multiplier.
func mergeTimescale(cfg *Config, data []byte) error {
	var raw struct {
		Signal struct {
			CategoryTimescale map[string]multiplierOverride `yaml:"category_timescale"`
			Timescale         map[string]multiplierOverride `yaml:"timescale"`
		} `yaml:"signal"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}

	defaults := DefaultCategoryTimescale()
	if cfg.Signal.CategoryTimescale == nil {
		cfg.Signal.CategoryTimescale = make(map[string]signal.Multipliers)
	}
	for cat, o := range raw.Signal.CategoryTimescale {
		base, ok := defaults[cat]
		if !ok {
			base = signal.Neutral
		}
		cfg.Signal.CategoryTimescale[cat] = o.over(base)
	}

	if len(raw.Signal.Timescale) == 0 {
		return nil
	}
	if cfg.Signal.Timescale == nil {
		cfg.Signal.Timescale = make(map[string]signal.Multipliers)
	}
	reg := cfg.Registry()
	for id, o := range raw.Signal.Timescale {
		base := signal.Neutral
		if ind, ok := reg.Get(id); ok {
			if m, ok := cfg.Signal.CategoryTimescale[string(ind.Category())]; ok {
				base = m
			}
		}
		cfg.Signal.Timescale[id] = o.over(base)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PREDICTOR_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("PREDICTOR_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PREDICTOR_HORIZON"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PREDICTOR_HORIZON: %w", err)
		}
		cfg.Signal.Horizon = h
	}

	// Standard Alpaca env vars, as read by the Alpaca SDK.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}

// ---------------------------------------------------------------------------
// Validation and derived tables
// ---------------------------------------------------------------------------

// Validate checks the signal and backtest surface. A missing weight for an
// enabled indicator is reported as an AmbiguousConfigError; a timescale
// multiplier that is not positive wraps domain.ErrInvalidTimescale.
func (c *Config) Validate() error {
	if err := domain.ValidateHorizon(c.Signal.Horizon); err != nil {
		return err
	}
	if t := c.Signal.AmbiguityThreshold; t < 0 || t >= 1 {
		return fmt.Errorf("signal.ambiguity_threshold must be in [0, 1), got %v", t)
	}
	if c.Backtest.CostRate < 0 {
		return fmt.Errorf("backtest.cost_rate must be non-negative, got %v", c.Backtest.CostRate)
	}
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be positive, got %v", c.Backtest.InitialCapital)
	}
	if c.Backtest.WarmupBuffer < 0 {
		return fmt.Errorf("backtest.warmup_buffer must be non-negative, got %d", c.Backtest.WarmupBuffer)
	}

	if err := c.Indicators.validate(); err != nil {
		return err
	}
	if err := checkMultipliers("signal.category_timescale", c.Signal.CategoryTimescale); err != nil {
		return err
	}
	if err := checkMultipliers("signal.timescale", c.Signal.Timescale); err != nil {
		return err
	}

	reg := c.Registry()
	inds, err := reg.Select(c.Signal.Enabled)
	if err != nil {
		return err
	}
	ids := make([]string, len(inds))
	for i, ind := range inds {
		ids[i] = ind.ID()
	}
	return signal.CheckWeights(c.Signal.Weights, ids)
}

func checkMultipliers(section string, table map[string]signal.Multipliers) error {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := table[k].Check(section + "." + k); err != nil {
			return err
		}
	}
	return nil
}

// Registry builds the indicator registry from the configured parameters.
func (c *Config) Registry() *indicator.Registry {
	return indicator.NewDefaultRegistry(c.Indicators.Params())
}

// WeightTable returns the configured base weights.
func (c *Config) WeightTable() signal.WeightTable {
	w := make(signal.WeightTable, len(c.Signal.Weights))
	for id, v := range c.Signal.Weights {
		w[id] = v
	}
	return w
}

// TimescaleTable expands the category multipliers to every indicator in reg,
// then applies per-indicator overrides.
func (c *Config) TimescaleTable(reg *indicator.Registry) signal.TimescaleTable {
	tbl := make(signal.TimescaleTable)
	for _, id := range reg.List() {
		ind, _ := reg.Get(id)
		if m, ok := c.Signal.CategoryTimescale[string(ind.Category())]; ok {
			tbl[id] = m
		}
	}
	for id, m := range c.Signal.Timescale {
		tbl[id] = m
	}
	return tbl
}
