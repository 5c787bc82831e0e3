package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration is returned when required settings are missing or invalid.
// The engine must not start when it is returned.
var ErrConfiguration = errors.New("configuration error")

const (
	SizingATR         = "atr"
	SizingBuyingPower = "buying_power"

	StrategyMultiFactor = "multifactor"
	StrategyMACross     = "ma_cross"

	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config holds all configuration for the application.
type Config struct {
	Alpaca       Alpaca                  `mapstructure:"alpaca"`
	Trading      Trading                 `mapstructure:"trading"`
	Indicators   Indicators              `mapstructure:"indicators"`
	Risk         Risk                    `mapstructure:"risk"`
	Limits       Limits                  `mapstructure:"limits"`
	Logger       Logger                  `mapstructure:"logger"`
	Server       Server                  `mapstructure:"server"`
	Database     Database                `mapstructure:"database"`
	Telegram     Telegram                `mapstructure:"telegram"`
	Fundamentals map[string]Fundamentals `mapstructure:"fundamentals"`
}

// Alpaca holds the configuration for the brokerage and market data API.
type Alpaca struct {
	ApiKeyID       string  `mapstructure:"api_key_id"`
	SecretKey      string  `mapstructure:"secret_key"`
	Paper          bool    `mapstructure:"paper"`
	TradingURL     string  `mapstructure:"trading_url"`
	DataURL        string  `mapstructure:"data_url"`
	Feed           string  `mapstructure:"feed"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Server holds the configuration for the HTTP servers.
type Server struct {
	Port    int `mapstructure:"port"`
	ApiPort int `mapstructure:"api_port"`
}

// Database holds the configuration for the trade ledger store.
type Database struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

// Trading holds the configuration for the polling loop and decision gating.
type Trading struct {
	Symbols       []string `mapstructure:"symbols"`
	Benchmark     string   `mapstructure:"benchmark"`
	Timeframe     string   `mapstructure:"timeframe"`
	BarLimit      int      `mapstructure:"bar_limit"`
	TickInterval  int      `mapstructure:"tick_interval"`
	DryRun        bool     `mapstructure:"dry_run"`
	Strategy      string   `mapstructure:"strategy"`
	MinConfidence int      `mapstructure:"min_confidence_to_trade"`
	AllowShorts   bool     `mapstructure:"allow_shorts"`
	Timezone      string   `mapstructure:"timezone"`
	PaperCash     float64  `mapstructure:"paper_cash"`
	MaxATRPct     float64  `mapstructure:"max_atr_pct"`
}

// Indicators holds the window sizes used by the indicator library.
type Indicators struct {
	MAShort      int `mapstructure:"ma_short"`
	MALong       int `mapstructure:"ma_long"`
	RSIPeriod    int `mapstructure:"rsi_period"`
	ATRPeriod    int `mapstructure:"atr_period"`
	VolumeWindow int `mapstructure:"volume_window"`
}

// Risk holds the position sizing and bracket configuration.
type Risk struct {
	Sizing          string  `mapstructure:"sizing"`
	RiskPct         float64 `mapstructure:"risk_pct"`
	StopMultiplier  float64 `mapstructure:"stop_multiplier"`
	MaxPositionPct  float64 `mapstructure:"max_position_pct"`
	ScaleWithSignal bool    `mapstructure:"scale_with_signal"`
	StopLossPct     float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct   float64 `mapstructure:"take_profit_pct"`
}

// Limits holds the daily activity caps. A cap of zero or less disables it.
type Limits struct {
	MaxDailyTrades int `mapstructure:"max_daily_trades"`
	MaxDailyBuys   int `mapstructure:"max_daily_buys"`
	MaxDailySells  int `mapstructure:"max_daily_sells"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// Telegram holds the notifier credentials. Notifications are off when either is empty.
type Telegram struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Fundamentals are statically configured company figures for one symbol.
// NetIncome is ordered most recent year first.
type Fundamentals struct {
	TrailingEPS *float64  `mapstructure:"trailing_eps"`
	ForwardEPS  *float64  `mapstructure:"forward_eps"`
	NetIncome   []float64 `mapstructure:"net_income"`
	Sector      string    `mapstructure:"sector"`
	PERatio     *float64  `mapstructure:"pe_ratio"`
	PEGRatio    *float64  `mapstructure:"peg_ratio"`
}

// LoadConfig reads configuration from file or environment variables.
// An optional .env file in the working directory is loaded first.
func LoadConfig(path string) (config Config, err error) {
	if err = godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	normalize(&config)
	return config, nil
}

func setDefaults(v *viper.Viper) {
	// credentials have empty defaults so that ALPACA_API_KEY_ID etc. are picked up by AutomaticEnv
	v.SetDefault("alpaca.api_key_id", "")
	v.SetDefault("alpaca.secret_key", "")
	v.SetDefault("alpaca.paper", true)
	v.SetDefault("alpaca.trading_url", "https://paper-api.alpaca.markets")
	v.SetDefault("alpaca.data_url", "https://data.alpaca.markets")
	v.SetDefault("alpaca.feed", "iex")
	v.SetDefault("alpaca.rate_limit", 3) // requests per second
	v.SetDefault("alpaca.rate_limit_burst", 5)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "trading.db")
	v.SetDefault("database.mongo_uri", "")
	v.SetDefault("database.mongo_database", "stock-signal-bot")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_port", 8081)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")

	v.SetDefault("trading.benchmark", "SPY")
	v.SetDefault("trading.timeframe", "1Day")
	v.SetDefault("trading.bar_limit", 300)
	v.SetDefault("trading.tick_interval", 900) // seconds
	v.SetDefault("trading.dry_run", true)
	v.SetDefault("trading.strategy", StrategyMultiFactor)
	v.SetDefault("trading.min_confidence_to_trade", 70)
	v.SetDefault("trading.allow_shorts", false)
	v.SetDefault("trading.timezone", "America/New_York")
	v.SetDefault("trading.paper_cash", 100000)
	v.SetDefault("trading.max_atr_pct", 0)

	v.SetDefault("indicators.ma_short", 10)
	v.SetDefault("indicators.ma_long", 20)
	v.SetDefault("indicators.rsi_period", 14)
	v.SetDefault("indicators.atr_period", 14)
	v.SetDefault("indicators.volume_window", 50)

	v.SetDefault("risk.sizing", SizingATR)
	v.SetDefault("risk.risk_pct", 0.01)
	v.SetDefault("risk.stop_multiplier", 2)
	v.SetDefault("risk.max_position_pct", 0.10)
	v.SetDefault("risk.scale_with_signal", false)
	v.SetDefault("risk.stop_loss_pct", 0.02)
	v.SetDefault("risk.take_profit_pct", 0.04)

	v.SetDefault("limits.max_daily_trades", 10)
	v.SetDefault("limits.max_daily_buys", 5)
	v.SetDefault("limits.max_daily_sells", 5)
}

func normalize(cfg *Config) {
	for i, s := range cfg.Trading.Symbols {
		cfg.Trading.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	cfg.Trading.Benchmark = strings.ToUpper(strings.TrimSpace(cfg.Trading.Benchmark))

	// viper lowercases map keys; symbols are upper case everywhere else
	if len(cfg.Fundamentals) > 0 {
		upper := make(map[string]Fundamentals, len(cfg.Fundamentals))
		for sym, f := range cfg.Fundamentals {
			upper[strings.ToUpper(sym)] = f
		}
		cfg.Fundamentals = upper
	}
}

// Validate checks the settings the engine cannot run without.
func (c *Config) Validate() error {
	var problems []string

	if c.Alpaca.ApiKeyID == "" || c.Alpaca.SecretKey == "" {
		problems = append(problems, "alpaca.api_key_id and alpaca.secret_key are required")
	}
	if len(c.Trading.Symbols) == 0 {
		problems = append(problems, "trading.symbols must list at least one symbol")
	}
	if c.Trading.Benchmark == "" {
		problems = append(problems, "trading.benchmark is required")
	}
	if c.Trading.TickInterval <= 0 {
		problems = append(problems, "trading.tick_interval must be positive")
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("trading.timezone %q is not a valid location", c.Trading.Timezone))
	}
	switch c.Trading.Strategy {
	case StrategyMultiFactor, StrategyMACross:
	default:
		problems = append(problems, fmt.Sprintf("unknown trading.strategy %q", c.Trading.Strategy))
	}
	switch c.Risk.Sizing {
	case SizingATR, SizingBuyingPower:
	default:
		problems = append(problems, fmt.Sprintf("unknown risk.sizing %q", c.Risk.Sizing))
	}
	if c.Risk.RiskPct <= 0 || c.Risk.RiskPct > 1 {
		problems = append(problems, "risk.risk_pct must be in (0, 1]")
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		problems = append(problems, "risk.max_position_pct must be in (0, 1]")
	}
	if c.Risk.StopMultiplier <= 0 {
		problems = append(problems, "risk.stop_multiplier must be positive")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 || c.Risk.TakeProfitPct <= 0 {
		problems = append(problems, "risk.stop_loss_pct must be in (0, 1) and risk.take_profit_pct positive")
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.DSN == "" {
			problems = append(problems, "database.dsn is required for sqlite")
		}
	case DriverMongo:
		if c.Database.MongoURI == "" {
			problems = append(problems, "database.mongo_uri is required for mongo")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown database.driver %q", c.Database.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the time zone used to bucket trades into calendar days.
func (t Trading) Location() *time.Location {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Interval returns the sleep between two polling cycles.
func (t Trading) Interval() time.Duration {
	return time.Duration(t.TickInterval) * time.Second
}
