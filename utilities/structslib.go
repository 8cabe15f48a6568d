package utilities

import (
	"log"
	"time"

	"golang.org/x/time/rate"
)

// Colors.
const (
	ColorCyan   = "\033[96m" // For Buy signals
	ColorRed    = "\033[91m" // For Sell signals
	ColorReset  = "\033[0m"
	ColorWhite  = "\033[97m" // For Hold signals
	ColorYellow = "\033[93m" // For tickers
)

// Logging Level
const (
	Debug LogLevel = iota
	Info
	Warn
	Error
	Fatal
)

// --- Types (Alphabetized) ---

// AppConfig is the root configuration structure, holding all other config sections.
type AppConfig struct {
	AppName     string            `mapstructure:"app_name"`
	Coingecko   *CoingeckoConfig  `mapstructure:"coingecko"`
	DB          DatabaseConfig    `mapstructure:"database"`
	Discord     DiscordConfig     `mapstructure:"discord"`
	Environment string            `mapstructure:"environment"`
	FearGreed   *FearGreedConfig  `mapstructure:"fear_greed"`
	Indicators  IndicatorsConfig  `mapstructure:"indicators"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Orders      OrdersConfig      `mapstructure:"orders"`
	Pyramiding  PyramidingConfig  `mapstructure:"pyramiding"`
	Sizing      SizingConfig      `mapstructure:"sizing"`
	Stops       StopConfig        `mapstructure:"stops"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Trading     TradingConfig     `mapstructure:"trading"`
	Upbit       UpbitConfig       `mapstructure:"upbit"`
	Version     string            `mapstructure:"version"`
	Web         WebConfig         `mapstructure:"web"`
}

// CoingeckoConfig holds settings for the CoinGecko data provider, used as the
// secondary candle source when the exchange cannot serve history.
type CoingeckoConfig struct {
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url"`
	MaxRetries        int    `mapstructure:"max_retries"`
	QuoteCurrency     string `mapstructure:"quote_currency"`
	RateLimitBurst    int    `mapstructure:"rate_limit_burst"`
	RateLimitPerSec   int    `mapstructure:"rate_limit_per_sec"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_sec"`
	RetryDelaySec     int    `mapstructure:"retry_delay_sec"`
}

// DatabaseConfig holds settings for the SQLite ledger.
type DatabaseConfig struct {
	DBPath string `mapstructure:"database_path"`
}

// DiscordConfig holds settings for sending notifications via Discord.
type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// FearGreedConfig holds settings for the Fear & Greed Index data source.
type FearGreedConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	RefreshIntervalHours int    `mapstructure:"refresh_interval_hours"`
}

// IndicatorsConfig holds parameters for the technical indicators consulted
// by the sell decision chain.
type IndicatorsConfig struct {
	ATRPeriod            int     `mapstructure:"atr_period"`
	MACDFastPeriod       int     `mapstructure:"macd_fast_period"`
	MACDSignalPeriod     int     `mapstructure:"macd_signal_period"`
	MACDSlowPeriod       int     `mapstructure:"macd_slow_period"`
	SupertrendMultiplier float64 `mapstructure:"supertrend_multiplier"`
	SupertrendPeriod     int     `mapstructure:"supertrend_period"`
	VolumeLookbackPeriod int     `mapstructure:"volume_lookback_period"`
}

// Logger provides a structured logger with different levels.
type Logger struct {
	Level  LogLevel
	Logger *log.Logger
}

// LoggingConfig holds settings related to logging.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	LogFilePath string `mapstructure:"log_file_path"`
	LogToFile   bool   `mapstructure:"log_to_file"`
}

// LogLevel defines the severity of a log message.
type LogLevel int

// OHLCVBar represents a single Open, High, Low, Close, Volume data point.
type OHLCVBar struct {
	Close     float64 `json:"close"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Open      float64 `json:"open"`
	Timestamp int64   `json:"timestamp"`
	Volume    float64 `json:"volume"`
}

// OrdersConfig holds settings for order placement and verification.
type OrdersConfig struct {
	FillThreshold        float64 `mapstructure:"fill_threshold"`
	MaxRetries           int     `mapstructure:"max_retries"`
	RetryBackoffFactor   float64 `mapstructure:"retry_backoff_factor"`
	RetryInitialDelaySec int     `mapstructure:"retry_initial_delay_sec"`
	SettleDelaySec       int     `mapstructure:"settle_delay_sec"`
}

// Position holds the live view of an open holding, assembled from exchange
// balances and the trade ledger.
type Position struct {
	AvgBuyPrice          float64   `json:"avg_buy_price"`
	BuyCount             int       `json:"buy_count"`
	CurrentPrice         float64   `json:"current_price"`
	EntryTimestamp       time.Time `json:"entry_timestamp"`
	HoldDays             int       `json:"hold_days"`
	LastBreakoutPrice    float64   `json:"last_breakout_price"`
	MarketValue          float64   `json:"market_value"`
	PyramidLevel         int       `json:"pyramid_level"`
	Quantity             float64   `json:"quantity"`
	Ticker               string    `json:"ticker"`
	UnrealizedPnL        float64   `json:"-"`
	UnrealizedPnLPercent float64   `json:"-"`
}

// PyramidingConfig holds parameters for scaling into winners.
type PyramidingConfig struct {
	BasePositionPercent float64 `mapstructure:"base_position_percent"`
	BreakoutStep        float64 `mapstructure:"breakout_step"`
	Enabled             bool    `mapstructure:"enabled"`
	MaxLevels           int     `mapstructure:"max_levels"`
	SizeMultiplier      float64 `mapstructure:"size_multiplier"`
	VolumeSurgeMin      float64 `mapstructure:"volume_surge_min"`
}

// SizingConfig holds parameters for Kelly-based position sizing.
type SizingConfig struct {
	MaxPositionPercent        float64 `mapstructure:"max_position_percent"`
	MaxTotalAllocationPercent float64 `mapstructure:"max_total_allocation_percent"`
	MinPositionPercent        float64 `mapstructure:"min_position_percent"`
	RiskLevel                 string  `mapstructure:"risk_level"`
}

// StopConfig holds parameters for the ATR trailing stop.
type StopConfig struct {
	ATRMultiplier          float64 `mapstructure:"atr_multiplier"`
	ATRPeriod              int     `mapstructure:"atr_period"`
	DefaultATRPercent      float64 `mapstructure:"default_atr_percent"`
	MaxStopDistancePercent float64 `mapstructure:"max_stop_distance_percent"`
	MinStopDistancePercent float64 `mapstructure:"min_stop_distance_percent"`
}

// SyncConfig governs ledger backfill for balances bought outside the bot.
type SyncConfig struct {
	BackfillHour       int     `mapstructure:"backfill_hour"`
	ConservativeCapKRW float64 `mapstructure:"conservative_cap_krw"`
	DedupeWindowHours  int     `mapstructure:"dedupe_window_hours"`
	EstimatedFeeRate   float64 `mapstructure:"estimated_fee_rate"`
	ModerateCapKRW     float64 `mapstructure:"moderate_cap_krw"`
	Policy             string  `mapstructure:"policy"`
}

// TradingConfig holds general trading parameters.
type TradingConfig struct {
	BlacklistPath            string  `mapstructure:"blacklist_path"`
	DryRun                   bool    `mapstructure:"dry_run"`
	DustThresholdKRW         float64 `mapstructure:"dust_threshold_krw"`
	LongHoldDays             int     `mapstructure:"long_hold_days"`
	LongHoldMinProfitPercent float64 `mapstructure:"long_hold_min_profit_percent"`
	LoopIntervalSec          int     `mapstructure:"loop_interval_sec"`
	MakerFeeRate             float64 `mapstructure:"maker_fee_rate"`
	MaxConsecutiveFailures   int     `mapstructure:"max_consecutive_failures"`
	MaxPositions             int     `mapstructure:"max_positions"`
	MinOrderKRW              float64 `mapstructure:"min_order_krw"`
	MinSellNotionalKRW       float64 `mapstructure:"min_sell_notional_krw"`
	OrderSpacingSec          int     `mapstructure:"order_spacing_sec"`
	QuoteCurrency            string  `mapstructure:"quote_currency"`
	StopLossPercent          float64 `mapstructure:"stop_loss_percent"`
	TakeProfitPercent        float64 `mapstructure:"take_profit_percent"`
	TakerFeeRate             float64 `mapstructure:"taker_fee_rate"`
}

// UpbitConfig holds all settings for the Upbit exchange integration.
type UpbitConfig struct {
	AccessKey         string     `mapstructure:"access_key"`
	BaseURL           string     `mapstructure:"base_url"`
	MaxRetries        int        `mapstructure:"max_retries"`
	QuoteCurrency     string     `mapstructure:"quote_currency"`
	RateLimitBurst    int        `mapstructure:"rate_limit_burst"`
	RateLimitPerSec   rate.Limit `mapstructure:"rate_limit_per_sec"`
	RequestTimeoutSec int        `mapstructure:"request_timeout_sec"`
	RetryDelaySec     int        `mapstructure:"retry_delay_sec"`
	SecretKey         string     `mapstructure:"secret_key"`
}

// WebConfig holds settings for the status/metrics HTTP server.
type WebConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}
