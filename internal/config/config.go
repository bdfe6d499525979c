// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Risk       RiskConfig       `toml:"risk"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Alloc      AllocConfig      `toml:"alloc"`
	Scorer     ScorerConfig     `toml:"scorer"`
	Matcher    MatcherConfig    `toml:"matcher"`
	RateLimit  RateLimitConfig  `toml:"ratelimit"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Feed       FeedConfig       `toml:"feed"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// EngineConfig holds detection and execution parameters.
type EngineConfig struct {
	MinProfitMargin        float64  `toml:"min_profit_margin"`
	MinProfitDollars       float64  `toml:"min_profit_dollars"`
	TradingFeePercent      float64  `toml:"trading_fee_percent"`
	MaxSlippage            float64  `toml:"max_slippage"`
	Tick                   duration `toml:"tick"`
	OrderTimeout           duration `toml:"order_timeout"`
	MaxBookAge             duration `toml:"max_book_age"`
	StaleBookAge           duration `toml:"stale_book_age"`
	CooldownWindow         duration `toml:"cooldown_window"`
	MaxConcurrentPositions int      `toml:"max_concurrent_positions"`
	Workers                int      `toml:"workers"`
	FallbackBalance        float64  `toml:"fallback_balance"`
}

// RiskConfig holds stop-loss, take-profit, and daily halt thresholds.
type RiskConfig struct {
	StopLoss     float64 `toml:"stop_loss"`
	TakeProfit   float64 `toml:"take_profit"`
	MaxDailyLoss float64 `toml:"max_daily_loss"`
	// Timezone fixes the midnight used for the daily P&L rollover,
	// e.g. "America/New_York". Empty uses the host's local zone.
	Timezone string `toml:"timezone"`
}

// MonitorConfig holds position polling and exit parameters.
type MonitorConfig struct {
	PollInterval      duration `toml:"poll_interval"`
	ExitTimeout       duration `toml:"exit_timeout"`
	ExitRetryInterval duration `toml:"exit_retry_interval"`
	ExitStepTicks     int64    `toml:"exit_step_ticks"`
}

// AllocConfig holds capital allocation parameters.
type AllocConfig struct {
	BaseStake     float64 `toml:"base_stake"`
	TargetROI     float64 `toml:"target_roi"`
	BaselineScore float64 `toml:"baseline_score"`
	MaxDailyLoss  float64 `toml:"max_daily_loss"`
}

// ScorerConfig holds market quality scoring parameters.
type ScorerConfig struct {
	RefVolume    float64 `toml:"ref_volume"`
	RefLiquidity float64 `toml:"ref_liquidity"`
	MinScore     float64 `toml:"min_score"`
}

// MatcherConfig holds cross-venue pairing parameters.
type MatcherConfig struct {
	Threshold   float64  `toml:"threshold"`
	CloseWindow duration `toml:"close_window"`
}

// RateLimitConfig holds per-class request quotas.
type RateLimitConfig struct {
	CriticalRequests   int      `toml:"critical_requests"`
	CriticalWindow     duration `toml:"critical_window"`
	NormalRequests     int      `toml:"normal_requests"`
	NormalWindow       duration `toml:"normal_window"`
	BackgroundRequests int      `toml:"background_requests"`
	BackgroundWindow   duration `toml:"background_window"`
	BackoffBase        duration `toml:"backoff_base"`
	BackoffMax         duration `toml:"backoff_max"`
	MaxRetries         int      `toml:"max_retries"`
}

// DiscoveryConfig holds the market discovery loop parameters.
type DiscoveryConfig struct {
	// Interval between market list refreshes.
	Interval duration `toml:"interval"`
	// MarketLimit caps how many markets are fetched per venue.
	MarketLimit int `toml:"market_limit"`
	// TopMarkets caps how many scored markets per venue become candidates.
	TopMarkets int `toml:"top_markets"`
	// MinMarketVolume is a hard floor on lifetime market volume, dollars.
	// Markets below it never enter the candidate set regardless of score.
	MinMarketVolume float64 `toml:"min_market_volume"`
	// CrossPlatform enables pairing markets across venues. When false only
	// single-venue candidates are produced.
	CrossPlatform bool `toml:"cross_platform_arbitrage"`
}

// FeedConfig holds book feed parameters.
type FeedConfig struct {
	// QuoteInterval throttles price-cache mirror writes per token.
	QuoteInterval duration `toml:"quote_interval"`
}

// PolymarketConfig holds Polymarket endpoints and wallet credentials.
type PolymarketConfig struct {
	Enabled          bool   `toml:"enabled"`
	GammaURL         string `toml:"gamma_url"`
	ClobURL          string `toml:"clob_url"`
	WSURL            string `toml:"ws_url"`
	ChainID          int64  `toml:"chain_id"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// KalshiConfig holds Kalshi endpoints and API credentials.
type KalshiConfig struct {
	Enabled           bool   `toml:"enabled"`
	BaseURL           string `toml:"base_url"`
	WSURL             string `toml:"ws_url"`
	APIKeyID          string `toml:"api_key_id"`
	RSAPrivateKeyPath string `toml:"rsa_private_key_path"`
}

// PostgresConfig holds PostgreSQL connection parameters. Persistence is
// optional; when disabled the bot trades without trade or position history.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the price cache and the
// event bridge. Optional.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for the trade archiver. Optional.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Retention      duration `toml:"retention"`
	SweepInterval  duration `toml:"sweep_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// Events filters which event kinds are forwarded. Empty forwards all.
	Events []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MinProfitMargin:        0.02,
			MinProfitDollars:       1.0,
			TradingFeePercent:      0.01,
			MaxSlippage:            0.005,
			Tick:                   duration{250 * time.Millisecond},
			OrderTimeout:           duration{3 * time.Second},
			MaxBookAge:             duration{2 * time.Second},
			StaleBookAge:           duration{10 * time.Second},
			CooldownWindow:         duration{30 * time.Second},
			MaxConcurrentPositions: 10,
			FallbackBalance:        1000,
		},
		Risk: RiskConfig{
			StopLoss:     0.05,
			TakeProfit:   0.10,
			MaxDailyLoss: 50,
		},
		Monitor: MonitorConfig{
			PollInterval:      duration{time.Second},
			ExitTimeout:       duration{30 * time.Second},
			ExitRetryInterval: duration{3 * time.Second},
			ExitStepTicks:     10_000,
		},
		Alloc: AllocConfig{
			BaseStake:     10,
			TargetROI:     0.02,
			BaselineScore: 50,
			MaxDailyLoss:  50,
		},
		Scorer: ScorerConfig{
			RefVolume:    1_000_000,
			RefLiquidity: 10_000,
			MinScore:     50,
		},
		Matcher: MatcherConfig{
			Threshold:   0.80,
			CloseWindow: duration{24 * time.Hour},
		},
		RateLimit: RateLimitConfig{
			CriticalRequests:   30,
			CriticalWindow:     duration{10 * time.Second},
			NormalRequests:     60,
			NormalWindow:       duration{time.Minute},
			BackgroundRequests: 30,
			BackgroundWindow:   duration{time.Minute},
			BackoffBase:        duration{5 * time.Second},
			BackoffMax:         duration{60 * time.Second},
			MaxRetries:         5,
		},
		Discovery: DiscoveryConfig{
			Interval:        duration{5 * time.Minute},
			MarketLimit:     200,
			TopMarkets:      50,
			MinMarketVolume: 5000,
			CrossPlatform:   true,
		},
		Feed: FeedConfig{
			QuoteInterval: duration{time.Second},
		},
		Polymarket: PolymarketConfig{
			Enabled:  true,
			GammaURL: "https://gamma-api.polymarket.com",
			ClobURL:  "https://clob.polymarket.com",
			WSURL:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:  137,
		},
		Kalshi: KalshiConfig{
			Enabled: true,
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
			WSURL:   "wss://api.elections.kalshi.com/trade-api/ws/v2",
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "arbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbot-data",
			ForcePathStyle: true,
			Retention:      duration{30 * 24 * time.Hour},
			SweepInterval:  duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "partial_fill_unwound", "risk_halted", "position_closed", "exit_incomplete"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":  true,
	"detect": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, detect)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if !c.Polymarket.Enabled && !c.Kalshi.Enabled {
		errs = append(errs, "at least one venue must be enabled")
	}

	trading := strings.ToLower(c.Mode) == "trade"

	if c.Polymarket.Enabled {
		if c.Polymarket.GammaURL == "" {
			errs = append(errs, "polymarket: gamma_url must not be empty")
		}
		if c.Polymarket.ClobURL == "" {
			errs = append(errs, "polymarket: clob_url must not be empty")
		}
		if c.Polymarket.ChainID <= 0 {
			errs = append(errs, "polymarket: chain_id must be positive")
		}
		if trading {
			if c.Polymarket.PrivateKey == "" && c.Polymarket.EncryptedKeyPath == "" {
				errs = append(errs, "polymarket: either private_key or encrypted_key_path must be set for mode trade")
			}
			if c.Polymarket.EncryptedKeyPath != "" && c.Polymarket.KeyPassword == "" {
				errs = append(errs, "polymarket: key_password is required when encrypted_key_path is set")
			}
		}
	}

	if c.Kalshi.Enabled {
		if c.Kalshi.BaseURL == "" {
			errs = append(errs, "kalshi: base_url must not be empty")
		}
		if trading {
			if c.Kalshi.APIKeyID == "" {
				errs = append(errs, "kalshi: api_key_id is required for mode trade")
			}
			if c.Kalshi.RSAPrivateKeyPath == "" {
				errs = append(errs, "kalshi: rsa_private_key_path is required for mode trade")
			}
		}
	}

	if c.Engine.MinProfitMargin <= 0 || c.Engine.MinProfitMargin >= 1 {
		errs = append(errs, "engine: min_profit_margin must be in (0, 1)")
	}
	if c.Engine.TradingFeePercent < 0 {
		errs = append(errs, "engine: trading_fee_percent must be >= 0")
	}
	if c.Engine.MaxConcurrentPositions < 1 {
		errs = append(errs, "engine: max_concurrent_positions must be >= 1")
	}

	if c.Risk.StopLoss <= 0 || c.Risk.StopLoss >= 1 {
		errs = append(errs, "risk: stop_loss must be in (0, 1)")
	}
	if c.Risk.TakeProfit <= 0 {
		errs = append(errs, "risk: take_profit must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0")
	}
	if c.Risk.Timezone != "" {
		if _, err := time.LoadLocation(c.Risk.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("risk: unknown timezone %q", c.Risk.Timezone))
		}
	}

	if c.Alloc.BaseStake <= 0 {
		errs = append(errs, "alloc: base_stake must be > 0")
	}

	if c.Matcher.Threshold <= 0 || c.Matcher.Threshold > 1 {
		errs = append(errs, "matcher: threshold must be in (0, 1]")
	}

	if c.Discovery.MarketLimit < 1 {
		errs = append(errs, "discovery: market_limit must be >= 1")
	}
	if c.Discovery.TopMarkets < 1 {
		errs = append(errs, "discovery: top_markets must be >= 1")
	}
	if c.Discovery.MinMarketVolume < 0 {
		errs = append(errs, "discovery: min_market_volume must be >= 0")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: trade archiving requires postgres to be enabled")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	tg := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tg != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
