package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment overrides only. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setFloat64(&cfg.Engine.MinProfitMargin, "ARBOT_ENGINE_MIN_PROFIT_MARGIN")
	setFloat64(&cfg.Engine.MinProfitDollars, "ARBOT_ENGINE_MIN_PROFIT_DOLLARS")
	setFloat64(&cfg.Engine.TradingFeePercent, "ARBOT_ENGINE_TRADING_FEE_PERCENT")
	setFloat64(&cfg.Engine.MaxSlippage, "ARBOT_ENGINE_MAX_SLIPPAGE")
	setDuration(&cfg.Engine.Tick, "ARBOT_ENGINE_TICK")
	setDuration(&cfg.Engine.OrderTimeout, "ARBOT_ENGINE_ORDER_TIMEOUT")
	setDuration(&cfg.Engine.MaxBookAge, "ARBOT_ENGINE_MAX_BOOK_AGE")
	setDuration(&cfg.Engine.CooldownWindow, "ARBOT_ENGINE_COOLDOWN_WINDOW")
	setInt(&cfg.Engine.MaxConcurrentPositions, "ARBOT_ENGINE_MAX_CONCURRENT_POSITIONS")
	setInt(&cfg.Engine.Workers, "ARBOT_ENGINE_WORKERS")
	setFloat64(&cfg.Engine.FallbackBalance, "ARBOT_ENGINE_FALLBACK_BALANCE")

	// ── Risk ──
	setFloat64(&cfg.Risk.StopLoss, "ARBOT_RISK_STOP_LOSS")
	setFloat64(&cfg.Risk.TakeProfit, "ARBOT_RISK_TAKE_PROFIT")
	setFloat64(&cfg.Risk.MaxDailyLoss, "ARBOT_RISK_MAX_DAILY_LOSS")
	setStr(&cfg.Risk.Timezone, "ARBOT_RISK_TIMEZONE")

	// ── Alloc ──
	setFloat64(&cfg.Alloc.BaseStake, "ARBOT_ALLOC_BASE_STAKE")
	setFloat64(&cfg.Alloc.MaxDailyLoss, "ARBOT_ALLOC_MAX_DAILY_LOSS")

	// ── Discovery ──
	setFloat64(&cfg.Discovery.MinMarketVolume, "ARBOT_DISCOVERY_MIN_MARKET_VOLUME")
	setBool(&cfg.Discovery.CrossPlatform, "ARBOT_DISCOVERY_CROSS_PLATFORM_ARBITRAGE")

	// ── Polymarket ──
	setBool(&cfg.Polymarket.Enabled, "ARBOT_POLYMARKET_ENABLED")
	setStr(&cfg.Polymarket.GammaURL, "ARBOT_POLYMARKET_GAMMA_URL")
	setStr(&cfg.Polymarket.ClobURL, "ARBOT_POLYMARKET_CLOB_URL")
	setStr(&cfg.Polymarket.WSURL, "ARBOT_POLYMARKET_WS_URL")
	setInt64(&cfg.Polymarket.ChainID, "ARBOT_POLYMARKET_CHAIN_ID")
	setStr(&cfg.Polymarket.PrivateKey, "ARBOT_POLYMARKET_PRIVATE_KEY")
	setStr(&cfg.Polymarket.EncryptedKeyPath, "ARBOT_POLYMARKET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Polymarket.KeyPassword, "ARBOT_POLYMARKET_KEY_PASSWORD")

	// ── Kalshi ──
	setBool(&cfg.Kalshi.Enabled, "ARBOT_KALSHI_ENABLED")
	setStr(&cfg.Kalshi.BaseURL, "ARBOT_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WSURL, "ARBOT_KALSHI_WS_URL")
	setStr(&cfg.Kalshi.APIKeyID, "ARBOT_KALSHI_API_KEY_ID")
	setStr(&cfg.Kalshi.RSAPrivateKeyPath, "ARBOT_KALSHI_RSA_PRIVATE_KEY_PATH")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.Retention, "ARBOT_S3_RETENTION")
	setDuration(&cfg.S3.SweepInterval, "ARBOT_S3_SWEEP_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBOT_MODE")
	setStr(&cfg.LogLevel, "ARBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
