package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GAVEL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known GAVEL_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Auction ──
	setStr(&cfg.Auction.MarketplaceAddress, "GAVEL_AUCTION_MARKETPLACE_ADDRESS")
	setInt(&cfg.Auction.MinIncrementPct, "GAVEL_AUCTION_MIN_INCREMENT_PCT")
	setDuration(&cfg.Auction.Extension, "GAVEL_AUCTION_EXTENSION")
	setInt(&cfg.Auction.BidRateLimit, "GAVEL_AUCTION_BID_RATE_LIMIT")

	// ── Custody ──
	setStr(&cfg.Custody.BaseURL, "GAVEL_CUSTODY_BASE_URL")
	setStr(&cfg.Custody.APIKey, "GAVEL_CUSTODY_API_KEY")
	setStr(&cfg.Custody.APISecret, "GAVEL_CUSTODY_API_SECRET")
	setDuration(&cfg.Custody.Timeout, "GAVEL_CUSTODY_TIMEOUT")

	// ── Payment ──
	setStr(&cfg.Payment.BaseURL, "GAVEL_PAYMENT_BASE_URL")
	setStr(&cfg.Payment.APIKey, "GAVEL_PAYMENT_API_KEY")
	setStr(&cfg.Payment.APISecret, "GAVEL_PAYMENT_API_SECRET")
	setStr(&cfg.Payment.EncryptedSecretPath, "GAVEL_PAYMENT_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Payment.SecretPassword, "GAVEL_PAYMENT_SECRET_PASSWORD")
	setDuration(&cfg.Payment.Timeout, "GAVEL_PAYMENT_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "GAVEL_DATABASE_DSN")
	setStr(&cfg.Database.Host, "GAVEL_DATABASE_HOST")
	setInt(&cfg.Database.Port, "GAVEL_DATABASE_PORT")
	setStr(&cfg.Database.Database, "GAVEL_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "GAVEL_DATABASE_USER")
	setStr(&cfg.Database.Password, "GAVEL_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "GAVEL_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "GAVEL_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "GAVEL_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "GAVEL_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "GAVEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GAVEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GAVEL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GAVEL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GAVEL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GAVEL_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLMinutes, "GAVEL_REDIS_CACHE_TTL_MINUTES")
	setInt(&cfg.Redis.StreamMaxLen, "GAVEL_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "GAVEL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GAVEL_S3_REGION")
	setStr(&cfg.S3.Bucket, "GAVEL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GAVEL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GAVEL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GAVEL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GAVEL_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "GAVEL_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "GAVEL_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "GAVEL_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchSize, "GAVEL_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GAVEL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GAVEL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "GAVEL_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.SigningSkew, "GAVEL_SERVER_SIGNING_SKEW")
	setStr(&cfg.Server.AdminAPIKey, "GAVEL_SERVER_ADMIN_API_KEY")
	setInt(&cfg.Server.RequestRateLimit, "GAVEL_SERVER_REQUEST_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GAVEL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GAVEL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GAVEL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GAVEL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "GAVEL_MODE")
	setStr(&cfg.LogLevel, "GAVEL_LOG_LEVEL")
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
