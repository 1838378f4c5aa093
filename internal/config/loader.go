package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies environment variable overrides, and returns the
// final Config. A missing file is not an error: the defaults plus environment
// are enough to run behind Netlify-style env configuration. The returned
// Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads the legacy Netlify variable names first and then the
// SEER_* names, so an explicit SEER_* setting always wins.
func applyEnvOverrides(cfg *Config) {
	// ── Netlify / Vite names ──
	setStr(&cfg.Supabase.ProjectURL, "VITE_SUPABASE_PROJECT_URL")
	setStr(&cfg.Supabase.APIKey, "VITE_SUPABASE_API_KEY")
	setStr(&cfg.Supabase.ProjectURL, "SUPABASE_PROJECT_URL")
	setStr(&cfg.Supabase.APIKey, "SUPABASE_API_KEY")
	setBool(&cfg.Scheduler.Disabled, "DISABLE_SCHEDULED_FUNCTIONS")
	setStr(&cfg.Scheduler.AccrueDataURL, "ACCRUE_DATA_URL")
	setStr(&cfg.Scheduler.AirdropCalculationURL, "AIRDROP_CALCULATION_URL")
	setStr(&cfg.Scheduler.BatchOddsURL, "BATCH_ODDS_URL")

	// ── Supabase ──
	setStr(&cfg.Supabase.ProjectURL, "SEER_SUPABASE_PROJECT_URL")
	setStr(&cfg.Supabase.APIKey, "SEER_SUPABASE_API_KEY")
	setStr(&cfg.Supabase.JWTSecret, "SEER_SUPABASE_JWT_SECRET")
	setStr(&cfg.Supabase.DSN, "SEER_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "SEER_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SEER_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SEER_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SEER_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SEER_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SEER_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SEER_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SEER_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SEER_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SEER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SEER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SEER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SEER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SEER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SEER_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.MetadataTTLMinutes, "SEER_REDIS_METADATA_TTL_MINUTES")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SEER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SEER_S3_REGION")
	setStr(&cfg.S3.Bucket, "SEER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SEER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SEER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SEER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SEER_S3_FORCE_PATH_STYLE")

	// ── Chain ──
	setStr(&cfg.Chain.PrivateKey, "SEER_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "SEER_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "SEER_CHAIN_KEY_PASSWORD")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SEER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SEER_SERVER_PORT")
	setStr(&cfg.Server.PublicURL, "SEER_SERVER_PUBLIC_URL")
	setStringSlice(&cfg.Server.CORSOrigins, "SEER_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.TrustedProxies, "SEER_SERVER_TRUSTED_PROXIES")
	setInt(&cfg.Server.RateLimit, "SEER_SERVER_RATE_LIMIT")

	// ── SSR ──
	setDuration(&cfg.SSR.MetadataTimeout, "SEER_SSR_METADATA_TIMEOUT")
	setStr(&cfg.SSR.DefaultTitle, "SEER_SSR_DEFAULT_TITLE")
	setStr(&cfg.SSR.DefaultDescription, "SEER_SSR_DEFAULT_DESCRIPTION")
	setStr(&cfg.SSR.APIURL, "SEER_SSR_API_URL")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Disabled, "SEER_SCHEDULER_DISABLED")
	setStr(&cfg.Scheduler.AccrueDataCron, "SEER_SCHEDULER_ACCRUE_DATA_CRON")
	setStr(&cfg.Scheduler.AirdropCron, "SEER_SCHEDULER_AIRDROP_CRON")
	setStr(&cfg.Scheduler.BatchOddsCron, "SEER_SCHEDULER_BATCH_ODDS_CRON")
	setStr(&cfg.Scheduler.SnapshotCron, "SEER_SCHEDULER_SNAPSHOT_CRON")
	setStr(&cfg.Scheduler.TriggerSecret, "SEER_SCHEDULER_TRIGGER_SECRET")
	setStr(&cfg.Scheduler.SubgraphAPIKey, "SEER_SCHEDULER_SUBGRAPH_API_KEY")
	setStr(&cfg.Scheduler.IndexCron, "SEER_SCHEDULER_INDEX_CRON")

	// ── Deploy ──
	setStr(&cfg.Deploy.Network, "SEER_DEPLOY_NETWORK")
	setStr(&cfg.Deploy.PlanPath, "SEER_DEPLOY_PLAN_PATH")
	setStr(&cfg.Deploy.ArtifactsDir, "SEER_DEPLOY_ARTIFACTS_DIR")
	setStr(&cfg.Deploy.RegistryDir, "SEER_DEPLOY_REGISTRY_DIR")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SEER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SEER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SEER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SEER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SEER_MODE")
	setStr(&cfg.LogLevel, "SEER_LOG_LEVEL")
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
