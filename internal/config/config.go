// Package config defines the top-level configuration for the Seer backend
// and provides validation helpers.
package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SEER_* environment variables and the
// legacy Netlify variable names.
type Config struct {
	Supabase  SupabaseConfig  `toml:"supabase"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Chain     ChainConfig     `toml:"chain"`
	Server    ServerConfig    `toml:"server"`
	SSR       SSRConfig       `toml:"ssr"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Deploy    DeployConfig    `toml:"deploy"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// SupabaseConfig holds the Supabase project settings. The Postgres fields are
// used by the stores, ProjectURL/APIKey by the REST API health check,
// and JWTSecret verifies bearer tokens issued by Supabase auth.
type SupabaseConfig struct {
	ProjectURL    string `toml:"project_url"`
	APIKey        string `toml:"api_key"`
	JWTSecret     string `toml:"jwt_secret"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr               string `toml:"addr"`
	Password           string `toml:"password"`
	DB                 int    `toml:"db"`
	PoolSize           int    `toml:"pool_size"`
	MaxRetries         int    `toml:"max_retries"`
	TLSEnabled         bool   `toml:"tls_enabled"`
	MetadataTTLMinutes int    `toml:"metadata_ttl_minutes"`
}

// S3Config holds S3-compatible object storage parameters for the market blob
// store.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ChainConfig holds RPC endpoints and signing material for on-chain writes.
type ChainConfig struct {
	RPCURLs          map[string]string `toml:"rpc_urls"` // chain id -> url
	PrivateKey       string            `toml:"private_key"`
	EncryptedKeyPath string            `toml:"encrypted_key_path"`
	KeyPassword      string            `toml:"key_password"`
	RealityProxy     map[string]string `toml:"reality_proxy"` // chain id -> address
	AirdropContract  map[string]string `toml:"airdrop_contract"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	PublicURL      string   `toml:"public_url"`
	CORSOrigins    []string `toml:"cors_origins"`
	RateLimit      int      `toml:"rate_limit"`
	RateLimitEvery duration `toml:"rate_limit_every"`
	// TrustedProxies lists the IPs or CIDRs of reverse proxies whose
	// X-Forwarded-For header is believed. Empty trusts none.
	TrustedProxies []string `toml:"trusted_proxies"`
}

// SSRConfig holds page prefetch parameters.
type SSRConfig struct {
	MetadataTimeout    duration `toml:"metadata_timeout"`
	DefaultTitle       string   `toml:"default_title"`
	DefaultDescription string   `toml:"default_description"`
	ChainsList         []uint64 `toml:"chains_list"`
	// APIURL points page prefetching at another Seer backend's HTTP
	// endpoints instead of the local database. Empty reads in process.
	APIURL string `toml:"api_url"`
}

// SchedulerConfig describes the cron-triggered background jobs.
type SchedulerConfig struct {
	Disabled              bool   `toml:"disabled"`
	AccrueDataURL         string `toml:"accrue_data_url"`
	AccrueDataCron        string `toml:"accrue_data_cron"`
	AirdropCalculationURL string `toml:"airdrop_calculation_url"`
	AirdropCron           string `toml:"airdrop_cron"`
	BatchOddsURL          string `toml:"batch_odds_url"`
	BatchOddsCron         string `toml:"batch_odds_cron"`
	SnapshotCron          string `toml:"snapshot_cron"`
	TriggerSecret         string `toml:"trigger_secret"`

	// SubgraphURLs maps chain id to the Seer subgraph endpoint indexed by
	// the markets-index job. Empty disables the job.
	SubgraphURLs   map[string]string `toml:"subgraph_urls"`
	SubgraphAPIKey string            `toml:"subgraph_api_key"`
	IndexCron      string            `toml:"index_cron"`
}

// DeployConfig holds contract deployment runner parameters.
type DeployConfig struct {
	Network      string `toml:"network"`
	PlanPath     string `toml:"plan_path"` // empty uses the built-in plan
	ArtifactsDir string `toml:"artifacts_dir"`
	RegistryDir  string `toml:"registry_dir"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:               "localhost:6379",
			PoolSize:           20,
			MaxRetries:         3,
			MetadataTTLMinutes: 5,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "seer-blobs",
			ForcePathStyle: true,
		},
		Chain: ChainConfig{
			RPCURLs: map[string]string{
				"100": "https://rpc.gnosischain.com",
				"1":   "https://ethereum-rpc.publicnode.com",
			},
			RealityProxy:    map[string]string{},
			AirdropContract: map[string]string{},
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8888,
			PublicURL:      "http://localhost:8888",
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:      120,
			RateLimitEvery: duration{time.Minute},
		},
		SSR: SSRConfig{
			MetadataTimeout:    duration{2000 * time.Millisecond},
			DefaultTitle:       "Seer",
			DefaultDescription: "Efficient on-chain prediction markets.",
			ChainsList:         []uint64{100, 1},
		},
		Scheduler: SchedulerConfig{
			AccrueDataCron: "*/10 * * * *",
			AirdropCron:    "0 * * * *",
			BatchOddsCron:  "*/5 * * * *",
			SnapshotCron:   "*/5 * * * *",
			IndexCron:      "*/5 * * * *",
			SubgraphURLs:   map[string]string{},
		},
		Deploy: DeployConfig{
			Network:      "gnosis",
			PlanPath:     "",
			ArtifactsDir: "artifacts",
			RegistryDir:  "deployments",
		},
		Notify: NotifyConfig{
			Events: []string{"tx_failed", "job_failed"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":    true,
	"schedule": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, schedule, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}
	if c.Supabase.ProjectURL != "" {
		if u, err := url.Parse(c.Supabase.ProjectURL); err != nil || u.Scheme == "" {
			errs = append(errs, fmt.Sprintf("supabase: project_url %q is not an absolute url", c.Supabase.ProjectURL))
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty")
	}

	// Chain: a key is only needed when some on-chain write is configured.
	if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
		errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	for _, p := range c.Server.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Sprintf("server: trusted_proxies entry %q is not an IP or CIDR", p))
		}
	}

	// SSR
	if c.SSR.MetadataTimeout.Duration <= 0 {
		errs = append(errs, "ssr: metadata_timeout must be > 0")
	}
	if c.SSR.APIURL != "" {
		if u, err := url.Parse(c.SSR.APIURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Sprintf("ssr: api_url %q is not an absolute URL", c.SSR.APIURL))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
