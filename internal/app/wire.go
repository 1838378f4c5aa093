package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/seer-pm/seer/internal/blob/s3"
	"github.com/seer-pm/seer/internal/cache/redis"
	"github.com/seer-pm/seer/internal/config"
	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/fetch"
	"github.com/seer-pm/seer/internal/notify"
	"github.com/seer-pm/seer/internal/server/handler"
	"github.com/seer-pm/seer/internal/service"
	"github.com/seer-pm/seer/internal/store/postgres"
)

// Dependencies bundles everything the modes and commands need. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore     domain.MarketStore
	CollectionStore domain.CollectionStore
	AirdropStore    domain.AirdropStore
	AccountStore    domain.AccountStore

	// Caches
	MetadataCache domain.MetadataCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Snapshot   *s3blob.Snapshot

	// Services
	Markets     *service.MarketService
	Collections *service.CollectionService
	Airdrops    *service.AirdropService
	Accounts    *service.AccountService

	Notifier *notify.Notifier

	// Health checks by backend name.
	Checks map[string]handler.Pinger
}

// Wire constructs every backend from cfg and returns the dependencies with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.CollectionStore = postgres.NewCollectionStore(pool)
	deps.AirdropStore = postgres.NewAirdropStore(pool)
	deps.AccountStore = postgres.NewAccountStore(pool)
	deps.Checks["postgres"] = handler.PingFunc(func(ctx context.Context) error { return pool.Ping(ctx) })

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	metadataTTL := redis.DefaultMetadataTTL
	if cfg.Redis.MetadataTTLMinutes > 0 {
		metadataTTL = time.Duration(cfg.Redis.MetadataTTLMinutes) * time.Minute
	}
	deps.MetadataCache = redis.NewMetadataCache(redisClient, metadataTTL)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Checks["redis"] = redisClient

	// --- S3 blob storage ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	writer := s3blob.NewWriter(s3Client)
	reader := s3blob.NewReader(s3Client)
	deps.BlobWriter = writer
	deps.BlobReader = reader
	deps.Snapshot = s3blob.NewSnapshot(writer, reader, deps.MarketStore)
	deps.Checks["s3"] = handler.PingFunc(s3Client.Health)

	// --- Supabase REST ---
	if check := supabaseCheck(cfg.Supabase); check != nil {
		deps.Checks["supabase"] = check
	}

	// --- Notifications ---
	deps.Notifier = newNotifier(cfg.Notify, deps.SignalBus, logger)

	// --- Services ---
	deps.Markets = service.NewMarketService(deps.MarketStore, deps.MetadataCache, deps.SignalBus, logger)
	deps.Collections = service.NewCollectionService(deps.CollectionStore, logger)
	deps.Airdrops = service.NewAirdropService(deps.AirdropStore)
	deps.Accounts = service.NewAccountService(deps.AccountStore, logger)

	return deps, cleanup, nil
}

// supabaseCheck pings the project's REST API with the configured key. It is
// nil when either is unset.
func supabaseCheck(cfg config.SupabaseConfig) handler.Pinger {
	if cfg.ProjectURL == "" || cfg.APIKey == "" {
		return nil
	}
	client := fetch.NewClient(cfg.ProjectURL, 5*time.Second)
	return handler.PingFunc(func(ctx context.Context) error {
		return client.PingSupabase(ctx, cfg.APIKey)
	})
}

// newNotifier routes transaction phases to the signal bus for browsers and
// the configured event kinds to the operator channels.
func newNotifier(cfg config.NotifyConfig, bus domain.SignalBus, logger *slog.Logger) *notify.Notifier {
	var routes []notify.Route
	if bus != nil {
		routes = append(routes, notify.Route{
			Sender: notify.NewBusSender(bus, notify.ChannelTx),
			Kinds:  []string{notify.KindTxSubmitted, notify.KindTxConfirmed, notify.KindTxFailed},
		})
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		routes = append(routes, notify.Route{
			Sender: notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID),
			Kinds:  cfg.Events,
		})
	}
	if cfg.DiscordWebhookURL != "" {
		routes = append(routes, notify.Route{
			Sender: notify.NewDiscordSender(cfg.DiscordWebhookURL),
			Kinds:  cfg.Events,
		})
	}
	return notify.NewNotifier(logger, routes...)
}
