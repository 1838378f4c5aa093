package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seer-pm/seer/internal/crypto"
	"github.com/seer-pm/seer/internal/fetch"
	"github.com/seer-pm/seer/internal/notify"
	"github.com/seer-pm/seer/internal/queries"
	"github.com/seer-pm/seer/internal/render"
	"github.com/seer-pm/seer/internal/scheduler"
	"github.com/seer-pm/seer/internal/server"
	"github.com/seer-pm/seer/internal/server/handler"
	"github.com/seer-pm/seer/internal/server/middleware"
	"github.com/seer-pm/seer/internal/server/ws"
	"github.com/seer-pm/seer/internal/service"
	"github.com/seer-pm/seer/internal/ssr"
	"github.com/seer-pm/seer/internal/subgraph"
)

// ServeMode runs the HTTP server and the websocket hub.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// ScheduleMode runs the cron jobs only.
func (a *App) ScheduleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting schedule mode")

	sched, err := a.newScheduler(deps)
	if err != nil {
		return err
	}
	return sched.Run(ctx)
}

// FullMode runs the server (unless disabled) and the scheduler in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	sched, err := a.newScheduler(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		if err := a.startHTTPServer(ctx, g, deps); err != nil {
			return err
		}
	} else {
		a.logger.InfoContext(ctx, "HTTP server disabled")
	}
	g.Go(func() error {
		return sched.Run(ctx)
	})
	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	renderer, err := render.New()
	if err != nil {
		return fmt.Errorf("app: templates: %w", err)
	}
	prefetch := ssr.NewPrefetcher(a.pageAPI(deps), ssr.Config{
		MetadataTimeout:    a.cfg.SSR.MetadataTimeout.Duration,
		DefaultTitle:       a.cfg.SSR.DefaultTitle,
		DefaultDescription: a.cfg.SSR.DefaultDescription,
		Chains:             a.cfg.SSR.ChainsList,
	}, a.logger)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Channels:       []string{notify.ChannelTx, service.ChannelInvalidate},
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	trusted, err := middleware.ParseTrustedProxies(a.cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	srv := server.NewServer(server.Config{
		TrustedProxies: trusted,
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		JWTSecret:      a.cfg.Supabase.JWTSecret,
		RateLimit:      a.cfg.Server.RateLimit,
		RateLimitEvery: a.cfg.Server.RateLimitEvery.Duration,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(deps.Checks, a.logger),
		Airdrop:     handler.NewAirdropHandler(deps.Airdrops, a.logger),
		Metadata:    handler.NewMetadataHandler(deps.Markets, a.logger),
		Collections: handler.NewCollectionsHandler(deps.Collections, a.logger),
		Account:     handler.NewAccountHandler(deps.Accounts, a.logger),
		AllMarkets:  handler.NewAllMarketsHandler(deps.Snapshot, a.logger),
		Pages:       handler.NewPagesHandler(prefetch, renderer, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", a.cfg.Server.PublicURL))
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}

// newScheduler builds the cron jobs. Trigger jobs without a URL are skipped.
func (a *App) newScheduler(deps *Dependencies) (*scheduler.Scheduler, error) {
	sc := a.cfg.Scheduler
	signer := crypto.NewTriggerSigner(sc.TriggerSecret)
	client := &http.Client{Timeout: 30 * time.Second}

	triggers := []struct {
		name, cron, url string
	}{
		{"accrue-data", sc.AccrueDataCron, sc.AccrueDataURL},
		{"airdrop-calculation", sc.AirdropCron, sc.AirdropCalculationURL},
		{"batch-odds", sc.BatchOddsCron, sc.BatchOddsURL},
	}

	var jobs []scheduler.Job
	for _, t := range triggers {
		if t.url == "" {
			a.logger.Warn("scheduled function has no url, skipping", slog.String("job", t.name))
			continue
		}
		job, err := scheduler.NewJob(t.name, t.cron, scheduler.HTTPTrigger(client, t.url, signer))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		jobs = append(jobs, job)
	}

	snapshot, err := scheduler.NewJob("markets-snapshot", sc.SnapshotCron, func(ctx context.Context, _ time.Time) error {
		n, err := deps.Snapshot.Build(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("markets snapshot written", slog.Int("markets", n))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	jobs = append(jobs, snapshot)

	indexer, err := a.newIndexer(deps)
	if err != nil {
		return nil, err
	}
	if indexer != nil {
		job, err := scheduler.NewJob("markets-index", sc.IndexCron, func(ctx context.Context, _ time.Time) error {
			_, err := indexer.Run(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		jobs = append(jobs, job)
	}

	return scheduler.New(jobs, a.logger,
		scheduler.WithLocks(deps.LockManager),
		scheduler.WithNotifier(deps.Notifier),
		scheduler.Disabled(sc.Disabled),
	), nil
}

// newIndexer returns nil when no subgraph is configured.
func (a *App) newIndexer(deps *Dependencies) (*subgraph.Indexer, error) {
	sc := a.cfg.Scheduler
	if len(sc.SubgraphURLs) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(sc.SubgraphURLs))
	for k := range sc.SubgraphURLs {
		ids = append(ids, k)
	}
	sort.Strings(ids)

	clients := make([]*subgraph.Client, 0, len(ids))
	for _, k := range ids {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("app: scheduler.subgraph_urls key %q is not a chain id", k)
		}
		clients = append(clients, subgraph.NewClient(id, sc.SubgraphURLs[k], sc.SubgraphAPIKey))
	}
	return subgraph.NewIndexer(clients, deps.Markets, a.logger), nil
}

// RunJob runs one scheduled job immediately.
func (a *App) RunJob(ctx context.Context, name string) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	sched, err := a.newScheduler(deps)
	if err != nil {
		return err
	}
	return sched.RunNow(ctx, name)
}

// pageAPI is the read side page prefetching uses: the local market service,
// or a remote backend when ssr.api_url is set.
func (a *App) pageAPI(deps *Dependencies) queries.MarketsAPI {
	if a.cfg.SSR.APIURL == "" {
		return deps.Markets
	}
	a.logger.Info("prefetching pages from remote backend", slog.String("url", a.cfg.SSR.APIURL))
	return queries.NewRemoteAPI(fetch.NewClient(a.cfg.SSR.APIURL, a.cfg.SSR.MetadataTimeout.Duration))
}
