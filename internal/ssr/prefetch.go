// Package ssr resolves the data a page needs before it is rendered. Each
// request gets a fresh query cache which is dehydrated into the page context
// once prefetching finishes.
package ssr

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/queries"
	"github.com/seer-pm/seer/internal/querycache"
)

// DefaultMetadataTimeout bounds the market-metadata fetch for a market page.
const DefaultMetadataTimeout = 2000 * time.Millisecond

// PageContext is everything the renderer needs for one page.
type PageContext struct {
	Path        string
	Title       string
	Description string
	Filters     domain.MarketFilters
	Markets     []domain.Market
	Market      *domain.Market
	// Degraded is set when the page fell back to default metadata.
	Degraded        bool
	DehydratedState querycache.DehydratedState
}

// Config holds the Prefetcher settings.
type Config struct {
	MetadataTimeout    time.Duration
	DefaultTitle       string
	DefaultDescription string
	Chains             []uint64
}

// Prefetcher fills per-request caches through MarketsAPI.
type Prefetcher struct {
	api      queries.MarketsAPI
	cfg      Config
	newCache func() *querycache.Client
	logger   *slog.Logger
}

// NewPrefetcher creates a Prefetcher. A zero metadata timeout uses
// DefaultMetadataTimeout.
func NewPrefetcher(api queries.MarketsAPI, cfg Config, logger *slog.Logger) *Prefetcher {
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = DefaultMetadataTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "ssr"))
	return &Prefetcher{
		api: api,
		cfg: cfg,
		newCache: func() *querycache.Client {
			return querycache.New(querycache.WithLogger(logger))
		},
		logger: logger,
	}
}

// PrefetchHome populates the market list for filters. A failed list fetch
// degrades to an empty page instead of failing the request.
func (p *Prefetcher) PrefetchHome(ctx context.Context, filters domain.MarketFilters) PageContext {
	cache := p.newCache()
	page := PageContext{
		Path:        "/",
		Title:       p.cfg.DefaultTitle,
		Description: p.cfg.DefaultDescription,
		Filters:     filters,
	}

	v, err := cache.Fetch(ctx, queries.MarketsKey(filters), queries.Markets(p.api, filters), querycache.WithoutRetry())
	if err != nil {
		p.logger.WarnContext(ctx, "home prefetch failed", slog.String("error", err.Error()))
		page.Degraded = true
	} else if markets, err := querycache.As[[]domain.Market](v); err == nil {
		page.Markets = markets
	}

	page.DehydratedState = cache.Dehydrate()
	return page
}

// PrefetchMarket populates one market page. The metadata fetch is bounded by
// the metadata timeout; on timeout or any failure the page keeps the default
// title and description.
func (p *Prefetcher) PrefetchMarket(ctx context.Context, ref domain.MarketRef) PageContext {
	cache := p.newCache()
	idOrSlug := ref.ID
	if idOrSlug == "" {
		idOrSlug = ref.URL
	}
	page := PageContext{
		Path:        marketPath(ref.ChainID, idOrSlug),
		Title:       p.cfg.DefaultTitle,
		Description: p.cfg.DefaultDescription,
	}

	if meta, ok := p.fetchMetadata(ctx, cache, ref); ok {
		if meta.Name != "" {
			page.Title = meta.Name
		}
		if meta.Description != "" {
			page.Description = meta.Description
		}
	} else {
		page.Degraded = true
	}

	v, err := cache.Fetch(ctx, queries.MarketKey(idOrSlug, ref.ChainID), queries.Market(p.api, ref), querycache.WithoutRetry())
	if err != nil {
		p.logger.WarnContext(ctx, "market prefetch failed",
			slog.String("market", ref.Key()),
			slog.String("error", err.Error()),
		)
	} else if market, err := querycache.As[domain.Market](v); err == nil {
		page.Market = &market
		// A slug lookup is also stored under the address so invalidations
		// keyed by address reach it.
		if ref.ID == "" && market.ID != "" {
			cache.SetQueryData(queries.MarketKey(market.ID, market.ChainID), market)
		}
	}

	page.DehydratedState = cache.Dehydrate()
	return page
}

func (p *Prefetcher) fetchMetadata(ctx context.Context, cache *querycache.Client, ref domain.MarketRef) (domain.MarketMetadata, bool) {
	timeout := p.cfg.MetadataTimeout
	metaCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	metadata := queries.Metadata(p.api, ref, p.cfg.Chains)
	fetcher := func(fctx context.Context) (any, error) {
		bounded, cancel := context.WithTimeout(fctx, timeout)
		defer cancel()
		return metadata(bounded)
	}

	v, err := cache.Fetch(metaCtx, queries.MetadataKey(ref), fetcher, querycache.WithoutRetry())
	if err != nil {
		p.logger.WarnContext(ctx, "market metadata unavailable, using defaults",
			slog.String("market", ref.Key()),
			slog.Duration("timeout", timeout),
			slog.String("error", err.Error()),
		)
		return domain.MarketMetadata{}, false
	}
	meta, err := querycache.As[domain.MarketMetadata](v)
	if err != nil {
		return domain.MarketMetadata{}, false
	}
	return meta, true
}

func marketPath(chainID uint64, idOrSlug string) string {
	return "/markets/" + strconv.FormatUint(chainID, 10) + "/" + idOrSlug
}
