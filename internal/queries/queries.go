// Package queries names the query keys shared by the page prefetch layer,
// the mutation layer and client caches, and builds the fetchers behind them.
package queries

import (
	"context"
	"strings"

	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/querycache"
)

// Query names. They match the hook names the web front end keys its cache
// with, so invalidations line up on both sides.
const (
	NameMarkets           = "useGraphMarkets"
	NameMarket            = "useMarket"
	NameMarketMetadata    = "useMarketMetadata"
	NameAirdropData       = "useAirdropData"
	NameCollections       = "useCollections"
	NameCollectionsSearch = "useCollectionsSearch"
)

// MarketsAPI is the read side the fetchers call. It is satisfied in process
// by service.MarketService and remotely by RemoteAPI.
type MarketsAPI interface {
	Markets(ctx context.Context, filters domain.MarketFilters) ([]domain.Market, error)
	Market(ctx context.Context, ref domain.MarketRef) (domain.Market, error)
	Metadata(ctx context.Context, ref domain.MarketRef, chains []uint64) (domain.MarketMetadata, error)
}

// MarketsKey keys the market list for one filter set.
func MarketsKey(filters domain.MarketFilters) querycache.Key {
	return querycache.Key{NameMarkets, filters}
}

// MarketKey keys one market by address or slug.
func MarketKey(idOrSlug string, chainID uint64) querycache.Key {
	return querycache.Key{NameMarket, strings.ToLower(idOrSlug), chainID}
}

// MarketPrefix matches every cache entry for one market on any chain.
func MarketPrefix(id string) querycache.Key {
	return querycache.Key{NameMarket, strings.ToLower(id)}
}

// MetadataKey keys the page metadata for one market reference.
func MetadataKey(ref domain.MarketRef) querycache.Key {
	return querycache.Key{NameMarketMetadata, ref.Key()}
}

// AirdropKey keys an account's airdrop allocation.
func AirdropKey(account string, chainID uint64) querycache.Key {
	return querycache.Key{NameAirdropData, strings.ToLower(account), chainID}
}

// AirdropPrefix matches an account's allocation on every chain.
func AirdropPrefix(account string) querycache.Key {
	return querycache.Key{NameAirdropData, strings.ToLower(account)}
}

// CollectionsPrefix matches every collections list entry.
func CollectionsPrefix() querycache.Key { return querycache.Key{NameCollections} }

// CollectionsSearchPrefix matches every collections search entry.
func CollectionsSearchPrefix() querycache.Key { return querycache.Key{NameCollectionsSearch} }

// Markets returns the fetcher for MarketsKey(filters).
func Markets(api MarketsAPI, filters domain.MarketFilters) querycache.Fetcher {
	return func(ctx context.Context) (any, error) {
		return api.Markets(ctx, filters)
	}
}

// Market returns the fetcher for MarketKey.
func Market(api MarketsAPI, ref domain.MarketRef) querycache.Fetcher {
	return func(ctx context.Context) (any, error) {
		return api.Market(ctx, ref)
	}
}

// Metadata returns the fetcher for MetadataKey.
func Metadata(api MarketsAPI, ref domain.MarketRef, chains []uint64) querycache.Fetcher {
	return func(ctx context.Context) (any, error) {
		return api.Metadata(ctx, ref, chains)
	}
}
