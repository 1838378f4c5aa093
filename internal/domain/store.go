package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists the market index mirrored from chain.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, chainID uint64, id string) (Market, error)
	GetByURL(ctx context.Context, chainID uint64, url string) (Market, error)
	List(ctx context.Context, filters MarketFilters, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// CollectionStore persists user collections and their market links.
type CollectionStore interface {
	Create(ctx context.Context, c Collection) error
	GetByID(ctx context.Context, id string) (Collection, error)
	ListByUser(ctx context.Context, userID string) ([]Collection, error)
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
	AddMarket(ctx context.Context, collectionID, marketID string) error
	RemoveMarket(ctx context.Context, collectionID, marketID string) error
	ListMarkets(ctx context.Context, collectionID string) ([]CollectionMarket, error)
	SearchByName(ctx context.Context, query string, limit int) ([]CollectionSearchHit, error)
}

// AirdropStore reads precomputed airdrop allocations.
type AirdropStore interface {
	Get(ctx context.Context, address string, chainID uint64) (AirdropAllocation, error)
}

// AccountStore manages email verification tokens.
type AccountStore interface {
	GetVerification(ctx context.Context, token string) (EmailVerification, error)
	MarkVerified(ctx context.Context, token string, at time.Time) error
}
