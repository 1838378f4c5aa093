package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/seer-pm/seer/internal/domain"
)

// Endpoint paths served by the backend. They keep the paths the web front end
// has always called.
const (
	PathAirdropData        = "/.netlify/functions/get-airdrop-data"
	PathMarketMetadata     = "/.netlify/functions/market-metadata"
	PathCollectionsSearch  = "/.netlify/functions/collections-search"
	PathCollectionsHandler = "/.netlify/functions/collections-handler"
	PathConfirmEmail       = "/.netlify/functions/confirm-email"
	PathAllMarketsSearch   = "/.netlify/edge-functions/all-markets-search"

	// PathSupabaseREST is the PostgREST root of a Supabase project.
	PathSupabaseREST = "/rest/v1/"
)

// AirdropData returns the airdrop allocation for address on chainID.
func (c *Client) AirdropData(ctx context.Context, address string, chainID uint64) (domain.AirdropAllocation, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("chainId", strconv.FormatUint(chainID, 10))

	var out domain.AirdropAllocation
	if err := c.GetJSON(ctx, PathAirdropData, q, &out); err != nil {
		return domain.AirdropAllocation{}, fmt.Errorf("fetch: airdrop data: %w", err)
	}
	return out, nil
}

// MarketMetadataRequest is the body of the market-metadata endpoint. Exactly
// one of ID and URL is expected.
type MarketMetadataRequest struct {
	ID         string   `json:"id,omitempty"`
	URL        string   `json:"url,omitempty"`
	ChainsList []uint64 `json:"chainsList"`
}

// MarketMetadata resolves the title/description data for one market.
func (c *Client) MarketMetadata(ctx context.Context, req MarketMetadataRequest) (domain.MarketMetadata, error) {
	var out domain.MarketMetadata
	if err := c.PostJSON(ctx, PathMarketMetadata, req, &out); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("fetch: market metadata: %w", err)
	}
	return out, nil
}

// SearchCollections returns markets whose collection names match query.
func (c *Client) SearchCollections(ctx context.Context, query string) ([]domain.CollectionSearchHit, error) {
	q := url.Values{}
	q.Set("query", query)

	var out struct {
		Data []domain.CollectionSearchHit `json:"data"`
	}
	if err := c.GetJSON(ctx, PathCollectionsSearch, q, &out); err != nil {
		return nil, fmt.Errorf("fetch: search collections: %w", err)
	}
	return out.Data, nil
}

// CollectionsResponse wraps collection list and write responses.
type CollectionsResponse struct {
	Data []domain.Collection `json:"data"`
}

// ListCollections returns the collections owned by the token's user.
func (c *Client) ListCollections(ctx context.Context, token string) ([]domain.Collection, error) {
	var out CollectionsResponse
	if err := c.Do(ctx, http.MethodGet, PathCollectionsHandler, nil, bearer(token), &out); err != nil {
		return nil, fmt.Errorf("fetch: list collections: %w", err)
	}
	return out.Data, nil
}

// CreateCollection creates a collection, optionally seeded with markets.
func (c *Client) CreateCollection(ctx context.Context, token, name string, marketIDs []string) (domain.Collection, error) {
	body := map[string]any{"name": name}
	if len(marketIDs) > 0 {
		body["marketIds"] = marketIDs
	}
	var out struct {
		Data domain.Collection `json:"data"`
	}
	if err := c.Do(ctx, http.MethodPost, PathCollectionsHandler, body, bearer(token), &out); err != nil {
		return domain.Collection{}, fmt.Errorf("fetch: create collection: %w", err)
	}
	return out.Data, nil
}

// RenameCollection renames a collection owned by the token's user.
func (c *Client) RenameCollection(ctx context.Context, token, id, name string) error {
	path := PathCollectionsHandler + "/" + url.PathEscape(id)
	if err := c.Do(ctx, http.MethodPatch, path, map[string]string{"name": name}, bearer(token), nil); err != nil {
		return fmt.Errorf("fetch: rename collection %s: %w", id, err)
	}
	return nil
}

// DeleteCollection deletes a collection owned by the token's user.
func (c *Client) DeleteCollection(ctx context.Context, token, id string) error {
	path := PathCollectionsHandler + "/" + url.PathEscape(id)
	if err := c.Do(ctx, http.MethodDelete, path, nil, bearer(token), nil); err != nil {
		return fmt.Errorf("fetch: delete collection %s: %w", id, err)
	}
	return nil
}

// ToggleCollectionMarket adds marketID to the collection, or removes it when
// already present. It reports whether the market is in the collection after
// the call.
func (c *Client) ToggleCollectionMarket(ctx context.Context, token, id, marketID string) (bool, error) {
	path := PathCollectionsHandler + "/" + url.PathEscape(id) + "/markets"
	var out struct {
		Added bool `json:"added"`
	}
	if err := c.Do(ctx, http.MethodPost, path, map[string]string{"marketId": marketID}, bearer(token), &out); err != nil {
		return false, fmt.Errorf("fetch: toggle collection market: %w", err)
	}
	return out.Added, nil
}

// ConfirmEmail redeems an email verification token.
func (c *Client) ConfirmEmail(ctx context.Context, token string) (bool, error) {
	q := url.Values{}
	q.Set("token", token)
	var out struct {
		Success int `json:"success"`
	}
	if err := c.GetJSON(ctx, PathConfirmEmail, q, &out); err != nil {
		return false, fmt.Errorf("fetch: confirm email: %w", err)
	}
	return out.Success == 1, nil
}

// AllMarkets downloads the full market snapshot.
func (c *Client) AllMarkets(ctx context.Context) ([]domain.Market, error) {
	var out []domain.Market
	if err := c.GetJSON(ctx, PathAllMarketsSearch, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch: all markets: %w", err)
	}
	return out, nil
}

// PingSupabase checks that the Supabase REST API is up and accepts apiKey.
// The client's base URL must be the Supabase project URL.
func (c *Client) PingSupabase(ctx context.Context, apiKey string) error {
	h := bearer(apiKey)
	h.Set("apikey", apiKey)
	if err := c.Do(ctx, http.MethodGet, PathSupabaseREST, nil, h, nil); err != nil {
		return fmt.Errorf("fetch: supabase rest: %w", err)
	}
	return nil
}
