package queries

import (
	"context"
	"fmt"
	"strings"

	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/fetch"
)

// RemoteAPI serves MarketsAPI over the backend's HTTP endpoints. The market
// list comes from the all-markets snapshot and is filtered locally.
type RemoteAPI struct {
	client *fetch.Client
}

// NewRemoteAPI wraps a fetch client.
func NewRemoteAPI(client *fetch.Client) *RemoteAPI {
	return &RemoteAPI{client: client}
}

func (r *RemoteAPI) Markets(ctx context.Context, filters domain.MarketFilters) ([]domain.Market, error) {
	all, err := r.client.AllMarkets(ctx)
	if err != nil {
		return nil, err
	}
	return FilterMarkets(all, filters), nil
}

func (r *RemoteAPI) Market(ctx context.Context, ref domain.MarketRef) (domain.Market, error) {
	all, err := r.client.AllMarkets(ctx)
	if err != nil {
		return domain.Market{}, err
	}
	for _, m := range all {
		if ref.ChainID != 0 && m.ChainID != ref.ChainID {
			continue
		}
		if (ref.ID != "" && strings.EqualFold(m.ID, ref.ID)) || (ref.URL != "" && m.URL == ref.URL) {
			return m, nil
		}
	}
	return domain.Market{}, fmt.Errorf("queries: market %s: %w", ref.Key(), domain.ErrNotFound)
}

func (r *RemoteAPI) Metadata(ctx context.Context, ref domain.MarketRef, chains []uint64) (domain.MarketMetadata, error) {
	if ref.ChainID != 0 {
		chains = []uint64{ref.ChainID}
	}
	return r.client.MarketMetadata(ctx, fetch.MarketMetadataRequest{ID: ref.ID, URL: ref.URL, ChainsList: chains})
}

// FilterMarkets applies filters in memory.
func FilterMarkets(markets []domain.Market, f domain.MarketFilters) []domain.Market {
	out := make([]domain.Market, 0, len(markets))
	text := strings.ToLower(strings.TrimSpace(f.Text))
	for _, m := range markets {
		if len(f.ChainIDs) > 0 && !containsChain(f.ChainIDs, m.ChainID) {
			continue
		}
		if f.Creator != "" && !strings.EqualFold(f.Creator, m.Creator) {
			continue
		}
		if f.Resolved != nil && m.Resolved != *f.Resolved {
			continue
		}
		if text != "" && !matchesText(m, text) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func containsChain(ids []uint64, id uint64) bool {
	for _, c := range ids {
		if c == id {
			return true
		}
	}
	return false
}

func matchesText(m domain.Market, text string) bool {
	if strings.Contains(strings.ToLower(m.Name), text) {
		return true
	}
	for _, o := range m.Outcomes {
		if strings.Contains(strings.ToLower(o), text) {
			return true
		}
	}
	return false
}
