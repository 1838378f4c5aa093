package queries

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/fetch"
	"github.com/seer-pm/seer/internal/querycache"
)

func remoteMarkets() []domain.Market {
	return []domain.Market{
		{ChainID: 100, ID: "0xaaa", URL: "will-it-rain", Name: "Will it rain?", Outcomes: []string{"Yes", "No"}, Creator: "0xc1"},
		{ChainID: 1, ID: "0xbbb", URL: "btc-100k", Name: "BTC above 100k?", Outcomes: []string{"Yes", "No"}, Resolved: true},
		{ChainID: 100, ID: "0xccc", URL: "election", Name: "Who wins?", Outcomes: []string{"Alice", "Bob"}},
	}
}

func newRemote(t *testing.T) (*RemoteAPI, *[]fetch.MarketMetadataRequest) {
	t.Helper()
	var metaReqs []fetch.MarketMetadataRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case fetch.PathAllMarketsSearch:
			_ = json.NewEncoder(w).Encode(remoteMarkets())
		case fetch.PathMarketMetadata:
			var req fetch.MarketMetadataRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			metaReqs = append(metaReqs, req)
			if req.ID != "0xaaa" {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":"Market not found"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(domain.MarketMetadata{ID: "0xaaa", ChainID: 100, Name: "Will it rain?"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return NewRemoteAPI(fetch.NewClient(srv.URL, time.Second)), &metaReqs
}

func TestRemoteAPIMarkets(t *testing.T) {
	api, _ := newRemote(t)
	ctx := context.Background()

	all, err := api.Markets(ctx, domain.MarketFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	resolved := false
	got, err := api.Markets(ctx, domain.MarketFilters{ChainIDs: []uint64{100}, Text: "bob", Resolved: &resolved})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0xccc", got[0].ID)

	got, err = api.Markets(ctx, domain.MarketFilters{Creator: "0xC1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "will-it-rain", got[0].URL)
}

func TestRemoteAPIMarket(t *testing.T) {
	api, _ := newRemote(t)
	ctx := context.Background()

	m, err := api.Market(ctx, domain.MarketRef{ChainID: 100, URL: "election"})
	require.NoError(t, err)
	assert.Equal(t, "0xccc", m.ID)

	m, err = api.Market(ctx, domain.MarketRef{ID: "0xBBB"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.ChainID)

	_, err = api.Market(ctx, domain.MarketRef{ChainID: 1, URL: "election"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMetadataFetcherThroughRemoteAPI(t *testing.T) {
	api, reqs := newRemote(t)
	cache := querycache.New()
	ctx := context.Background()
	ref := domain.MarketRef{ChainID: 100, ID: "0xaaa"}

	v, err := cache.Fetch(ctx, MetadataKey(ref), Metadata(api, ref, []uint64{1, 100}))
	require.NoError(t, err)
	meta, err := querycache.As[domain.MarketMetadata](v)
	require.NoError(t, err)
	assert.Equal(t, "Will it rain?", meta.Name)
	require.Len(t, *reqs, 1)
	assert.Equal(t, []uint64{100}, (*reqs)[0].ChainsList)

	missing := domain.MarketRef{URL: "nope"}
	_, err = cache.Fetch(ctx, MetadataKey(missing), Metadata(api, missing, []uint64{1, 100}), querycache.WithoutRetry())
	var httpErr *fetch.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, []uint64{1, 100}, (*reqs)[1].ChainsList)
}
