package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seer-pm/seer/internal/domain"
)

// fakeSubgraph serves n markets with ids 0x…01 to 0x…n, honouring first and
// lastId like a graph node.
func fakeSubgraph(t *testing.T, n int, apiKey string) *httptest.Server {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("0x%040x", i+1)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKey != "" && r.Header.Get("Authorization") != "Bearer "+apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req graphqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		first := int(req.Variables["first"].(float64))
		lastID := req.Variables["lastId"].(string)

		nodes := []map[string]any{}
		for _, id := range ids {
			if id <= lastID || len(nodes) == first {
				continue
			}
			nodes = append(nodes, map[string]any{
				"id":             id,
				"marketName":     "Market " + id[len(id)-2:],
				"outcomes":       []string{"Yes", "No"},
				"creator":        "0xABC",
				"blockTimestamp": "1714564800",
				"payoutReported": id == ids[0],
				"parentMarket":   nil,
				"questions": []map[string]any{
					{"question": map[string]any{"id": "0xq", "opening_ts": "1714600000", "finalize_ts": "0"}},
				},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"markets": nodes}})
	}))
}

func TestFetchMarketsMapsFields(t *testing.T) {
	srv := fakeSubgraph(t, 2, "key")
	defer srv.Close()

	c := NewClient(100, srv.URL, " key ")
	markets, err := c.FetchMarkets(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, markets, 2)

	m := markets[0]
	assert.Equal(t, uint64(100), m.ChainID)
	assert.Equal(t, "0xabc", m.Creator)
	assert.True(t, m.Resolved)
	assert.Equal(t, []string{"Yes", "No"}, m.Outcomes)
	assert.Equal(t, int64(1714600000), m.OpeningTS())
	assert.Equal(t, int64(1714564800), m.CreatedAt.Unix())
	assert.False(t, markets[1].PayoutReported)
}

func TestFetchAllMarketsPages(t *testing.T) {
	srv := fakeSubgraph(t, 25, "")
	defer srv.Close()

	markets, err := NewClient(1, srv.URL, "").FetchAllMarkets(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, markets, 25)
	assert.Equal(t, fmt.Sprintf("0x%040x", 25), markets[24].ID)
}

func TestDoQueryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"indexing_error"}]}`))
	}))
	defer srv.Close()

	_, err := NewClient(1, srv.URL, "").FetchLatestBlock(context.Background())
	assert.ErrorContains(t, err, "indexing_error")

	down := fakeSubgraph(t, 1, "secret")
	defer down.Close()
	_, err = NewClient(1, down.URL, "").FetchMarkets(context.Background(), "", 1)
	assert.ErrorContains(t, err, "HTTP 401")
}

type recordingSyncer struct {
	mu     sync.Mutex
	chains []uint64
	count  int
}

func (r *recordingSyncer) SyncMarkets(_ context.Context, markets []domain.Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(markets) > 0 {
		r.chains = append(r.chains, markets[0].ChainID)
	}
	r.count += len(markets)
	return nil
}

func TestIndexerRunsEveryChain(t *testing.T) {
	gnosis := fakeSubgraph(t, 3, "")
	defer gnosis.Close()
	mainnet := fakeSubgraph(t, 2, "")
	defer mainnet.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	syncer := &recordingSyncer{}
	ix := NewIndexer([]*Client{
		NewClient(100, gnosis.URL, ""),
		NewClient(1, mainnet.URL, ""),
		NewClient(10, broken.URL, ""),
	}, syncer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := ix.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain 10")
	assert.Equal(t, 5, n)

	sort.Slice(syncer.chains, func(i, j int) bool { return syncer.chains[i] < syncer.chains[j] })
	assert.Equal(t, []uint64{1, 100}, syncer.chains)
}
