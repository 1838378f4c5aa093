package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seer-pm/seer/internal/chain"
	"github.com/seer-pm/seer/internal/chain/chaintest"
	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/fetch"
	"github.com/seer-pm/seer/internal/notify"
	"github.com/seer-pm/seer/internal/queries"
	"github.com/seer-pm/seer/internal/querycache"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(ctx context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var (
	proxyAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	airdropAddr = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	marketAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

type fixture struct {
	backend *chaintest.Backend
	cache   *querycache.Client
	rec     *recorder
	markets *Markets
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	backend := chaintest.New(100)
	tr, err := chain.NewTransactor(context.Background(), backend, key)
	require.NoError(t, err)

	cache := querycache.New(querycache.WithLogger(discard()))
	rec := &recorder{}
	runner := NewTxRunner(backend, cache, rec, discard())
	return &fixture{
		backend: backend,
		cache:   cache,
		rec:     rec,
		markets: NewMarkets(runner, tr, proxyAddr, airdropAddr),
	}
}

func TestResolveMarketConfirmedInvalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var calls atomic.Int32
	fetcher := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "m", nil
	}
	marketKey := queries.MarketKey(marketAddr.Hex(), 100)
	listKey := queries.MarketsKey(domain.MarketFilters{})
	_, err := f.cache.Fetch(ctx, marketKey, fetcher)
	require.NoError(t, err)
	_, err = f.cache.Fetch(ctx, listKey, fetcher)
	require.NoError(t, err)

	receipt, err := f.markets.ResolveMarket(ctx, marketAddr)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, []string{notify.KindTxSubmitted, notify.KindTxConfirmed}, f.rec.kinds())

	sent := f.backend.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, proxyAddr, *sent[0].To())

	_, err = f.cache.Fetch(ctx, marketKey, fetcher)
	require.NoError(t, err)
	_, err = f.cache.Fetch(ctx, listKey, fetcher)
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

type broadcastRecorder struct {
	mu       sync.Mutex
	prefixes [][]any
}

func (b *broadcastRecorder) InvalidateQueries(_ context.Context, prefixes ...[]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prefixes = append(b.prefixes, prefixes...)
}

func TestConfirmedTransactionBroadcastsInvalidations(t *testing.T) {
	f := newFixture(t)
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	tr, err := chain.NewTransactor(context.Background(), f.backend, key)
	require.NoError(t, err)

	b := &broadcastRecorder{}
	runner := NewTxRunner(f.backend, nil, f.rec, discard(), WithBroadcaster(b))
	m := NewMarkets(runner, tr, proxyAddr, airdropAddr)

	_, err = m.ResolveMarket(context.Background(), marketAddr)
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{queries.NameMarket, strings.ToLower(marketAddr.Hex())},
		{queries.NameMarkets},
	}, b.prefixes)

	f.backend.Revert[airdropAddr] = true
	_, err = m.ClaimAirdrop(context.Background(), marketAddr)
	require.ErrorIs(t, err, domain.ErrTxFailed)
	assert.Len(t, b.prefixes, 2)
}

func TestRevertedTransactionFails(t *testing.T) {
	f := newFixture(t)
	f.backend.Revert[airdropAddr] = true
	ctx := context.Background()

	account := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	f.cache.SetQueryData(queries.AirdropKey(account.Hex(), 100), "alloc")

	_, err := f.markets.ClaimAirdrop(ctx, account)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTxFailed)
	assert.Equal(t, []string{notify.KindTxSubmitted, notify.KindTxFailed}, f.rec.kinds())

	st, ok := f.cache.GetState(queries.AirdropKey(account.Hex(), 100))
	require.True(t, ok)
	assert.False(t, st.Invalidated)
}

func TestClaimAirdropInvalidatesAccount(t *testing.T) {
	f := newFixture(t)
	account := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	f.cache.SetQueryData(queries.AirdropKey(account.Hex(), 100), "alloc")

	_, err := f.markets.ClaimAirdrop(context.Background(), account)
	require.NoError(t, err)

	st, _ := f.cache.GetState(queries.AirdropKey(account.Hex(), 100))
	assert.True(t, st.Invalidated)
}

func TestSendErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("insufficient funds")
	f.backend.SendErr = boom

	_, err := f.markets.ResolveMarket(context.Background(), marketAddr)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{notify.KindTxFailed}, f.rec.kinds())
}

func TestWaitHonorsContext(t *testing.T) {
	f := newFixture(t)
	runner := NewTxRunner(f.backend, f.cache, f.rec, discard())
	// A transaction the backend never saw has no receipt.
	orphan := types.NewTx(&types.LegacyTx{Nonce: 99})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := runner.Run(ctx, "orphan", func(ctx context.Context) (*types.Transaction, error) {
		return orphan, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{notify.KindTxSubmitted, notify.KindTxFailed}, f.rec.kinds())
}

func TestCollectionsInvalidateOnSuccessOnly(t *testing.T) {
	fail := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
			return
		}
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": domain.Collection{ID: "c1", Name: "Favs"}})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cache := querycache.New()
	cols := NewCollections(fetch.NewClient(srv.URL, time.Second), cache)
	ctx := context.Background()

	listKey := querycache.Key{queries.NameCollections, "user-1"}
	searchKey := querycache.Key{queries.NameCollectionsSearch, "foo"}
	reset := func() {
		cache.SetQueryData(listKey, []string{})
		cache.SetQueryData(searchKey, []string{})
	}
	invalidated := func() bool {
		a, _ := cache.GetState(listKey)
		b, _ := cache.GetState(searchKey)
		return a.Invalidated && b.Invalidated
	}

	reset()
	c, err := cols.Create(ctx, "tok", "Favs", nil)
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.True(t, invalidated())

	reset()
	require.NoError(t, cols.Rename(ctx, "tok", "c1", "Best"))
	assert.True(t, invalidated())

	reset()
	fail = true
	err = cols.Delete(ctx, "tok", "c1")
	var httpErr *fetch.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.False(t, invalidated())
}
