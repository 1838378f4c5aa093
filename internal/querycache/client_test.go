package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func counting(calls *atomic.Int32, v any) Fetcher {
	return func(ctx context.Context) (any, error) {
		calls.Add(1)
		return v, nil
	}
}

func TestKeyHash(t *testing.T) {
	type filters struct {
		Text    string   `json:"text"`
		Chains  []uint64 `json:"chains"`
		Creator string   `json:"creator"`
	}
	a := Key{"useGraphMarkets", filters{Text: "btc", Chains: []uint64{100}}}

	var roundTrip Key
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &roundTrip))

	assert.Equal(t, a.Hash(), roundTrip.Hash())
	assert.Equal(t, Key{"useMarket", "0xabc", 100}.Hash(), Key{"useMarket", "0xabc", 100}.Hash())
	assert.NotEqual(t, Key{"useMarket", "0xabc", 100}.Hash(), Key{"useMarket", "0xabc", 1}.Hash())

	assert.True(t, Key{"useMarket", "0xabc", 100}.HasPrefix(Key{"useMarket"}))
	assert.True(t, Key{"useMarket", "0xabc", 100}.HasPrefix(Key{"useMarket", "0xabc"}))
	assert.True(t, Key{"useMarket"}.HasPrefix(nil))
	assert.False(t, Key{"useMarket"}.HasPrefix(Key{"useMarket", "0xabc"}))
	assert.False(t, Key{"useMarkets"}.HasPrefix(Key{"useMarket"}))
}

func TestFetchDeduplicatesConcurrentCallers(t *testing.T) {
	c := New()
	release := make(chan struct{})
	var calls atomic.Int32
	fetcher := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "markets", nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]any, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Fetch(context.Background(), Key{"useGraphMarkets"}, fetcher)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "markets", r)
	}
}

func TestFetchServesFreshDataFromCache(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))
	var calls atomic.Int32
	key := Key{"useMarket", "0xabc", 100}

	for i := 0; i < 3; i++ {
		v, err := c.Fetch(context.Background(), key, counting(&calls, "m"))
		require.NoError(t, err)
		assert.Equal(t, "m", v)
	}
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(DefaultStaleTime + time.Second)
	_, err := c.Fetch(context.Background(), key, counting(&calls, "m"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMutateInvalidatesByPrefix(t *testing.T) {
	c := New()
	ctx := context.Background()
	var marketCalls, listCalls, otherCalls atomic.Int32

	_, err := c.Fetch(ctx, Key{"useMarket", "0xabc", 100}, counting(&marketCalls, "m"))
	require.NoError(t, err)
	_, err = c.Fetch(ctx, Key{"useGraphMarkets", map[string]any{"text": ""}}, counting(&listCalls, "l"))
	require.NoError(t, err)
	_, err = c.Fetch(ctx, Key{"useAirdropData", "0x1"}, counting(&otherCalls, "a"))
	require.NoError(t, err)

	_, err = c.Mutate(ctx, func(ctx context.Context) (any, error) { return "ok", nil },
		Key{"useMarket", "0xabc"}, Key{"useGraphMarkets"})
	require.NoError(t, err)

	st, ok := c.GetState(Key{"useMarket", "0xabc", 100})
	require.True(t, ok)
	assert.True(t, st.Invalidated)

	_, err = c.Fetch(ctx, Key{"useMarket", "0xabc", 100}, counting(&marketCalls, "m2"))
	require.NoError(t, err)
	_, err = c.Fetch(ctx, Key{"useGraphMarkets", map[string]any{"text": ""}}, counting(&listCalls, "l2"))
	require.NoError(t, err)
	_, err = c.Fetch(ctx, Key{"useAirdropData", "0x1"}, counting(&otherCalls, "a"))
	require.NoError(t, err)

	assert.Equal(t, int32(2), marketCalls.Load())
	assert.Equal(t, int32(2), listCalls.Load())
	assert.Equal(t, int32(1), otherCalls.Load())
}

func TestMutateFailureInvalidatesNothing(t *testing.T) {
	c := New()
	ctx := context.Background()
	var calls atomic.Int32
	_, err := c.Fetch(ctx, Key{"useMarket", "0xabc"}, counting(&calls, "m"))
	require.NoError(t, err)

	boom := errors.New("reverted")
	_, err = c.Mutate(ctx, func(ctx context.Context) (any, error) { return nil, boom }, Key{"useMarket"})
	require.ErrorIs(t, err, boom)

	st, _ := c.GetState(Key{"useMarket", "0xabc"})
	assert.False(t, st.Invalidated)
}

func TestFetchErrorsAreCachedAndSurfaced(t *testing.T) {
	c := New()
	boom := errors.New("upstream 502")
	var calls atomic.Int32
	fetcher := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, boom
	}

	_, err := c.Fetch(context.Background(), Key{"useMarket", "x"}, fetcher,
		WithRetry(2), WithRetryDelay(func(int) time.Duration { return time.Millisecond }))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), calls.Load())

	st, ok := c.GetState(Key{"useMarket", "x"})
	require.True(t, ok)
	assert.Equal(t, StatusError, st.Status)
	assert.ErrorIs(t, st.Err, boom)
}

func TestWithoutRetry(t *testing.T) {
	c := New()
	var calls atomic.Int32
	_, err := c.Fetch(context.Background(), Key{"q"}, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, errors.New("nope")
	}, WithoutRetry())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDefaultRetryDelay(t *testing.T) {
	c := New()
	delay := c.defaults.RetryDelay
	assert.Equal(t, time.Second, delay(0))
	assert.Equal(t, 2*time.Second, delay(1))
	assert.Equal(t, 4*time.Second, delay(2))
	assert.Equal(t, 30*time.Second, delay(10))
	assert.Equal(t, DefaultRetry, c.defaults.Retry)
}

func TestQueryNotifiesSubscribers(t *testing.T) {
	c := New()
	key := Key{"useMarket", "0xabc"}
	updates, cancel := c.Subscribe(key)
	defer cancel()

	st := c.Query(context.Background(), key, func(ctx context.Context) (any, error) {
		return "fresh", nil
	})
	assert.True(t, st.Fetching)

	require.Eventually(t, func() bool {
		select {
		case s := <-updates:
			return s.Status == StatusSuccess && s.Data == "fresh"
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestInvalidateRefetchesSubscribedEntries(t *testing.T) {
	c := New()
	ctx := context.Background()
	key := Key{"useCollections"}
	var calls atomic.Int32
	_, err := c.Fetch(ctx, key, counting(&calls, "v"))
	require.NoError(t, err)

	_, cancel := c.Subscribe(key)
	defer cancel()

	assert.Equal(t, 1, c.Invalidate(Key{"useCollections"}))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}

func TestInvalidateDuringFetchRefetchesForSubscribers(t *testing.T) {
	c := New()
	key := Key{"useMarket", "0xabc", 100}
	release := make(chan struct{})
	var calls atomic.Int32
	fetcher := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			<-release
			return "before-mutation", nil
		}
		return "after-mutation", nil
	}

	_, cancel := c.Subscribe(key)
	defer cancel()

	c.Query(context.Background(), key, fetcher)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 1, c.Invalidate(Key{"useMarket"}))
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.Eventually(t, func() bool {
		st, _ := c.GetState(key)
		return st.Data == "after-mutation" && !st.Invalidated && !st.Fetching
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDehydrateHydrateServesWithoutFetching(t *testing.T) {
	type market struct {
		ID   string `json:"id"`
		Name string `json:"marketName"`
	}
	server := New()
	ctx := context.Background()
	key := Key{"useMarket", "0xabc", 100}
	_, err := server.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return market{ID: "0xabc", Name: "Will it rain?"}, nil
	})
	require.NoError(t, err)
	_, err = server.Fetch(ctx, Key{"broken"}, func(ctx context.Context) (any, error) {
		return nil, errors.New("down")
	}, WithoutRetry())
	require.Error(t, err)

	raw, err := json.Marshal(server.Dehydrate())
	require.NoError(t, err)

	var state DehydratedState
	require.NoError(t, json.Unmarshal(raw, &state))
	require.Len(t, state.Queries, 1)

	client := New()
	client.Hydrate(state)

	var calls atomic.Int32
	v, err := client.Fetch(ctx, key, counting(&calls, market{}))
	require.NoError(t, err)
	assert.Equal(t, int32(0), calls.Load())

	m, err := As[market](v)
	require.NoError(t, err)
	assert.Equal(t, "Will it rain?", m.Name)
}

func TestSetAndGetQueryData(t *testing.T) {
	c := New()
	_, ok := c.GetQueryData(Key{"useMarket"})
	assert.False(t, ok)

	c.SetQueryData(Key{"useMarket"}, 42)
	v, ok := c.GetQueryData(Key{"useMarket"})
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestCollectDropsIdleEntries(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now), WithGCTime(time.Minute))
	c.SetQueryData(Key{"a"}, 1)
	_, cancel := c.Subscribe(Key{"b"})
	defer cancel()

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, c.Collect())
	assert.Equal(t, 1, c.Len())
}

func TestFetchHonorsCallerContext(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Fetch(ctx, Key{"slow"}, func(ctx context.Context) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
