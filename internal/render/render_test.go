package render

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/queries"
	"github.com/seer-pm/seer/internal/querycache"
	"github.com/seer-pm/seer/internal/ssr"
)

func serverPage(t *testing.T, markets []domain.Market) ssr.PageContext {
	t.Helper()
	cache := querycache.New()
	filters := domain.MarketFilters{}
	cache.SetQueryData(queries.MarketsKey(filters), markets)
	return ssr.PageContext{
		Path:            "/",
		Title:           "Seer",
		Description:     "Efficient on-chain prediction markets.",
		Markets:         markets,
		DehydratedState: cache.Dehydrate(),
	}
}

func TestRenderHomeAndHydrate(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	markets := []domain.Market{
		{ChainID: 100, ID: "0xabc", URL: "will-it-rain", Name: "Will it rain? </script><b>"},
	}
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, serverPage(t, markets)))
	html := buf.Bytes()

	assert.Contains(t, string(html), "<title>Seer</title>")
	assert.Contains(t, string(html), `href="/markets/100/will-it-rain"`)
	assert.NotContains(t, string(html), "</script><b>")

	state, err := ExtractState(html)
	require.NoError(t, err)
	require.Len(t, state.Queries, 1)

	client := HydrateClient(state)
	var calls atomic.Int32
	v, err := client.Fetch(context.Background(), queries.MarketsKey(domain.MarketFilters{}), func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), calls.Load())

	got, err := querycache.As[[]domain.Market](v)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Will it rain? </script><b>", got[0].Name)
}

func TestRenderMarketPage(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	m := domain.Market{ChainID: 100, ID: "0xabc", Name: "Will it rain?", Outcomes: []string{"Yes", "No"}}
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, ssr.PageContext{
		Path:        "/markets/100/0xabc",
		Title:       "Will it rain?",
		Description: "Rain in Lisbon",
		Market:      &m,
	}))

	out := buf.String()
	assert.Contains(t, out, "<h1>Will it rain?</h1>")
	assert.Contains(t, out, `<meta name="description" content="Rain in Lisbon">`)
	assert.Contains(t, out, "<li>Yes</li>")
}

func TestRenderMissingMarket(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, ssr.PageContext{Path: "/markets/100/nope", Title: "Seer"}))
	assert.Contains(t, buf.String(), "Market not found.")
}

func TestExtractStateWithoutElement(t *testing.T) {
	_, err := ExtractState([]byte("<html></html>"))
	assert.ErrorIs(t, err, ErrNoState)
}
