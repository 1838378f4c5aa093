package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seer-pm/seer/internal/domain"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathAirdropData, r.URL.Path)
		assert.Equal(t, "0xabc", r.URL.Query().Get("address"))
		assert.Equal(t, "100", r.URL.Query().Get("chainId"))
		_ = json.NewEncoder(w).Encode(domain.AirdropAllocation{Address: "0xabc", TotalAllocation: 12.5})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	got, err := c.AirdropData(context.Background(), "0xabc", 100)
	require.NoError(t, err)
	assert.Equal(t, 12.5, got.TotalAllocation)
}

func TestNon2xxReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal server error"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.AllMarkets(context.Background())
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, http.MethodGet, httpErr.Method)
	assert.Contains(t, httpErr.Body, "Internal server error")
}

func TestNetworkErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second)
	err := c.GetJSON(context.Background(), "/x", nil, nil)
	require.Error(t, err)
	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}

func TestAuthenticatedWrites(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		seen = append(seen, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Favs", body["name"])
			_ = json.NewEncoder(w).Encode(map[string]any{"data": domain.Collection{ID: "c1", Name: "Favs"}})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ctx := context.Background()

	created, err := c.CreateCollection(ctx, "tok", "Favs", nil)
	require.NoError(t, err)
	assert.Equal(t, "c1", created.ID)
	require.NoError(t, c.RenameCollection(ctx, "tok", "c1", "Best"))
	require.NoError(t, c.DeleteCollection(ctx, "tok", "c1"))

	assert.Equal(t, []string{
		"POST " + PathCollectionsHandler,
		"PATCH " + PathCollectionsHandler + "/c1",
		"DELETE " + PathCollectionsHandler + "/c1",
	}, seen)
}

func TestMarketMetadataPostsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req MarketMetadataRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "will-it-rain", req.URL)
		assert.Equal(t, []uint64{100, 1}, req.ChainsList)
		_ = json.NewEncoder(w).Encode(domain.MarketMetadata{Name: "Will it rain?"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	meta, err := c.MarketMetadata(context.Background(), MarketMetadataRequest{URL: "will-it-rain", ChainsList: []uint64{100, 1}})
	require.NoError(t, err)
	assert.Equal(t, "Will it rain?", meta.Name)
}

func TestPingSupabase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathSupabaseREST || r.Header.Get("apikey") != "anon" ||
			r.Header.Get("Authorization") != "Bearer anon" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Invalid API key"}`))
			return
		}
		_, _ = w.Write([]byte(`{"swagger":"2.0"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	require.NoError(t, c.PingSupabase(context.Background(), "anon"))

	err := c.PingSupabase(context.Background(), "wrong")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}
