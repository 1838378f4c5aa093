package domain

import "time"

// Collection is a named group of markets owned by one authenticated user.
type Collection struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CollectionMarket links a market to a collection.
type CollectionMarket struct {
	CollectionID string    `json:"collection_id"`
	MarketID     string    `json:"market_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// CollectionSearchHit is one row of a collections-search response.
type CollectionSearchHit struct {
	MarketID    string            `json:"market_id"`
	Collections CollectionNameRef `json:"collections"`
}

// CollectionNameRef is the embedded collection projection in search hits.
type CollectionNameRef struct {
	Name string `json:"name"`
}
