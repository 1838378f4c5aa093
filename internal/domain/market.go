package domain

import (
	"strconv"
	"strings"
	"time"
)

// Chain IDs the front end knows about.
const (
	ChainGnosis   uint64 = 100
	ChainMainnet  uint64 = 1
	ChainOptimism uint64 = 10
	ChainBase     uint64 = 8453
	ChainSepolia  uint64 = 11155111
)

// Question is one Reality question backing a market outcome.
type Question struct {
	ID        string `json:"id"`
	OpeningTS int64  `json:"opening_ts"`
	Finalized bool   `json:"finalized"`
}

// Market is a prediction market indexed from its on-chain deployment. Rows are
// never deleted; resolution state is overwritten as the chain moves.
type Market struct {
	ChainID        uint64     `json:"chainId"`
	ID             string     `json:"id"` // contract address, lowercase
	URL            string     `json:"url"`
	Name           string     `json:"marketName"`
	Outcomes       []string   `json:"outcomes"`
	Questions      []Question `json:"questions"`
	Creator        string     `json:"creator"`
	ParentMarket   string     `json:"parentMarket,omitempty"`
	Resolved       bool       `json:"resolved"`
	PayoutReported bool       `json:"payoutReported"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// OpeningTS returns the earliest question opening timestamp, or 0 when the
// market has no questions.
func (m Market) OpeningTS() int64 {
	var ts int64
	for _, q := range m.Questions {
		if ts == 0 || (q.OpeningTS > 0 && q.OpeningTS < ts) {
			ts = q.OpeningTS
		}
	}
	return ts
}

// MarketRef identifies a market either by address or by URL slug.
type MarketRef struct {
	ChainID uint64
	ID      string
	URL     string
}

// Key returns a stable string form used in cache keys and logs.
func (r MarketRef) Key() string {
	v := r.ID
	if v == "" {
		v = "url:" + r.URL
	}
	return strconv.FormatUint(r.ChainID, 10) + ":" + strings.ToLower(v)
}

// MarketMetadata is the payload returned by the market-metadata endpoint and
// consumed by page rendering for title/description tags.
type MarketMetadata struct {
	ID          string   `json:"id"`
	ChainID     uint64   `json:"chainId"`
	URL         string   `json:"url"`
	Name        string   `json:"marketName"`
	Outcomes    []string `json:"outcomes"`
	Description string   `json:"description"`
	OpeningTS   int64    `json:"openingTs"`
	Resolved    bool     `json:"resolved"`
}

// MarketFilters narrows market list queries.
type MarketFilters struct {
	ChainIDs []uint64 `json:"chainIds,omitempty"`
	Creator  string   `json:"creator,omitempty"`
	Text     string   `json:"text,omitempty"`
	Resolved *bool    `json:"resolved,omitempty"`
}
