// Package subgraph reads the Seer market index from The Graph / Goldsky
// subgraph deployments, one endpoint per chain.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/seer-pm/seer/internal/domain"
)

// DefaultPageSize is the largest page the hosted graph nodes serve.
const DefaultPageSize = 1000

// Client is a GraphQL client for one chain's Seer subgraph.
type Client struct {
	chainID    uint64
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the subgraph at graphqlURL indexing chainID.
func NewClient(chainID uint64, graphqlURL, apiKey string) *Client {
	return &Client{
		chainID:    chainID,
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ChainID returns the chain this subgraph indexes.
func (c *Client) ChainID() uint64 { return c.chainID }

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const marketsQuery = `
	query Markets($first: Int!, $lastId: String!) {
		markets(
			first: $first
			orderBy: id
			orderDirection: asc
			where: { id_gt: $lastId }
		) {
			id
			marketName
			outcomes
			creator
			blockTimestamp
			payoutReported
			parentMarket { id }
			questions {
				question {
					id
					opening_ts
					finalize_ts
				}
			}
		}
	}
`

type marketNode struct {
	ID             string   `json:"id"`
	MarketName     string   `json:"marketName"`
	Outcomes       []string `json:"outcomes"`
	Creator        string   `json:"creator"`
	BlockTimestamp string   `json:"blockTimestamp"`
	PayoutReported bool     `json:"payoutReported"`
	ParentMarket   *struct {
		ID string `json:"id"`
	} `json:"parentMarket"`
	Questions []struct {
		Question struct {
			ID         string `json:"id"`
			OpeningTS  string `json:"opening_ts"`
			FinalizeTS string `json:"finalize_ts"`
		} `json:"question"`
	} `json:"questions"`
}

// FetchMarkets returns up to first markets with an id greater than lastID,
// ordered by id. Pass the last id of one page as lastID of the next.
func (c *Client) FetchMarkets(ctx context.Context, lastID string, first int) ([]domain.Market, error) {
	if first <= 0 || first > DefaultPageSize {
		first = DefaultPageSize
	}
	data, err := c.doQuery(ctx, marketsQuery, map[string]any{
		"first":  first,
		"lastId": strings.ToLower(lastID),
	})
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch markets: %w", err)
	}

	var result struct {
		Markets []marketNode `json:"markets"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("subgraph: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(result.Markets))
	for _, n := range result.Markets {
		markets = append(markets, c.toMarket(n))
	}
	return markets, nil
}

// FetchAllMarkets pages through every market in the subgraph.
func (c *Client) FetchAllMarkets(ctx context.Context, pageSize int) ([]domain.Market, error) {
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	var (
		all    []domain.Market
		lastID string
	)
	for {
		page, err := c.FetchMarkets(ctx, lastID, pageSize)
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		lastID = page[len(page)-1].ID
	}
}

// FetchLatestBlock returns the latest block indexed by the subgraph, for
// monitoring indexing lag.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`
	data, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("subgraph: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return 0, fmt.Errorf("subgraph: decode latest block: %w", err)
	}
	return result.Meta.Block.Number, nil
}

func (c *Client) toMarket(n marketNode) domain.Market {
	m := domain.Market{
		ChainID:        c.chainID,
		ID:             strings.ToLower(n.ID),
		Name:           n.MarketName,
		Outcomes:       n.Outcomes,
		Creator:        strings.ToLower(n.Creator),
		PayoutReported: n.PayoutReported,
		Resolved:       n.PayoutReported,
	}
	if n.ParentMarket != nil {
		m.ParentMarket = strings.ToLower(n.ParentMarket.ID)
	}
	if ts, err := strconv.ParseInt(n.BlockTimestamp, 10, 64); err == nil && ts > 0 {
		m.CreatedAt = time.Unix(ts, 0).UTC()
	}
	for _, q := range n.Questions {
		opening, _ := strconv.ParseInt(q.Question.OpeningTS, 10, 64)
		finalize, _ := strconv.ParseInt(q.Question.FinalizeTS, 10, 64)
		m.Questions = append(m.Questions, domain.Question{
			ID:        q.Question.ID,
			OpeningTS: opening,
			Finalized: finalize > 0 && finalize <= time.Now().Unix(),
		})
	}
	return m
}

// doQuery executes a GraphQL query and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}
	return gqlResp.Data, nil
}
