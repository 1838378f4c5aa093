package subgraph

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/seer-pm/seer/internal/domain"
)

// MarketSyncer stores indexed markets.
type MarketSyncer interface {
	SyncMarkets(ctx context.Context, markets []domain.Market) error
}

// Indexer mirrors every configured subgraph into the market index.
type Indexer struct {
	clients  []*Client
	syncer   MarketSyncer
	pageSize int
	logger   *slog.Logger
}

// NewIndexer creates an Indexer over clients.
func NewIndexer(clients []*Client, syncer MarketSyncer, logger *slog.Logger) *Indexer {
	return &Indexer{
		clients:  clients,
		syncer:   syncer,
		pageSize: DefaultPageSize,
		logger:   logger.With(slog.String("component", "subgraph_indexer")),
	}
}

// Run indexes all chains concurrently and returns the number of markets
// synced. A failing chain does not stop the others; the first error is
// returned once all have finished.
func (ix *Indexer) Run(ctx context.Context) (int, error) {
	var (
		g     errgroup.Group
		total atomic.Int64
	)
	for _, c := range ix.clients {
		g.Go(func() error {
			markets, err := c.FetchAllMarkets(ctx, ix.pageSize)
			if err != nil {
				ix.logger.WarnContext(ctx, "subgraph fetch failed",
					slog.Uint64("chain_id", c.ChainID()),
					slog.String("error", err.Error()),
				)
				return fmt.Errorf("chain %d: %w", c.ChainID(), err)
			}
			if err := ix.syncer.SyncMarkets(ctx, markets); err != nil {
				return fmt.Errorf("chain %d: %w", c.ChainID(), err)
			}
			total.Add(int64(len(markets)))
			ix.logger.InfoContext(ctx, "chain indexed",
				slog.Uint64("chain_id", c.ChainID()),
				slog.Int("markets", len(markets)),
			)
			return nil
		})
	}
	err := g.Wait()
	return int(total.Load()), err
}
