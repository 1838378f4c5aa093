package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/seer-pm/seer/internal/domain"
)

// ChannelInvalidate carries query-key prefixes that browsers should drop.
const ChannelInvalidate = "seer:invalidate"

// DefaultChains is searched when a metadata request names no chains.
var DefaultChains = []uint64{domain.ChainGnosis, domain.ChainMainnet, domain.ChainOptimism, domain.ChainBase}

// MarketService reads the market index and resolves page metadata.
type MarketService struct {
	markets domain.MarketStore
	cache   domain.MetadataCache
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewMarketService creates a MarketService. cache and bus may be nil.
func NewMarketService(
	markets domain.MarketStore,
	cache domain.MetadataCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		cache:   cache,
		bus:     bus,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// Markets lists the index under filters.
func (s *MarketService) Markets(ctx context.Context, filters domain.MarketFilters) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, filters, domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// Market loads one market by address or, failing that, by slug.
func (s *MarketService) Market(ctx context.Context, ref domain.MarketRef) (domain.Market, error) {
	if ref.ID != "" {
		m, err := s.markets.GetByID(ctx, ref.ChainID, strings.ToLower(ref.ID))
		if err == nil || !errors.Is(err, domain.ErrNotFound) || ref.URL == "" {
			return m, wrap("get market", err)
		}
	}
	if ref.URL == "" {
		return domain.Market{}, fmt.Errorf("market_service: id or url required: %w", domain.ErrInvalidInput)
	}
	m, err := s.markets.GetByURL(ctx, ref.ChainID, ref.URL)
	return m, wrap("get market by url", err)
}

// Metadata resolves the metadata for ref. When ref carries no chain, each of
// chains (DefaultChains when empty) is tried in order and the first hit wins.
// Hits are cached; cache failures only log.
func (s *MarketService) Metadata(ctx context.Context, ref domain.MarketRef, chains []uint64) (domain.MarketMetadata, error) {
	if ref.ID == "" && ref.URL == "" {
		return domain.MarketMetadata{}, fmt.Errorf("market_service: id or url required: %w", domain.ErrInvalidInput)
	}

	candidates := chains
	if ref.ChainID != 0 {
		candidates = []uint64{ref.ChainID}
	} else if len(candidates) == 0 {
		candidates = DefaultChains
	}

	for _, chainID := range candidates {
		r := ref
		r.ChainID = chainID

		if s.cache != nil {
			meta, err := s.cache.Get(ctx, r)
			if err == nil {
				return meta, nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				s.logger.WarnContext(ctx, "metadata cache get failed",
					slog.String("ref", r.Key()),
					slog.String("error", err.Error()),
				)
			}
		}

		m, err := s.Market(ctx, r)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.MarketMetadata{}, err
		}

		meta := MetadataFor(m)
		if s.cache != nil {
			if err := s.cache.Set(ctx, r, meta); err != nil {
				s.logger.WarnContext(ctx, "metadata cache set failed",
					slog.String("ref", r.Key()),
					slog.String("error", err.Error()),
				)
			}
		}
		return meta, nil
	}

	return domain.MarketMetadata{}, fmt.Errorf("market_service: metadata %s: %w", ref.Key(), domain.ErrNotFound)
}

// SyncMarkets upserts markets, drops their cached metadata and announces the
// change on the invalidation channel.
func (s *MarketService) SyncMarkets(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}
	for i := range markets {
		markets[i].ID = strings.ToLower(markets[i].ID)
	}
	if err := s.markets.UpsertBatch(ctx, markets); err != nil {
		return fmt.Errorf("market_service: upsert batch: %w", err)
	}

	for _, m := range markets {
		if s.cache == nil {
			break
		}
		ref := domain.MarketRef{ChainID: m.ChainID, ID: m.ID}
		if err := s.cache.Invalidate(ctx, ref); err != nil {
			s.logger.WarnContext(ctx, "metadata cache invalidate failed",
				slog.String("ref", ref.Key()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publishInvalidate(ctx, []any{"useGraphMarkets"})
	s.logger.InfoContext(ctx, "synced markets", slog.Int("count", len(markets)))
	return nil
}

// InvalidateQueries announces each query-key prefix on the invalidation
// channel. A market prefix (["useMarket", id]) also drops the cached page
// metadata of that market on every default chain.
func (s *MarketService) InvalidateQueries(ctx context.Context, prefixes ...[]any) {
	for _, prefix := range prefixes {
		if len(prefix) == 0 {
			continue
		}
		if id, ok := marketPrefixID(prefix); ok && s.cache != nil {
			for _, chainID := range DefaultChains {
				ref := domain.MarketRef{ChainID: chainID, ID: id}
				if err := s.cache.Invalidate(ctx, ref); err != nil {
					s.logger.WarnContext(ctx, "metadata cache invalidate failed",
						slog.String("ref", ref.Key()),
						slog.String("error", err.Error()),
					)
				}
			}
		}
		s.publishInvalidate(ctx, prefix)
	}
}

func marketPrefixID(prefix []any) (string, bool) {
	if len(prefix) < 2 {
		return "", false
	}
	if name, _ := prefix[0].(string); name != "useMarket" {
		return "", false
	}
	id, ok := prefix[1].(string)
	if !ok || id == "" {
		return "", false
	}
	return strings.ToLower(id), true
}

func (s *MarketService) publishInvalidate(ctx context.Context, prefix []any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"queryKey": prefix})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, ChannelInvalidate, payload); err != nil {
		s.logger.WarnContext(ctx, "publish invalidate failed", slog.String("error", err.Error()))
	}
}

// MetadataFor projects a market onto the page metadata payload.
func MetadataFor(m domain.Market) domain.MarketMetadata {
	return domain.MarketMetadata{
		ID:          m.ID,
		ChainID:     m.ChainID,
		URL:         m.URL,
		Name:        m.Name,
		Outcomes:    m.Outcomes,
		Description: describe(m),
		OpeningTS:   m.OpeningTS(),
		Resolved:    m.Resolved,
	}
}

func describe(m domain.Market) string {
	if len(m.Outcomes) == 0 {
		return m.Name
	}
	return "Outcomes: " + strings.Join(m.Outcomes, ", ")
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("market_service: %s: %w", op, err)
}
