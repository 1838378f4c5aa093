package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seer-pm/seer/internal/domain"
)

// maxCollectionName bounds collection names.
const maxCollectionName = 100

// searchLimit caps collections-search results.
const searchLimit = 100

// CollectionService enforces ownership around the collection store.
type CollectionService struct {
	store  domain.CollectionStore
	logger *slog.Logger
	now    func() time.Time
}

// NewCollectionService creates a CollectionService.
func NewCollectionService(store domain.CollectionStore, logger *slog.Logger) *CollectionService {
	return &CollectionService{
		store:  store,
		logger: logger.With(slog.String("component", "collection_service")),
		now:    time.Now,
	}
}

// List returns userID's collections.
func (s *CollectionService) List(ctx context.Context, userID string) ([]domain.Collection, error) {
	cs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("collection_service: list: %w", err)
	}
	return cs, nil
}

// Create makes a collection for userID seeded with marketIDs.
func (s *CollectionService) Create(ctx context.Context, userID, name string, marketIDs []string) (domain.Collection, error) {
	name, err := validName(name)
	if err != nil {
		return domain.Collection{}, err
	}

	c := domain.Collection{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Create(ctx, c); err != nil {
		return domain.Collection{}, fmt.Errorf("collection_service: create: %w", err)
	}
	for _, id := range marketIDs {
		if err := s.store.AddMarket(ctx, c.ID, strings.ToLower(id)); err != nil {
			return c, fmt.Errorf("collection_service: seed market %s: %w", id, err)
		}
	}

	s.logger.InfoContext(ctx, "collection created",
		slog.String("collection_id", c.ID),
		slog.Int("markets", len(marketIDs)),
	)
	return c, nil
}

// Rename changes the name of a collection owned by userID.
func (s *CollectionService) Rename(ctx context.Context, userID, id, name string) error {
	name, err := validName(name)
	if err != nil {
		return err
	}
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.Rename(ctx, id, name); err != nil {
		return fmt.Errorf("collection_service: rename: %w", err)
	}
	return nil
}

// Delete removes a collection owned by userID.
func (s *CollectionService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("collection_service: delete: %w", err)
	}
	return nil
}

// ToggleMarket adds marketID to the collection, or removes it when present.
// It reports whether the market is in the collection afterwards.
func (s *CollectionService) ToggleMarket(ctx context.Context, userID, id, marketID string) (bool, error) {
	marketID = strings.ToLower(strings.TrimSpace(marketID))
	if marketID == "" {
		return false, fmt.Errorf("collection_service: market id required: %w", domain.ErrInvalidInput)
	}
	if _, err := s.owned(ctx, userID, id); err != nil {
		return false, err
	}

	links, err := s.store.ListMarkets(ctx, id)
	if err != nil {
		return false, fmt.Errorf("collection_service: list markets: %w", err)
	}
	for _, l := range links {
		if l.MarketID == marketID {
			if err := s.store.RemoveMarket(ctx, id, marketID); err != nil {
				return false, fmt.Errorf("collection_service: remove market: %w", err)
			}
			return false, nil
		}
	}
	if err := s.store.AddMarket(ctx, id, marketID); err != nil {
		return false, fmt.Errorf("collection_service: add market: %w", err)
	}
	return true, nil
}

// Search matches collection names case-insensitively. An empty query matches
// nothing.
func (s *CollectionService) Search(ctx context.Context, query string) ([]domain.CollectionSearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.CollectionSearchHit{}, nil
	}
	hits, err := s.store.SearchByName(ctx, query, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("collection_service: search: %w", err)
	}
	if hits == nil {
		hits = []domain.CollectionSearchHit{}
	}
	return hits, nil
}

func (s *CollectionService) owned(ctx context.Context, userID, id string) (domain.Collection, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Collection{}, fmt.Errorf("collection_service: collection %q: %w", id, domain.ErrNotFound)
	}
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("collection_service: get: %w", err)
	}
	if c.UserID != userID {
		return domain.Collection{}, fmt.Errorf("collection_service: collection %s: %w", id, domain.ErrForbidden)
	}
	return c, nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxCollectionName {
		return "", fmt.Errorf("collection_service: name must be 1-%d characters: %w", maxCollectionName, domain.ErrInvalidInput)
	}
	return name, nil
}
