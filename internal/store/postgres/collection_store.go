package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seer-pm/seer/internal/domain"
)

// CollectionStore implements domain.CollectionStore.
type CollectionStore struct {
	pool *pgxpool.Pool
}

// NewCollectionStore creates a CollectionStore.
func NewCollectionStore(pool *pgxpool.Pool) *CollectionStore {
	return &CollectionStore{pool: pool}
}

// Create inserts a collection.
func (s *CollectionStore) Create(ctx context.Context, c domain.Collection) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collections (id, user_id, name, created_at) VALUES ($1::text::uuid, $2, $3, $4)`,
		c.ID, c.UserID, c.Name, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: collection %s: %w", c.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create collection: %w", err)
	}
	return nil
}

// GetByID returns one collection.
func (s *CollectionStore) GetByID(ctx context.Context, id string) (domain.Collection, error) {
	var c domain.Collection
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, user_id, name, created_at FROM collections WHERE id::text = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Collection{}, fmt.Errorf("postgres: collection %s: %w", id, domain.ErrNotFound)
		}
		return domain.Collection{}, fmt.Errorf("postgres: get collection %s: %w", id, err)
	}
	return c, nil
}

// ListByUser returns a user's collections, oldest first.
func (s *CollectionStore) ListByUser(ctx context.Context, userID string) ([]domain.Collection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, user_id, name, created_at FROM collections
		 WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list collections: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Collection, error) {
		var c domain.Collection
		err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list collections: %w", err)
	}
	return out, nil
}

// Rename changes a collection's name.
func (s *CollectionStore) Rename(ctx context.Context, id, name string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE collections SET name = $2 WHERE id::text = $1`, id, name)
	if err != nil {
		return fmt.Errorf("postgres: rename collection %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: collection %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Delete removes a collection and, by cascade, its market links.
func (s *CollectionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM collections WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete collection %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: collection %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// AddMarket links a market. Linking twice is a no-op.
func (s *CollectionStore) AddMarket(ctx context.Context, collectionID, marketID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collections_markets (collection_id, market_id)
		 VALUES ($1::text::uuid, $2) ON CONFLICT DO NOTHING`, collectionID, marketID)
	if err != nil {
		return fmt.Errorf("postgres: add market to collection %s: %w", collectionID, err)
	}
	return nil
}

// RemoveMarket unlinks a market.
func (s *CollectionStore) RemoveMarket(ctx context.Context, collectionID, marketID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM collections_markets WHERE collection_id::text = $1 AND market_id = $2`,
		collectionID, marketID)
	if err != nil {
		return fmt.Errorf("postgres: remove market from collection %s: %w", collectionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: collection market %s/%s: %w", collectionID, marketID, domain.ErrNotFound)
	}
	return nil
}

// ListMarkets returns the market links of a collection.
func (s *CollectionStore) ListMarkets(ctx context.Context, collectionID string) ([]domain.CollectionMarket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT collection_id::text, market_id, created_at FROM collections_markets
		 WHERE collection_id::text = $1 ORDER BY created_at, market_id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list collection markets: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CollectionMarket, error) {
		var cm domain.CollectionMarket
		err := row.Scan(&cm.CollectionID, &cm.MarketID, &cm.CreatedAt)
		return cm, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list collection markets: %w", err)
	}
	return out, nil
}

// SearchByName returns one hit per market linked to a collection whose name
// contains query, case-insensitively.
func (s *CollectionStore) SearchByName(ctx context.Context, query string, limit int) ([]domain.CollectionSearchHit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT cm.market_id, c.name
		FROM collections_markets cm
		JOIN collections c ON c.id = cm.collection_id
		WHERE c.name ILIKE '%' || $1 || '%' ESCAPE '\'
		ORDER BY c.name, cm.market_id
		LIMIT $2`, escapeLike(query), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search collections: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CollectionSearchHit, error) {
		var h domain.CollectionSearchHit
		err := row.Scan(&h.MarketID, &h.Collections.Name)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: search collections: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
