package mutation

import (
	"context"

	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/fetch"
	"github.com/seer-pm/seer/internal/queries"
	"github.com/seer-pm/seer/internal/querycache"
)

// Collections performs authenticated collection writes through the backend.
// Every successful write invalidates the collection lists and searches.
type Collections struct {
	api   *fetch.Client
	cache *querycache.Client
}

// NewCollections creates the collection mutations.
func NewCollections(api *fetch.Client, cache *querycache.Client) *Collections {
	return &Collections{api: api, cache: cache}
}

func (c *Collections) invalidates() []querycache.Key {
	return []querycache.Key{queries.CollectionsPrefix(), queries.CollectionsSearchPrefix()}
}

// Create creates a collection owned by the token's user.
func (c *Collections) Create(ctx context.Context, token, name string, marketIDs []string) (domain.Collection, error) {
	v, err := c.cache.Mutate(ctx, func(ctx context.Context) (any, error) {
		return c.api.CreateCollection(ctx, token, name, marketIDs)
	}, c.invalidates()...)
	if err != nil {
		return domain.Collection{}, err
	}
	return v.(domain.Collection), nil
}

// Rename renames a collection.
func (c *Collections) Rename(ctx context.Context, token, id, name string) error {
	_, err := c.cache.Mutate(ctx, func(ctx context.Context) (any, error) {
		return nil, c.api.RenameCollection(ctx, token, id, name)
	}, c.invalidates()...)
	return err
}

// Delete deletes a collection.
func (c *Collections) Delete(ctx context.Context, token, id string) error {
	_, err := c.cache.Mutate(ctx, func(ctx context.Context) (any, error) {
		return nil, c.api.DeleteCollection(ctx, token, id)
	}, c.invalidates()...)
	return err
}

// ToggleMarket adds or removes marketID and reports whether it is now in the
// collection.
func (c *Collections) ToggleMarket(ctx context.Context, token, id, marketID string) (bool, error) {
	v, err := c.cache.Mutate(ctx, func(ctx context.Context) (any, error) {
		return c.api.ToggleCollectionMarket(ctx, token, id, marketID)
	}, c.invalidates()...)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
