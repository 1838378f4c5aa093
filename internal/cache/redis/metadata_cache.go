package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/seer-pm/seer/internal/domain"
)

// DefaultMetadataTTL bounds how long rendered page metadata may lag the index.
const DefaultMetadataTTL = 5 * time.Minute

// MetadataCache implements domain.MetadataCache with one JSON string per
// market.
//
// Key schema:
//
//	seer:meta:{chainId}:{id}      - metadata JSON
//	seer:meta:{chainId}:url:{url} - same payload, stored for slug lookups
type MetadataCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMetadataCache creates a MetadataCache. A non-positive ttl uses
// DefaultMetadataTTL.
func NewMetadataCache(c *Client, ttl time.Duration) *MetadataCache {
	if ttl <= 0 {
		ttl = DefaultMetadataTTL
	}
	return &MetadataCache{rdb: c.Underlying(), ttl: ttl}
}

func metadataKey(ref domain.MarketRef) string { return "seer:meta:" + ref.Key() }

// Set stores meta under ref and, when the payload knows both its address and
// its slug, under the other form as well.
func (mc *MetadataCache) Set(ctx context.Context, ref domain.MarketRef, meta domain.MarketMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("redis: marshal metadata %s: %w", ref.Key(), err)
	}

	pipe := mc.rdb.TxPipeline()
	for _, k := range aliases(ref, meta) {
		pipe.Set(ctx, metadataKey(k), data, mc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set metadata %s: %w", ref.Key(), err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a miss.
func (mc *MetadataCache) Get(ctx context.Context, ref domain.MarketRef) (domain.MarketMetadata, error) {
	data, err := mc.rdb.Get(ctx, metadataKey(ref)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketMetadata{}, domain.ErrNotFound
		}
		return domain.MarketMetadata{}, fmt.Errorf("redis: get metadata %s: %w", ref.Key(), err)
	}

	var meta domain.MarketMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("redis: unmarshal metadata %s: %w", ref.Key(), err)
	}
	return meta, nil
}

// Invalidate drops ref and any alias recorded in the cached payload.
func (mc *MetadataCache) Invalidate(ctx context.Context, ref domain.MarketRef) error {
	keys := []string{metadataKey(ref)}
	if meta, err := mc.Get(ctx, ref); err == nil {
		keys = keys[:0]
		for _, k := range aliases(ref, meta) {
			keys = append(keys, metadataKey(k))
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate metadata %s: %w", ref.Key(), err)
	}

	if err := mc.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate metadata %s: %w", ref.Key(), err)
	}
	return nil
}

func aliases(ref domain.MarketRef, meta domain.MarketMetadata) []domain.MarketRef {
	out := []domain.MarketRef{ref}
	chain := ref.ChainID
	if chain == 0 {
		chain = meta.ChainID
	}
	if ref.ID == "" && meta.ID != "" {
		out = append(out, domain.MarketRef{ChainID: chain, ID: meta.ID})
	}
	if ref.ID != "" && meta.URL != "" {
		out = append(out, domain.MarketRef{ChainID: chain, URL: meta.URL})
	}
	return out
}

var _ domain.MetadataCache = (*MetadataCache)(nil)
