package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gavelmarket/gavel/internal/domain"
)

const defaultListingTTL = 2 * time.Minute

// ListingCache implements domain.ListingCache using Redis hashes with
// JSON-serialized listing data. It takes the write pressure of listing reads
// off Postgres; every mutation invalidates the entry so the next read
// repopulates from the store.
//
// Key schema:
//
//	listing:{assetID} - hash with field "data" containing JSON
type ListingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewListingCache creates a ListingCache backed by the given Client. A
// non-positive ttl falls back to a short default.
func NewListingCache(c *Client, ttl time.Duration) *ListingCache {
	if ttl <= 0 {
		ttl = defaultListingTTL
	}
	return &ListingCache{rdb: c.Underlying(), ttl: ttl}
}

func listingKey(assetID string) string { return "listing:" + assetID }

// Set stores a listing in the cache with a short TTL.
func (lc *ListingCache) Set(ctx context.Context, l domain.Listing) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("redis: marshal listing %s: %w", l.AssetID, err)
	}

	key := listingKey(l.AssetID)

	pipe := lc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, lc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set listing %s: %w", l.AssetID, err)
	}
	return nil
}

// Get retrieves a listing by asset ID from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (lc *ListingCache) Get(ctx context.Context, assetID string) (domain.Listing, error) {
	data, err := lc.rdb.HGet(ctx, listingKey(assetID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("redis: get listing %s: %w", assetID, err)
	}

	var l domain.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return domain.Listing{}, fmt.Errorf("redis: unmarshal listing %s: %w", assetID, err)
	}
	return l, nil
}

// Invalidate removes a listing from the cache.
func (lc *ListingCache) Invalidate(ctx context.Context, assetID string) error {
	if err := lc.rdb.Del(ctx, listingKey(assetID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate listing %s: %w", assetID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
