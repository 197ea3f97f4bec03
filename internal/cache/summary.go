package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CrowCommerce/reviews-service/internal/domain"
)

const keyPrefix = "review_summary:"

// ErrMiss is returned when no cached summary exists for the product.
var ErrMiss = fmt.Errorf("summary cache miss")

// SummaryCache stores product review summaries in Redis. It sits in front of
// the stats table on the read path only; writers invalidate, never populate.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache creates a Redis-backed summary cache with the given TTL.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves a cached summary. ErrMiss signals the caller to fall through
// to the database.
func (c *SummaryCache) Get(ctx context.Context, productID string) (*domain.ReviewSummary, error) {
	data, err := c.client.Get(ctx, keyPrefix+productID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("redis get summary: %w", err)
	}

	var summary domain.ReviewSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}

	return &summary, nil
}

// Set stores a summary with the configured TTL.
func (c *SummaryCache) Set(ctx context.Context, summary *domain.ReviewSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	if err := c.client.Set(ctx, keyPrefix+summary.ProductID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set summary: %w", err)
	}

	return nil
}

// Invalidate drops the cached summary for a product. Called on every write
// that may change the aggregate.
func (c *SummaryCache) Invalidate(ctx context.Context, productID string) error {
	if err := c.client.Del(ctx, keyPrefix+productID).Err(); err != nil {
		return fmt.Errorf("redis del summary: %w", err)
	}
	return nil
}
