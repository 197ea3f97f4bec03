package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowCommerce/reviews-service/internal/domain"
)

func setupTestCache(t *testing.T) (*SummaryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := NewSummaryCache(client, 5*time.Minute)
	return cache, mr
}

func sampleSummary() *domain.ReviewSummary {
	stats := &domain.ReviewStats{
		ProductID:     "prod-1",
		AverageRating: 4.5,
		ReviewCount:   2,
		RatingCount4:  1,
		RatingCount5:  1,
	}
	return stats.Summary()
}

func TestSummaryCache_SetAndGet(t *testing.T) {
	cache, _ := setupTestCache(t)

	summary := sampleSummary()
	require.NoError(t, cache.Set(context.Background(), summary))

	got, err := cache.Get(context.Background(), summary.ProductID)
	require.NoError(t, err)
	assert.Equal(t, summary.ProductID, got.ProductID)
	assert.Equal(t, 4.5, got.AverageRating)
	assert.Equal(t, 2, got.ReviewCount)
	require.Len(t, got.Distribution, 5)
	assert.Equal(t, 5, got.Distribution[0].Rating)
	assert.Equal(t, 1, got.Distribution[0].Count)
}

func TestSummaryCache_Get_Miss(t *testing.T) {
	cache, _ := setupTestCache(t)

	got, err := cache.Get(context.Background(), "prod-cold")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSummaryCache_Get_CorruptEntry(t *testing.T) {
	cache, mr := setupTestCache(t)

	require.NoError(t, mr.Set("review_summary:prod-1", "{broken"))

	got, err := cache.Get(context.Background(), "prod-1")
	assert.Nil(t, got)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}

func TestSummaryCache_Set_AppliesTTL(t *testing.T) {
	cache, mr := setupTestCache(t)

	require.NoError(t, cache.Set(context.Background(), sampleSummary()))

	mr.FastForward(6 * time.Minute)

	_, err := cache.Get(context.Background(), "prod-1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSummaryCache_Invalidate(t *testing.T) {
	cache, mr := setupTestCache(t)

	summary := sampleSummary()
	data, err := json.Marshal(summary)
	require.NoError(t, err)
	require.NoError(t, mr.Set("review_summary:"+summary.ProductID, string(data)))

	require.NoError(t, cache.Invalidate(context.Background(), summary.ProductID))

	_, err = cache.Get(context.Background(), summary.ProductID)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSummaryCache_Invalidate_MissingKeyIsNoError(t *testing.T) {
	cache, _ := setupTestCache(t)
	assert.NoError(t, cache.Invalidate(context.Background(), "prod-never-cached"))
}
