package repository

import (
	"context"

	"github.com/CrowCommerce/reviews-service/internal/domain"
)

// ReviewRepository defines the interface for review persistence operations.
// Every mutation that changes the counted review set also applies the
// matching review_stats adjustment inside the same transaction.
type ReviewRepository interface {
	// Create inserts a new review together with its images. A review
	// created in a counted status also increments the product's stats.
	Create(ctx context.Context, review *domain.Review) error

	// GetByID retrieves a non-deleted review with its images and response.
	GetByID(ctx context.Context, id string) (*domain.Review, error)

	// ListByProduct returns non-deleted reviews for a product ordered
	// newest first, along with the total count.
	ListByProduct(ctx context.Context, productID string, limit, offset int) ([]domain.Review, int, error)

	// SetStatus transitions a review's moderation status and adjusts the
	// product's stats when the review enters or leaves the counted set.
	// The rating stored on the review row is used for the adjustment. The
	// returned old status is read under the row lock, so callers can rely
	// on it for no-op detection and change notifications.
	SetStatus(ctx context.Context, id, status string) (*domain.Review, string, error)

	// SoftDelete marks a review deleted and removes it from the stats if
	// it was counted. The review row is retained.
	SoftDelete(ctx context.Context, id string) (*domain.Review, error)

	// UpsertResponse creates or replaces the merchant response for a review.
	UpsertResponse(ctx context.Context, response *domain.ReviewResponse) error
}

// StatsRepository defines the interface for aggregate read and repair
// operations on review_stats.
type StatsRepository interface {
	// Get retrieves the stats row for a product. Products with no row yet
	// report the zero aggregate.
	Get(ctx context.Context, productID string) (*domain.ReviewStats, error)

	// Recompute rebuilds the stats row from the counted reviews in a
	// single statement and returns the repaired row.
	Recompute(ctx context.Context, productID string) (*domain.ReviewStats, error)
}
