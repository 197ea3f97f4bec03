package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CrowCommerce/reviews-service/internal/domain"
	pkgkafka "github.com/CrowCommerce/reviews-service/pkg/kafka"
)

// Kafka topics for review domain events.
const (
	TopicReviewCreated       = "commerce.review.created"
	TopicReviewStatusChanged = "commerce.review.status_changed"
	TopicReviewDeleted       = "commerce.review.deleted"
)

// Aggregate type constant.
const AggregateTypeReview = "review"

// Source identifier for events originating from this service.
const SourceReviewsService = "reviews-service"

// ReviewCreatedData is the payload for a review.created event.
type ReviewCreatedData struct {
	ReviewID   string  `json:"review_id"`
	ProductID  string  `json:"product_id"`
	CustomerID *string `json:"customer_id,omitempty"`
	Rating     int     `json:"rating"`
	Status     string  `json:"status"`
}

// ReviewStatusChangedData is the payload for a review.status_changed event.
type ReviewStatusChangedData struct {
	ReviewID  string `json:"review_id"`
	ProductID string `json:"product_id"`
	Rating    int    `json:"rating"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// ReviewDeletedData is the payload for a review.deleted event.
type ReviewDeletedData struct {
	ReviewID  string `json:"review_id"`
	ProductID string `json:"product_id"`
	Rating    int    `json:"rating"`
	Status    string `json:"status"`
}

// Producer publishes review domain events to Kafka. Publishing is
// fire-and-forget with respect to the aggregate consistency contract: a
// failed publish is logged by the caller but never rolls back the write.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the reviews service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishReviewCreated publishes a review.created event.
func (p *Producer) PublishReviewCreated(ctx context.Context, review *domain.Review) error {
	data := ReviewCreatedData{
		ReviewID:   review.ID,
		ProductID:  review.ProductID,
		CustomerID: review.CustomerID,
		Rating:     review.Rating,
		Status:     review.Status,
	}

	event, err := pkgkafka.NewEvent(TopicReviewCreated, review.ProductID, AggregateTypeReview, SourceReviewsService, data)
	if err != nil {
		return fmt.Errorf("create review.created event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicReviewCreated, event); err != nil {
		return fmt.Errorf("publish review.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published review.created event",
		slog.String("review_id", review.ID),
		slog.String("product_id", review.ProductID),
	)

	return nil
}

// PublishReviewStatusChanged publishes a review.status_changed event.
func (p *Producer) PublishReviewStatusChanged(ctx context.Context, review *domain.Review, oldStatus string) error {
	data := ReviewStatusChangedData{
		ReviewID:  review.ID,
		ProductID: review.ProductID,
		Rating:    review.Rating,
		OldStatus: oldStatus,
		NewStatus: review.Status,
	}

	event, err := pkgkafka.NewEvent(TopicReviewStatusChanged, review.ProductID, AggregateTypeReview, SourceReviewsService, data)
	if err != nil {
		return fmt.Errorf("create review.status_changed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicReviewStatusChanged, event); err != nil {
		return fmt.Errorf("publish review.status_changed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published review.status_changed event",
		slog.String("review_id", review.ID),
		slog.String("old_status", oldStatus),
		slog.String("new_status", review.Status),
	)

	return nil
}

// PublishReviewDeleted publishes a review.deleted event.
func (p *Producer) PublishReviewDeleted(ctx context.Context, review *domain.Review) error {
	data := ReviewDeletedData{
		ReviewID:  review.ID,
		ProductID: review.ProductID,
		Rating:    review.Rating,
		Status:    review.Status,
	}

	event, err := pkgkafka.NewEvent(TopicReviewDeleted, review.ProductID, AggregateTypeReview, SourceReviewsService, data)
	if err != nil {
		return fmt.Errorf("create review.deleted event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicReviewDeleted, event); err != nil {
		return fmt.Errorf("publish review.deleted event: %w", err)
	}

	p.logger.DebugContext(ctx, "published review.deleted event",
		slog.String("review_id", review.ID),
		slog.String("product_id", review.ProductID),
	)

	return nil
}
