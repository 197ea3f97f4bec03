package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/CrowCommerce/reviews-service/internal/domain"
	pkgkafka "github.com/CrowCommerce/reviews-service/pkg/kafka"
)

// Kafka topics consumed by the reviews service.
const (
	TopicModerationDecision = "commerce.moderation.decision"
)

// ConsumerGroupModeration identifies this service's moderation consumer group.
const ConsumerGroupModeration = "reviews-service-moderation"

// ReviewModerator defines the service interface required by the consumer.
type ReviewModerator interface {
	ModerateReview(ctx context.Context, reviewID, status string) (*domain.Review, error)
}

// ModerationDecisionData is the expected payload of a moderation.decision
// event produced by the moderation workflow.
type ModerationDecisionData struct {
	ReviewID string `json:"review_id"`
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// Consumer processes moderation decisions from Kafka, driving the same
// status-transition path as the HTTP moderation endpoint.
type Consumer struct {
	service ReviewModerator
	logger  *slog.Logger
}

// NewConsumer creates a new event consumer for the reviews service.
func NewConsumer(service ReviewModerator, logger *slog.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

// HandleModerationDecision applies a moderation decision to the review.
// Decisions carry the target status directly (approved or flagged).
func (c *Consumer) HandleModerationDecision(ctx context.Context, event *pkgkafka.Event) error {
	var data ModerationDecisionData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal moderation.decision data: %w", err)
	}

	if !domain.IsValidReviewStatus(data.Decision) {
		return fmt.Errorf("moderation.decision for review %s carries unknown decision %q", data.ReviewID, data.Decision)
	}

	c.logger.InfoContext(ctx, "processing moderation.decision event",
		slog.String("review_id", data.ReviewID),
		slog.String("decision", data.Decision),
	)

	if _, err := c.service.ModerateReview(ctx, data.ReviewID, data.Decision); err != nil {
		return fmt.Errorf("apply moderation decision to review %s: %w", data.ReviewID, err)
	}

	c.logger.InfoContext(ctx, "moderation decision applied",
		slog.String("review_id", data.ReviewID),
		slog.String("decision", data.Decision),
	)

	return nil
}
