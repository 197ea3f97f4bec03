package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/CrowCommerce/reviews-service/internal/cache"
	"github.com/CrowCommerce/reviews-service/internal/domain"
	"github.com/CrowCommerce/reviews-service/internal/repository"
	apperrors "github.com/CrowCommerce/reviews-service/pkg/errors"
)

// productLookupTimeout bounds the outbound product-existence check so a slow
// product service cannot stall review submission.
const productLookupTimeout = 2 * time.Second

// HTTPDoer is the interface for executing HTTP requests. Both
// httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// EventPublisher defines the outbound event surface the service uses.
// Publishing is outside the consistency contract: failures are logged and
// the request still succeeds.
type EventPublisher interface {
	PublishReviewCreated(ctx context.Context, review *domain.Review) error
	PublishReviewStatusChanged(ctx context.Context, review *domain.Review, oldStatus string) error
	PublishReviewDeleted(ctx context.Context, review *domain.Review) error
}

// SummaryCache defines the read cache for product summaries. A nil-safe
// no-op implementation may be substituted when Redis is disabled.
type SummaryCache interface {
	Get(ctx context.Context, productID string) (*domain.ReviewSummary, error)
	Set(ctx context.Context, summary *domain.ReviewSummary) error
	Invalidate(ctx context.Context, productID string) error
}

// CreateReviewInput holds the parameters for submitting a review.
type CreateReviewInput struct {
	ProductID  string
	CustomerID *string
	FirstName  string
	LastName   string
	Title      *string
	Content    string
	Rating     int
	ImageURLs  []string
}

// ReviewListResult bundles a page of reviews with the product's aggregate.
type ReviewListResult struct {
	Reviews    []domain.Review       `json:"reviews"`
	Summary    *domain.ReviewSummary `json:"summary"`
	TotalCount int                   `json:"total_count"`
	Page       int                   `json:"page"`
	PerPage    int                   `json:"per_page"`
	TotalPages int                   `json:"total_pages"`
	HasMore    bool                  `json:"has_more"`
}

// ReviewService implements the business logic for review operations.
type ReviewService struct {
	reviews           repository.ReviewRepository
	stats             repository.StatsRepository
	cache             SummaryCache
	events            EventPublisher
	logger            *slog.Logger
	productClient     HTTPDoer
	productServiceURL string
}

// NewReviewService creates a new review service.
func NewReviewService(
	reviews repository.ReviewRepository,
	stats repository.StatsRepository,
	cache SummaryCache,
	events EventPublisher,
	logger *slog.Logger,
) *ReviewService {
	return &ReviewService{
		reviews: reviews,
		stats:   stats,
		cache:   cache,
		events:  events,
		logger:  logger,
	}
}

// WithProductGateway returns a copy of the service that verifies the target
// product exists before accepting a review. Without a gateway, submissions
// are accepted for any product id.
func (s *ReviewService) WithProductGateway(client HTTPDoer, baseURL string) *ReviewService {
	cpy := *s
	cpy.productClient = client
	cpy.productServiceURL = baseURL
	return &cpy
}

// CreateReview stores a new review in pending status. Pending reviews do not
// contribute to the product aggregate until a moderation decision approves
// them.
func (s *ReviewService) CreateReview(ctx context.Context, input *CreateReviewInput) (*domain.Review, error) {
	if input.ProductID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}
	if input.FirstName == "" || input.LastName == "" {
		return nil, apperrors.InvalidInput("reviewer first and last name are required")
	}
	if input.Content == "" {
		return nil, apperrors.InvalidInput("content is required")
	}
	if !domain.IsValidRating(input.Rating) {
		return nil, apperrors.InvalidInput("rating must be between 1 and 5")
	}

	if err := s.checkProductExists(ctx, input.ProductID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	review := &domain.Review{
		ID:         uuid.New().String(),
		ProductID:  input.ProductID,
		CustomerID: input.CustomerID,
		FirstName:  input.FirstName,
		LastName:   input.LastName,
		Title:      input.Title,
		Content:    input.Content,
		Rating:     input.Rating,
		Status:     domain.ReviewStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, url := range input.ImageURLs {
		review.Images = append(review.Images, domain.ReviewImage{
			ID:        uuid.New().String(),
			ReviewID:  review.ID,
			URL:       url,
			SortOrder: i,
			CreatedAt: now,
		})
	}

	if err := s.reviews.Create(ctx, review); err != nil {
		return nil, fmt.Errorf("create review: %w", err)
	}

	s.logger.InfoContext(ctx, "review created",
		slog.String("review_id", review.ID),
		slog.String("product_id", review.ProductID),
		slog.Int("rating", review.Rating),
	)

	s.publish(ctx, "review.created", func() error {
		return s.events.PublishReviewCreated(ctx, review)
	})

	return review, nil
}

// checkProductExists asks the product service whether the target product
// exists. A confirmed 404 rejects the submission; transport failures and
// open-breaker rejections are logged and the review is accepted, so a
// product service outage never blocks review intake.
func (s *ReviewService) checkProductExists(ctx context.Context, productID string) error {
	if s.productClient == nil || s.productServiceURL == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, productLookupTimeout)
	defer cancel()

	lookupURL := s.productServiceURL + "/api/v1/products/" + url.PathEscape(productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create product lookup request: %w", err)
	}

	resp, err := s.productClient.Do(ctx, req)
	if err != nil {
		s.logger.WarnContext(ctx, "product lookup unavailable, accepting review",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFound("product", productID)
	default:
		s.logger.WarnContext(ctx, "unexpected product lookup status, accepting review",
			slog.String("product_id", productID),
			slog.Int("status", resp.StatusCode),
		)
		return nil
	}
}

// GetReview retrieves a single review with images and merchant response.
func (s *ReviewService) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	review, err := s.reviews.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return review, nil
}

// ListReviews returns a page of non-deleted reviews newest first, together
// with the product's aggregate summary.
func (s *ReviewService) ListReviews(ctx context.Context, productID string, page, perPage int) (*ReviewListResult, error) {
	if productID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	offset := (page - 1) * perPage

	reviews, total, err := s.reviews.ListByProduct(ctx, productID, perPage, offset)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}

	summary, err := s.GetSummary(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get review summary: %w", err)
	}

	totalPages := total / perPage
	if total%perPage > 0 {
		totalPages++
	}

	return &ReviewListResult{
		Reviews:    reviews,
		Summary:    summary,
		TotalCount: total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		HasMore:    offset+len(reviews) < total,
	}, nil
}

// GetSummary returns the product's aggregate with a fully populated star
// distribution, served from cache when warm. Cache failures fall through to
// the database.
func (s *ReviewService) GetSummary(ctx context.Context, productID string) (*domain.ReviewSummary, error) {
	cached, err := s.cache.Get(ctx, productID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.WarnContext(ctx, "summary cache read failed, falling back to database",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	stats, err := s.stats.Get(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get review stats: %w", err)
	}

	summary := stats.Summary()
	if err := s.cache.Set(ctx, summary); err != nil {
		s.logger.WarnContext(ctx, "failed to cache review summary",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	return summary, nil
}

// ModerateReview transitions a review's moderation status. Approving adds
// the review to the product aggregate; flagging or un-approving removes it.
func (s *ReviewService) ModerateReview(ctx context.Context, reviewID, status string) (*domain.Review, error) {
	if !domain.IsValidReviewStatus(status) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid review status %q", status))
	}

	updated, oldStatus, err := s.reviews.SetStatus(ctx, reviewID, status)
	if err != nil {
		return nil, err
	}

	if oldStatus == updated.Status {
		return updated, nil
	}

	s.invalidateSummary(ctx, updated.ProductID)

	s.logger.InfoContext(ctx, "review status changed",
		slog.String("review_id", reviewID),
		slog.String("old_status", oldStatus),
		slog.String("new_status", updated.Status),
	)

	s.publish(ctx, "review.status_changed", func() error {
		return s.events.PublishReviewStatusChanged(ctx, updated, oldStatus)
	})

	return updated, nil
}

// DeleteReview soft-deletes a review, removing it from the aggregate if it
// was counted.
func (s *ReviewService) DeleteReview(ctx context.Context, reviewID string) error {
	review, err := s.reviews.SoftDelete(ctx, reviewID)
	if err != nil {
		return err
	}

	if review.Status == domain.ReviewStatusApproved {
		s.invalidateSummary(ctx, review.ProductID)
	}

	s.logger.InfoContext(ctx, "review deleted",
		slog.String("review_id", reviewID),
		slog.String("product_id", review.ProductID),
	)

	s.publish(ctx, "review.deleted", func() error {
		return s.events.PublishReviewDeleted(ctx, review)
	})

	return nil
}

// RespondToReview creates or replaces the merchant response on a review.
func (s *ReviewService) RespondToReview(ctx context.Context, reviewID, content string) (*domain.ReviewResponse, error) {
	if content == "" {
		return nil, apperrors.InvalidInput("content is required")
	}

	if _, err := s.reviews.GetByID(ctx, reviewID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	response := &domain.ReviewResponse{
		ID:        uuid.New().String(),
		ReviewID:  reviewID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.reviews.UpsertResponse(ctx, response); err != nil {
		return nil, fmt.Errorf("respond to review: %w", err)
	}

	s.logger.InfoContext(ctx, "merchant response saved",
		slog.String("review_id", reviewID),
	)

	return response, nil
}

// RecomputeStats rebuilds the product aggregate from the counted reviews.
// Used by the admin reconciliation endpoint to repair drift.
func (s *ReviewService) RecomputeStats(ctx context.Context, productID string) (*domain.ReviewStats, error) {
	if productID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}

	stats, err := s.stats.Recompute(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("recompute review stats: %w", err)
	}

	s.invalidateSummary(ctx, productID)

	s.logger.InfoContext(ctx, "review stats recomputed",
		slog.String("product_id", productID),
		slog.Int("review_count", stats.ReviewCount),
	)

	return stats, nil
}

// invalidateSummary drops the cached summary, logging failures without
// surfacing them.
func (s *ReviewService) invalidateSummary(ctx context.Context, productID string) {
	if err := s.cache.Invalidate(ctx, productID); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate summary cache",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}
}

// publish runs an event publish, logging failures without surfacing them.
func (s *ReviewService) publish(ctx context.Context, name string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish event",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}
