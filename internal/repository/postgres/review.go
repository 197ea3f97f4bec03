package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/CrowCommerce/reviews-service/internal/domain"
	"github.com/CrowCommerce/reviews-service/pkg/database"
	apperrors "github.com/CrowCommerce/reviews-service/pkg/errors"
)

// notDeleted is the shared predicate excluding soft-deleted reviews. Every
// read and aggregate path filters through it.
const notDeleted = "deleted_at IS NULL"

// reviewColumns is the scan order shared by every reviews read.
const reviewColumns = `id, product_id, customer_id, first_name, last_name,
		       title, content, rating, status, created_at, updated_at`

// ReviewRepository implements review persistence using PostgreSQL. Mutations
// that move a review in or out of the counted set adjust review_stats inside
// the same transaction.
type ReviewRepository struct {
	pool database.DBTX
}

// NewReviewRepository creates a new PostgreSQL-backed review repository.
func NewReviewRepository(pool database.DBTX) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

// Create inserts a review and its images in one transaction. A review
// arriving in a counted status (imports, trusted sources) also increments
// the product's stats before commit.
func (r *ReviewRepository) Create(ctx context.Context, review *domain.Review) error {
	ctx, end := database.TraceQuery(ctx, "review.create", "INSERT INTO reviews")

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		end(err)
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO reviews (id, product_id, customer_id, first_name, last_name,
			title, content, rating, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = tx.Exec(ctx, query,
		review.ID,
		review.ProductID,
		review.CustomerID,
		review.FirstName,
		review.LastName,
		review.Title,
		review.Content,
		review.Rating,
		review.Status,
		review.CreatedAt,
		review.UpdatedAt,
	)
	if err != nil {
		end(err)
		return mapTxError("insert review", err)
	}

	for _, img := range review.Images {
		_, err = tx.Exec(ctx, `
			INSERT INTO review_images (id, review_id, url, sort_order, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			img.ID, review.ID, img.URL, img.SortOrder, img.CreatedAt,
		)
		if err != nil {
			end(err)
			return mapTxError("insert review image", err)
		}
	}

	if review.IsCounted() {
		if err := recordStats(ctx, tx, review.ProductID, review.Rating); err != nil {
			end(err)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		end(err)
		return mapTxError("commit review create", err)
	}

	end(nil)
	return nil
}

// GetByID retrieves a non-deleted review with its images and merchant
// response.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (*domain.Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE id = $1 AND ` + notDeleted

	ctx, end := database.TraceQuery(ctx, "review.get", query)

	review, err := scanReview(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		end(err)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get review: %w", err)
	}

	if err := r.attachExtras(ctx, []*domain.Review{review}); err != nil {
		end(err)
		return nil, err
	}

	end(nil)
	return review, nil
}

// ListByProduct returns non-deleted reviews for a product ordered newest
// first, plus the total count for pagination.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string, limit, offset int) ([]domain.Review, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + reviewColumns + `,
		       count(*) OVER() AS total_count
		FROM reviews
		WHERE product_id = $1 AND ` + notDeleted + `
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, "review.list", query)

	rows, err := r.pool.Query(ctx, query, productID, limit, offset)
	if err != nil {
		end(err)
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var (
		reviews    []domain.Review
		totalCount int
	)

	for rows.Next() {
		var rv domain.Review
		if err := rows.Scan(
			&rv.ID,
			&rv.ProductID,
			&rv.CustomerID,
			&rv.FirstName,
			&rv.LastName,
			&rv.Title,
			&rv.Content,
			&rv.Rating,
			&rv.Status,
			&rv.CreatedAt,
			&rv.UpdatedAt,
			&totalCount,
		); err != nil {
			end(err)
			return nil, 0, fmt.Errorf("scan review row: %w", err)
		}
		reviews = append(reviews, rv)
	}

	if err := rows.Err(); err != nil {
		end(err)
		return nil, 0, fmt.Errorf("iterate review rows: %w", err)
	}

	refs := make([]*domain.Review, len(reviews))
	for i := range reviews {
		refs[i] = &reviews[i]
	}
	if err := r.attachExtras(ctx, refs); err != nil {
		end(err)
		return nil, 0, err
	}

	if reviews == nil {
		reviews = []domain.Review{}
	}

	end(nil)
	return reviews, totalCount, nil
}

// SetStatus transitions the moderation status and keeps review_stats in
// lockstep: the review row is locked, the transition computed from the
// stored status and rating, and the stats adjustment applied before commit.
// The pre-transition status observed under the lock is returned alongside
// the updated review.
func (r *ReviewRepository) SetStatus(ctx context.Context, id, status string) (*domain.Review, string, error) {
	if !domain.IsValidReviewStatus(status) {
		return nil, "", apperrors.InvalidInput(fmt.Sprintf("invalid review status %q", status))
	}

	ctx, end := database.TraceQuery(ctx, "review.set_status", "UPDATE reviews SET status")

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		end(err)
		return nil, "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockQuery := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE id = $1 AND ` + notDeleted + `
		FOR UPDATE`

	review, err := scanReview(tx.QueryRow(ctx, lockQuery, id))
	if err != nil {
		end(err)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", apperrors.ErrNotFound
		}
		return nil, "", mapTxError("lock review for status change", err)
	}

	oldStatus := review.Status

	if oldStatus == status {
		end(nil)
		return review, oldStatus, nil
	}

	wasCounted := oldStatus == domain.ReviewStatusApproved
	isCounted := status == domain.ReviewStatusApproved

	_, err = tx.Exec(ctx, `UPDATE reviews SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		end(err)
		return nil, "", mapTxError("update review status", err)
	}

	switch {
	case !wasCounted && isCounted:
		err = recordStats(ctx, tx, review.ProductID, review.Rating)
	case wasCounted && !isCounted:
		err = removeStats(ctx, tx, review.ProductID, review.Rating)
	}
	if err != nil {
		end(err)
		return nil, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		end(err)
		return nil, "", mapTxError("commit status change", err)
	}

	review.Status = status
	end(nil)
	return review, oldStatus, nil
}

// SoftDelete marks a review deleted, keeping the row, and removes it from
// the aggregate if it was counted.
func (r *ReviewRepository) SoftDelete(ctx context.Context, id string) (*domain.Review, error) {
	ctx, end := database.TraceQuery(ctx, "review.soft_delete", "UPDATE reviews SET deleted_at")

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		end(err)
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockQuery := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE id = $1 AND ` + notDeleted + `
		FOR UPDATE`

	review, err := scanReview(tx.QueryRow(ctx, lockQuery, id))
	if err != nil {
		end(err)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, mapTxError("lock review for delete", err)
	}

	_, err = tx.Exec(ctx, `UPDATE reviews SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		end(err)
		return nil, mapTxError("soft delete review", err)
	}

	if review.Status == domain.ReviewStatusApproved {
		if err := removeStats(ctx, tx, review.ProductID, review.Rating); err != nil {
			end(err)
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		end(err)
		return nil, mapTxError("commit review delete", err)
	}

	end(nil)
	return review, nil
}

// UpsertResponse creates or replaces the single merchant response allowed
// per review.
func (r *ReviewRepository) UpsertResponse(ctx context.Context, response *domain.ReviewResponse) error {
	query := `
		INSERT INTO review_responses (id, review_id, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (review_id) DO UPDATE SET
			content = EXCLUDED.content,
			updated_at = EXCLUDED.updated_at`

	ctx, end := database.TraceQuery(ctx, "review.upsert_response", query)

	_, err := r.pool.Exec(ctx, query,
		response.ID,
		response.ReviewID,
		response.Content,
		response.CreatedAt,
		response.UpdatedAt,
	)
	if err != nil {
		end(err)
		return mapTxError("upsert review response", err)
	}

	end(nil)
	return nil
}

// attachExtras loads images and responses for the given reviews in two
// batched queries.
func (r *ReviewRepository) attachExtras(ctx context.Context, reviews []*domain.Review) error {
	if len(reviews) == 0 {
		return nil
	}

	ids := make([]string, len(reviews))
	byID := make(map[string]*domain.Review, len(reviews))
	for i, rv := range reviews {
		ids[i] = rv.ID
		byID[rv.ID] = rv
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, review_id, url, sort_order, created_at
		FROM review_images
		WHERE review_id = ANY($1)
		ORDER BY review_id, sort_order`, ids)
	if err != nil {
		return fmt.Errorf("list review images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var img domain.ReviewImage
		if err := rows.Scan(&img.ID, &img.ReviewID, &img.URL, &img.SortOrder, &img.CreatedAt); err != nil {
			return fmt.Errorf("scan review image row: %w", err)
		}
		if rv, ok := byID[img.ReviewID]; ok {
			rv.Images = append(rv.Images, img)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate review image rows: %w", err)
	}

	respRows, err := r.pool.Query(ctx, `
		SELECT id, review_id, content, created_at, updated_at
		FROM review_responses
		WHERE review_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("list review responses: %w", err)
	}
	defer respRows.Close()

	for respRows.Next() {
		var resp domain.ReviewResponse
		if err := respRows.Scan(&resp.ID, &resp.ReviewID, &resp.Content, &resp.CreatedAt, &resp.UpdatedAt); err != nil {
			return fmt.Errorf("scan review response row: %w", err)
		}
		if rv, ok := byID[resp.ReviewID]; ok {
			copied := resp
			rv.Response = &copied
		}
	}
	if err := respRows.Err(); err != nil {
		return fmt.Errorf("iterate review response rows: %w", err)
	}

	return nil
}

// scanReview reads one review row in reviewColumns order.
func scanReview(row pgx.Row) (*domain.Review, error) {
	var rv domain.Review
	err := row.Scan(
		&rv.ID,
		&rv.ProductID,
		&rv.CustomerID,
		&rv.FirstName,
		&rv.LastName,
		&rv.Title,
		&rv.Content,
		&rv.Rating,
		&rv.Status,
		&rv.CreatedAt,
		&rv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

// mapTxError classifies database failures. Serialization and deadlock
// errors surface as retryable conflicts so callers can retry the whole
// transaction; everything else is wrapped with the operation name.
func mapTxError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return apperrors.Conflict("concurrent update conflict, retry the request")
		case "23503":
			return apperrors.ErrNotFound
		case "23505":
			return apperrors.ErrAlreadyExists
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
