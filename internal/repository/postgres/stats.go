package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/CrowCommerce/reviews-service/internal/domain"
	"github.com/CrowCommerce/reviews-service/pkg/database"
	apperrors "github.com/CrowCommerce/reviews-service/pkg/errors"
)

// statsColumns is the scan order shared by every review_stats read.
const statsColumns = `id, product_id, average_rating, review_count,
		       rating_count_1, rating_count_2, rating_count_3, rating_count_4, rating_count_5,
		       created_at, updated_at`

// StatsRepository implements aggregate reads and repair against PostgreSQL.
// The write paths live on ReviewRepository so review and stats mutations
// share a transaction.
type StatsRepository struct {
	pool database.DBTX
}

// NewStatsRepository creates a new PostgreSQL-backed stats repository.
func NewStatsRepository(pool database.DBTX) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// Get retrieves the stats row for a product. A product that has never had a
// counted review reports the zero aggregate rather than an error.
func (r *StatsRepository) Get(ctx context.Context, productID string) (*domain.ReviewStats, error) {
	query := `
		SELECT ` + statsColumns + `
		FROM review_stats
		WHERE product_id = $1`

	ctx, end := database.TraceQuery(ctx, "stats.get", query)

	stats, err := scanStats(r.pool.QueryRow(ctx, query, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			end(nil)
			return domain.EmptyStats(productID), nil
		}
		end(err)
		return nil, fmt.Errorf("get review stats: %w", err)
	}

	end(nil)
	return stats, nil
}

// Recompute rebuilds the stats row from a scan of the counted reviews. The
// single statement makes the repair atomic with respect to concurrent
// increments on the same row.
func (r *StatsRepository) Recompute(ctx context.Context, productID string) (*domain.ReviewStats, error) {
	query := `
		INSERT INTO review_stats (product_id, average_rating, review_count,
			rating_count_1, rating_count_2, rating_count_3, rating_count_4, rating_count_5,
			created_at, updated_at)
		SELECT $1,
		       COALESCE(ROUND(AVG(rating)::numeric, 2), 0),
		       COUNT(*),
		       COUNT(*) FILTER (WHERE rating = 1),
		       COUNT(*) FILTER (WHERE rating = 2),
		       COUNT(*) FILTER (WHERE rating = 3),
		       COUNT(*) FILTER (WHERE rating = 4),
		       COUNT(*) FILTER (WHERE rating = 5),
		       NOW(), NOW()
		FROM reviews
		WHERE product_id = $1 AND status = 'approved' AND deleted_at IS NULL
		ON CONFLICT (product_id) DO UPDATE SET
			average_rating = EXCLUDED.average_rating,
			review_count = EXCLUDED.review_count,
			rating_count_1 = EXCLUDED.rating_count_1,
			rating_count_2 = EXCLUDED.rating_count_2,
			rating_count_3 = EXCLUDED.rating_count_3,
			rating_count_4 = EXCLUDED.rating_count_4,
			rating_count_5 = EXCLUDED.rating_count_5,
			updated_at = NOW()
		RETURNING ` + statsColumns

	ctx, end := database.TraceQuery(ctx, "stats.recompute", query)

	stats, err := scanStats(r.pool.QueryRow(ctx, query, productID))
	if err != nil {
		end(err)
		return nil, mapTxError("recompute review stats", err)
	}

	end(nil)
	return stats, nil
}

// scanStats reads one review_stats row in statsColumns order.
func scanStats(row pgx.Row) (*domain.ReviewStats, error) {
	var s domain.ReviewStats
	err := row.Scan(
		&s.ID,
		&s.ProductID,
		&s.AverageRating,
		&s.ReviewCount,
		&s.RatingCount1,
		&s.RatingCount2,
		&s.RatingCount3,
		&s.RatingCount4,
		&s.RatingCount5,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// recordStats folds one counted review into the product's aggregate. The
// upsert both creates the row on first use and increments an existing one,
// all in a single statement so concurrent writers serialize on the row.
func recordStats(ctx context.Context, q database.DBTX, productID string, rating int) error {
	if !domain.IsValidRating(rating) {
		return apperrors.InvalidInput(fmt.Sprintf("rating %d out of range", rating))
	}

	counters := []string{"0", "0", "0", "0", "0"}
	counters[rating-1] = "1"
	col := fmt.Sprintf("rating_count_%d", rating)

	query := fmt.Sprintf(`
		INSERT INTO review_stats (product_id, average_rating, review_count,
			rating_count_1, rating_count_2, rating_count_3, rating_count_4, rating_count_5,
			created_at, updated_at)
		VALUES ($1, $2, 1, %s, %s, %s, %s, %s, NOW(), NOW())
		ON CONFLICT (product_id) DO UPDATE SET
			review_count = review_stats.review_count + 1,
			%s = review_stats.%s + 1,
			average_rating = ROUND(
				((review_stats.rating_count_1 + 2 * review_stats.rating_count_2 +
				  3 * review_stats.rating_count_3 + 4 * review_stats.rating_count_4 +
				  5 * review_stats.rating_count_5)::numeric + $2)
				/ (review_stats.review_count + 1), 2),
			updated_at = NOW()`,
		counters[0], counters[1], counters[2], counters[3], counters[4], col, col)

	if _, err := q.Exec(ctx, query, productID, rating); err != nil {
		return mapTxError("record review in stats", err)
	}

	return nil
}

// removeStats folds one counted review out of the product's aggregate. The
// row is zeroed when the last counted review leaves; a missing row is an
// error because removal implies a prior record.
func removeStats(ctx context.Context, q database.DBTX, productID string, rating int) error {
	if !domain.IsValidRating(rating) {
		return apperrors.InvalidInput(fmt.Sprintf("rating %d out of range", rating))
	}

	col := fmt.Sprintf("rating_count_%d", rating)

	query := fmt.Sprintf(`
		UPDATE review_stats SET
			review_count = review_count - 1,
			%s = %s - 1,
			average_rating = CASE
				WHEN review_count - 1 = 0 THEN 0
				ELSE ROUND(
					((rating_count_1 + 2 * rating_count_2 + 3 * rating_count_3 +
					  4 * rating_count_4 + 5 * rating_count_5)::numeric - $2)
					/ (review_count - 1), 2)
			END,
			updated_at = NOW()
		WHERE product_id = $1
		RETURNING id`, col, col)

	var id string
	if err := q.QueryRow(ctx, query, productID, rating).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("review stats for product", productID)
		}
		return mapTxError("remove review from stats", err)
	}

	return nil
}
