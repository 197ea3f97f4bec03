package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowCommerce/reviews-service/internal/domain"
	"github.com/CrowCommerce/reviews-service/pkg/database"
	apperrors "github.com/CrowCommerce/reviews-service/pkg/errors"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func setupReviewRepo(t *testing.T) (*ReviewRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	repo := NewReviewRepository(mock)
	return repo, mock
}

var reviewCols = []string{
	"id", "product_id", "customer_id", "first_name", "last_name",
	"title", "content", "rating", "status", "created_at", "updated_at",
}

var imageCols = []string{"id", "review_id", "url", "sort_order", "created_at"}

var responseCols = []string{"id", "review_id", "content", "created_at", "updated_at"}

func sampleReview() domain.Review {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	customerID := "cust-1"
	title := "Great value"
	return domain.Review{
		ID:         "rev-1",
		ProductID:  "prod-1",
		CustomerID: &customerID,
		FirstName:  "Ada",
		LastName:   "L",
		Title:      &title,
		Content:    "Exactly as described.",
		Rating:     5,
		Status:     domain.ReviewStatusPending,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

func reviewRow(rv domain.Review) *pgxmock.Rows {
	return pgxmock.NewRows(reviewCols).
		AddRow(rv.ID, rv.ProductID, rv.CustomerID, rv.FirstName, rv.LastName,
			rv.Title, rv.Content, rv.Rating, rv.Status, rv.CreatedAt, rv.UpdatedAt)
}

func expectExtras(mock pgxmock.PgxPoolIface, ids []string) {
	mock.ExpectQuery("SELECT .+ FROM review_images WHERE review_id = ANY").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows(imageCols))
	mock.ExpectQuery("SELECT .+ FROM review_responses WHERE review_id = ANY").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows(responseCols))
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestReviewRepository_Create_PendingDoesNotTouchStats(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reviews").
		WithArgs(rv.ID, rv.ProductID, rv.CustomerID, rv.FirstName, rv.LastName,
			rv.Title, rv.Content, rv.Rating, rv.Status, rv.CreatedAt, rv.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), &rv))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_Create_ApprovedRecordsStatsInSameTx(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	rv.Status = domain.ReviewStatusApproved

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reviews").
		WithArgs(rv.ID, rv.ProductID, rv.CustomerID, rv.FirstName, rv.LastName,
			rv.Title, rv.Content, rv.Rating, rv.Status, rv.CreatedAt, rv.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO review_stats .+ ON CONFLICT \\(product_id\\) DO UPDATE SET").
		WithArgs(rv.ProductID, rv.Rating).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), &rv))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_Create_WithImages(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	rv.Images = []domain.ReviewImage{
		{ID: "img-1", URL: "https://cdn.example.com/1.jpg", SortOrder: 0, CreatedAt: rv.CreatedAt},
		{ID: "img-2", URL: "https://cdn.example.com/2.jpg", SortOrder: 1, CreatedAt: rv.CreatedAt},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reviews").
		WithArgs(rv.ID, rv.ProductID, rv.CustomerID, rv.FirstName, rv.LastName,
			rv.Title, rv.Content, rv.Rating, rv.Status, rv.CreatedAt, rv.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO review_images").
		WithArgs("img-1", rv.ID, "https://cdn.example.com/1.jpg", 0, rv.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO review_images").
		WithArgs("img-2", rv.ID, "https://cdn.example.com/2.jpg", 1, rv.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), &rv))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_Create_InsertFailureRollsBack(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reviews").
		WithArgs(rv.ID, rv.ProductID, rv.CustomerID, rv.FirstName, rv.LastName,
			rv.Title, rv.Content, rv.Rating, rv.Status, rv.CreatedAt, rv.UpdatedAt).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	assert.Error(t, repo.Create(context.Background(), &rv))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestReviewRepository_GetByID_Success(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id = .+ AND deleted_at IS NULL").
		WithArgs(rv.ID).
		WillReturnRows(reviewRow(rv))
	mock.ExpectQuery("SELECT .+ FROM review_images WHERE review_id = ANY").
		WithArgs([]string{rv.ID}).
		WillReturnRows(pgxmock.NewRows(imageCols).
			AddRow("img-1", rv.ID, "https://cdn.example.com/1.jpg", 0, rv.CreatedAt))
	mock.ExpectQuery("SELECT .+ FROM review_responses WHERE review_id = ANY").
		WithArgs([]string{rv.ID}).
		WillReturnRows(pgxmock.NewRows(responseCols).
			AddRow("resp-1", rv.ID, "Thanks for the feedback!", rv.CreatedAt, rv.CreatedAt))

	result, err := repo.GetByID(context.Background(), rv.ID)
	require.NoError(t, err)
	assert.Equal(t, rv.ID, result.ID)
	assert.Len(t, result.Images, 1)
	require.NotNil(t, result.Response)
	assert.Equal(t, "Thanks for the feedback!", result.Response.Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id = .+ AND deleted_at IS NULL").
		WithArgs("rev-x").
		WillReturnError(pgx.ErrNoRows)

	result, err := repo.GetByID(context.Background(), "rev-x")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// ListByProduct
// ---------------------------------------------------------------------------

func TestReviewRepository_ListByProduct_ReturnsTotalCount(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	other := sampleReview()
	other.ID = "rev-2"
	other.Rating = 3

	listCols := append(append([]string{}, reviewCols...), "total_count")
	mock.ExpectQuery("SELECT .+ count\\(\\*\\) OVER\\(\\) AS total_count FROM reviews").
		WithArgs(rv.ProductID, 20, 0).
		WillReturnRows(pgxmock.NewRows(listCols).
			AddRow(rv.ID, rv.ProductID, rv.CustomerID, rv.FirstName, rv.LastName,
				rv.Title, rv.Content, rv.Rating, rv.Status, rv.CreatedAt, rv.UpdatedAt, 42).
			AddRow(other.ID, other.ProductID, other.CustomerID, other.FirstName, other.LastName,
				other.Title, other.Content, other.Rating, other.Status, other.CreatedAt, other.UpdatedAt, 42))
	expectExtras(mock, []string{rv.ID, other.ID})

	reviews, total, err := repo.ListByProduct(context.Background(), rv.ProductID, 20, 0)
	require.NoError(t, err)
	assert.Len(t, reviews, 2)
	assert.Equal(t, 42, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_ListByProduct_EmptyPage(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	listCols := append(append([]string{}, reviewCols...), "total_count")
	mock.ExpectQuery("SELECT .+ count\\(\\*\\) OVER\\(\\) AS total_count FROM reviews").
		WithArgs("prod-empty", 20, 40).
		WillReturnRows(pgxmock.NewRows(listCols))

	reviews, total, err := repo.ListByProduct(context.Background(), "prod-empty", 20, 40)
	require.NoError(t, err)
	assert.NotNil(t, reviews)
	assert.Empty(t, reviews)
	assert.Equal(t, 0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// SetStatus
// ---------------------------------------------------------------------------

func TestReviewRepository_SetStatus_ApproveIncrementsStats(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id = .+ FOR UPDATE").
		WithArgs(rv.ID).
		WillReturnRows(reviewRow(rv))
	mock.ExpectExec("UPDATE reviews SET status").
		WithArgs(rv.ID, domain.ReviewStatusApproved).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO review_stats .+ ON CONFLICT \\(product_id\\) DO UPDATE SET").
		WithArgs(rv.ProductID, rv.Rating).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	result, oldStatus, err := repo.SetStatus(context.Background(), rv.ID, domain.ReviewStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusApproved, result.Status)
	assert.Equal(t, domain.ReviewStatusPending, oldStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_SetStatus_UnapproveDecrementsWithStoredRating(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	rv.Status = domain.ReviewStatusApproved
	rv.Rating = 2

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id = .+ FOR UPDATE").
		WithArgs(rv.ID).
		WillReturnRows(reviewRow(rv))
	mock.ExpectExec("UPDATE reviews SET status").
		WithArgs(rv.ID, domain.ReviewStatusFlagged).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE review_stats SET").
		WithArgs(rv.ProductID, 2).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("stats-1"))
	mock.ExpectCommit()

	result, oldStatus, err := repo.SetStatus(context.Background(), rv.ID, domain.ReviewStatusFlagged)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusFlagged, result.Status)
	assert.Equal(t, domain.ReviewStatusApproved, oldStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_SetStatus_PendingToFlaggedSkipsStats(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id = .+ FOR UPDATE").
		WithArgs(rv.ID).
		WillReturnRows(reviewRow(rv))
	mock.ExpectExec("UPDATE reviews SET status").
		WithArgs(rv.ID, domain.ReviewStatusFlagged).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	_, _, err := repo.SetStatus(context.Background(), rv.ID, domain.ReviewStatusFlagged)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_SetStatus_SameStatusIsNoOp(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id = .+ FOR UPDATE").
		WithArgs(rv.ID).
		WillReturnRows(reviewRow(rv))
	mock.ExpectRollback()

	result, oldStatus, err := repo.SetStatus(context.Background(), rv.ID, domain.ReviewStatusPending)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusPending, result.Status)
	assert.Equal(t, domain.ReviewStatusPending, oldStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_SetStatus_InvalidStatusRejected(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	_, _, err := repo.SetStatus(context.Background(), "rev-1", "rejected")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_SetStatus_SerializationFailureIsRetryableConflict(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id = .+ FOR UPDATE").
		WithArgs(rv.ID).
		WillReturnRows(reviewRow(rv))
	mock.ExpectExec("UPDATE reviews SET status").
		WithArgs(rv.ID, domain.ReviewStatusApproved).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()

	_, _, err := repo.SetStatus(context.Background(), rv.ID, domain.ReviewStatusApproved)
	assert.True(t, apperrors.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// SoftDelete
// ---------------------------------------------------------------------------

func TestReviewRepository_SoftDelete_ApprovedDecrementsStats(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	rv.Status = domain.ReviewStatusApproved

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id = .+ FOR UPDATE").
		WithArgs(rv.ID).
		WillReturnRows(reviewRow(rv))
	mock.ExpectExec("UPDATE reviews SET deleted_at").
		WithArgs(rv.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE review_stats SET").
		WithArgs(rv.ProductID, rv.Rating).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("stats-1"))
	mock.ExpectCommit()

	result, err := repo.SoftDelete(context.Background(), rv.ID)
	require.NoError(t, err)
	assert.Equal(t, rv.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_SoftDelete_PendingSkipsStats(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id = .+ FOR UPDATE").
		WithArgs(rv.ID).
		WillReturnRows(reviewRow(rv))
	mock.ExpectExec("UPDATE reviews SET deleted_at").
		WithArgs(rv.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	_, err := repo.SoftDelete(context.Background(), rv.ID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_SoftDelete_AlreadyDeletedNotFound(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id = .+ FOR UPDATE").
		WithArgs("rev-gone").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.SoftDelete(context.Background(), "rev-gone")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_SoftDelete_MissingStatsRowSurfaces(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	rv := sampleReview()
	rv.Status = domain.ReviewStatusApproved

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id = .+ FOR UPDATE").
		WithArgs(rv.ID).
		WillReturnRows(reviewRow(rv))
	mock.ExpectExec("UPDATE reviews SET deleted_at").
		WithArgs(rv.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE review_stats SET").
		WithArgs(rv.ProductID, rv.Rating).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.SoftDelete(context.Background(), rv.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// UpsertResponse
// ---------------------------------------------------------------------------

func TestReviewRepository_UpsertResponse(t *testing.T) {
	repo, mock := setupReviewRepo(t)
	defer mock.Close()

	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	resp := domain.ReviewResponse{
		ID:        "resp-1",
		ReviewID:  "rev-1",
		Content:   "We appreciate the feedback.",
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	mock.ExpectExec("INSERT INTO review_responses .+ ON CONFLICT \\(review_id\\) DO UPDATE SET").
		WithArgs(resp.ID, resp.ReviewID, resp.Content, resp.CreatedAt, resp.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertResponse(context.Background(), &resp))
	assert.NoError(t, mock.ExpectationsWereMet())
}
