package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/CrowCommerce/reviews-service/internal/cache"
	"github.com/CrowCommerce/reviews-service/internal/domain"
	"github.com/CrowCommerce/reviews-service/internal/service"
	apperrors "github.com/CrowCommerce/reviews-service/pkg/errors"
	"github.com/CrowCommerce/reviews-service/pkg/httputil"
)

// ============================================================================
// Mock Repositories
// ============================================================================

type mockReviewRepository struct {
	mock.Mock
}

func (m *mockReviewRepository) Create(ctx context.Context, review *domain.Review) error {
	args := m.Called(ctx, review)
	return args.Error(0)
}

func (m *mockReviewRepository) GetByID(ctx context.Context, id string) (*domain.Review, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Review), args.Error(1)
}

func (m *mockReviewRepository) ListByProduct(ctx context.Context, productID string, limit, offset int) ([]domain.Review, int, error) {
	args := m.Called(ctx, productID, limit, offset)
	return args.Get(0).([]domain.Review), args.Int(1), args.Error(2)
}

func (m *mockReviewRepository) SetStatus(ctx context.Context, id, status string) (*domain.Review, string, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(*domain.Review), args.String(1), args.Error(2)
}

func (m *mockReviewRepository) SoftDelete(ctx context.Context, id string) (*domain.Review, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Review), args.Error(1)
}

func (m *mockReviewRepository) UpsertResponse(ctx context.Context, response *domain.ReviewResponse) error {
	args := m.Called(ctx, response)
	return args.Error(0)
}

type mockStatsRepository struct {
	mock.Mock
}

func (m *mockStatsRepository) Get(ctx context.Context, productID string) (*domain.ReviewStats, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReviewStats), args.Error(1)
}

func (m *mockStatsRepository) Recompute(ctx context.Context, productID string) (*domain.ReviewStats, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReviewStats), args.Error(1)
}

// stubCache always misses so service calls fall through to the repository.
type stubCache struct{}

func (stubCache) Get(ctx context.Context, productID string) (*domain.ReviewSummary, error) {
	return nil, cache.ErrMiss
}

func (stubCache) Set(ctx context.Context, summary *domain.ReviewSummary) error { return nil }

func (stubCache) Invalidate(ctx context.Context, productID string) error { return nil }

// stubPublisher swallows events.
type stubPublisher struct{}

func (stubPublisher) PublishReviewCreated(ctx context.Context, review *domain.Review) error {
	return nil
}

func (stubPublisher) PublishReviewStatusChanged(ctx context.Context, review *domain.Review, oldStatus string) error {
	return nil
}

func (stubPublisher) PublishReviewDeleted(ctx context.Context, review *domain.Review) error {
	return nil
}

// ============================================================================
// Test Helpers
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testHandler(reviews *mockReviewRepository, stats *mockStatsRepository) *ReviewHandler {
	svc := service.NewReviewService(reviews, stats, stubCache{}, stubPublisher{}, testLogger())
	return NewReviewHandler(svc, testLogger())
}

// setupRouter creates a chi router matching the production route layout.
func setupRouter(handler *ReviewHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Route("/products/{productId}/reviews", func(r chi.Router) {
			r.Post("/", handler.CreateReview)
			r.Get("/", handler.ListReviews)
			r.Get("/summary", handler.GetSummary)
			r.Post("/recompute", handler.RecomputeStats)
		})
		r.Route("/reviews/{reviewId}", func(r chi.Router) {
			r.Get("/", handler.GetReview)
			r.Put("/status", handler.UpdateStatus)
			r.Delete("/", handler.DeleteReview)
			r.Post("/response", handler.RespondToReview)
		})
	})
	return r
}

// decodeResponse reads the response body into the httputil.Response struct.
func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	return resp
}

const (
	testProductID = "prod-1"
	testReviewID  = "550e8400-e29b-41d4-a716-446655440001"
)

func sampleReview() *domain.Review {
	return &domain.Review{
		ID:        testReviewID,
		ProductID: testProductID,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Content:   "Solid product, would buy again.",
		Rating:    4,
		Status:    domain.ReviewStatusApproved,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func sampleStats() *domain.ReviewStats {
	return &domain.ReviewStats{
		ID:            "b2c8bd0e-8f2e-4d40-9a41-8e1a8de40001",
		ProductID:     testProductID,
		AverageRating: 4.33,
		ReviewCount:   3,
		RatingCount4:  2,
		RatingCount5:  1,
	}
}

// ============================================================================
// POST /api/v1/products/{productId}/reviews - CreateReview
// ============================================================================

func TestCreateReview_Success(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	reviews.On("Create", mock.Anything, mock.AnythingOfType("*domain.Review")).Return(nil)

	body, _ := json.Marshal(CreateReviewRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Content:   "Solid product, would buy again.",
		Rating:    4,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/prod-1/reviews/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Data)

	data := resp.Data.(map[string]any)
	assert.Equal(t, testProductID, data["product_id"])
	assert.Equal(t, domain.ReviewStatusPending, data["status"])
	reviews.AssertExpectations(t)
}

func TestCreateReview_InvalidJSON(t *testing.T) {
	router := setupRouter(testHandler(new(mockReviewRepository), new(mockStatsRepository)))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/prod-1/reviews/", bytes.NewReader([]byte(`{invalid`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "invalid request body")
}

func TestCreateReview_ValidationError_MissingName(t *testing.T) {
	router := setupRouter(testHandler(new(mockReviewRepository), new(mockStatsRepository)))

	body, _ := json.Marshal(CreateReviewRequest{
		Content: "Missing reviewer name.",
		Rating:  5,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/prod-1/reviews/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestCreateReview_ValidationError_RatingOutOfRange(t *testing.T) {
	router := setupRouter(testHandler(new(mockReviewRepository), new(mockStatsRepository)))

	body, _ := json.Marshal(map[string]any{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"content":    "Rated off the scale.",
		"rating":     6,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/prod-1/reviews/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestCreateReview_UnsupportedMediaType(t *testing.T) {
	router := setupRouter(testHandler(new(mockReviewRepository), new(mockStatsRepository)))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/prod-1/reviews/", bytes.NewReader([]byte(`first_name=Ada`)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

// ============================================================================
// GET /api/v1/products/{productId}/reviews - ListReviews
// ============================================================================

func TestListReviews_Success(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	reviews.On("ListByProduct", mock.Anything, testProductID, 20, 0).
		Return([]domain.Review{*sampleReview()}, 1, nil)
	stats.On("Get", mock.Anything, testProductID).Return(sampleStats(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/prod-1/reviews/", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Data)

	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["total_count"])
	assert.Equal(t, float64(1), data["page"])
	assert.Equal(t, false, data["has_more"])
	reviews.AssertExpectations(t)
	stats.AssertExpectations(t)
}

func TestListReviews_PaginationParams(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	reviews.On("ListByProduct", mock.Anything, testProductID, 5, 10).
		Return([]domain.Review{}, 42, nil)
	stats.On("Get", mock.Anything, testProductID).Return(sampleStats(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/prod-1/reviews/?page=3&per_page=5", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(42), data["total_count"])
	assert.Equal(t, float64(3), data["page"])
	reviews.AssertExpectations(t)
}

// ============================================================================
// GET /api/v1/products/{productId}/reviews/summary - GetSummary
// ============================================================================

func TestGetSummary_Success(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	stats.On("Get", mock.Anything, testProductID).Return(sampleStats(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/prod-1/reviews/summary", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Data)

	data := resp.Data.(map[string]any)
	assert.Equal(t, 4.33, data["average_rating"])
	assert.Equal(t, float64(3), data["review_count"])
	assert.Len(t, data["distribution"], 5)
	stats.AssertExpectations(t)
}

func TestGetSummary_NoReviewsYet(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	stats.On("Get", mock.Anything, testProductID).Return(domain.EmptyStats(testProductID), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/prod-1/reviews/summary", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(0), data["review_count"])
	assert.Equal(t, float64(0), data["average_rating"])
	assert.Len(t, data["distribution"], 5)
}

// ============================================================================
// POST /api/v1/products/{productId}/reviews/recompute - RecomputeStats
// ============================================================================

func TestRecomputeStats_Success(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	stats.On("Recompute", mock.Anything, testProductID).Return(sampleStats(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/prod-1/reviews/recompute", nil)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Data)
	stats.AssertExpectations(t)
}

// ============================================================================
// GET /api/v1/reviews/{reviewId} - GetReview
// ============================================================================

func TestGetReview_Success(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	reviews.On("GetByID", mock.Anything, testReviewID).Return(sampleReview(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/"+testReviewID+"/", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	assert.Equal(t, testReviewID, data["id"])
	reviews.AssertExpectations(t)
}

func TestGetReview_InvalidUUID(t *testing.T) {
	router := setupRouter(testHandler(new(mockReviewRepository), new(mockStatsRepository)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/not-a-uuid/", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_PARAMETER", resp.Error.Code)
}

func TestGetReview_NotFound(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	reviews.On("GetByID", mock.Anything, testReviewID).
		Return(nil, apperrors.NotFound("review", testReviewID))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/"+testReviewID+"/", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

// ============================================================================
// PUT /api/v1/reviews/{reviewId}/status - UpdateStatus
// ============================================================================

func TestUpdateStatus_Success(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	approvedReview := sampleReview()

	reviews.On("SetStatus", mock.Anything, testReviewID, domain.ReviewStatusApproved).
		Return(approvedReview, domain.ReviewStatusPending, nil)

	body, _ := json.Marshal(UpdateStatusRequest{Status: domain.ReviewStatusApproved})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/reviews/"+testReviewID+"/status", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	assert.Equal(t, domain.ReviewStatusApproved, data["status"])
	reviews.AssertExpectations(t)
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	router := setupRouter(testHandler(new(mockReviewRepository), new(mockStatsRepository)))

	body, _ := json.Marshal(UpdateStatusRequest{Status: "published"})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/reviews/"+testReviewID+"/status", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestUpdateStatus_Conflict(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	reviews.On("SetStatus", mock.Anything, testReviewID, domain.ReviewStatusApproved).
		Return(nil, "", apperrors.Conflict("concurrent update conflict, retry the request"))

	body, _ := json.Marshal(UpdateStatusRequest{Status: domain.ReviewStatusApproved})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/reviews/"+testReviewID+"/status", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONFLICT", resp.Error.Code)
}

// ============================================================================
// DELETE /api/v1/reviews/{reviewId} - DeleteReview
// ============================================================================

func TestDeleteReview_Success(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	reviews.On("SoftDelete", mock.Anything, testReviewID).Return(sampleReview(), nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/reviews/"+testReviewID+"/", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "deleted", data["status"])
	reviews.AssertExpectations(t)
}

func TestDeleteReview_NotFound(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	reviews.On("SoftDelete", mock.Anything, testReviewID).
		Return(nil, apperrors.NotFound("review", testReviewID))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/reviews/"+testReviewID+"/", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================================================
// POST /api/v1/reviews/{reviewId}/response - RespondToReview
// ============================================================================

func TestRespondToReview_Success(t *testing.T) {
	reviews := new(mockReviewRepository)
	stats := new(mockStatsRepository)
	router := setupRouter(testHandler(reviews, stats))

	reviews.On("GetByID", mock.Anything, testReviewID).Return(sampleReview(), nil)
	reviews.On("UpsertResponse", mock.Anything, mock.AnythingOfType("*domain.ReviewResponse")).Return(nil)

	body, _ := json.Marshal(RespondRequest{Content: "Thanks for the feedback!"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/"+testReviewID+"/response", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "Thanks for the feedback!", data["content"])
	reviews.AssertExpectations(t)
}

func TestRespondToReview_EmptyContent(t *testing.T) {
	router := setupRouter(testHandler(new(mockReviewRepository), new(mockStatsRepository)))

	body, _ := json.Marshal(RespondRequest{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/"+testReviewID+"/response", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}
