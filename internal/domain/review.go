package domain

import (
	"time"
)

// Review status constants.
const (
	ReviewStatusPending  = "pending"
	ReviewStatusApproved = "approved"
	ReviewStatusFlagged  = "flagged"
)

// Review represents a customer review of a product. A review may be
// submitted by a guest, in which case CustomerID is nil and only the
// reviewer name fields identify the author.
type Review struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	CustomerID *string         `json:"customer_id,omitempty"`
	FirstName  string          `json:"first_name"`
	LastName   string          `json:"last_name"`
	Title      *string         `json:"title,omitempty"`
	Content    string          `json:"content"`
	Rating     int             `json:"rating"`
	Status     string          `json:"status"`
	Images     []ReviewImage   `json:"images,omitempty"`
	Response   *ReviewResponse `json:"response,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	DeletedAt  *time.Time      `json:"-"`
}

// IsCounted reports whether this review contributes to the product's
// aggregate statistics. Only approved, non-deleted reviews count.
func (r *Review) IsCounted() bool {
	return r.Status == ReviewStatusApproved && r.DeletedAt == nil
}

// IsDeleted reports whether the review has been soft-deleted.
func (r *Review) IsDeleted() bool {
	return r.DeletedAt != nil
}

// ReviewImage is a customer-supplied photo attached to a review.
type ReviewImage struct {
	ID        string    `json:"id"`
	ReviewID  string    `json:"review_id"`
	URL       string    `json:"url"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewResponse is the merchant's reply to a review. At most one exists
// per review; a later reply replaces the earlier one.
type ReviewResponse struct {
	ID        string    `json:"id"`
	ReviewID  string    `json:"review_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidReviewStatuses returns the set of valid review statuses.
func ValidReviewStatuses() []string {
	return []string{ReviewStatusPending, ReviewStatusApproved, ReviewStatusFlagged}
}

// IsValidReviewStatus checks whether the given status is a valid review status.
func IsValidReviewStatus(status string) bool {
	for _, s := range ValidReviewStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// IsValidRating checks that a rating is a whole star between 1 and 5.
func IsValidRating(rating int) bool {
	return rating >= 1 && rating <= 5
}
