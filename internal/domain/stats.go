package domain

import (
	"math"
	"time"
)

// ReviewStats is the denormalized per-product aggregate kept in lockstep
// with the counted review set. The row is zeroed, never deleted, when the
// last counted review is removed.
type ReviewStats struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	AverageRating float64   `json:"average_rating"`
	ReviewCount   int       `json:"review_count"`
	RatingCount1  int       `json:"rating_count_1"`
	RatingCount2  int       `json:"rating_count_2"`
	RatingCount3  int       `json:"rating_count_3"`
	RatingCount4  int       `json:"rating_count_4"`
	RatingCount5  int       `json:"rating_count_5"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EmptyStats returns the zero aggregate reported for products with no
// counted reviews.
func EmptyStats(productID string) *ReviewStats {
	return &ReviewStats{ProductID: productID}
}

// RatingBucket is one slot of the star distribution.
type RatingBucket struct {
	Rating int `json:"rating"`
	Count  int `json:"count"`
}

// Distribution returns all five buckets ordered five stars first. Buckets
// with zero reviews are present with a zero count.
func (s *ReviewStats) Distribution() []RatingBucket {
	return []RatingBucket{
		{Rating: 5, Count: s.RatingCount5},
		{Rating: 4, Count: s.RatingCount4},
		{Rating: 3, Count: s.RatingCount3},
		{Rating: 2, Count: s.RatingCount2},
		{Rating: 1, Count: s.RatingCount1},
	}
}

// CountForRating returns the counter for one star value, 0 for out-of-range
// ratings.
func (s *ReviewStats) CountForRating(rating int) int {
	switch rating {
	case 1:
		return s.RatingCount1
	case 2:
		return s.RatingCount2
	case 3:
		return s.RatingCount3
	case 4:
		return s.RatingCount4
	case 5:
		return s.RatingCount5
	default:
		return 0
	}
}

// IsConsistent reports whether the total equals the sum of the per-star
// counters and the average matches the weighted mean of the counters.
func (s *ReviewStats) IsConsistent() bool {
	sum := s.RatingCount1 + s.RatingCount2 + s.RatingCount3 + s.RatingCount4 + s.RatingCount5
	if sum != s.ReviewCount {
		return false
	}
	return math.Abs(s.AverageRating-s.computedAverage()) < 0.005
}

// computedAverage derives the mean from the counters, 0 for an empty set.
func (s *ReviewStats) computedAverage() float64 {
	if s.ReviewCount == 0 {
		return 0
	}
	weighted := s.RatingCount1 + 2*s.RatingCount2 + 3*s.RatingCount3 + 4*s.RatingCount4 + 5*s.RatingCount5
	avg := float64(weighted) / float64(s.ReviewCount)
	return math.Round(avg*100) / 100
}

// ReviewSummary is the read-model served to storefront clients: the
// aggregate plus the full star distribution.
type ReviewSummary struct {
	ProductID     string         `json:"product_id"`
	AverageRating float64        `json:"average_rating"`
	ReviewCount   int            `json:"review_count"`
	Distribution  []RatingBucket `json:"distribution"`
}

// Summary projects the stats row into the client-facing summary shape.
func (s *ReviewStats) Summary() *ReviewSummary {
	return &ReviewSummary{
		ProductID:     s.ProductID,
		AverageRating: s.AverageRating,
		ReviewCount:   s.ReviewCount,
		Distribution:  s.Distribution(),
	}
}
