package store

import "time"

// Category is static reference data: created once, never updated or
// deleted by this service.
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Revision is one stored revision of a logical review. Revisions sharing a
// ReviewID form the history of that review; the highest ID wins. Tone and
// Sentiment start unset and are filled in exactly once by the enrichment
// pipeline.
type Revision struct {
	ID         int64     `json:"id"`
	ReviewID   string    `json:"review_id"`
	Text       string    `json:"text"`
	Stars      int       `json:"stars"`
	Tone       *string   `json:"tone"`
	Sentiment  *string   `json:"sentiment"`
	CategoryID int64     `json:"category_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Annotated reports whether both annotation fields are present.
func (r Revision) Annotated() bool {
	return r.Tone != nil && r.Sentiment != nil
}

// CategoryTrend is one row of the trends aggregate, computed over latest
// revisions only.
type CategoryTrend struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	AverageStar float64 `json:"average_star"`
	TotalReview int     `json:"total_review"`
}

// AccessLogEntry is a write-once audit record of an invoked operation.
type AccessLogEntry struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
