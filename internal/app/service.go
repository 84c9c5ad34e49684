// Package app holds the service core: latest-revision listing, trend
// aggregation, cursor pagination and the create operations, plus the
// HTTP surface in front of them.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"reviewpulse/api/internal/store"
)

const (
	pageSize   = 15
	trendLimit = 5
	minStars   = 1
	maxStars   = 10
)

type dataStore interface {
	InsertCategory(ctx context.Context, name, description string) (store.Category, error)
	GetCategory(ctx context.Context, categoryID int64) (store.Category, error)
	ListCategories(ctx context.Context) ([]store.Category, error)
	InsertRevision(ctx context.Context, item store.Revision) (store.Revision, error)
	ListRevisions(ctx context.Context) ([]store.Revision, error)
	LatestRevisions(ctx context.Context, categoryID, cursor int64, limit int) ([]store.Revision, error)
	CategoryTrends(ctx context.Context, limit int) ([]store.CategoryTrend, error)
	ListAccessLog(ctx context.Context) ([]store.AccessLogEntry, error)
	Ping(ctx context.Context) error
}

type enrichmentDispatcher interface {
	DispatchMissing(ctx context.Context, revisions []store.Revision)
}

type accessRecorder interface {
	Record(ctx context.Context, text string)
}

type Service struct {
	store      dataStore
	dispatcher enrichmentDispatcher
	recorder   accessRecorder
	logger     *zap.Logger
}

func New(dataStore dataStore, dispatcher enrichmentDispatcher, recorder accessRecorder, logger *zap.Logger) *Service {
	return &Service{
		store:      dataStore,
		dispatcher: dispatcher,
		recorder:   recorder,
		logger:     logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Trends returns the top categories by average stars over latest
// revisions only.
func (s *Service) Trends(ctx context.Context) ([]store.CategoryTrend, error) {
	trends, err := s.store.CategoryTrends(ctx, trendLimit)
	if err != nil {
		return nil, fmt.Errorf("category trends: %w", err)
	}
	s.recorder.Record(ctx, "GET /reviews/trends")
	return trends, nil
}

// ReviewItem is one row of a review listing. UpdatedAt is deliberately
// absent; consumers key freshness off the id order.
type ReviewItem struct {
	ID         int64     `json:"id"`
	Text       string    `json:"text"`
	Stars      int       `json:"stars"`
	ReviewID   string    `json:"review_id"`
	CreatedAt  time.Time `json:"created_at"`
	Tone       *string   `json:"tone"`
	Sentiment  *string   `json:"sentiment"`
	CategoryID int64     `json:"category_id"`
}

type ReviewPage struct {
	Reviews    []ReviewItem `json:"reviews"`
	NextCursor *int64       `json:"next_cursor"`
}

// ListReviews returns one page of the resolved latest set for a category.
// The cursor is an exclusive upper id bound; next_cursor is null once the
// final (short or empty) page is reached. Revisions still missing
// annotations are handed to the enrichment dispatcher after the page is
// assembled; the response never waits on them.
func (s *Service) ListReviews(ctx context.Context, categoryID, cursor int64) (ReviewPage, error) {
	if categoryID <= 0 {
		return ReviewPage{}, validationError("category_id is required")
	}
	if cursor < 0 {
		return ReviewPage{}, validationError("cursor must be a positive id")
	}

	revisions, err := s.store.LatestRevisions(ctx, categoryID, cursor, pageSize)
	if err != nil {
		return ReviewPage{}, fmt.Errorf("latest revisions: %w", err)
	}

	page := ReviewPage{Reviews: make([]ReviewItem, 0, len(revisions))}
	for _, rev := range revisions {
		page.Reviews = append(page.Reviews, ReviewItem{
			ID:         rev.ID,
			Text:       rev.Text,
			Stars:      rev.Stars,
			ReviewID:   rev.ReviewID,
			CreatedAt:  rev.CreatedAt,
			Tone:       rev.Tone,
			Sentiment:  rev.Sentiment,
			CategoryID: rev.CategoryID,
		})
	}
	if len(revisions) == pageSize {
		last := revisions[len(revisions)-1].ID
		page.NextCursor = &last
	}

	s.dispatcher.DispatchMissing(ctx, revisions)
	s.recorder.Record(ctx, fmt.Sprintf("GET /reviews/?category_id=%d", categoryID))
	return page, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]store.Category, error) {
	items, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	s.recorder.Record(ctx, "GET /categories")
	return items, nil
}

// ListRevisionLog exposes the raw, unresolved revision log.
func (s *Service) ListRevisionLog(ctx context.Context) ([]store.Revision, error) {
	items, err := s.store.ListRevisions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list revision log: %w", err)
	}
	s.recorder.Record(ctx, "GET /review_history")
	return items, nil
}

func (s *Service) ListAccessLog(ctx context.Context) ([]store.AccessLogEntry, error) {
	items, err := s.store.ListAccessLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("list access log: %w", err)
	}
	return items, nil
}

func (s *Service) CreateCategory(ctx context.Context, name, description string) (store.Category, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" {
		return store.Category{}, validationError("name is required")
	}
	if description == "" {
		return store.Category{}, validationError("description is required")
	}

	item, err := s.store.InsertCategory(ctx, name, description)
	if errors.Is(err, store.ErrDuplicateCategory) {
		return store.Category{}, conflictError("CATEGORY_EXISTS", "Category already exists")
	}
	if err != nil {
		return store.Category{}, fmt.Errorf("create category: %w", err)
	}

	s.logger.Info("category created", zap.Int64("category_id", item.ID), zap.String("name", item.Name))
	return item, nil
}

type CreateReviewInput struct {
	Text       string  `json:"text"`
	Stars      int     `json:"stars"`
	ReviewID   string  `json:"review_id"`
	CategoryID int64   `json:"category_id"`
	Tone       *string `json:"tone"`
	Sentiment  *string `json:"sentiment"`
}

// CreateReview appends a revision for the logical review named by
// ReviewID. The category must already exist; nothing is persisted when it
// does not.
func (s *Service) CreateReview(ctx context.Context, input CreateReviewInput) (store.Revision, error) {
	if strings.TrimSpace(input.Text) == "" {
		return store.Revision{}, validationError("text is required")
	}
	if strings.TrimSpace(input.ReviewID) == "" {
		return store.Revision{}, validationError("review_id is required")
	}
	if input.Stars < minStars || input.Stars > maxStars {
		return store.Revision{}, validationError(fmt.Sprintf("stars must be between %d and %d", minStars, maxStars))
	}
	if input.CategoryID <= 0 {
		return store.Revision{}, validationError("category_id is required")
	}

	if _, err := s.store.GetCategory(ctx, input.CategoryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Revision{}, notFoundError("CATEGORY_NOT_FOUND", "Category not found")
		}
		return store.Revision{}, fmt.Errorf("lookup category: %w", err)
	}

	item, err := s.store.InsertRevision(ctx, store.Revision{
		ReviewID:   input.ReviewID,
		Text:       input.Text,
		Stars:      input.Stars,
		Tone:       input.Tone,
		Sentiment:  input.Sentiment,
		CategoryID: input.CategoryID,
	})
	if err != nil {
		return store.Revision{}, fmt.Errorf("create review: %w", err)
	}

	s.logger.Info("review revision created",
		zap.Int64("revision_id", item.ID),
		zap.String("review_id", item.ReviewID),
		zap.Int64("category_id", item.CategoryID))
	return item, nil
}
