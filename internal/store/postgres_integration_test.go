package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
)

// These tests need a throwaway Postgres database, named by
// TEST_DATABASE_URL. They are skipped in short mode and when the variable
// is unset.
func newIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE review_history, category, access_log RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return NewPostgresStore(db)
}

func mustCategory(t *testing.T, s *PostgresStore, name string) Category {
	t.Helper()
	item, err := s.InsertCategory(context.Background(), name, name+" things")
	if err != nil {
		t.Fatalf("insert category %q: %v", name, err)
	}
	return item
}

func mustRevision(t *testing.T, s *PostgresStore, reviewID string, stars int, categoryID int64) Revision {
	t.Helper()
	item, err := s.InsertRevision(context.Background(), Revision{
		ReviewID:   reviewID,
		Text:       "text for " + reviewID,
		Stars:      stars,
		CategoryID: categoryID,
	})
	if err != nil {
		t.Fatalf("insert revision %q: %v", reviewID, err)
	}
	return item
}

func TestLatestRevisionWins(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	cat := mustCategory(t, s, "Books")

	mustRevision(t, s, "R1", 8, cat.ID)
	second := mustRevision(t, s, "R1", 9, cat.ID)

	latest, err := s.LatestRevisions(ctx, cat.ID, 0, 0)
	if err != nil {
		t.Fatalf("latest revisions: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("expected the single resolved revision, got %d", len(latest))
	}
	if latest[0].ID != second.ID || latest[0].Stars != 9 {
		t.Fatalf("superseded revision leaked: %+v", latest[0])
	}

	log, err := s.ListRevisions(ctx)
	if err != nil {
		t.Fatalf("list revisions: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("revision log must keep superseded rows, got %d", len(log))
	}
}

func TestCategoryTrendsOverLatestOnly(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	books := mustCategory(t, s, "Books")
	electronics := mustCategory(t, s, "Electronics")

	mustRevision(t, s, "B1", 6, books.ID)
	// E1 was revised from 2 to 9; only the 9 may count.
	mustRevision(t, s, "E1", 2, electronics.ID)
	mustRevision(t, s, "E1", 9, electronics.ID)
	mustRevision(t, s, "E2", 10, electronics.ID)
	mustRevision(t, s, "E3", 10, electronics.ID)

	trends, err := s.CategoryTrends(ctx, 5)
	if err != nil {
		t.Fatalf("category trends: %v", err)
	}
	if len(trends) != 2 {
		t.Fatalf("expected 2 trend rows, got %d", len(trends))
	}
	if trends[0].ID != electronics.ID || trends[0].AverageStar != 9.67 || trends[0].TotalReview != 3 {
		t.Fatalf("unexpected leading trend: %+v", trends[0])
	}
	if trends[1].ID != books.ID || trends[1].AverageStar != 6 || trends[1].TotalReview != 1 {
		t.Fatalf("unexpected trailing trend: %+v", trends[1])
	}
}

func TestTrendsTieBreakByCategoryID(t *testing.T) {
	s := newIntegrationStore(t)
	first := mustCategory(t, s, "Alpha")
	second := mustCategory(t, s, "Beta")

	mustRevision(t, s, "A1", 7, first.ID)
	mustRevision(t, s, "B1", 7, second.ID)

	trends, err := s.CategoryTrends(context.Background(), 5)
	if err != nil {
		t.Fatalf("category trends: %v", err)
	}
	if len(trends) != 2 || trends[0].ID != first.ID || trends[1].ID != second.ID {
		t.Fatalf("equal averages must order by category id: %+v", trends)
	}
}

func TestLatestRevisionsPagination(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	cat := mustCategory(t, s, "Games")

	for i := 1; i <= 16; i++ {
		mustRevision(t, s, fmt.Sprintf("G%02d", i), 5, cat.ID)
	}

	first, err := s.LatestRevisions(ctx, cat.ID, 0, 15)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first) != 15 {
		t.Fatalf("expected 15 rows on the first page, got %d", len(first))
	}
	for i := 1; i < len(first); i++ {
		if first[i].ID >= first[i-1].ID {
			t.Fatalf("page not in descending id order at %d: %v", i, first)
		}
	}

	second, err := s.LatestRevisions(ctx, cat.ID, first[len(first)-1].ID, 15)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected the single remaining row, got %d", len(second))
	}
	if second[0].ID >= first[len(first)-1].ID {
		t.Fatalf("cursor bound is not exclusive: %d", second[0].ID)
	}
}

func TestLatestRevisionsFiltersByCategory(t *testing.T) {
	s := newIntegrationStore(t)
	books := mustCategory(t, s, "Books")
	games := mustCategory(t, s, "Games")

	mustRevision(t, s, "B1", 5, books.ID)
	mustRevision(t, s, "G1", 5, games.ID)

	rows, err := s.LatestRevisions(context.Background(), books.ID, 0, 15)
	if err != nil {
		t.Fatalf("latest revisions: %v", err)
	}
	if len(rows) != 1 || rows[0].ReviewID != "B1" {
		t.Fatalf("category filter leaked rows: %v", rows)
	}
}

func TestSetRevisionAnnotationsFirstWriteWins(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	cat := mustCategory(t, s, "Books")
	rev := mustRevision(t, s, "R1", 8, cat.ID)

	if err := s.SetRevisionAnnotations(ctx, rev.ID, "warm", "positive"); err != nil {
		t.Fatalf("first annotation write: %v", err)
	}
	// A replayed or racing unit with different labels must be a no-op.
	if err := s.SetRevisionAnnotations(ctx, rev.ID, "cold", "negative"); err != nil {
		t.Fatalf("second annotation write: %v", err)
	}

	rows, err := s.LatestRevisions(ctx, cat.ID, 0, 0)
	if err != nil {
		t.Fatalf("latest revisions: %v", err)
	}
	if len(rows) != 1 || rows[0].Tone == nil || rows[0].Sentiment == nil {
		t.Fatalf("annotations missing: %+v", rows)
	}
	if *rows[0].Tone != "warm" || *rows[0].Sentiment != "positive" {
		t.Fatalf("second write clobbered the first: tone=%q sentiment=%q", *rows[0].Tone, *rows[0].Sentiment)
	}
}

func TestSetRevisionAnnotationsMissingRow(t *testing.T) {
	s := newIntegrationStore(t)

	err := s.SetRevisionAnnotations(context.Background(), 999999, "warm", "positive")
	if !errors.Is(err, ErrRevisionMissing) {
		t.Fatalf("expected ErrRevisionMissing, got %v", err)
	}
}

func TestInsertCategoryDuplicateName(t *testing.T) {
	s := newIntegrationStore(t)
	mustCategory(t, s, "Books")

	_, err := s.InsertCategory(context.Background(), "Books", "again")
	if !errors.Is(err, ErrDuplicateCategory) {
		t.Fatalf("expected ErrDuplicateCategory, got %v", err)
	}
}

func TestGetCategoryMissing(t *testing.T) {
	s := newIntegrationStore(t)

	_, err := s.GetCategory(context.Background(), 12345)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestAccessLogRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	if err := s.InsertAccessLog(ctx, "GET /reviews/trends"); err != nil {
		t.Fatalf("insert access log: %v", err)
	}
	entries, err := s.ListAccessLog(ctx)
	if err != nil {
		t.Fatalf("list access log: %v", err)
	}
	if len(entries) != 1 || entries[0].Text != "GET /reviews/trends" {
		t.Fatalf("unexpected access log: %v", entries)
	}
	if entries[0].CreatedAt.IsZero() {
		t.Fatal("created_at not populated")
	}
}
