package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateCategory is returned when a category name is already taken.
var ErrDuplicateCategory = errors.New("category name already exists")

// ErrRevisionMissing is returned by annotation writes that match no row.
var ErrRevisionMissing = errors.New("revision not found")

const pgUniqueViolation = "23505"

// latestJoin resolves each review_id group to its single authoritative
// revision in one grouped pass. Every read that must not see superseded
// revisions goes through this join.
const latestJoin = `(SELECT review_id, MAX(id) AS latest_id FROM review_history GROUP BY review_id) latest ON latest.latest_id = rh.id`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertCategory(ctx context.Context, name, description string) (Category, error) {
	item := Category{Name: name, Description: description}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO category (name, description)
		VALUES ($1, $2)
		RETURNING id
	`, name, description).Scan(&item.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Category{}, ErrDuplicateCategory
		}
		return Category{}, fmt.Errorf("insert category: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetCategory(ctx context.Context, categoryID int64) (Category, error) {
	var item Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description FROM category WHERE id=$1
	`, categoryID).Scan(&item.ID, &item.Name, &item.Description)
	if err != nil {
		return Category{}, err
	}
	return item, nil
}

func (s *PostgresStore) CategoryByName(ctx context.Context, name string) (Category, error) {
	var item Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description FROM category WHERE name=$1
	`, name).Scan(&item.ID, &item.Name, &item.Description)
	if err != nil {
		return Category{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description FROM category ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var item Category
		if err := rows.Scan(&item.ID, &item.Name, &item.Description); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return items, nil
}

// InsertRevision appends a new revision. Rows are never updated afterwards
// except for the annotation fields; ids assigned here are the recency order.
func (s *PostgresStore) InsertRevision(ctx context.Context, item Revision) (Revision, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO review_history (review_id, text, stars, tone, sentiment, category_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, item.ReviewID, item.Text, item.Stars, item.Tone, item.Sentiment, item.CategoryID).
		Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Revision{}, fmt.Errorf("insert revision: %w", err)
	}
	return item, nil
}

// ListRevisions returns the raw revision log, superseded rows included.
func (s *PostgresStore) ListRevisions(ctx context.Context) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_id, text, stars, tone, sentiment, category_id, created_at, updated_at
		FROM review_history
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return scanRevisions(rows)
}

// LatestRevisions returns the resolved latest-per-review set, newest
// first, with id as the deterministic tie-break. categoryID filters when
// positive; cursor (exclusive upper id bound) applies when positive;
// limit caps the page when positive.
func (s *PostgresStore) LatestRevisions(ctx context.Context, categoryID, cursor int64, limit int) ([]Revision, error) {
	builder := psql.
		Select("rh.id", "rh.review_id", "rh.text", "rh.stars", "rh.tone", "rh.sentiment", "rh.category_id", "rh.created_at", "rh.updated_at").
		From("review_history rh").
		Join(latestJoin).
		OrderBy("rh.created_at DESC", "rh.id DESC")
	if categoryID > 0 {
		builder = builder.Where(sq.Eq{"rh.category_id": categoryID})
	}
	if cursor > 0 {
		builder = builder.Where(sq.Lt{"rh.id": cursor})
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest revisions query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query latest revisions: %w", err)
	}
	return scanRevisions(rows)
}

// CategoryTrends aggregates average stars and review counts per category
// over latest revisions only. Categories without a resolved review are
// absent (inner join); a null average cannot survive the join but is
// coalesced to 0 regardless.
func (s *PostgresStore) CategoryTrends(ctx context.Context, limit int) ([]CategoryTrend, error) {
	builder := psql.
		Select(
			"c.id", "c.name", "c.description",
			"COALESCE(ROUND(AVG(rh.stars)::numeric, 2), 0)::float8 AS average_star",
			"COUNT(rh.id) AS total_review",
		).
		From("category c").
		Join("review_history rh ON rh.category_id = c.id").
		Join(latestJoin).
		GroupBy("c.id", "c.name", "c.description").
		OrderBy("average_star DESC", "c.id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build trends query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trends: %w", err)
	}
	defer rows.Close()

	items := make([]CategoryTrend, 0)
	for rows.Next() {
		var item CategoryTrend
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.AverageStar, &item.TotalReview); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trends: %w", err)
	}
	return items, nil
}

// SetRevisionAnnotations writes tone and sentiment for a revision. The
// COALESCE keeps whatever non-null value landed first, so replaying the
// same unit, or a racing worker with divergent labels, never clobbers a
// committed annotation.
func (s *PostgresStore) SetRevisionAnnotations(ctx context.Context, revisionID int64, tone, sentiment string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE review_history
		SET tone = COALESCE(tone, $2),
		    sentiment = COALESCE(sentiment, $3),
		    updated_at = NOW()
		WHERE id = $1
	`, revisionID, tone, sentiment)
	if err != nil {
		return fmt.Errorf("set annotations: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set annotations result: %w", err)
	}
	if affected == 0 {
		return ErrRevisionMissing
	}
	return nil
}

func (s *PostgresStore) InsertAccessLog(ctx context.Context, text string) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO access_log (text) VALUES ($1)`, text); err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAccessLog(ctx context.Context) ([]AccessLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, created_at FROM access_log ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list access log: %w", err)
	}
	defer rows.Close()

	items := make([]AccessLogEntry, 0)
	for rows.Next() {
		var item AccessLogEntry
		if err := rows.Scan(&item.ID, &item.Text, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access log: %w", err)
	}
	return items, nil
}

func scanRevisions(rows *sql.Rows) ([]Revision, error) {
	defer rows.Close()

	items := make([]Revision, 0)
	for rows.Next() {
		var item Revision
		if err := rows.Scan(&item.ID, &item.ReviewID, &item.Text, &item.Stars, &item.Tone, &item.Sentiment, &item.CategoryID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return items, nil
}
