package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

const postColumns = `
	id, platform, content_type, account_name, caption, title, hashtags,
	media_key, media_url, media_content_type, media_size,
	scheduled_at, status, attempt_count, max_attempts, last_error, error_kind, failed_at,
	remote_id, permalink, idempotency_key, created_at, updated_at, published_at, claim_id`

// PostPostgres implements PostRepository for PostgreSQL
type PostPostgres struct {
	pool *pgxpool.Pool
}

// NewPostPostgres creates a new PostgreSQL post repository
func NewPostPostgres(pool *pgxpool.Pool) *PostPostgres {
	return &PostPostgres{pool: pool}
}

// Create inserts a new post
func (r *PostPostgres) Create(ctx context.Context, p *entity.Post) error {
	query := `
		INSERT INTO posts (` + postColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`

	mediaKey, mediaURL, mediaType, mediaSize := mediaColumns(p.Media)

	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.Platform,
		p.ContentType,
		p.AccountName,
		p.Caption,
		p.Title,
		p.Hashtags,
		mediaKey,
		mediaURL,
		mediaType,
		mediaSize,
		p.ScheduledAt,
		p.Status,
		p.AttemptCount,
		p.MaxAttempts,
		p.LastError,
		p.ErrorKind,
		p.FailedAt,
		p.RemoteID,
		p.Permalink,
		nullable(p.IdempotencyKey),
		p.CreatedAt,
		p.UpdatedAt,
		p.PublishedAt,
		p.ClaimID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("inserting post: %w", err)
	}

	return nil
}

// GetByID retrieves a post by ID
func (r *PostPostgres) GetByID(ctx context.Context, id string) (*entity.Post, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)

	p, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning post: %w", err)
	}

	return p, nil
}

// GetByIdempotencyKey retrieves a post by its idempotency key
func (r *PostPostgres) GetByIdempotencyKey(ctx context.Context, key string) (*entity.Post, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE idempotency_key = $1`, key)

	p, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning post: %w", err)
	}

	return p, nil
}

// List retrieves posts with filtering
func (r *PostPostgres) List(ctx context.Context, filter PostFilter) ([]entity.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.Platform != nil {
		query += fmt.Sprintf(" AND platform = $%d", argNum)
		args = append(args, *filter.Platform)
		argNum++
	}

	if filter.ErrorKind != nil {
		query += fmt.Sprintf(" AND error_kind = $%d", argNum)
		args = append(args, *filter.ErrorKind)
		argNum++
	}

	query += " ORDER BY scheduled_at DESC, created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	return r.query(ctx, query, args...)
}

// ListDue retrieves scheduled posts that are due
func (r *PostPostgres) ListDue(ctx context.Context, now time.Time, limit int) ([]entity.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`

	return r.query(ctx, query, now, limit)
}

// UpdateIfStatus writes the post when its stored status and claim still equal the expected ones
func (r *PostPostgres) UpdateIfStatus(ctx context.Context, p *entity.Post, expected entity.Status, claimID string) (bool, error) {
	query := `
		UPDATE posts
		SET status = $3, attempt_count = $4, max_attempts = $5, scheduled_at = $6,
		    last_error = $7, error_kind = $8, failed_at = $9, remote_id = $10, permalink = $11,
		    published_at = $12, updated_at = $13, claim_id = $14
		WHERE id = $1 AND status = $2 AND claim_id = $15
	`

	tag, err := r.pool.Exec(ctx, query,
		p.ID,
		expected,
		p.Status,
		p.AttemptCount,
		p.MaxAttempts,
		p.ScheduledAt,
		p.LastError,
		p.ErrorKind,
		p.FailedAt,
		p.RemoteID,
		p.Permalink,
		p.PublishedAt,
		p.UpdatedAt,
		p.ClaimID,
		claimID,
	)
	if err != nil {
		return false, fmt.Errorf("updating post: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// DeleteIfStatus removes a post when its stored status equals expected
func (r *PostPostgres) DeleteIfStatus(ctx context.Context, id string, expected entity.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM posts WHERE id = $1 AND status = $2", id, expected)
	if err != nil {
		return false, fmt.Errorf("deleting post: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountByStatus returns counts grouped by status
func (r *PostPostgres) CountByStatus(ctx context.Context) (map[entity.Status]int64, error) {
	rows, err := r.pool.Query(ctx, "SELECT status, COUNT(*) FROM posts GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting posts: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.Status]int64)
	for rows.Next() {
		var status entity.Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		counts[status] = n
	}

	return counts, rows.Err()
}

// ReleaseStale returns posts stuck in processing to scheduled without counting an attempt
func (r *PostPostgres) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE posts
		SET status = 'scheduled', claim_id = '', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("releasing stale posts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostPostgres) query(ctx context.Context, query string, args ...interface{}) ([]entity.Post, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying posts: %w", err)
	}
	defer rows.Close()

	var posts []entity.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		posts = append(posts, *p)
	}

	return posts, rows.Err()
}

func scanPost(row pgx.Row) (*entity.Post, error) {
	var p entity.Post
	var mediaKey, mediaURL, mediaType, idempotencyKey *string
	var mediaSize *int64

	err := row.Scan(
		&p.ID,
		&p.Platform,
		&p.ContentType,
		&p.AccountName,
		&p.Caption,
		&p.Title,
		&p.Hashtags,
		&mediaKey,
		&mediaURL,
		&mediaType,
		&mediaSize,
		&p.ScheduledAt,
		&p.Status,
		&p.AttemptCount,
		&p.MaxAttempts,
		&p.LastError,
		&p.ErrorKind,
		&p.FailedAt,
		&p.RemoteID,
		&p.Permalink,
		&idempotencyKey,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.PublishedAt,
		&p.ClaimID,
	)
	if err != nil {
		return nil, err
	}

	if mediaURL != nil {
		p.Media = &entity.Media{URL: *mediaURL}
		if mediaKey != nil {
			p.Media.Key = *mediaKey
		}
		if mediaType != nil {
			p.Media.ContentType = *mediaType
		}
		if mediaSize != nil {
			p.Media.Size = *mediaSize
		}
	}
	if idempotencyKey != nil {
		p.IdempotencyKey = *idempotencyKey
	}

	return &p, nil
}

func mediaColumns(m *entity.Media) (key, url, contentType *string, size *int64) {
	if m == nil {
		return nil, nil, nil, nil
	}
	return nullable(m.Key), &m.URL, nullable(m.ContentType), &m.Size
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
