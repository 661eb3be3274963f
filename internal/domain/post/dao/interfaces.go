package dao

import (
	"context"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

// PostFilter contains filters for listing posts
type PostFilter struct {
	Status    *entity.Status
	Platform  *platform.Platform
	ErrorKind *entity.ErrorKind
	Limit     int
	Offset    int
}

// PostRepository defines the interface for scheduled post data access.
// Every status change goes through UpdateIfStatus so that concurrent writers
// cannot both move the same post out of the same status.
type PostRepository interface {
	// Create inserts a new post. Returns ErrDuplicateIdempotencyKey when the key is taken.
	Create(ctx context.Context, post *entity.Post) error

	// GetByID retrieves a post by ID, nil when absent
	GetByID(ctx context.Context, id string) (*entity.Post, error)

	// GetByIdempotencyKey retrieves the post created with the key, nil when absent
	GetByIdempotencyKey(ctx context.Context, key string) (*entity.Post, error)

	// List retrieves posts matching the filter, newest scheduled time first
	List(ctx context.Context, filter PostFilter) ([]entity.Post, error)

	// ListDue retrieves scheduled posts with scheduled_at <= now, oldest first
	ListDue(ctx context.Context, now time.Time, limit int) ([]entity.Post, error)

	// UpdateIfStatus writes all mutable fields of post only if the stored status equals expected
	// and the stored claim equals claimID. Returns false when either differs or the post is gone.
	UpdateIfStatus(ctx context.Context, post *entity.Post, expected entity.Status, claimID string) (bool, error)

	// DeleteIfStatus removes the post only if its stored status equals expected
	DeleteIfStatus(ctx context.Context, id string, expected entity.Status) (bool, error)

	// CountByStatus returns post counts grouped by status
	CountByStatus(ctx context.Context) (map[entity.Status]int64, error)

	// ReleaseStale moves posts stuck in processing since before the cutoff back to scheduled
	// and drops their claim
	ReleaseStale(ctx context.Context, before time.Time) (int64, error)
}
