package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/dlq/entity"
	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/dao"
	postentity "github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/metrics"
)

// PostStore is the part of the post lifecycle the dead letter queue operates on
type PostStore interface {
	List(ctx context.Context, filter dao.PostFilter) ([]postentity.Post, error)
	Get(ctx context.Context, id string) (*postentity.Post, error)
	Requeue(ctx context.Context, id string, delay time.Duration) (*postentity.Post, error)
	DeleteFailed(ctx context.Context, id string) (*postentity.Post, error)
}

// MediaRemover deletes stored media files
type MediaRemover interface {
	Delete(ctx context.Context, key string) error
}

// Policy orchestrates dead letter inspection and recovery.
// Entries are an overlay over posts in the failed status.
type Policy struct {
	posts        PostStore
	media        MediaRemover
	requeueDelay time.Duration
	logger       *slog.Logger
}

// New creates a new dead letter queue policy
func New(posts PostStore, media MediaRemover, requeueDelay time.Duration, logger *slog.Logger) *Policy {
	return &Policy{
		posts:        posts,
		media:        media,
		requeueDelay: requeueDelay,
		logger:       logger.With("component", "dead_letter_queue"),
	}
}

// ListInput represents input for listing dead letters
type ListInput struct {
	Platform  *platform.Platform
	ErrorKind *postentity.ErrorKind
}

// List retrieves dead letter entries matching the filter together with their aggregate
func (p *Policy) List(ctx context.Context, in ListInput) (*entity.ListResult, error) {
	failed := postentity.StatusFailed
	posts, err := p.posts.List(ctx, dao.PostFilter{
		Status:    &failed,
		Platform:  in.Platform,
		ErrorKind: in.ErrorKind,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]entity.Entry, 0, len(posts))
	for i := range posts {
		entries = append(entries, entity.FromPost(&posts[i]))
	}

	return &entity.ListResult{
		Entries: entries,
		Stats:   aggregate(entries),
	}, nil
}

// Stats returns the aggregate over every dead letter
func (p *Policy) Stats(ctx context.Context) (*postentity.DeadLetterStats, error) {
	res, err := p.List(ctx, ListInput{})
	if err != nil {
		return nil, err
	}
	return &res.Stats, nil
}

// Get retrieves a single dead letter entry
func (p *Policy) Get(ctx context.Context, id string) (*entity.Entry, error) {
	post, err := p.posts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != postentity.StatusFailed {
		return nil, postentity.ErrNotInDeadLetter
	}
	e := entity.FromPost(post)
	return &e, nil
}

// Retry moves the failed post back to scheduled with a full attempt budget
func (p *Policy) Retry(ctx context.Context, id string) (*postentity.Post, error) {
	post, err := p.posts.Requeue(ctx, id, p.requeueDelay)
	if err != nil {
		metrics.DeadLetterOps.WithLabelValues("retry", "error").Inc()
		return nil, err
	}

	metrics.DeadLetterOps.WithLabelValues("retry", "ok").Inc()
	p.logger.Info("dead letter requeued", "post_id", id, "scheduled_at", post.ScheduledAt)
	return post, nil
}

// RetryAll requeues every entry independently. One failure never stops the others.
func (p *Policy) RetryAll(ctx context.Context, ids []string) *entity.BulkResult {
	return p.bulk(ctx, ids, func(ctx context.Context, id string) error {
		_, err := p.Retry(ctx, id)
		return err
	})
}

// Delete permanently removes the failed post and its stored media
func (p *Policy) Delete(ctx context.Context, id string) error {
	post, err := p.posts.DeleteFailed(ctx, id)
	if err != nil {
		metrics.DeadLetterOps.WithLabelValues("delete", "error").Inc()
		return err
	}

	if post.Media != nil && post.Media.Key != "" && p.media != nil {
		if err := p.media.Delete(ctx, post.Media.Key); err != nil {
			p.logger.Warn("failed to delete dead letter media", "post_id", id, "key", post.Media.Key, "error", err)
		}
	}

	metrics.DeadLetterOps.WithLabelValues("delete", "ok").Inc()
	p.logger.Info("dead letter deleted", "post_id", id)
	return nil
}

// DeleteAll deletes every entry independently. One failure never stops the others.
func (p *Policy) DeleteAll(ctx context.Context, ids []string) *entity.BulkResult {
	return p.bulk(ctx, ids, p.Delete)
}

func (p *Policy) bulk(ctx context.Context, ids []string, op func(ctx context.Context, id string) error) *entity.BulkResult {
	res := &entity.BulkResult{Results: make([]entity.ItemResult, 0, len(ids))}
	seen := make(map[string]bool, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		if err := op(ctx, id); err != nil {
			res.Results = append(res.Results, entity.ItemResult{ID: id, Error: err.Error()})
			continue
		}
		res.Count++
		res.Results = append(res.Results, entity.ItemResult{ID: id, Success: true})
	}

	return res
}

func aggregate(entries []entity.Entry) postentity.DeadLetterStats {
	st := postentity.DeadLetterStats{
		ByPlatform:  make(map[platform.Platform]int64),
		ByErrorKind: make(map[postentity.ErrorKind]int64),
	}

	for _, e := range entries {
		st.Total++
		st.ByPlatform[e.Platform]++
		st.ByErrorKind[e.ErrorKind]++
		if st.OldestFailure == nil || e.FailedAt.Before(*st.OldestFailure) {
			t := e.FailedAt
			st.OldestFailure = &t
		}
	}

	return st
}
