package dao

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

// PostMemory implements PostRepository in memory.
// Used when no database is configured and in tests.
type PostMemory struct {
	mu    sync.RWMutex
	posts map[string]*entity.Post
	keys  map[string]string // idempotency key -> post id
}

// NewPostMemory creates an empty in-memory post repository
func NewPostMemory() *PostMemory {
	return &PostMemory{
		posts: make(map[string]*entity.Post),
		keys:  make(map[string]string),
	}
}

func (r *PostMemory) Create(ctx context.Context, p *entity.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.IdempotencyKey != "" {
		if _, ok := r.keys[p.IdempotencyKey]; ok {
			return ErrDuplicateIdempotencyKey
		}
		r.keys[p.IdempotencyKey] = p.ID
	}
	r.posts[p.ID] = p.Clone()
	return nil
}

func (r *PostMemory) GetByID(ctx context.Context, id string) (*entity.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (r *PostMemory) GetByIdempotencyKey(ctx context.Context, key string) (*entity.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.keys[key]
	if !ok {
		return nil, nil
	}
	p, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (r *PostMemory) List(ctx context.Context, filter PostFilter) ([]entity.Post, error) {
	r.mu.RLock()
	var out []entity.Post
	for _, p := range r.posts {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.Platform != nil && p.Platform != *filter.Platform {
			continue
		}
		if filter.ErrorKind != nil && p.ErrorKind != *filter.ErrorKind {
			continue
		}
		out = append(out, *p.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.After(out[j].ScheduledAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *PostMemory) ListDue(ctx context.Context, now time.Time, limit int) ([]entity.Post, error) {
	r.mu.RLock()
	var out []entity.Post
	for _, p := range r.posts {
		if p.IsDue(now) {
			out = append(out, *p.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PostMemory) UpdateIfStatus(ctx context.Context, p *entity.Post, expected entity.Status, claimID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.posts[p.ID]
	if !ok || stored.Status != expected || stored.ClaimID != claimID {
		return false, nil
	}

	updated := stored.Clone()
	updated.Status = p.Status
	updated.AttemptCount = p.AttemptCount
	updated.MaxAttempts = p.MaxAttempts
	updated.ScheduledAt = p.ScheduledAt
	updated.LastError = p.LastError
	updated.ErrorKind = p.ErrorKind
	updated.FailedAt = p.Clone().FailedAt
	updated.RemoteID = p.RemoteID
	updated.Permalink = p.Permalink
	updated.PublishedAt = p.Clone().PublishedAt
	updated.ClaimID = p.ClaimID
	updated.UpdatedAt = p.UpdatedAt

	r.posts[p.ID] = updated
	return true, nil
}

func (r *PostMemory) DeleteIfStatus(ctx context.Context, id string, expected entity.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok || p.Status != expected {
		return false, nil
	}
	if p.IdempotencyKey != "" {
		delete(r.keys, p.IdempotencyKey)
	}
	delete(r.posts, id)
	return true, nil
}

func (r *PostMemory) CountByStatus(ctx context.Context) (map[entity.Status]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[entity.Status]int64)
	for _, p := range r.posts {
		counts[p.Status]++
	}
	return counts, nil
}

func (r *PostMemory) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, p := range r.posts {
		if p.Status == entity.StatusProcessing && p.UpdatedAt.Before(before) {
			p.Status = entity.StatusScheduled
			p.ClaimID = ""
			p.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}
