package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/dao"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

// Service handles business logic for scheduled posts.
// All status changes are compare-and-set on the current status.
type Service struct {
	posts dao.PostRepository
	now   func() time.Time
}

// Option configures the Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a new post service
func New(posts dao.PostRepository, opts ...Option) *Service {
	s := &Service{
		posts: posts,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the current time of the service clock
func (s *Service) Now() time.Time {
	return s.now()
}

// CreateInput represents input for creating a post
type CreateInput struct {
	Platform       platform.Platform
	ContentType    platform.ContentType
	AccountName    string
	Caption        string
	Title          string
	Hashtags       []string
	Media          *entity.Media
	ScheduledAt    time.Time
	MaxAttempts    int
	IdempotencyKey string
}

// Create persists a new scheduled post.
// When the idempotency key was already used the existing post is returned with created=false.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.Post, bool, error) {
	if in.IdempotencyKey != "" {
		existing, err := s.posts.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	now := s.now()
	post := &entity.Post{
		ID:             uuid.New().String(),
		Platform:       in.Platform,
		ContentType:    in.ContentType,
		AccountName:    strings.TrimSpace(in.AccountName),
		Caption:        in.Caption,
		Title:          in.Title,
		Hashtags:       normalizeHashtags(in.Hashtags),
		Media:          in.Media,
		ScheduledAt:    in.ScheduledAt.UTC(),
		Status:         entity.StatusScheduled,
		MaxAttempts:    in.MaxAttempts,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if post.Platform == platform.YouTube && post.Title == "" {
		post.Title = defaultTitle(post.Caption)
	}

	if err := post.Validate(); err != nil {
		return nil, false, err
	}

	if err := s.posts.Create(ctx, post); err != nil {
		if errors.Is(err, dao.ErrDuplicateIdempotencyKey) {
			existing, getErr := s.posts.GetByIdempotencyKey(ctx, in.IdempotencyKey)
			if getErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	return post, true, nil
}

// Get retrieves a post by ID
func (s *Service) Get(ctx context.Context, id string) (*entity.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, entity.ErrPostNotFound
	}
	return post, nil
}

// FindByIdempotencyKey returns the post created with key, nil when there is none
func (s *Service) FindByIdempotencyKey(ctx context.Context, key string) (*entity.Post, error) {
	return s.posts.GetByIdempotencyKey(ctx, key)
}

// List retrieves posts matching the filter
func (s *Service) List(ctx context.Context, filter dao.PostFilter) ([]entity.Post, error) {
	posts, err := s.posts.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []entity.Post{}
	}
	return posts, nil
}

// ListDue retrieves posts that are due for delivery
func (s *Service) ListDue(ctx context.Context, limit int) ([]entity.Post, error) {
	return s.posts.ListDue(ctx, s.now(), limit)
}

// Claim moves a due post to processing under a fresh claim id. Only one caller can claim a given post,
// and once the claim is released as stale none of the holder's later writes apply.
func (s *Service) Claim(ctx context.Context, post *entity.Post) (*entity.Post, error) {
	return s.transition(ctx, post, entity.StatusProcessing, func(p *entity.Post, _ time.Time) {
		p.ClaimID = uuid.New().String()
	})
}

// MarkPublished records a successful delivery
func (s *Service) MarkPublished(ctx context.Context, post *entity.Post, remoteID, permalink string) (*entity.Post, error) {
	return s.transition(ctx, post, entity.StatusPublished, func(p *entity.Post, now time.Time) {
		p.RemoteID = remoteID
		p.Permalink = permalink
		p.PublishedAt = &now
	})
}

// Reschedule records a failed attempt that will be retried at retryAt
func (s *Service) Reschedule(ctx context.Context, post *entity.Post, attemptCount int, retryAt time.Time, message string, kind entity.ErrorKind) (*entity.Post, error) {
	return s.transition(ctx, post, entity.StatusScheduled, func(p *entity.Post, now time.Time) {
		p.AttemptCount = attemptCount
		p.ScheduledAt = retryAt
		p.LastError = message
		p.ErrorKind = kind
	})
}

// MarkFailed records a terminal failure. The post becomes a dead letter.
func (s *Service) MarkFailed(ctx context.Context, post *entity.Post, attemptCount int, message string, kind entity.ErrorKind) (*entity.Post, error) {
	if attemptCount > post.MaxAttempts {
		attemptCount = post.MaxAttempts
	}
	return s.transition(ctx, post, entity.StatusFailed, func(p *entity.Post, now time.Time) {
		p.AttemptCount = attemptCount
		p.LastError = message
		p.ErrorKind = kind
		p.FailedAt = &now
	})
}

// Cancel cancels a post that has not started processing
func (s *Service) Cancel(ctx context.Context, id string) (*entity.Post, error) {
	post, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status == entity.StatusCancelled {
		return post, nil
	}
	return s.transition(ctx, post, entity.StatusCancelled, nil)
}

// Requeue moves a failed post back to scheduled with a full attempt budget
func (s *Service) Requeue(ctx context.Context, id string, delay time.Duration) (*entity.Post, error) {
	post, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != entity.StatusFailed {
		return nil, entity.ErrNotInDeadLetter
	}
	return s.transition(ctx, post, entity.StatusScheduled, func(p *entity.Post, now time.Time) {
		p.AttemptCount = 0
		p.ScheduledAt = now.Add(delay)
		p.LastError = ""
		p.ErrorKind = ""
		p.FailedAt = nil
	})
}

// DeleteFailed permanently removes a failed post and returns what was removed
func (s *Service) DeleteFailed(ctx context.Context, id string) (*entity.Post, error) {
	post, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != entity.StatusFailed {
		return nil, entity.ErrNotInDeadLetter
	}

	ok, err := s.posts.DeleteIfStatus(ctx, id, entity.StatusFailed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, entity.ErrStatusChanged
	}
	return post, nil
}

// Statistics returns post counts by status
func (s *Service) Statistics(ctx context.Context) (*entity.Statistics, error) {
	counts, err := s.posts.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	var st entity.Statistics
	for status, n := range counts {
		st.Add(status, n)
	}
	return &st, nil
}

// ReleaseStale returns posts stuck in processing longer than olderThan to scheduled
func (s *Service) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.posts.ReleaseStale(ctx, s.now().Add(-olderThan))
}

// transition applies mutate to a copy of post and stores it only if the stored status and claim
// are still those of post
func (s *Service) transition(ctx context.Context, post *entity.Post, to entity.Status, mutate func(p *entity.Post, now time.Time)) (*entity.Post, error) {
	if !post.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", entity.ErrIllegalTransition, post.Status, to)
	}

	now := s.now()
	next := post.Clone()
	next.Status = to
	next.ClaimID = ""
	if mutate != nil {
		mutate(next, now)
	}
	next.UpdatedAt = now

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s post: %w", to, err)
	}

	ok, err := s.posts.UpdateIfStatus(ctx, next, post.Status, post.ClaimID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, entity.ErrStatusChanged
	}
	return next, nil
}

func normalizeHashtags(tags []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tag := range tags {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		if tag == "" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		out = append(out, tag)
	}
	return out
}

func defaultTitle(caption string) string {
	title := strings.TrimSpace(strings.SplitN(caption, "\n", 2)[0])
	if r := []rune(title); len(r) > 100 {
		title = string(r[:100])
	}
	if title == "" {
		title = "Untitled"
	}
	return title
}
