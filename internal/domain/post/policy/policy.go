package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/dao"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/retry"
	"github.com/vadim/neo-publisher/internal/domain/post/service"
	"github.com/vadim/neo-publisher/internal/metrics"
	"github.com/vadim/neo-publisher/internal/poll"
)

// Publisher delivers a post to one platform.
// This interface is defined here (consumer) not in the upstream packages (providers).
type Publisher interface {
	Publish(ctx context.Context, in PublishInput) (*PublishOutput, error)
}

// Credential is the authorized session a delivery runs with
type Credential struct {
	Account      string
	Token        string
	RefreshToken string
	TokenExpiry  *time.Time
	RemoteUserID string
}

// PublishInput represents input for publishing
type PublishInput struct {
	Post       *entity.Post
	Credential Credential
}

// PublishOutput represents output from publishing
type PublishOutput struct {
	RemoteID  string
	Permalink string
}

// SessionGate exposes the platform session state the lifecycle depends on.
// Acquire returns entity.ErrSessionNotAuthorized when no usable session exists.
type SessionGate interface {
	Acquire(ctx context.Context, p platform.Platform, account string) (*Credential, error)
	Invalidate(ctx context.Context, p platform.Platform, account, reason string) error
	Touch(ctx context.Context, p platform.Platform, account string) error
}

// MediaStorage stores uploaded post media
type MediaStorage interface {
	Upload(ctx context.Context, in UploadInput) (*entity.Media, error)
	Delete(ctx context.Context, key string) error
}

// UploadInput represents a media file to store
type UploadInput struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Size        int64
}

// Config holds lifecycle tuning
type Config struct {
	MaxAttempts     int
	BatchSize       int
	Concurrency     int
	StaleAfter      time.Duration
	OutcomeInterval time.Duration
}

// Policy orchestrates the scheduled post lifecycle
type Policy struct {
	svc        *service.Service
	retry      *retry.Policy
	sessions   SessionGate
	publishers map[platform.Platform]Publisher
	storage    MediaStorage
	cfg        Config
	logger     *slog.Logger
}

// New creates a new post lifecycle policy
func New(
	svc *service.Service,
	retryPolicy *retry.Policy,
	sessions SessionGate,
	publishers map[platform.Platform]Publisher,
	storage MediaStorage,
	cfg Config,
	logger *slog.Logger,
) *Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if cfg.OutcomeInterval <= 0 {
		cfg.OutcomeInterval = time.Second
	}

	return &Policy{
		svc:        svc,
		retry:      retryPolicy,
		sessions:   sessions,
		publishers: publishers,
		storage:    storage,
		cfg:        cfg,
		logger:     logger.With("component", "post_lifecycle"),
	}
}

// CreatePostInput represents input for creating a scheduled post
type CreatePostInput struct {
	Platform       platform.Platform
	ContentType    platform.ContentType
	AccountName    string
	Caption        string
	Title          string
	Hashtags       []string
	ScheduledAt    time.Time
	MaxAttempts    int
	IdempotencyKey string

	// Either File (uploaded to storage) or MediaURL (used as-is) may carry the media
	File             *UploadInput
	MediaURL         string
	MediaContentType string
}

// CreatePostOutput represents output from creating a post
type CreatePostOutput struct {
	Post    *entity.Post
	Created bool // false when the idempotency key matched an existing post
}

// CreatePost stores the media and persists a new scheduled post
func (p *Policy) CreatePost(ctx context.Context, in CreatePostInput) (*CreatePostOutput, error) {
	if !in.Platform.Supports(in.ContentType) {
		return nil, fmt.Errorf("%w: %s does not accept %s", entity.ErrUnsupportedContentType, in.Platform, in.ContentType)
	}

	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.MaxAttempts
	}

	var media *entity.Media
	var uploaded bool
	switch {
	case in.File != nil:
		if in.IdempotencyKey != "" {
			// Skip the upload entirely for a replayed request.
			existing, err := p.svc.FindByIdempotencyKey(ctx, in.IdempotencyKey)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return &CreatePostOutput{Post: existing}, nil
			}
		}
		m, err := p.storage.Upload(ctx, *in.File)
		if err != nil {
			return nil, fmt.Errorf("storing media: %w", err)
		}
		media = m
		uploaded = true
	case in.MediaURL != "":
		media = &entity.Media{URL: in.MediaURL, ContentType: in.MediaContentType}
	}

	post, created, err := p.svc.Create(ctx, service.CreateInput{
		Platform:       in.Platform,
		ContentType:    in.ContentType,
		AccountName:    in.AccountName,
		Caption:        in.Caption,
		Title:          in.Title,
		Hashtags:       in.Hashtags,
		Media:          media,
		ScheduledAt:    in.ScheduledAt,
		MaxAttempts:    maxAttempts,
		IdempotencyKey: in.IdempotencyKey,
	})
	if (err != nil || !created) && uploaded {
		p.deleteMedia(ctx, media)
	}
	if err != nil {
		return nil, err
	}

	if created {
		p.logger.Info("post scheduled",
			"post_id", post.ID,
			"platform", post.Platform,
			"content_type", post.ContentType,
			"scheduled_at", post.ScheduledAt,
		)
	}

	return &CreatePostOutput{Post: post, Created: created}, nil
}

// GetPost retrieves a post by ID
func (p *Policy) GetPost(ctx context.Context, id string) (*entity.Post, error) {
	return p.svc.Get(ctx, id)
}

// ListPostsInput represents input for listing posts
type ListPostsInput struct {
	Status   *entity.Status
	Platform *platform.Platform
	Limit    int
	Offset   int
}

// ListPosts retrieves posts with filtering
func (p *Policy) ListPosts(ctx context.Context, in ListPostsInput) ([]entity.Post, error) {
	return p.svc.List(ctx, dao.PostFilter{
		Status:   in.Status,
		Platform: in.Platform,
		Limit:    in.Limit,
		Offset:   in.Offset,
	})
}

// AwaitOutcome waits up to timeout for the post to settle and returns its latest state.
// A post still in flight when the timeout elapses is returned without error.
func (p *Policy) AwaitOutcome(ctx context.Context, id string, timeout time.Duration) (*entity.Post, error) {
	post, err := poll.Until(ctx,
		poll.Config{Interval: p.cfg.OutcomeInterval, Timeout: timeout},
		func(ctx context.Context) (*entity.Post, error) { return p.svc.Get(ctx, id) },
		func(post *entity.Post) bool { return post.Status.IsSettled() },
		nil,
	)
	if errors.Is(err, poll.ErrTimeout) && post != nil {
		return post, nil
	}
	return post, err
}

// CancelPost cancels a post that is still scheduled
func (p *Policy) CancelPost(ctx context.Context, id string) (*entity.Post, error) {
	post, err := p.svc.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}

	p.logger.Info("post cancelled", "post_id", id)
	return post, nil
}

// Statistics returns counts by status
func (p *Policy) Statistics(ctx context.Context) (*entity.Statistics, error) {
	return p.svc.Statistics(ctx)
}

// RecoverStale returns posts abandoned in processing (e.g. after a crash) to scheduled
func (p *Policy) RecoverStale(ctx context.Context) error {
	if p.cfg.StaleAfter <= 0 {
		return nil
	}

	n, err := p.svc.ReleaseStale(ctx, p.cfg.StaleAfter)
	if err != nil {
		return fmt.Errorf("releasing stale posts: %w", err)
	}
	if n > 0 {
		p.logger.Warn("released stale processing posts", "count", n)
	}
	return nil
}

// ProcessDuePosts delivers every due post whose session is authorized.
// This should be called by the scheduler.
func (p *Policy) ProcessDuePosts(ctx context.Context) error {
	if err := p.RecoverStale(ctx); err != nil {
		p.logger.Error("failed to recover stale posts", "error", err)
	}

	posts, err := p.svc.ListDue(ctx, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("listing due posts: %w", err)
	}
	if len(posts) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for i := range posts {
		post := &posts[i]
		g.Go(func() error {
			p.processPost(gctx, post)
			return nil
		})
	}

	return g.Wait()
}

// processPost runs one delivery attempt. Errors are recorded on the post, never returned.
func (p *Policy) processPost(ctx context.Context, post *entity.Post) {
	log := p.logger.With("post_id", post.ID, "platform", post.Platform)

	cred, err := p.sessions.Acquire(ctx, post.Platform, post.AccountName)
	if err != nil {
		if errors.Is(err, entity.ErrSessionNotAuthorized) {
			// Not an attempt: the post waits for the session.
			metrics.SkippedUnauthorized.WithLabelValues(string(post.Platform)).Inc()
			log.Debug("session not authorized, post stays scheduled", "account", post.AccountName)
			return
		}
		log.Error("failed to acquire session", "error", err)
		return
	}

	// The attempt must end before stale recovery may hand the post to another worker.
	attemptCtx, cancel := p.attemptContext(ctx)
	defer cancel()

	claimed, err := p.svc.Claim(ctx, post)
	if err != nil {
		if !errors.Is(err, entity.ErrStatusChanged) {
			log.Error("failed to claim post", "error", err)
		}
		return
	}

	start := time.Now()
	out, deliveryErr := p.deliver(attemptCtx, claimed, *cred)
	metrics.DeliveryDuration.WithLabelValues(string(post.Platform)).Observe(time.Since(start).Seconds())

	if deliveryErr != nil && ctx.Err() != nil {
		// Shutting down: the attempt never got a definitive answer. Stale recovery requeues it.
		log.Warn("delivery interrupted", "error", deliveryErr)
		return
	}

	if deliveryErr == nil {
		if _, err := p.svc.MarkPublished(ctx, claimed, out.RemoteID, out.Permalink); err != nil {
			if errors.Is(err, entity.ErrStatusChanged) {
				log.Warn("claim lost before the delivery was recorded", "remote_id", out.RemoteID)
				return
			}
			log.Error("failed to mark post published", "error", err)
			return
		}
		if err := p.sessions.Touch(ctx, post.Platform, cred.Account); err != nil {
			log.Warn("failed to touch session", "error", err)
		}
		metrics.DeliveriesTotal.WithLabelValues(string(post.Platform), "published", "").Inc()
		log.Info("post published", "remote_id", out.RemoteID, "attempts_failed", claimed.AttemptCount)
		return
	}

	p.handleFailure(ctx, log, claimed, cred.Account, deliveryErr)
}

// attemptContext bounds one delivery attempt to a tenth less than StaleAfter
func (p *Policy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.StaleAfter <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.StaleAfter-p.cfg.StaleAfter/10)
}

func (p *Policy) deliver(ctx context.Context, post *entity.Post, cred Credential) (*PublishOutput, error) {
	publisher, ok := p.publishers[post.Platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrNoPublisher, post.Platform)
	}

	out, err := publisher.Publish(ctx, PublishInput{Post: post, Credential: cred})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &PublishOutput{}
	}
	return out, nil
}

func (p *Policy) handleFailure(ctx context.Context, log *slog.Logger, post *entity.Post, account string, deliveryErr error) {
	failure := retry.FailureFromError(post.Platform, deliveryErr)
	kind := retry.Classify(failure)
	message := failure.Message
	if message == "" {
		message = deliveryErr.Error()
	}

	attempt := post.AttemptCount + 1
	decision := p.retry.Decide(attempt, post.MaxAttempts, kind)

	if kind == entity.ErrorKindAuth {
		if err := p.sessions.Invalidate(ctx, post.Platform, account, message); err != nil {
			log.Warn("failed to invalidate session", "error", err)
		}
	}

	if decision.Terminal {
		if _, err := p.svc.MarkFailed(ctx, post, attempt, message, kind); err != nil {
			log.Error("failed to dead-letter post", "error", err)
			return
		}
		metrics.DeliveriesTotal.WithLabelValues(string(post.Platform), "failed", string(kind)).Inc()
		log.Error("post moved to dead letter queue",
			"error_kind", kind,
			"attempts", attempt,
			"error", message,
		)
		return
	}

	retryAt := p.svc.Now().Add(decision.RetryAfter)
	if _, err := p.svc.Reschedule(ctx, post, attempt, retryAt, message, kind); err != nil {
		log.Error("failed to reschedule post", "error", err)
		return
	}
	metrics.DeliveriesTotal.WithLabelValues(string(post.Platform), "retry", string(kind)).Inc()
	log.Warn("delivery failed, retry scheduled",
		"error_kind", kind,
		"attempt", attempt,
		"retry_at", retryAt,
		"error", message,
	)
}

func (p *Policy) deleteMedia(ctx context.Context, media *entity.Media) {
	if media == nil || media.Key == "" {
		return
	}
	if err := p.storage.Delete(ctx, media.Key); err != nil {
		p.logger.Warn("failed to delete orphaned media", "key", media.Key, "error", err)
	}
}
