package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/dao"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/retry"
	"github.com/vadim/neo-publisher/internal/domain/post/service"
)

// --- Fakes ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeGate struct {
	mu          sync.Mutex
	authorized  map[platform.Platform]bool
	invalidated []string
	touched     int
}

func newFakeGate(authorized ...platform.Platform) *fakeGate {
	g := &fakeGate{authorized: make(map[platform.Platform]bool)}
	for _, p := range authorized {
		g.authorized[p] = true
	}
	return g
}

func (g *fakeGate) Acquire(ctx context.Context, p platform.Platform, account string) (*Credential, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.authorized[p] {
		return nil, entity.ErrSessionNotAuthorized
	}
	if account == "" {
		account = "default"
	}
	return &Credential{Account: account, Token: "token"}, nil
}

func (g *fakeGate) Invalidate(ctx context.Context, p platform.Platform, account, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorized[p] = false
	g.invalidated = append(g.invalidated, account)
	return nil
}

func (g *fakeGate) Touch(ctx context.Context, p platform.Platform, account string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.touched++
	return nil
}

func (g *fakeGate) authorize(p platform.Platform) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorized[p] = true
}

// scriptedPublisher returns the scripted errors in order, then succeeds
type scriptedPublisher struct {
	mu    sync.Mutex
	errs  []error
	calls int
	delay time.Duration
}

func (p *scriptedPublisher) Publish(ctx context.Context, in PublishInput) (*PublishOutput, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= len(p.errs) {
		return nil, p.errs[p.calls-1]
	}
	return &PublishOutput{RemoteID: "remote-" + in.Post.ID, Permalink: "https://example.com/p/1"}, nil
}

func (p *scriptedPublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeStorage struct {
	mu      sync.Mutex
	uploads int
	deleted []string
}

func (s *fakeStorage) Upload(ctx context.Context, in UploadInput) (*entity.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	data, _ := io.ReadAll(in.Reader)
	return &entity.Media{Key: "2026/01/01/" + in.Filename, URL: "http://media/" + in.Filename, ContentType: in.ContentType, Size: int64(len(data))}, nil
}

func (s *fakeStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	return nil
}

type fixture struct {
	policy    *Policy
	svc       *service.Service
	clock     *fakeClock
	gate      *fakeGate
	publisher *scriptedPublisher
	storage   *fakeStorage
}

func newFixture(t *testing.T, errs ...error) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := service.New(dao.NewPostMemory(), service.WithClock(clock.Now))
	gate := newFakeGate(platform.WhatsApp, platform.Instagram)
	pub := &scriptedPublisher{errs: errs}
	storage := &fakeStorage{}

	p := New(svc, retry.NewPolicy(nil), gate,
		map[platform.Platform]Publisher{platform.WhatsApp: pub, platform.Instagram: pub},
		storage,
		Config{MaxAttempts: 3, BatchSize: 10, Concurrency: 4, OutcomeInterval: 5 * time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	return &fixture{policy: p, svc: svc, clock: clock, gate: gate, publisher: pub, storage: storage}
}

func (f *fixture) schedule(t *testing.T, maxAttempts int) *entity.Post {
	t.Helper()
	out, err := f.policy.CreatePost(context.Background(), CreatePostInput{
		Platform:    platform.WhatsApp,
		ContentType: platform.TextMessage,
		Caption:     "launch day",
		ScheduledAt: f.clock.Now(),
		MaxAttempts: maxAttempts,
	})
	require.NoError(t, err)
	return out.Post
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, f.policy.ProcessDuePosts(context.Background()))
}

func (f *fixture) get(t *testing.T, id string) *entity.Post {
	t.Helper()
	p, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func networkErr() error {
	return &entity.DeliveryError{Platform: platform.WhatsApp, StatusCode: 503, Message: "service unavailable"}
}

func authErr() error {
	return &entity.DeliveryError{Platform: platform.WhatsApp, StatusCode: 401, Message: "session expired"}
}

// --- Tests ---

func TestProcessDuePosts_NetworkTwiceThenSuccess(t *testing.T) {
	f := newFixture(t, networkErr(), networkErr())
	post := f.schedule(t, 3)

	f.tick(t)
	got := f.get(t, post.ID)
	assert.Equal(t, entity.StatusScheduled, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, entity.ErrorKindNetwork, got.ErrorKind)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), got.ScheduledAt)

	// Not due yet: nothing happens
	f.tick(t)
	assert.Equal(t, 1, f.publisher.Calls())

	f.clock.Advance(31 * time.Second)
	f.tick(t)
	got = f.get(t, post.ID)
	assert.Equal(t, 2, got.AttemptCount)

	f.clock.Advance(2 * time.Minute)
	f.tick(t)
	got = f.get(t, post.ID)

	assert.Equal(t, entity.StatusPublished, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	require.NotNil(t, got.PublishedAt)
	assert.Equal(t, "remote-"+post.ID, got.RemoteID)
	assert.Nil(t, got.FailedAt)

	failed := entity.StatusFailed
	dead, err := f.policy.ListPosts(context.Background(), ListPostsInput{Status: &failed})
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestProcessDuePosts_AuthErrorExhaustsIntoDeadLetter(t *testing.T) {
	f := newFixture(t, authErr(), authErr(), authErr())
	post := f.schedule(t, 3)

	for i := 1; i <= 3; i++ {
		f.tick(t)
		got := f.get(t, post.ID)
		assert.Equal(t, i, got.AttemptCount)
		assert.LessOrEqual(t, got.AttemptCount, got.MaxAttempts)

		// auth failures invalidate the session: the next due tick is skipped until re-auth
		f.clock.Advance(6 * time.Minute)
		f.tick(t)
		assert.Equal(t, i, f.publisher.Calls())
		f.gate.authorize(platform.WhatsApp)
	}

	got := f.get(t, post.ID)
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Equal(t, entity.ErrorKindAuth, got.ErrorKind)
	assert.Equal(t, "session expired", got.LastError)
	require.NotNil(t, got.FailedAt)
	assert.Len(t, f.gate.invalidated, 3)

	// No further attempts once dead-lettered
	f.clock.Advance(time.Hour)
	f.tick(t)
	assert.Equal(t, 3, f.publisher.Calls())

	requeued, err := f.svc.Requeue(context.Background(), post.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusScheduled, requeued.Status)
	assert.Equal(t, 0, requeued.AttemptCount)
	assert.Empty(t, requeued.ErrorKind)
	assert.Nil(t, requeued.FailedAt)
}

func TestProcessDuePosts_AttemptCountNeverExceedsMax(t *testing.T) {
	f := newFixture(t, networkErr(), networkErr(), networkErr(), networkErr())
	post := f.schedule(t, 2)

	for i := 0; i < 4; i++ {
		f.tick(t)
		f.clock.Advance(time.Hour)
	}

	got := f.get(t, post.ID)
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, 2, f.publisher.Calls())
}

func TestProcessDuePosts_UnauthorizedSessionKeepsPostScheduled(t *testing.T) {
	f := newFixture(t)
	f.gate.authorized[platform.WhatsApp] = false
	post := f.schedule(t, 3)

	f.clock.Advance(time.Hour)
	f.tick(t)
	f.tick(t)

	got := f.get(t, post.ID)
	assert.Equal(t, entity.StatusScheduled, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Equal(t, 0, f.publisher.Calls())

	f.gate.authorize(platform.WhatsApp)
	f.tick(t)
	assert.Equal(t, entity.StatusPublished, f.get(t, post.ID).Status)
}

func TestProcessDuePosts_NoDuplicateConcurrentAttempts(t *testing.T) {
	f := newFixture(t)
	f.publisher.delay = 20 * time.Millisecond
	post := f.schedule(t, 3)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.policy.ProcessDuePosts(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.publisher.Calls())
	assert.Equal(t, entity.StatusPublished, f.get(t, post.ID).Status)
}

func TestCancelPost(t *testing.T) {
	f := newFixture(t)
	post := f.schedule(t, 3)

	cancelled, err := f.policy.CancelPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, cancelled.Status)

	// cancelled posts are never attempted
	f.tick(t)
	assert.Equal(t, 0, f.publisher.Calls())

	published := f.schedule(t, 3)
	f.tick(t)
	_, err = f.policy.CancelPost(context.Background(), published.ID)
	assert.ErrorIs(t, err, entity.ErrIllegalTransition)

	_, err = f.policy.CancelPost(context.Background(), "missing")
	assert.ErrorIs(t, err, entity.ErrPostNotFound)
}

func TestCreatePost_WithFileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := CreatePostInput{
		Platform:       platform.Instagram,
		ContentType:    platform.Photo,
		Caption:        "sunset",
		Hashtags:       []string{"#travel", "travel", "beach"},
		ScheduledAt:    f.clock.Now().Add(time.Hour),
		IdempotencyKey: "req-1",
		File: &UploadInput{
			Reader:      strings.NewReader("jpeg-bytes"),
			Filename:    "sunset.jpg",
			ContentType: "image/jpeg",
		},
	}

	first, err := f.policy.CreatePost(ctx, in)
	require.NoError(t, err)
	assert.True(t, first.Created)
	require.NotNil(t, first.Post.Media)
	assert.Equal(t, "image/jpeg", first.Post.Media.ContentType)
	assert.Equal(t, []string{"travel", "beach"}, first.Post.Hashtags)
	assert.Equal(t, 3, first.Post.MaxAttempts)

	in.File.Reader = strings.NewReader("jpeg-bytes")
	second, err := f.policy.CreatePost(ctx, in)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Post.ID, second.Post.ID)
	assert.Equal(t, 1, f.storage.uploads)
}

func TestCreatePost_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.policy.CreatePost(ctx, CreatePostInput{
		Platform:    platform.TikTok,
		ContentType: platform.Photo,
		ScheduledAt: f.clock.Now(),
	})
	assert.ErrorIs(t, err, entity.ErrUnsupportedContentType)

	_, err = f.policy.CreatePost(ctx, CreatePostInput{
		Platform:    platform.Instagram,
		ContentType: platform.Reel,
		ScheduledAt: f.clock.Now(),
	})
	assert.ErrorIs(t, err, entity.ErrMediaRequired)
}

func TestAwaitOutcome(t *testing.T) {
	f := newFixture(t)
	post := f.schedule(t, 3)

	// still scheduled: returns the snapshot after the timeout without error
	got, err := f.policy.AwaitOutcome(context.Background(), post.ID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusScheduled, got.Status)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = f.policy.ProcessDuePosts(context.Background())
	}()

	got, err = f.policy.AwaitOutcome(context.Background(), post.ID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPublished, got.Status)

	_, err = f.policy.AwaitOutcome(context.Background(), "missing", time.Second)
	assert.True(t, errors.Is(err, entity.ErrPostNotFound))
}

// gatedPublisher blocks every call until release receives the outcome for it
type gatedPublisher struct {
	mu       sync.Mutex
	started  chan struct{}
	release  chan error
	remoteID string
	inFlight int
	peak     int
}

func newGatedPublisher(remoteID string) *gatedPublisher {
	return &gatedPublisher{started: make(chan struct{}, 4), release: make(chan error), remoteID: remoteID}
}

func (p *gatedPublisher) Publish(ctx context.Context, in PublishInput) (*PublishOutput, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	p.started <- struct{}{}
	select {
	case err := <-p.release:
		if err != nil {
			return nil, err
		}
		return &PublishOutput{RemoteID: p.remoteID}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestProcessDuePosts_AttemptEndsBeforeStaleRecovery(t *testing.T) {
	repo := dao.NewPostMemory()
	svc := service.New(repo)
	pub := newGatedPublisher("never")
	staleAfter := time.Second

	p := New(svc, retry.NewPolicy(nil), newFakeGate(platform.WhatsApp),
		map[platform.Platform]Publisher{platform.WhatsApp: pub},
		&fakeStorage{},
		Config{MaxAttempts: 3, StaleAfter: staleAfter},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	out, err := p.CreatePost(context.Background(), CreatePostInput{
		Platform:    platform.WhatsApp,
		ContentType: platform.TextMessage,
		Caption:     "hung upload",
		ScheduledAt: time.Now().Add(-time.Second),
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, p.ProcessDuePosts(context.Background()))

	assert.Less(t, time.Since(start), staleAfter)
	got, err := svc.Get(context.Background(), out.Post.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusScheduled, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, entity.ErrorKindNetwork, got.ErrorKind)
	assert.Empty(t, got.ClaimID)
}

func TestProcessDuePosts_ReleasedClaimCannotRecordOutcome(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo := dao.NewPostMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{MaxAttempts: 3, StaleAfter: 15 * time.Minute}

	newWorker := func(pub Publisher) (*Policy, *service.Service) {
		svc := service.New(repo, service.WithClock(clock.Now))
		return New(svc, retry.NewPolicy(nil), newFakeGate(platform.WhatsApp),
			map[platform.Platform]Publisher{platform.WhatsApp: pub}, &fakeStorage{}, cfg, logger), svc
	}
	slowPub, fastPub := newGatedPublisher("remote-slow"), newGatedPublisher("remote-fast")
	slow, svc := newWorker(slowPub)
	fast, _ := newWorker(fastPub)

	out, err := slow.CreatePost(context.Background(), CreatePostInput{
		Platform:    platform.WhatsApp,
		ContentType: platform.TextMessage,
		Caption:     "only once",
		ScheduledAt: clock.Now(),
	})
	require.NoError(t, err)

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_ = slow.ProcessDuePosts(context.Background())
	}()
	<-slowPub.started
	first, err := svc.Get(context.Background(), out.Post.ID)
	require.NoError(t, err)
	require.NotEmpty(t, first.ClaimID)

	// The slow claim goes stale and the other worker takes the post over.
	clock.Advance(16 * time.Minute)
	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		_ = fast.ProcessDuePosts(context.Background())
	}()
	<-fastPub.started
	second, err := svc.Get(context.Background(), out.Post.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, second.Status)
	assert.NotEqual(t, first.ClaimID, second.ClaimID)

	// The stale holder finishes first: its result must not land.
	slowPub.release <- nil
	<-slowDone
	got, err := svc.Get(context.Background(), out.Post.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, got.Status)
	assert.Empty(t, got.RemoteID)

	fastPub.release <- nil
	<-fastDone
	got, err = svc.Get(context.Background(), out.Post.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPublished, got.Status)
	assert.Equal(t, "remote-fast", got.RemoteID)
	assert.Equal(t, 0, got.AttemptCount)
}
