package policy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/dao"
	postentity "github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/service"
)

type recordingRemover struct {
	keys []string
}

func (r *recordingRemover) Delete(ctx context.Context, key string) error {
	r.keys = append(r.keys, key)
	return nil
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPolicy(t *testing.T) (*Policy, *service.Service, *recordingRemover) {
	t.Helper()
	svc := service.New(dao.NewPostMemory(), service.WithClock(func() time.Time { return base }))
	remover := &recordingRemover{}
	return New(svc, remover, 0, slog.New(slog.NewTextHandler(io.Discard, nil))), svc, remover
}

func failPost(t *testing.T, svc *service.Service, p platform.Platform, ct platform.ContentType, kind postentity.ErrorKind) *postentity.Post {
	t.Helper()
	ctx := context.Background()

	in := service.CreateInput{
		Platform:    p,
		ContentType: ct,
		Caption:     "hello",
		ScheduledAt: base.Add(-time.Minute),
		MaxAttempts: 3,
	}
	if ct.RequiresMedia() {
		in.Media = &postentity.Media{Key: "2026/03/01/" + string(p) + ".mp4", URL: "http://media/x.mp4", ContentType: "video/mp4"}
	}

	post, _, err := svc.Create(ctx, in)
	require.NoError(t, err)
	post, err = svc.Claim(ctx, post)
	require.NoError(t, err)
	post, err = svc.MarkFailed(ctx, post, 3, "upstream said no", kind)
	require.NoError(t, err)
	return post
}

func TestPolicy_ListAggregatesAndFilters(t *testing.T) {
	pol, svc, _ := newTestPolicy(t)
	failPost(t, svc, platform.Instagram, platform.Reel, postentity.ErrorKindAuth)
	failPost(t, svc, platform.Instagram, platform.Photo, postentity.ErrorKindContent)
	failPost(t, svc, platform.WhatsApp, platform.TextMessage, postentity.ErrorKindAuth)

	res, err := pol.List(context.Background(), ListInput{})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 3)
	assert.Equal(t, int64(3), res.Stats.Total)
	assert.Equal(t, int64(2), res.Stats.ByPlatform[platform.Instagram])
	assert.Equal(t, int64(2), res.Stats.ByErrorKind[postentity.ErrorKindAuth])
	require.NotNil(t, res.Stats.OldestFailure)
	assert.Equal(t, base, *res.Stats.OldestFailure)

	kind := postentity.ErrorKindAuth
	ig := platform.Instagram
	res, err = pol.List(context.Background(), ListInput{Platform: &ig, ErrorKind: &kind})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "upstream said no", res.Entries[0].LastError)
	assert.Equal(t, res.Entries[0].ID, res.Entries[0].PostID)
}

func TestPolicy_RetryResetsAttempts(t *testing.T) {
	pol, svc, _ := newTestPolicy(t)
	failed := failPost(t, svc, platform.TikTok, platform.ShortVideo, postentity.ErrorKindNetwork)

	post, err := pol.Retry(context.Background(), failed.ID)
	require.NoError(t, err)
	assert.Equal(t, postentity.StatusScheduled, post.Status)
	assert.Equal(t, 0, post.AttemptCount)
	assert.Empty(t, post.LastError)
	assert.Nil(t, post.FailedAt)

	_, err = pol.Retry(context.Background(), failed.ID)
	assert.ErrorIs(t, err, postentity.ErrNotInDeadLetter)

	stats, err := pol.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestPolicy_BulkOperationsAreIndependent(t *testing.T) {
	tests := []struct {
		name string
		run  func(p *Policy, ids []string) int
	}{
		{
			name: "retry all",
			run: func(p *Policy, ids []string) int {
				return p.RetryAll(context.Background(), ids).Count
			},
		},
		{
			name: "delete all",
			run: func(p *Policy, ids []string) int {
				return p.DeleteAll(context.Background(), ids).Count
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pol, svc, _ := newTestPolicy(t)
			a := failPost(t, svc, platform.Instagram, platform.Reel, postentity.ErrorKindAuth)
			b := failPost(t, svc, platform.YouTube, platform.LongVideo, postentity.ErrorKindQuotaExceeded)

			count := tt.run(pol, []string{a.ID, "missing", b.ID})
			assert.Equal(t, 2, count)

			stats, err := pol.Stats(context.Background())
			require.NoError(t, err)
			assert.Zero(t, stats.Total)
		})
	}
}

func TestPolicy_DeleteRemovesMedia(t *testing.T) {
	pol, svc, remover := newTestPolicy(t)
	failed := failPost(t, svc, platform.Instagram, platform.Reel, postentity.ErrorKindContent)

	require.NoError(t, pol.Delete(context.Background(), failed.ID))
	assert.Equal(t, []string{failed.Media.Key}, remover.keys)

	_, err := svc.Get(context.Background(), failed.ID)
	assert.ErrorIs(t, err, postentity.ErrPostNotFound)

	_, err = pol.Get(context.Background(), failed.ID)
	assert.ErrorIs(t, err, postentity.ErrPostNotFound)
}

func TestPolicy_GetRejectsLivePosts(t *testing.T) {
	pol, svc, _ := newTestPolicy(t)
	post, _, err := svc.Create(context.Background(), service.CreateInput{
		Platform:    platform.WhatsApp,
		ContentType: platform.TextMessage,
		Caption:     "hi",
		ScheduledAt: base.Add(time.Hour),
		MaxAttempts: 3,
	})
	require.NoError(t, err)

	_, err = pol.Get(context.Background(), post.ID)
	assert.ErrorIs(t, err, postentity.ErrNotInDeadLetter)

	err = pol.Delete(context.Background(), post.ID)
	assert.ErrorIs(t, err, postentity.ErrNotInDeadLetter)
}
