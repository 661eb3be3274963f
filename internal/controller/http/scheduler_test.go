package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/policy"
)

// MockPostPolicy is a mock implementation of PostPolicy
type MockPostPolicy struct {
	mock.Mock
}

func (m *MockPostPolicy) CreatePost(ctx context.Context, in policy.CreatePostInput) (*policy.CreatePostOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*policy.CreatePostOutput), args.Error(1)
}

func (m *MockPostPolicy) GetPost(ctx context.Context, id string) (*entity.Post, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Post), args.Error(1)
}

func (m *MockPostPolicy) ListPosts(ctx context.Context, in policy.ListPostsInput) ([]entity.Post, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Post), args.Error(1)
}

func (m *MockPostPolicy) AwaitOutcome(ctx context.Context, id string, timeout time.Duration) (*entity.Post, error) {
	args := m.Called(ctx, id, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Post), args.Error(1)
}

func (m *MockPostPolicy) CancelPost(ctx context.Context, id string) (*entity.Post, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Post), args.Error(1)
}

func (m *MockPostPolicy) Statistics(ctx context.Context) (*entity.Statistics, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Statistics), args.Error(1)
}

func newSchedulerRouter(p PostPolicy) http.Handler {
	r := chi.NewRouter()
	NewSchedulerHandler(p, NewValidator()).RegisterRoutes(r)
	return r
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body["error"]
}

var pngHeader = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 64)...)

func TestSchedulerHandler_Create(t *testing.T) {
	due := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	mockPolicy := new(MockPostPolicy)
	mockPolicy.On("CreatePost", mock.Anything, mock.MatchedBy(func(in policy.CreatePostInput) bool {
		return in.Platform == platform.WhatsApp &&
			in.ContentType == platform.TextMessage &&
			in.ScheduledAt.Equal(due) &&
			in.IdempotencyKey == "key-1" &&
			assert.ObjectsAreEqual([]string{"sale", "promo"}, in.Hashtags)
	})).Return(&policy.CreatePostOutput{
		Post:    &entity.Post{ID: "p1", Status: entity.StatusScheduled},
		Created: true,
	}, nil).Once()

	body := `{"platform":"whatsapp","content_type":"text_message","caption":"hello","hashtags":["#sale","promo","Sale"],"scheduled_time":"2026-11-01T12:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/scheduler/posts", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "key-1")

	rr := serve(newSchedulerRouter(mockPolicy), req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	var got entity.Post
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "p1", got.ID)
	mockPolicy.AssertExpectations(t)
}

func TestSchedulerHandler_CreateReplayReturnsOK(t *testing.T) {
	mockPolicy := new(MockPostPolicy)
	mockPolicy.On("CreatePost", mock.Anything, mock.Anything).
		Return(&policy.CreatePostOutput{Post: &entity.Post{ID: "p1"}, Created: false}, nil).Once()

	body := `{"platform":"whatsapp","content_type":"text_message","caption":"hello","scheduled_time":"2026-11-01T12:00:00Z"}`
	rr := serve(newSchedulerRouter(mockPolicy), httptest.NewRequest(http.MethodPost, "/scheduler/posts", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSchedulerHandler_CreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "invalid json", body: `{`, wantErr: "invalid JSON"},
		{name: "missing platform", body: `{"content_type":"photo","scheduled_time":"2026-11-01T12:00:00Z"}`, wantErr: "platform is required"},
		{name: "missing time", body: `{"platform":"instagram","content_type":"photo"}`, wantErr: "scheduled_time is required"},
		{name: "unknown platform", body: `{"platform":"myspace","content_type":"photo","scheduled_time":"2026-11-01T12:00:00Z"}`, wantErr: "unknown platform"},
		{name: "bad media url", body: `{"platform":"instagram","content_type":"photo","scheduled_time":"2026-11-01T12:00:00Z","media_url":"nope"}`, wantErr: "media_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPolicy := new(MockPostPolicy)
			rr := serve(newSchedulerRouter(mockPolicy), httptest.NewRequest(http.MethodPost, "/scheduler/posts", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, errorBody(t, rr), tt.wantErr)
			mockPolicy.AssertNotCalled(t, "CreatePost", mock.Anything, mock.Anything)
		})
	}
}

func multipartRequest(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "upload.bin")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/scheduler/posts/with-file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestSchedulerHandler_CreateWithFile(t *testing.T) {
	mockPolicy := new(MockPostPolicy)
	mockPolicy.On("CreatePost", mock.Anything, mock.MatchedBy(func(in policy.CreatePostInput) bool {
		if in.File == nil || in.File.ContentType != "image/png" || in.File.Filename != "upload.bin" {
			return false
		}
		// The sniffed bytes must still reach storage
		data, err := io.ReadAll(in.File.Reader)
		return err == nil && bytes.Equal(data, pngHeader) &&
			in.AccountName == "brand" &&
			assert.ObjectsAreEqual([]string{"a", "b"}, in.Hashtags)
	})).Return(&policy.CreatePostOutput{Post: &entity.Post{ID: "p1"}, Created: true}, nil).Once()

	req := multipartRequest(t, map[string]string{
		"platform":       "instagram",
		"content_type":   "photo",
		"caption":        "new drop",
		"hashtags":       "#a, b",
		"scheduled_time": "2026-11-01T12:00:00Z",
		"account_name":   " brand ",
	}, pngHeader)

	rr := serve(newSchedulerRouter(mockPolicy), req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	mockPolicy.AssertExpectations(t)
}

func TestSchedulerHandler_CreateWithFileRejectsMismatchedMedia(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		file        []byte
	}{
		{name: "image for reel", contentType: "reel", file: pngHeader},
		{name: "not media", contentType: "photo", file: []byte("just some text that is not an image")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPolicy := new(MockPostPolicy)
			req := multipartRequest(t, map[string]string{
				"platform":       "instagram",
				"content_type":   tt.contentType,
				"scheduled_time": "2026-11-01T12:00:00Z",
			}, tt.file)

			rr := serve(newSchedulerRouter(mockPolicy), req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, errorBody(t, rr), entity.ErrUnsupportedMediaType.Error())
			mockPolicy.AssertNotCalled(t, "CreatePost", mock.Anything, mock.Anything)
		})
	}
}

func TestSchedulerHandler_List(t *testing.T) {
	failed := entity.StatusFailed
	mockPolicy := new(MockPostPolicy)
	mockPolicy.On("ListPosts", mock.Anything, policy.ListPostsInput{Status: &failed, Limit: 10}).
		Return(nil, nil).Once()

	rr := serve(newSchedulerRouter(mockPolicy), httptest.NewRequest(http.MethodGet, "/scheduler/posts?status=failed&limit=10", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
	mockPolicy.AssertExpectations(t)
}

func TestSchedulerHandler_ListRejectsUnknownStatus(t *testing.T) {
	rr := serve(newSchedulerRouter(new(MockPostPolicy)), httptest.NewRequest(http.MethodGet, "/scheduler/posts?status=done", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSchedulerHandler_GetWaits(t *testing.T) {
	mockPolicy := new(MockPostPolicy)
	mockPolicy.On("AwaitOutcome", mock.Anything, "p1", MaxOutcomeWait).
		Return(&entity.Post{ID: "p1", Status: entity.StatusPublished}, nil).Once()

	rr := serve(newSchedulerRouter(mockPolicy), httptest.NewRequest(http.MethodGet, "/scheduler/posts/p1?wait=5m", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	mockPolicy.AssertExpectations(t)
}

func TestParseWait(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "10s", want: 10 * time.Second},
		{in: "15", want: 15 * time.Second},
		{in: "2m", want: MaxOutcomeWait},
		{in: "-1s", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWait(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchedulerHandler_DomainErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: entity.ErrPostNotFound, want: http.StatusNotFound},
		{err: fmt.Errorf("cancelling: %w", entity.ErrIllegalTransition), want: http.StatusConflict},
		{err: entity.ErrStatusChanged, want: http.StatusConflict},
		{err: assert.AnError, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			mockPolicy := new(MockPostPolicy)
			mockPolicy.On("CancelPost", mock.Anything, "p1").Return(nil, tt.err).Once()

			rr := serve(newSchedulerRouter(mockPolicy), httptest.NewRequest(http.MethodDelete, "/scheduler/posts/p1", nil))

			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestSchedulerHandler_Stats(t *testing.T) {
	mockPolicy := new(MockPostPolicy)
	mockPolicy.On("Statistics", mock.Anything).Return(&entity.Statistics{Scheduled: 2, Failed: 1, Total: 3}, nil).Once()

	rr := serve(newSchedulerRouter(mockPolicy), httptest.NewRequest(http.MethodGet, "/scheduler/stats", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var got entity.Statistics
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, int64(3), got.Total)
}
