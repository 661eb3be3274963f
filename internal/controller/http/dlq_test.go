package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	dlqentity "github.com/vadim/neo-publisher/internal/domain/dlq/entity"
	dlqpolicy "github.com/vadim/neo-publisher/internal/domain/dlq/policy"
	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

// MockDeadLetterPolicy is a mock implementation of DeadLetterPolicy
type MockDeadLetterPolicy struct {
	mock.Mock
}

func (m *MockDeadLetterPolicy) List(ctx context.Context, in dlqpolicy.ListInput) (*dlqentity.ListResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dlqentity.ListResult), args.Error(1)
}

func (m *MockDeadLetterPolicy) Stats(ctx context.Context) (*entity.DeadLetterStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.DeadLetterStats), args.Error(1)
}

func (m *MockDeadLetterPolicy) Get(ctx context.Context, id string) (*dlqentity.Entry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dlqentity.Entry), args.Error(1)
}

func (m *MockDeadLetterPolicy) Retry(ctx context.Context, id string) (*entity.Post, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Post), args.Error(1)
}

func (m *MockDeadLetterPolicy) RetryAll(ctx context.Context, ids []string) *dlqentity.BulkResult {
	return m.Called(ctx, ids).Get(0).(*dlqentity.BulkResult)
}

func (m *MockDeadLetterPolicy) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDeadLetterPolicy) DeleteAll(ctx context.Context, ids []string) *dlqentity.BulkResult {
	return m.Called(ctx, ids).Get(0).(*dlqentity.BulkResult)
}

func newDLQRouter(p DeadLetterPolicy) http.Handler {
	r := chi.NewRouter()
	NewDLQHandler(p, NewValidator()).RegisterRoutes(r)
	return r
}

func TestDLQHandler_ListFilters(t *testing.T) {
	tiktok := platform.TikTok
	quota := entity.ErrorKindQuotaExceeded

	mockPolicy := new(MockDeadLetterPolicy)
	mockPolicy.On("List", mock.Anything, dlqpolicy.ListInput{Platform: &tiktok, ErrorKind: &quota}).
		Return(&dlqentity.ListResult{Stats: entity.DeadLetterStats{Total: 0}}, nil).Once()

	rr := serve(newDLQRouter(mockPolicy), httptest.NewRequest(http.MethodGet, "/scheduler/dlq?platform=tiktok&error_kind=quota_exceeded", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.JSONEq(t, `[]`, string(got["entries"]))
	mockPolicy.AssertExpectations(t)
}

func TestDLQHandler_ListRejectsUnknownErrorKind(t *testing.T) {
	rr := serve(newDLQRouter(new(MockDeadLetterPolicy)), httptest.NewRequest(http.MethodGet, "/scheduler/dlq?error_kind=boom", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDLQHandler_Retry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "requeued", want: http.StatusOK},
		{name: "gone", err: entity.ErrPostNotFound, want: http.StatusNotFound},
		{name: "not failed", err: entity.ErrNotInDeadLetter, want: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPolicy := new(MockDeadLetterPolicy)
			if tt.err != nil {
				mockPolicy.On("Retry", mock.Anything, "p1").Return(nil, tt.err).Once()
			} else {
				mockPolicy.On("Retry", mock.Anything, "p1").Return(&entity.Post{ID: "p1", Status: entity.StatusScheduled}, nil).Once()
			}

			rr := serve(newDLQRouter(mockPolicy), httptest.NewRequest(http.MethodPost, "/scheduler/dlq/p1/retry", nil))

			assert.Equal(t, tt.want, rr.Code)
			mockPolicy.AssertExpectations(t)
		})
	}
}

func TestDLQHandler_DeleteByPostAndDelete(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			mockPolicy := new(MockDeadLetterPolicy)
			mockPolicy.On("Delete", mock.Anything, "p1").Return(nil).Once()

			rr := serve(newDLQRouter(mockPolicy), httptest.NewRequest(method, "/scheduler/dlq/p1", nil))

			assert.Equal(t, http.StatusNoContent, rr.Code)
			mockPolicy.AssertExpectations(t)
		})
	}
}

func TestDLQHandler_RetryAllReportsPerItem(t *testing.T) {
	result := &dlqentity.BulkResult{
		Count: 2,
		Results: []dlqentity.ItemResult{
			{ID: "a", Success: true},
			{ID: "gone", Success: false, Error: entity.ErrPostNotFound.Error()},
			{ID: "c", Success: true},
		},
	}
	mockPolicy := new(MockDeadLetterPolicy)
	mockPolicy.On("RetryAll", mock.Anything, []string{"a", "gone", "c"}).Return(result).Once()

	rr := serve(newDLQRouter(mockPolicy), httptest.NewRequest(http.MethodPost, "/scheduler/dlq/retry-all", strings.NewReader(`{"ids":["a","gone","c"]}`)))

	assert.Equal(t, http.StatusOK, rr.Code)
	var got dlqentity.BulkResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Count)
	assert.Len(t, got.Results, 3)
	mockPolicy.AssertExpectations(t)
}

func TestDLQHandler_BulkValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no ids", body: `{}`},
		{name: "empty ids", body: `{"ids":[]}`},
		{name: "blank id", body: `{"ids":["a",""]}`},
		{name: "bad json", body: `ids`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPolicy := new(MockDeadLetterPolicy)
			rr := serve(newDLQRouter(mockPolicy), httptest.NewRequest(http.MethodPost, "/scheduler/dlq/delete-all", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			mockPolicy.AssertNotCalled(t, "DeleteAll", mock.Anything, mock.Anything)
		})
	}
}
