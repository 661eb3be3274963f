package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	dlqentity "github.com/vadim/neo-publisher/internal/domain/dlq/entity"
	dlqpolicy "github.com/vadim/neo-publisher/internal/domain/dlq/policy"
	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/httpx/response"
)

// DeadLetterPolicy defines the interface for dead letter queue operations
type DeadLetterPolicy interface {
	List(ctx context.Context, in dlqpolicy.ListInput) (*dlqentity.ListResult, error)
	Stats(ctx context.Context) (*entity.DeadLetterStats, error)
	Get(ctx context.Context, id string) (*dlqentity.Entry, error)
	Retry(ctx context.Context, id string) (*entity.Post, error)
	RetryAll(ctx context.Context, ids []string) *dlqentity.BulkResult
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context, ids []string) *dlqentity.BulkResult
}

// DLQHandler handles HTTP requests for the dead letter queue
type DLQHandler struct {
	policy   DeadLetterPolicy
	validate *validator.Validate
}

// NewDLQHandler creates a new dead letter queue handler
func NewDLQHandler(p DeadLetterPolicy, validate *validator.Validate) *DLQHandler {
	return &DLQHandler{policy: p, validate: validate}
}

// RegisterRoutes registers dead letter queue routes
func (h *DLQHandler) RegisterRoutes(r chi.Router) {
	r.Route("/scheduler/dlq", func(r chi.Router) {
		r.Get("/", h.List())
		r.Get("/stats", h.Stats())
		r.Post("/retry-all", h.RetryAll())
		r.Post("/delete-all", h.DeleteAll())
		r.Get("/{id}", h.Get())
		r.Post("/{id}/retry", h.Retry())
		r.Post("/{id}", h.Delete())
		r.Delete("/{id}", h.Delete())
	})
}

// BulkRequest represents the request body for bulk dead letter operations
type BulkRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
}

// List handles GET /scheduler/dlq
func (h *DLQHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		in := dlqpolicy.ListInput{}

		if v := q.Get("platform"); v != "" {
			p, err := platform.Parse(v)
			if err != nil {
				response.BadRequest(w, err.Error())
				return
			}
			in.Platform = &p
		}
		if v := q.Get("error_kind"); v != "" {
			k, err := entity.ParseErrorKind(v)
			if err != nil {
				response.BadRequest(w, err.Error())
				return
			}
			in.ErrorKind = &k
		}

		out, err := h.policy.List(r.Context(), in)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		if out.Entries == nil {
			out.Entries = []dlqentity.Entry{}
		}

		response.OK(w, out)
	}
}

// Stats handles GET /scheduler/dlq/stats
func (h *DLQHandler) Stats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.policy.Stats(r.Context())
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, stats)
	}
}

// Get handles GET /scheduler/dlq/{id}
func (h *DLQHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := h.policy.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, e)
	}
}

// Retry handles POST /scheduler/dlq/{id}/retry
func (h *DLQHandler) Retry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		post, err := h.policy.Retry(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, post)
	}
}

// Delete handles POST and DELETE /scheduler/dlq/{id}
func (h *DLQHandler) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.policy.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			handleDomainError(w, err)
			return
		}

		response.NoContent(w)
	}
}

// RetryAll handles POST /scheduler/dlq/retry-all
func (h *DLQHandler) RetryAll() http.HandlerFunc {
	return h.bulk(h.policy.RetryAll)
}

// DeleteAll handles POST /scheduler/dlq/delete-all
func (h *DLQHandler) DeleteAll() http.HandlerFunc {
	return h.bulk(h.policy.DeleteAll)
}

// bulk runs op over the requested ids. Per-item failures are reported in the body, never as the status.
func (h *DLQHandler) bulk(op func(ctx context.Context, ids []string) *dlqentity.BulkResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BulkRequest
		if err := response.Decode(r, &req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		if err := h.validate.StructCtx(r.Context(), req); err != nil {
			response.BadRequest(w, validationMessage(err))
			return
		}

		response.OK(w, op(r.Context(), req.IDs))
	}
}
