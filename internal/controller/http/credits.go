package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vadim/neo-publisher/internal/domain/credit/entity"
	"github.com/vadim/neo-publisher/internal/domain/credit/service"
	"github.com/vadim/neo-publisher/internal/httpx/response"
)

// OwnerHeader names the credit owner of a request
const OwnerHeader = "X-Owner-ID"

// CreditService defines the interface for balance and purchase operations
type CreditService interface {
	ListPackages() []entity.Package
	GetBalance(ctx context.Context, ownerID string) (*entity.Balance, error)
	Purchase(ctx context.Context, in service.PurchaseInput) (*entity.Purchase, error)
	GetPurchase(ctx context.Context, ownerID, id string) (*entity.Purchase, error)
	RefreshStatus(ctx context.Context, id string) (*entity.Purchase, error)
	CancelPurchase(ctx context.Context, ownerID, id string) (*entity.Purchase, error)
}

// CreditMeter defines the interface for charging metered operations
type CreditMeter interface {
	Charge(ctx context.Context, ownerID, operation, idempotencyKey string, run func(ctx context.Context) error) (*service.ChargeResult, error)
}

// CreditHandler handles HTTP requests for credits
type CreditHandler struct {
	credits      CreditService
	meter        CreditMeter
	validate     *validator.Validate
	defaultOwner string
}

// NewCreditHandler creates a new credit handler
func NewCreditHandler(credits CreditService, meter CreditMeter, validate *validator.Validate, defaultOwner string) *CreditHandler {
	return &CreditHandler{
		credits:      credits,
		meter:        meter,
		validate:     validate,
		defaultOwner: defaultOwner,
	}
}

// RegisterRoutes registers credit routes
func (h *CreditHandler) RegisterRoutes(r chi.Router) {
	r.Route("/credits", func(r chi.Router) {
		r.Get("/packages", h.Packages())
		r.Get("/balance", h.Balance())
		r.Post("/purchase", h.Purchase())
		r.Get("/purchase/{id}", h.GetPurchase())
		r.Get("/purchase/{id}/status", h.Status())
		r.Post("/purchase/{id}/cancel", h.Cancel())
		r.Post("/consume", h.Consume())
	})
}

// PurchaseRequest represents the request body for POST /credits/purchase
type PurchaseRequest struct {
	PackageSlug   string `json:"package_slug" validate:"required"`
	PaymentMethod string `json:"payment_method" validate:"required,oneof=pix credit_card"`
	CPF           string `json:"cpf,omitempty" validate:"required_if=PaymentMethod pix,omitempty,cpf"`
}

// ConsumeRequest represents the request body for POST /credits/consume
type ConsumeRequest struct {
	Operation      string `json:"operation" validate:"required,max=64"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"max=128"`
}

// PurchaseStatusResponse is the polled view of a purchase
type PurchaseStatusResponse struct {
	ID       string                `json:"id"`
	Status   entity.PurchaseStatus `json:"status"`
	Terminal bool                  `json:"terminal"`
	Purchase *entity.Purchase      `json:"purchase"`
}

// Packages handles GET /credits/packages
func (h *CreditHandler) Packages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, h.credits.ListPackages())
	}
}

// Balance handles GET /credits/balance
func (h *CreditHandler) Balance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := h.credits.GetBalance(r.Context(), h.owner(r))
		if err != nil {
			handleCreditError(w, err)
			return
		}

		response.OK(w, b)
	}
}

// Purchase handles POST /credits/purchase
func (h *CreditHandler) Purchase() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PurchaseRequest
		if err := response.Decode(r, &req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		if err := h.validate.StructCtx(r.Context(), req); err != nil {
			response.BadRequest(w, validationMessage(err))
			return
		}

		p, err := h.credits.Purchase(r.Context(), service.PurchaseInput{
			OwnerID:     h.owner(r),
			PackageSlug: req.PackageSlug,
			Method:      req.PaymentMethod,
			CPF:         req.CPF,
		})
		if err != nil {
			handleCreditError(w, err)
			return
		}

		response.Created(w, p)
	}
}

// GetPurchase handles GET /credits/purchase/{id}
func (h *CreditHandler) GetPurchase() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := h.credits.GetPurchase(r.Context(), h.owner(r), chi.URLParam(r, "id"))
		if err != nil {
			handleCreditError(w, err)
			return
		}

		response.OK(w, p)
	}
}

// Status handles GET /credits/purchase/{id}/status. A pending purchase is refreshed from the gateway.
func (h *CreditHandler) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		p, err := h.credits.GetPurchase(r.Context(), h.owner(r), id)
		if err != nil {
			handleCreditError(w, err)
			return
		}
		if !p.Status.IsTerminal() {
			if p, err = h.credits.RefreshStatus(r.Context(), id); err != nil {
				handleCreditError(w, err)
				return
			}
		}

		response.OK(w, PurchaseStatusResponse{
			ID:       p.ID,
			Status:   p.Status,
			Terminal: p.Status.IsTerminal(),
			Purchase: p,
		})
	}
}

// Cancel handles POST /credits/purchase/{id}/cancel
func (h *CreditHandler) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := h.credits.CancelPurchase(r.Context(), h.owner(r), chi.URLParam(r, "id"))
		if err != nil {
			handleCreditError(w, err)
			return
		}

		response.OK(w, p)
	}
}

// Consume handles POST /credits/consume. It charges an operation the caller has performed.
func (h *CreditHandler) Consume() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConsumeRequest
		if err := response.Decode(r, &req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		if err := h.validate.StructCtx(r.Context(), req); err != nil {
			response.BadRequest(w, validationMessage(err))
			return
		}

		key := req.IdempotencyKey
		if key == "" {
			key = r.Header.Get("Idempotency-Key")
		}

		res, err := h.meter.Charge(r.Context(), h.owner(r), req.Operation, key, func(context.Context) error {
			return nil
		})
		if err != nil {
			handleCreditError(w, err)
			return
		}

		response.OK(w, res)
	}
}

func (h *CreditHandler) owner(r *http.Request) string {
	if owner := strings.TrimSpace(r.Header.Get(OwnerHeader)); owner != "" {
		return owner
	}
	return h.defaultOwner
}

// handleCreditError maps credit errors to HTTP responses
func handleCreditError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrPackageNotFound),
		errors.Is(err, entity.ErrPurchaseNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, entity.ErrPurchaseNotPending),
		errors.Is(err, entity.ErrChargeInProgress):
		response.Conflict(w, err.Error())
	case errors.Is(err, entity.ErrEmptyOwner),
		errors.Is(err, entity.ErrInvalidCPF),
		errors.Is(err, entity.ErrInvalidPaymentMethod),
		errors.Is(err, entity.ErrUnknownOperation):
		response.BadRequest(w, err.Error())
	case errors.Is(err, entity.ErrInsufficientCredits):
		response.PaymentRequired(w, err.Error())
	case errors.Is(err, entity.ErrPaymentGateway):
		response.ServiceUnavailable(w, "payment gateway is unavailable")
	default:
		response.InternalError(w, "internal server error")
	}
}
