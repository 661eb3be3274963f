package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/session/entity"
	"github.com/vadim/neo-publisher/internal/httpx/response"
)

// SessionManager defines the interface for platform session operations
type SessionManager interface {
	InitiateLogin(ctx context.Context, p platform.Platform, account, password string) (*entity.LoginResult, error)
	ResolveChallenge(ctx context.Context, p platform.Platform, account, code string) (*entity.ResolveResult, error)
	ResendChallenge(ctx context.Context, p platform.Platform, account, method string) (*entity.Challenge, error)
	AbandonChallenge(ctx context.Context, p platform.Platform, account string) error
	GetChallenge(ctx context.Context, p platform.Platform, account string) (*entity.Challenge, error)
	Revoke(ctx context.Context, p platform.Platform, account string) error
	GetSession(ctx context.Context, p platform.Platform, account string) (*entity.Session, error)
	ListSessions(ctx context.Context, p *platform.Platform) ([]entity.Session, error)
}

// SessionHandler handles HTTP requests for platform logins and sessions.
// Instagram keeps its username based routes; other platforms use /sessions/{platform}.
type SessionHandler struct {
	sessions SessionManager
	validate *validator.Validate
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(s SessionManager, validate *validator.Validate) *SessionHandler {
	return &SessionHandler{sessions: s, validate: validate}
}

// RegisterRoutes registers session routes
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/instagram", func(r chi.Router) {
		r.Post("/login", h.InstagramLogin())
		r.Post("/challenge/resolve", h.InstagramResolve())
		r.Post("/challenge/request", h.InstagramResend())
		r.Delete("/challenge", h.InstagramAbandon())
		r.Get("/sessions", h.InstagramList())
		r.Get("/sessions/{username}", h.InstagramGet())
		r.Delete("/sessions/{username}", h.InstagramRevoke())
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.List())
		r.Get("/{platform}", h.List())
		r.Post("/{platform}/login", h.Login())
		r.Post("/{platform}/challenge/resolve", h.Resolve())
		r.Post("/{platform}/challenge/request", h.Resend())
		r.Get("/{platform}/challenge", h.Challenge())
		r.Delete("/{platform}/challenge", h.Abandon())
		r.Get("/{platform}/{account}", h.Get())
		r.Delete("/{platform}/{account}", h.Revoke())
	})
}

// Login outcomes as reported to clients
const (
	statusSuccess           = "success"
	statusChallengeRequired = "challenge_required"
	statusRejected          = "rejected"
	statusInvalidCode       = "invalid_code"
	statusExhausted         = "exhausted"
)

// InstagramLoginRequest represents the request body for POST /instagram/login
type InstagramLoginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required"`
}

// InstagramResolveRequest represents the request body for POST /instagram/challenge/resolve
type InstagramResolveRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Code     string `json:"code" validate:"required,max=16"`
}

// LoginRequest represents the request body for POST /sessions/{platform}/login
type LoginRequest struct {
	Account  string `json:"account" validate:"required,max=255"`
	Password string `json:"password" validate:"required"`
}

// ResolveRequest represents the request body for POST /sessions/{platform}/challenge/resolve
type ResolveRequest struct {
	Account string `json:"account" validate:"required,max=255"`
	Code    string `json:"code" validate:"required,max=16"`
}

// ResendRequest represents the request body for POST /sessions/{platform}/challenge/request
type ResendRequest struct {
	Account string `json:"account" validate:"required,max=255"`
	Method  string `json:"method,omitempty" validate:"omitempty,oneof=sms email app"`
}

// LoginResponse is the outcome of a login or challenge step
type LoginResponse struct {
	Status            string          `json:"status"`
	ChallengeType     string          `json:"challenge_type,omitempty"`
	AttemptsRemaining *int            `json:"attempts_remaining,omitempty"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
	Session           *entity.Session `json:"session,omitempty"`
	Message           string          `json:"message,omitempty"`
}

// InstagramLogin handles POST /instagram/login
func (h *SessionHandler) InstagramLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InstagramLoginRequest
		if !h.decode(w, r, &req) {
			return
		}
		h.login(w, r, platform.Instagram, req.Username, req.Password)
	}
}

// Login handles POST /sessions/{platform}/login
func (h *SessionHandler) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := platformParam(w, r)
		if !ok {
			return
		}
		var req LoginRequest
		if !h.decode(w, r, &req) {
			return
		}
		h.login(w, r, p, req.Account, req.Password)
	}
}

func (h *SessionHandler) login(w http.ResponseWriter, r *http.Request, p platform.Platform, account, password string) {
	res, err := h.sessions.InitiateLogin(r.Context(), p, account, password)
	if err != nil {
		handleSessionError(w, err)
		return
	}

	switch res.Outcome {
	case entity.OutcomeAuthorized:
		response.OK(w, LoginResponse{Status: statusSuccess, Session: res.Session})
	case entity.OutcomeChallengeRequired:
		out := LoginResponse{Status: statusChallengeRequired, Session: res.Session}
		if ch := res.Challenge; ch != nil {
			out.ChallengeType = string(ch.Kind)
			out.AttemptsRemaining = ch.AttemptsRemaining
			out.ExpiresAt = &ch.ExpiresAt
		}
		response.OK(w, out)
	default:
		response.JSON(w, http.StatusUnauthorized, LoginResponse{Status: statusRejected, Message: res.Reason})
	}
}

// InstagramResolve handles POST /instagram/challenge/resolve
func (h *SessionHandler) InstagramResolve() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InstagramResolveRequest
		if !h.decode(w, r, &req) {
			return
		}
		h.resolve(w, r, platform.Instagram, req.Username, req.Code)
	}
}

// Resolve handles POST /sessions/{platform}/challenge/resolve
func (h *SessionHandler) Resolve() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := platformParam(w, r)
		if !ok {
			return
		}
		var req ResolveRequest
		if !h.decode(w, r, &req) {
			return
		}
		h.resolve(w, r, p, req.Account, req.Code)
	}
}

func (h *SessionHandler) resolve(w http.ResponseWriter, r *http.Request, p platform.Platform, account, code string) {
	res, err := h.sessions.ResolveChallenge(r.Context(), p, account, code)
	if err != nil {
		handleSessionError(w, err)
		return
	}

	switch res.Outcome {
	case entity.OutcomeAuthorized:
		response.OK(w, LoginResponse{Status: statusSuccess, Session: res.Session})
	case entity.OutcomeInvalidCode:
		response.JSON(w, http.StatusBadRequest, LoginResponse{
			Status:            statusInvalidCode,
			AttemptsRemaining: res.AttemptsRemaining,
			Message:           "invalid verification code",
		})
	default:
		zero := 0
		response.JSON(w, http.StatusBadRequest, LoginResponse{
			Status:            statusExhausted,
			AttemptsRemaining: &zero,
			Message:           "no attempts left, log in again",
		})
	}
}

// InstagramResend handles POST /instagram/challenge/request?username=&method=
func (h *SessionHandler) InstagramResend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := ResendRequest{Account: q.Get("username"), Method: q.Get("method")}
		if err := h.validate.StructCtx(r.Context(), req); err != nil {
			response.BadRequest(w, validationMessage(err))
			return
		}
		h.resend(w, r, platform.Instagram, req.Account, req.Method)
	}
}

// Resend handles POST /sessions/{platform}/challenge/request
func (h *SessionHandler) Resend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := platformParam(w, r)
		if !ok {
			return
		}
		var req ResendRequest
		if !h.decode(w, r, &req) {
			return
		}
		h.resend(w, r, p, req.Account, req.Method)
	}
}

// resend re-sends the code of the outstanding challenge. No method means the challenge's own channel.
func (h *SessionHandler) resend(w http.ResponseWriter, r *http.Request, p platform.Platform, account, method string) {
	if method == "" {
		ch, err := h.sessions.GetChallenge(r.Context(), p, account)
		if err != nil {
			handleSessionError(w, err)
			return
		}
		method = string(ch.Kind)
	}

	ch, err := h.sessions.ResendChallenge(r.Context(), p, account, method)
	if err != nil {
		handleSessionError(w, err)
		return
	}

	response.OK(w, ch)
}

// Challenge handles GET /sessions/{platform}/challenge?account=
func (h *SessionHandler) Challenge() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := platformParam(w, r)
		if !ok {
			return
		}
		ch, err := h.sessions.GetChallenge(r.Context(), p, r.URL.Query().Get("account"))
		if err != nil {
			handleSessionError(w, err)
			return
		}

		response.OK(w, ch)
	}
}

// InstagramAbandon handles DELETE /instagram/challenge?username=
func (h *SessionHandler) InstagramAbandon() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.abandon(w, r, platform.Instagram, r.URL.Query().Get("username"))
	}
}

// Abandon handles DELETE /sessions/{platform}/challenge?account=
func (h *SessionHandler) Abandon() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := platformParam(w, r)
		if !ok {
			return
		}
		h.abandon(w, r, p, r.URL.Query().Get("account"))
	}
}

func (h *SessionHandler) abandon(w http.ResponseWriter, r *http.Request, p platform.Platform, account string) {
	if err := h.sessions.AbandonChallenge(r.Context(), p, account); err != nil {
		handleSessionError(w, err)
		return
	}
	response.NoContent(w)
}

// InstagramList handles GET /instagram/sessions
func (h *SessionHandler) InstagramList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := platform.Instagram
		h.list(w, r, &p)
	}
}

// List handles GET /sessions and GET /sessions/{platform}
func (h *SessionHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "platform") == "" {
			h.list(w, r, nil)
			return
		}
		p, ok := platformParam(w, r)
		if !ok {
			return
		}
		h.list(w, r, &p)
	}
}

func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request, p *platform.Platform) {
	sessions, err := h.sessions.ListSessions(r.Context(), p)
	if err != nil {
		handleSessionError(w, err)
		return
	}
	if sessions == nil {
		sessions = []entity.Session{}
	}
	response.OK(w, sessions)
}

// InstagramGet handles GET /instagram/sessions/{username}
func (h *SessionHandler) InstagramGet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.get(w, r, platform.Instagram, chi.URLParam(r, "username"))
	}
}

// Get handles GET /sessions/{platform}/{account}
func (h *SessionHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := platformParam(w, r)
		if !ok {
			return
		}
		h.get(w, r, p, chi.URLParam(r, "account"))
	}
}

func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request, p platform.Platform, account string) {
	sess, err := h.sessions.GetSession(r.Context(), p, account)
	if err != nil {
		handleSessionError(w, err)
		return
	}
	response.OK(w, sess)
}

// InstagramRevoke handles DELETE /instagram/sessions/{username}
func (h *SessionHandler) InstagramRevoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.revoke(w, r, platform.Instagram, chi.URLParam(r, "username"))
	}
}

// Revoke handles DELETE /sessions/{platform}/{account}
func (h *SessionHandler) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := platformParam(w, r)
		if !ok {
			return
		}
		h.revoke(w, r, p, chi.URLParam(r, "account"))
	}
}

func (h *SessionHandler) revoke(w http.ResponseWriter, r *http.Request, p platform.Platform, account string) {
	if err := h.sessions.Revoke(r.Context(), p, account); err != nil {
		handleSessionError(w, err)
		return
	}
	response.NoContent(w)
}

func (h *SessionHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := response.Decode(r, dst); err != nil {
		response.BadRequest(w, "invalid JSON")
		return false
	}
	if err := h.validate.StructCtx(r.Context(), dst); err != nil {
		response.BadRequest(w, validationMessage(err))
		return false
	}
	return true
}

func platformParam(w http.ResponseWriter, r *http.Request) (platform.Platform, bool) {
	p, err := platform.Parse(chi.URLParam(r, "platform"))
	if err != nil {
		response.BadRequest(w, err.Error())
		return "", false
	}
	return p, true
}

// handleSessionError maps session errors to HTTP responses
func handleSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrSessionNotFound),
		errors.Is(err, entity.ErrChallengeNotFound),
		errors.Is(err, entity.ErrChallengeExpired):
		response.NotFound(w, err.Error())
	case errors.Is(err, entity.ErrOperationInProgress),
		errors.Is(err, entity.ErrSessionRevoked):
		response.Conflict(w, err.Error())
	case errors.Is(err, entity.ErrEmptyAccount),
		errors.Is(err, entity.ErrEmptyCredentials),
		errors.Is(err, entity.ErrEmptyCode),
		errors.Is(err, entity.ErrInvalidMethod),
		errors.Is(err, entity.ErrUnsupportedPlatform),
		errors.Is(err, entity.ErrInvalidOAuthState),
		errors.Is(err, platform.ErrUnknownPlatform):
		response.BadRequest(w, err.Error())
	case errors.Is(err, entity.ErrSessionNotAuthorized),
		errors.Is(err, entity.ErrOAuthRejected):
		response.Unauthorized(w, err.Error())
	case errors.Is(err, entity.ErrResendTooSoon):
		response.TooManyRequests(w, err.Error())
	case errors.Is(err, entity.ErrPlatformUnavailable),
		errors.Is(err, entity.ErrOAuthNotConfigured):
		response.ServiceUnavailable(w, err.Error())
	default:
		response.InternalError(w, "internal server error")
	}
}
