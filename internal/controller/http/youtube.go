package http

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/session/entity"
	"github.com/vadim/neo-publisher/internal/httpx/response"
)

// OAuthFlow defines the interface for channel authorization
type OAuthFlow interface {
	BeginOAuth(ctx context.Context, p platform.Platform, account string) (string, error)
	CompleteOAuth(ctx context.Context, state, code string) (*entity.Session, error)
}

// YouTubeHandler handles the YouTube channel authorization flow
type YouTubeHandler struct {
	oauth     OAuthFlow
	validate  *validator.Validate
	returnURL string
}

// NewYouTubeHandler creates a new YouTube handler. With a returnURL the callback redirects there.
func NewYouTubeHandler(oauth OAuthFlow, validate *validator.Validate, returnURL string) *YouTubeHandler {
	return &YouTubeHandler{oauth: oauth, validate: validate, returnURL: returnURL}
}

// RegisterRoutes registers YouTube routes
func (h *YouTubeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/youtube/auth/init", h.Init())
	r.Get("/youtube/auth/callback", h.Callback())
}

// AuthInitRequest represents the request body for POST /youtube/auth/init
type AuthInitRequest struct {
	AccountName string `json:"account_name" validate:"required,max=255"`
}

// AuthInitResponse carries the Google consent URL
type AuthInitResponse struct {
	AuthURL string `json:"auth_url"`
}

// Init handles POST /youtube/auth/init
func (h *YouTubeHandler) Init() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AuthInitRequest
		if err := response.Decode(r, &req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		if err := h.validate.StructCtx(r.Context(), req); err != nil {
			response.BadRequest(w, validationMessage(err))
			return
		}

		authURL, err := h.oauth.BeginOAuth(r.Context(), platform.YouTube, req.AccountName)
		if err != nil {
			handleSessionError(w, err)
			return
		}

		response.OK(w, AuthInitResponse{AuthURL: authURL})
	}
}

// Callback handles GET /youtube/auth/callback?state=&code=
func (h *YouTubeHandler) Callback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		// A denied consent arrives with ?error= and no code
		code := q.Get("code")
		if q.Get("error") != "" {
			code = ""
		}

		sess, err := h.oauth.CompleteOAuth(r.Context(), q.Get("state"), code)
		if h.returnURL != "" {
			h.redirect(w, r, sess, err)
			return
		}
		if err != nil {
			handleSessionError(w, err)
			return
		}

		response.OK(w, sess)
	}
}

func (h *YouTubeHandler) redirect(w http.ResponseWriter, r *http.Request, sess *entity.Session, err error) {
	target, parseErr := url.Parse(h.returnURL)
	if parseErr != nil {
		response.InternalError(w, "invalid return url")
		return
	}

	q := target.Query()
	q.Set("platform", string(platform.YouTube))
	if err != nil {
		q.Set("status", "error")
		q.Set("message", err.Error())
	} else {
		q.Set("status", statusSuccess)
		q.Set("account", sess.Account)
	}
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}
