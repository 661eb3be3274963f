package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/h2non/filetype"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/policy"
	"github.com/vadim/neo-publisher/internal/httpx/response"
)

const (
	// MaxUploadSize is the maximum allowed upload size (50MB)
	MaxUploadSize = 50 << 20

	// MaxOutcomeWait bounds the ?wait= long-poll of a single post
	MaxOutcomeWait = 30 * time.Second

	sniffLen = 261
)

// PostPolicy defines the interface for scheduled post operations
// Interface is defined by consumer (handler), not provider (policy)
type PostPolicy interface {
	CreatePost(ctx context.Context, in policy.CreatePostInput) (*policy.CreatePostOutput, error)
	GetPost(ctx context.Context, id string) (*entity.Post, error)
	ListPosts(ctx context.Context, in policy.ListPostsInput) ([]entity.Post, error)
	AwaitOutcome(ctx context.Context, id string, timeout time.Duration) (*entity.Post, error)
	CancelPost(ctx context.Context, id string) (*entity.Post, error)
	Statistics(ctx context.Context) (*entity.Statistics, error)
}

// SchedulerHandler handles HTTP requests for scheduled posts
type SchedulerHandler struct {
	policy   PostPolicy
	validate *validator.Validate
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(p PostPolicy, validate *validator.Validate) *SchedulerHandler {
	return &SchedulerHandler{policy: p, validate: validate}
}

// RegisterRoutes registers scheduled post routes
func (h *SchedulerHandler) RegisterRoutes(r chi.Router) {
	r.Get("/scheduler/posts", h.List())
	r.Post("/scheduler/posts", h.Create())
	r.Post("/scheduler/posts/with-file", h.CreateWithFile())
	r.Get("/scheduler/posts/{id}", h.Get())
	r.Delete("/scheduler/posts/{id}", h.Cancel())
	r.Get("/scheduler/stats", h.Stats())
}

// CreatePostRequest represents the request body for scheduling a post with media by URL
type CreatePostRequest struct {
	Platform         string    `json:"platform" validate:"required"`
	ContentType      string    `json:"content_type" validate:"required"`
	AccountName      string    `json:"account_name,omitempty" validate:"max=255"`
	Caption          string    `json:"caption" validate:"max=2200"`
	Title            string    `json:"title,omitempty" validate:"max=100"`
	Hashtags         []string  `json:"hashtags,omitempty" validate:"max=30,dive,required,max=100"`
	ScheduledTime    time.Time `json:"scheduled_time" validate:"required"`
	MaxAttempts      int       `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=20"`
	MediaURL         string    `json:"media_url,omitempty" validate:"omitempty,url"`
	MediaContentType string    `json:"media_content_type,omitempty"`
}

// Create handles POST /scheduler/posts
func (h *SchedulerHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePostRequest
		if err := response.Decode(r, &req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		if err := h.validate.StructCtx(r.Context(), req); err != nil {
			response.BadRequest(w, validationMessage(err))
			return
		}

		p, ct, err := parseTarget(req.Platform, req.ContentType)
		if err != nil {
			response.BadRequest(w, err.Error())
			return
		}

		out, err := h.policy.CreatePost(r.Context(), policy.CreatePostInput{
			Platform:         p,
			ContentType:      ct,
			AccountName:      req.AccountName,
			Caption:          req.Caption,
			Title:            req.Title,
			Hashtags:         normalizeHashtags(req.Hashtags),
			ScheduledAt:      req.ScheduledTime,
			MaxAttempts:      req.MaxAttempts,
			IdempotencyKey:   r.Header.Get("Idempotency-Key"),
			MediaURL:         req.MediaURL,
			MediaContentType: req.MediaContentType,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeCreated(w, out)
	}
}

// CreateWithFile handles POST /scheduler/posts/with-file (multipart form)
func (h *SchedulerHandler) CreateWithFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
		if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
			response.BadRequest(w, "file too large or invalid multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		p, ct, err := parseTarget(r.FormValue("platform"), r.FormValue("content_type"))
		if err != nil {
			response.BadRequest(w, err.Error())
			return
		}

		scheduledAt, err := parseScheduledTime(r.FormValue("scheduled_time"))
		if err != nil {
			response.BadRequest(w, err.Error())
			return
		}

		var maxAttempts int
		if v := r.FormValue("max_attempts"); v != "" {
			maxAttempts, err = strconv.Atoi(v)
			if err != nil || maxAttempts < 1 {
				response.BadRequest(w, "max_attempts must be a positive integer")
				return
			}
		}

		in := policy.CreatePostInput{
			Platform:       p,
			ContentType:    ct,
			AccountName:    strings.TrimSpace(r.FormValue("account_name")),
			Caption:        r.FormValue("caption"),
			Title:          r.FormValue("title"),
			Hashtags:       parseHashtags(r.MultipartForm.Value["hashtags"]),
			ScheduledAt:    scheduledAt,
			MaxAttempts:    maxAttempts,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		}

		file, header, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
			// Text-only posts carry no file
		case err != nil:
			response.BadRequest(w, "invalid file in request")
			return
		default:
			defer file.Close()
			upload, err := sniffUpload(file, header, ct)
			if err != nil {
				handleDomainError(w, err)
				return
			}
			in.File = upload
		}

		out, err := h.policy.CreatePost(r.Context(), in)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeCreated(w, out)
	}
}

// List handles GET /scheduler/posts
func (h *SchedulerHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		in := policy.ListPostsInput{}

		if v := q.Get("status"); v != "" {
			s, err := entity.ParseStatus(v)
			if err != nil {
				response.BadRequest(w, err.Error())
				return
			}
			in.Status = &s
		}
		if v := q.Get("platform"); v != "" {
			p, err := platform.Parse(v)
			if err != nil {
				response.BadRequest(w, err.Error())
				return
			}
			in.Platform = &p
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 0 {
				response.BadRequest(w, "invalid limit")
				return
			}
			in.Limit = limit
		}
		if v := q.Get("offset"); v != "" {
			offset, err := strconv.Atoi(v)
			if err != nil || offset < 0 {
				response.BadRequest(w, "invalid offset")
				return
			}
			in.Offset = offset
		}

		posts, err := h.policy.ListPosts(r.Context(), in)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		if posts == nil {
			posts = []entity.Post{}
		}

		response.OK(w, posts)
	}
}

// Get handles GET /scheduler/posts/{id}. With ?wait= it long-polls until the post settles.
func (h *SchedulerHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		wait, err := parseWait(r.URL.Query().Get("wait"))
		if err != nil {
			response.BadRequest(w, err.Error())
			return
		}

		var post *entity.Post
		if wait > 0 {
			post, err = h.policy.AwaitOutcome(r.Context(), id, wait)
		} else {
			post, err = h.policy.GetPost(r.Context(), id)
		}
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, post)
	}
}

// Cancel handles DELETE /scheduler/posts/{id}
func (h *SchedulerHandler) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		post, err := h.policy.CancelPost(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, post)
	}
}

// Stats handles GET /scheduler/stats
func (h *SchedulerHandler) Stats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.policy.Statistics(r.Context())
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, stats)
	}
}

func writeCreated(w http.ResponseWriter, out *policy.CreatePostOutput) {
	if out.Created {
		response.Created(w, out.Post)
		return
	}
	response.OK(w, out.Post)
}

func parseTarget(rawPlatform, rawContentType string) (platform.Platform, platform.ContentType, error) {
	p, err := platform.Parse(rawPlatform)
	if err != nil {
		return "", "", err
	}
	ct, err := platform.ParseContentType(rawContentType)
	if err != nil {
		return "", "", err
	}
	return p, ct, nil
}

func parseScheduledTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, entity.ErrScheduledTimeRequired
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New("invalid scheduled_time format, use RFC3339")
	}
	return t, nil
}

// parseWait accepts a Go duration ("15s") or a number of seconds
func parseWait(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		secs, convErr := strconv.Atoi(v)
		if convErr != nil {
			return 0, errors.New("invalid wait, use a duration such as 30s")
		}
		d = time.Duration(secs) * time.Second
	}
	if d < 0 {
		return 0, errors.New("wait must not be negative")
	}
	return min(d, MaxOutcomeWait), nil
}

// parseHashtags accepts repeated fields and comma or space separated lists
func parseHashtags(values []string) []string {
	var tags []string
	for _, v := range values {
		tags = append(tags, strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\n'
		})...)
	}
	return normalizeHashtags(tags)
}

func normalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimPrefix(strings.TrimSpace(t), "#")
		if t == "" {
			continue
		}
		if _, ok := seen[strings.ToLower(t)]; ok {
			continue
		}
		seen[strings.ToLower(t)] = struct{}{}
		out = append(out, t)
	}
	return out
}

// sniffUpload detects the real media type from the file header instead of trusting the client
func sniffUpload(file multipart.File, header *multipart.FileHeader, ct platform.ContentType) (*policy.UploadInput, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: empty file", entity.ErrUnsupportedMediaType)
	}
	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return nil, entity.ErrUnsupportedMediaType
	}
	if !mediaFits(ct, head[:n]) {
		return nil, fmt.Errorf("%w: %s cannot carry %s", entity.ErrUnsupportedMediaType, ct, kind.MIME.Value)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding upload: %w", err)
	}

	return &policy.UploadInput{
		Reader:      file,
		Filename:    header.Filename,
		ContentType: kind.MIME.Value,
		Size:        header.Size,
	}, nil
}

func mediaFits(ct platform.ContentType, head []byte) bool {
	switch {
	case ct == platform.Photo:
		return filetype.IsImage(head)
	case ct == platform.Story:
		return filetype.IsImage(head) || filetype.IsVideo(head)
	case ct.IsVideo():
		return filetype.IsVideo(head)
	default:
		return false
	}
}

// handleDomainError maps post and dead letter errors to HTTP responses
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrPostNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, entity.ErrIllegalTransition),
		errors.Is(err, entity.ErrStatusChanged),
		errors.Is(err, entity.ErrNotInDeadLetter):
		response.Conflict(w, err.Error())
	case errors.Is(err, entity.ErrUnsupportedContentType),
		errors.Is(err, entity.ErrMediaRequired),
		errors.Is(err, entity.ErrEmptyCaption),
		errors.Is(err, entity.ErrCaptionTooLong),
		errors.Is(err, entity.ErrScheduledTimeRequired),
		errors.Is(err, entity.ErrInvalidMaxAttempts),
		errors.Is(err, entity.ErrAttemptsExceeded),
		errors.Is(err, entity.ErrInvalidStatus),
		errors.Is(err, entity.ErrInvalidErrorKind),
		errors.Is(err, entity.ErrUnsupportedMediaType),
		errors.Is(err, platform.ErrUnknownPlatform),
		errors.Is(err, platform.ErrUnknownContentType):
		response.BadRequest(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		response.ServiceUnavailable(w, "request timed out")
	default:
		response.InternalError(w, "internal server error")
	}
}
