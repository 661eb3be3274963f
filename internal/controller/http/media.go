package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/h2non/filetype"

	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/policy"
	"github.com/vadim/neo-publisher/internal/httpx/response"
)

// MediaUploader defines the interface for storing media ahead of scheduling
type MediaUploader interface {
	Upload(ctx context.Context, in policy.UploadInput) (*entity.Media, error)
}

// MediaHandler handles standalone media uploads. The returned URL can be
// scheduled later as media_url.
type MediaHandler struct {
	uploader MediaUploader
	logger   *slog.Logger
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(uploader MediaUploader, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{uploader: uploader, logger: logger}
}

// RegisterRoutes registers media routes
func (h *MediaHandler) RegisterRoutes(r chi.Router) {
	r.Post("/media/upload", h.Upload())
}

// Upload handles POST /media/upload
func (h *MediaHandler) Upload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)

		if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
			response.BadRequest(w, "file too large or invalid multipart form")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.BadRequest(w, "missing file in request")
			return
		}
		defer file.Close()

		head := make([]byte, sniffLen)
		n, err := io.ReadFull(file, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			response.BadRequest(w, "empty file")
			return
		}
		if !filetype.IsImage(head[:n]) && !filetype.IsVideo(head[:n]) {
			response.BadRequest(w, entity.ErrUnsupportedMediaType.Error())
			return
		}
		kind, _ := filetype.Match(head[:n])
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			response.InternalError(w, "failed to read upload")
			return
		}

		media, err := h.uploader.Upload(r.Context(), policy.UploadInput{
			Reader:      file,
			Filename:    header.Filename,
			ContentType: kind.MIME.Value,
			Size:        header.Size,
		})
		if err != nil {
			h.logger.Error("media upload failed", "filename", header.Filename, "error", err)
			response.InternalError(w, "failed to upload file")
			return
		}

		response.Created(w, media)
	}
}
