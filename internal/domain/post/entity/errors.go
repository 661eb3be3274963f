package entity

import "errors"

// Domain errors for scheduled posts
var (
	// Validation errors
	ErrUnsupportedContentType = errors.New("content type is not supported by platform")
	ErrMediaRequired          = errors.New("media file is required for this content type")
	ErrEmptyCaption           = errors.New("caption is required for text messages")
	ErrCaptionTooLong         = errors.New("caption exceeds maximum length of 2200 characters")
	ErrScheduledTimeRequired  = errors.New("scheduled time is required")
	ErrInvalidMaxAttempts     = errors.New("max attempts must be at least 1")
	ErrAttemptsExceeded       = errors.New("attempt count must be between 0 and max attempts")
	ErrPublishedAtMismatch    = errors.New("published_at must be set only for published posts")
	ErrInvalidStatus          = errors.New("invalid post status")
	ErrInvalidErrorKind       = errors.New("invalid error kind")
	ErrUnsupportedMediaType   = errors.New("unsupported media file type")

	// Business logic errors
	ErrPostNotFound         = errors.New("post not found")
	ErrIllegalTransition    = errors.New("post status does not allow this operation")
	ErrStatusChanged        = errors.New("post status changed concurrently")
	ErrNotInDeadLetter      = errors.New("post is not in the dead letter queue")
	ErrSessionNotAuthorized = errors.New("platform session is not authorized")
	ErrNoPublisher          = errors.New("no publisher configured for platform")
)
