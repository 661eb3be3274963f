package entity

import (
	"fmt"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/platform"
)

// Status represents the lifecycle state of a scheduled post
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// transitions lists the allowed moves out of each status.
// failed -> scheduled is the dead-letter requeue.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusPublished, StatusScheduled, StatusFailed},
	StatusFailed:     {StatusScheduled},
}

// CanTransitionTo reports whether moving from s to next is legal
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsSettled reports whether no automatic transition will ever leave this status
func (s Status) IsSettled() bool {
	return s == StatusPublished || s == StatusFailed || s == StatusCancelled
}

// ParseStatus converts a string into a Status
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusScheduled, StatusProcessing, StatusPublished, StatusFailed, StatusCancelled:
		return st, nil
	default:
		return "", ErrInvalidStatus
	}
}

// ErrorKind is the classified category of a delivery failure
type ErrorKind string

const (
	ErrorKindRateLimit     ErrorKind = "rate_limit"
	ErrorKindAuth          ErrorKind = "auth_error"
	ErrorKindNetwork       ErrorKind = "network_error"
	ErrorKindContent       ErrorKind = "content_error"
	ErrorKindQuotaExceeded ErrorKind = "quota_exceeded"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// ParseErrorKind converts a string into an ErrorKind
func ParseErrorKind(s string) (ErrorKind, error) {
	switch k := ErrorKind(s); k {
	case ErrorKindRateLimit, ErrorKindAuth, ErrorKindNetwork, ErrorKindContent, ErrorKindQuotaExceeded, ErrorKindUnknown:
		return k, nil
	default:
		return "", ErrInvalidErrorKind
	}
}

// Media is the stored file attached to a post
type Media struct {
	Key         string `json:"key,omitempty"` // object storage key, empty for external URLs
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size,omitempty"`
}

// Post is a piece of content scheduled for delivery to one platform account
type Post struct {
	ID             string               `json:"id"`
	Platform       platform.Platform    `json:"platform"`
	ContentType    platform.ContentType `json:"content_type"`
	AccountName    string               `json:"account_name,omitempty"`
	Caption        string               `json:"caption"`
	Title          string               `json:"title,omitempty"`
	Hashtags       []string             `json:"hashtags,omitempty"`
	Media          *Media               `json:"media,omitempty"`
	ScheduledAt    time.Time            `json:"scheduled_at"`
	Status         Status               `json:"status"`
	AttemptCount   int                  `json:"attempt_count"`
	MaxAttempts    int                  `json:"max_attempts"`
	LastError      string               `json:"last_error,omitempty"`
	ErrorKind      ErrorKind            `json:"error_kind,omitempty"`
	FailedAt       *time.Time           `json:"failed_at,omitempty"`
	RemoteID       string               `json:"remote_id,omitempty"`
	Permalink      string               `json:"permalink,omitempty"`
	IdempotencyKey string               `json:"-"`
	ClaimID        string               `json:"-"` // set while processing, identifies the attempt holding the post
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	PublishedAt    *time.Time           `json:"published_at,omitempty"`
}

const maxCaptionLength = 2200

// Validate checks the post against platform rules and its own invariants
func (p *Post) Validate() error {
	if !p.Platform.Supports(p.ContentType) {
		return fmt.Errorf("%w: %s does not accept %s", ErrUnsupportedContentType, p.Platform, p.ContentType)
	}
	if p.ContentType.RequiresMedia() && p.Media == nil {
		return ErrMediaRequired
	}
	if !p.ContentType.RequiresMedia() && p.Caption == "" {
		return ErrEmptyCaption
	}
	if len([]rune(p.Caption)) > maxCaptionLength {
		return ErrCaptionTooLong
	}
	if p.ScheduledAt.IsZero() {
		return ErrScheduledTimeRequired
	}
	if p.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	if p.AttemptCount < 0 || p.AttemptCount > p.MaxAttempts {
		return ErrAttemptsExceeded
	}
	if (p.PublishedAt != nil) != (p.Status == StatusPublished) {
		return ErrPublishedAtMismatch
	}
	return nil
}

// IsDue reports whether the post is scheduled and its due time has elapsed
func (p *Post) IsDue(now time.Time) bool {
	return p.Status == StatusScheduled && !p.ScheduledAt.After(now)
}

// Text returns the caption followed by the hashtags, as delivered to platforms
func (p *Post) Text() string {
	text := p.Caption
	for _, tag := range p.Hashtags {
		if tag == "" {
			continue
		}
		if tag[0] != '#' {
			tag = "#" + tag
		}
		if text != "" {
			text += " "
		}
		text += tag
	}
	return text
}

// Clone returns a deep copy of the post
func (p *Post) Clone() *Post {
	c := *p
	if p.Hashtags != nil {
		c.Hashtags = append([]string(nil), p.Hashtags...)
	}
	if p.Media != nil {
		m := *p.Media
		c.Media = &m
	}
	if p.FailedAt != nil {
		t := *p.FailedAt
		c.FailedAt = &t
	}
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

// DeliveryError is the raw failure reported by a platform adapter
type DeliveryError struct {
	Platform   platform.Platform
	StatusCode int    // HTTP status, 0 when the request never got an answer
	Code       string // platform specific error code or reason
	Message    string
	Temporary  bool // transport level failure
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s delivery failed (status %d, code %s): %s", e.Platform, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s delivery failed (status %d): %s", e.Platform, e.StatusCode, e.Message)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
