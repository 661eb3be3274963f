package entity

import (
	"time"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	postentity "github.com/vadim/neo-publisher/internal/domain/post/entity"
)

// Entry is the dead letter view of a failed post. Its ID is the post ID.
type Entry struct {
	ID           string               `json:"id"`
	PostID       string               `json:"post_id"`
	Platform     platform.Platform    `json:"platform"`
	ContentType  platform.ContentType `json:"content_type"`
	AccountName  string               `json:"account_name,omitempty"`
	Caption      string               `json:"caption"`
	ErrorKind    postentity.ErrorKind `json:"error_kind"`
	LastError    string               `json:"last_error"`
	FailedAt     time.Time            `json:"failed_at"`
	AttemptCount int                  `json:"attempt_count"`
	MaxAttempts  int                  `json:"max_attempts"`
	ScheduledAt  time.Time            `json:"scheduled_at"`
	Media        *postentity.Media    `json:"media,omitempty"`
}

// FromPost builds the entry for a failed post
func FromPost(p *postentity.Post) Entry {
	e := Entry{
		ID:           p.ID,
		PostID:       p.ID,
		Platform:     p.Platform,
		ContentType:  p.ContentType,
		AccountName:  p.AccountName,
		Caption:      p.Caption,
		ErrorKind:    p.ErrorKind,
		LastError:    p.LastError,
		AttemptCount: p.AttemptCount,
		MaxAttempts:  p.MaxAttempts,
		ScheduledAt:  p.ScheduledAt,
		Media:        p.Media,
	}
	if p.FailedAt != nil {
		e.FailedAt = *p.FailedAt
	} else {
		e.FailedAt = p.UpdatedAt
	}
	return e
}

// ListResult holds dead letter entries with their aggregate
type ListResult struct {
	Entries []Entry                    `json:"entries"`
	Stats   postentity.DeadLetterStats `json:"stats"`
}

// ItemResult is the outcome of a bulk operation for one entry
type ItemResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BulkResult is the outcome of a bulk operation. Count is the number of entries actually processed.
type BulkResult struct {
	Count   int          `json:"count"`
	Results []ItemResult `json:"results"`
}
