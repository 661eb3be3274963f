package entity

import (
	"time"

	"github.com/vadim/neo-publisher/internal/domain/platform"
)

// Statistics holds post counts by status
type Statistics struct {
	Scheduled  int64 `json:"scheduled"`
	Processing int64 `json:"processing"`
	Published  int64 `json:"published"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	Total      int64 `json:"total"`
}

// Add accounts n posts in status s
func (st *Statistics) Add(s Status, n int64) {
	switch s {
	case StatusScheduled:
		st.Scheduled += n
	case StatusProcessing:
		st.Processing += n
	case StatusPublished:
		st.Published += n
	case StatusFailed:
		st.Failed += n
	case StatusCancelled:
		st.Cancelled += n
	default:
		return
	}
	st.Total += n
}

// DeadLetterStats aggregates the dead-lettered posts
type DeadLetterStats struct {
	Total         int64                       `json:"total"`
	ByPlatform    map[platform.Platform]int64 `json:"by_platform"`
	ByErrorKind   map[ErrorKind]int64         `json:"by_error_kind"`
	OldestFailure *time.Time                  `json:"oldest_failure,omitempty"`
}
