package dao

import (
	"context"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/session/entity"
)

// SessionRepository defines the interface for session persistence.
// Lookups return nil, nil when nothing matches.
type SessionRepository interface {
	Get(ctx context.Context, p platform.Platform, account string) (*entity.Session, error)
	GetMostRecent(ctx context.Context, p platform.Platform) (*entity.Session, error)
	GetByOAuthState(ctx context.Context, state string) (*entity.Session, error)
	List(ctx context.Context, p *platform.Platform) ([]entity.Session, error)
	Upsert(ctx context.Context, s *entity.Session) error
	// Touch sets last_used_at only while the session is authorized
	Touch(ctx context.Context, p platform.Platform, account string, at time.Time) error
}

// ChallengeRepository defines the interface for challenge persistence.
// An account has at most one outstanding challenge.
type ChallengeRepository interface {
	Get(ctx context.Context, p platform.Platform, account string) (*entity.Challenge, error)
	Save(ctx context.Context, c *entity.Challenge) error
	Delete(ctx context.Context, p platform.Platform, account string) error
}

// AccountGuard serializes login operations for one account across instances
type AccountGuard interface {
	// TryLock returns entity.ErrOperationInProgress when the key is held
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
