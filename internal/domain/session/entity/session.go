package entity

import (
	"time"

	"github.com/vadim/neo-publisher/internal/domain/platform"
)

// State represents the authentication state of a platform account
type State string

const (
	StateUnauthenticated  State = "unauthenticated"
	StatePendingChallenge State = "pending_challenge"
	StateAuthorized       State = "authorized"
	StateExpired          State = "expired"
	StateRevoked          State = "revoked"
)

// Session is the authentication state of one account on one platform.
// Tokens are stored sealed and never serialized.
type Session struct {
	Platform     platform.Platform `json:"platform"`
	Account      string            `json:"account"`
	State        State             `json:"state"`
	Token        string            `json:"-"`
	RefreshToken string            `json:"-"`
	RemoteUserID string            `json:"remote_user_id,omitempty"`
	TokenExpiry  *time.Time        `json:"token_expiry,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time        `json:"last_used_at,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	OAuthState   string            `json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// IsAuthorized reports whether the session can be used for delivery at now
func (s *Session) IsAuthorized(now time.Time) bool {
	if s.State != StateAuthorized {
		return false
	}
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	c := *s
	c.TokenExpiry = cloneTime(s.TokenExpiry)
	c.ExpiresAt = cloneTime(s.ExpiresAt)
	c.LastUsedAt = cloneTime(s.LastUsedAt)
	return &c
}

// Credential is what a publisher needs to act on behalf of an account
type Credential struct {
	Platform     platform.Platform
	Account      string
	Token        string
	RefreshToken string
	TokenExpiry  *time.Time
	RemoteUserID string
}

// Outcome of a login attempt
type Outcome string

const (
	OutcomeAuthorized        Outcome = "authorized"
	OutcomeChallengeRequired Outcome = "challenge_required"
	OutcomeRejected          Outcome = "rejected"
	OutcomeInvalidCode       Outcome = "invalid_code"
	OutcomeExhausted         Outcome = "exhausted"
)

// LoginResult is the result of initiating a login
type LoginResult struct {
	Outcome   Outcome    `json:"outcome"`
	Session   *Session   `json:"session,omitempty"`
	Challenge *Challenge `json:"challenge,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// ResolveResult is the result of submitting a challenge code
type ResolveResult struct {
	Outcome           Outcome  `json:"outcome"`
	Session           *Session `json:"session,omitempty"`
	AttemptsRemaining *int     `json:"attempts_remaining,omitempty"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
