package entity

import (
	"strings"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/platform"
)

// ChallengeKind is the verification channel a platform asked for
type ChallengeKind string

const (
	ChallengeSMS   ChallengeKind = "sms"
	ChallengeEmail ChallengeKind = "email"
	ChallengeApp   ChallengeKind = "app"
)

var resendMethods = map[ChallengeKind][]ChallengeKind{
	ChallengeSMS:   {ChallengeSMS},
	ChallengeEmail: {ChallengeEmail},
	ChallengeApp:   {ChallengeApp, ChallengeSMS},
}

// ParseChallengeKind converts a string into a ChallengeKind
func ParseChallengeKind(s string) (ChallengeKind, error) {
	k := ChallengeKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := resendMethods[k]; !ok {
		return "", ErrInvalidMethod
	}
	return k, nil
}

// AllowsResendVia reports whether a code for this kind of challenge can be re-sent via method
func (k ChallengeKind) AllowsResendVia(method ChallengeKind) bool {
	for _, m := range resendMethods[k] {
		if m == method {
			return true
		}
	}
	return false
}

// Challenge is an outstanding verification step of a login
type Challenge struct {
	ID                string            `json:"id"`
	Platform          platform.Platform `json:"platform"`
	Account           string            `json:"account"`
	Kind              ChallengeKind     `json:"kind"`
	RemoteID          string            `json:"-"`
	AttemptsRemaining *int              `json:"attempts_remaining,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	ExpiresAt         time.Time         `json:"expires_at"`
	LastSentAt        time.Time         `json:"last_sent_at"`
}

// IsExpired reports whether the challenge can no longer be resolved at now
func (c *Challenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Remaining returns the attempts left, zero when unknown
func (c *Challenge) Remaining() int {
	if c.AttemptsRemaining == nil {
		return 0
	}
	return *c.AttemptsRemaining
}

// Clone returns a deep copy of the challenge
func (c *Challenge) Clone() *Challenge {
	cc := *c
	if c.AttemptsRemaining != nil {
		n := *c.AttemptsRemaining
		cc.AttemptsRemaining = &n
	}
	return &cc
}
