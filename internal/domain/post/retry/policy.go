package retry

import (
	"math"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

// Rule is the retry behaviour for one error kind
type Rule struct {
	// Budget caps the failed attempts for this kind. Zero leaves only the post's max attempts.
	Budget       int
	InitialDelay time.Duration
	Multiplier   float64 // <= 1 keeps the delay constant
	MaxDelay     time.Duration
}

// Rules maps error kinds to their rule. Kinds without a rule use the unknown rule.
type Rules map[entity.ErrorKind]Rule

// DefaultRules returns the built-in policy
func DefaultRules() Rules {
	return Rules{
		entity.ErrorKindRateLimit:     {InitialDelay: time.Minute, Multiplier: 2, MaxDelay: 30 * time.Minute},
		entity.ErrorKindNetwork:       {InitialDelay: 30 * time.Second, Multiplier: 2, MaxDelay: 10 * time.Minute},
		entity.ErrorKindQuotaExceeded: {InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour},
		entity.ErrorKindAuth:          {Budget: 3, InitialDelay: 5 * time.Minute, Multiplier: 1, MaxDelay: 5 * time.Minute},
		entity.ErrorKindContent:       {Budget: 3, InitialDelay: 5 * time.Minute, Multiplier: 1, MaxDelay: 5 * time.Minute},
		entity.ErrorKindUnknown:       {Budget: 3, InitialDelay: 2 * time.Minute, Multiplier: 2, MaxDelay: 10 * time.Minute},
	}
}

// Decision is the outcome of a retry decision
type Decision struct {
	Terminal   bool
	RetryAfter time.Duration
}

// Policy decides whether a failed delivery is retried. It holds no state besides its rules.
type Policy struct {
	rules Rules
}

// NewPolicy creates a retry policy. Missing kinds fall back to DefaultRules.
func NewPolicy(rules Rules) *Policy {
	merged := DefaultRules()
	for kind, rule := range rules {
		merged[kind] = rule
	}
	return &Policy{rules: merged}
}

// Decide returns the decision for a post that has now failed attemptCount times,
// the current failure included.
func (p *Policy) Decide(attemptCount, maxAttempts int, kind entity.ErrorKind) Decision {
	if attemptCount >= maxAttempts {
		return Decision{Terminal: true}
	}

	rule, ok := p.rules[kind]
	if !ok {
		rule = p.rules[entity.ErrorKindUnknown]
	}
	if rule.Budget > 0 && attemptCount >= rule.Budget {
		return Decision{Terminal: true}
	}

	return Decision{RetryAfter: backoff(attemptCount, rule)}
}

// backoff grows the delay exponentially with the attempt number, capped at MaxDelay
func backoff(attempt int, rule Rule) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if rule.Multiplier <= 1 {
		return capDelay(rule.InitialDelay, rule.MaxDelay)
	}

	delay := float64(rule.InitialDelay) * math.Pow(rule.Multiplier, float64(attempt-1))
	if rule.MaxDelay > 0 && delay > float64(rule.MaxDelay) {
		return rule.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func capDelay(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
