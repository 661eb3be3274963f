package dao

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/session/entity"
)

type accountKey struct {
	platform platform.Platform
	account  string
}

// SessionMemory implements SessionRepository in memory
type SessionMemory struct {
	mu       sync.RWMutex
	sessions map[accountKey]*entity.Session
}

// NewSessionMemory creates an empty in-memory session repository
func NewSessionMemory() *SessionMemory {
	return &SessionMemory{sessions: make(map[accountKey]*entity.Session)}
}

func (r *SessionMemory) Get(ctx context.Context, p platform.Platform, account string) (*entity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[accountKey{p, account}]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (r *SessionMemory) GetMostRecent(ctx context.Context, p platform.Platform) (*entity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *entity.Session
	for k, s := range r.sessions {
		if k.platform != p || s.State != entity.StateAuthorized {
			continue
		}
		if best == nil || moreRecent(s, best) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.Clone(), nil
}

func (r *SessionMemory) GetByOAuthState(ctx context.Context, state string) (*entity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.OAuthState != "" && s.OAuthState == state {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

func (r *SessionMemory) List(ctx context.Context, p *platform.Platform) ([]entity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []entity.Session
	for k, s := range r.sessions {
		if p != nil && k.platform != *p {
			continue
		}
		out = append(out, *s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].Account < out[j].Account
	})
	return out, nil
}

func (r *SessionMemory) Upsert(ctx context.Context, s *entity.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := accountKey{s.Platform, s.Account}
	if existing, ok := r.sessions[k]; ok {
		s.CreatedAt = existing.CreatedAt
	}
	r.sessions[k] = s.Clone()
	return nil
}

func (r *SessionMemory) Touch(ctx context.Context, p platform.Platform, account string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[accountKey{p, account}]
	if ok && s.State == entity.StateAuthorized {
		t := at
		s.LastUsedAt = &t
	}
	return nil
}

// moreRecent orders by last use, then by last update
func moreRecent(a, b *entity.Session) bool {
	switch {
	case a.LastUsedAt != nil && b.LastUsedAt == nil:
		return true
	case a.LastUsedAt == nil && b.LastUsedAt != nil:
		return false
	case a.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.LastUsedAt.After(*b.LastUsedAt)
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

// ChallengeMemory implements ChallengeRepository in memory
type ChallengeMemory struct {
	mu         sync.Mutex
	challenges map[accountKey]*entity.Challenge
}

// NewChallengeMemory creates an empty in-memory challenge repository
func NewChallengeMemory() *ChallengeMemory {
	return &ChallengeMemory{challenges: make(map[accountKey]*entity.Challenge)}
}

func (r *ChallengeMemory) Get(ctx context.Context, p platform.Platform, account string) (*entity.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.challenges[accountKey{p, account}]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

func (r *ChallengeMemory) Save(ctx context.Context, c *entity.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.challenges[accountKey{c.Platform, c.Account}] = c.Clone()
	return nil
}

func (r *ChallengeMemory) Delete(ctx context.Context, p platform.Platform, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.challenges, accountKey{p, account})
	return nil
}
