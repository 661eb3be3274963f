package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/session/dao"
	"github.com/vadim/neo-publisher/internal/domain/session/entity"
	"github.com/vadim/neo-publisher/internal/metrics"
)

// LoginStatus is the platform's answer to a login request
type LoginStatus string

const (
	LoginAuthorized        LoginStatus = "authorized"
	LoginChallengeRequired LoginStatus = "challenge_required"
	LoginRejected          LoginStatus = "rejected"
)

// Tokens are the credentials a platform issues for an authorized account
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       *time.Time
	RemoteUserID string
	SessionTTL   time.Duration
}

// LoginResponse is a definitive answer of a platform to a login request
type LoginResponse struct {
	Status          LoginStatus
	Tokens          Tokens
	ChallengeKind   entity.ChallengeKind
	ChallengeID     string
	AttemptsAllowed *int
	Reason          string
}

// ChallengeResponse is a definitive answer of a platform to a verification code
type ChallengeResponse struct {
	Accepted          bool
	Tokens            Tokens
	AttemptsRemaining *int
}

// Authenticator performs login flows against a platform.
// Returned errors mean the platform could not be reached or gave no definitive answer.
type Authenticator interface {
	Login(ctx context.Context, account, password string) (*LoginResponse, error)
	SubmitChallenge(ctx context.Context, account, challengeID, code string) (*ChallengeResponse, error)
	ResendChallenge(ctx context.Context, account, challengeID string, method entity.ChallengeKind) error
	Logout(ctx context.Context, account, token string) error
}

// OAuthProvider performs the authorization code flow of a platform
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Tokens, error)
}

// Sealer protects tokens at rest
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Config holds session service configuration
type Config struct {
	ChallengeAttempts int
	ChallengeTTL      time.Duration
	ResendCooldown    time.Duration
	GuardTTL          time.Duration
}

// Service manages platform sessions and login challenges.
// No lock is held across remote calls. State changes only after a definitive remote answer.
type Service struct {
	sessions   dao.SessionRepository
	challenges dao.ChallengeRepository
	guard      dao.AccountGuard
	sealer     Sealer
	auths      map[platform.Platform]Authenticator
	oauth      map[platform.Platform]OAuthProvider
	cfg        Config
	group      singleflight.Group
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures the Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithAuthenticator registers the login flow of a platform
func WithAuthenticator(p platform.Platform, a Authenticator) Option {
	return func(s *Service) {
		s.auths[p] = a
	}
}

// WithOAuthProvider registers the oauth flow of a platform
func WithOAuthProvider(p platform.Platform, o OAuthProvider) Option {
	return func(s *Service) {
		s.oauth[p] = o
	}
}

// New creates a new session service
func New(
	sessions dao.SessionRepository,
	challenges dao.ChallengeRepository,
	guard dao.AccountGuard,
	sealer Sealer,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if cfg.ChallengeAttempts <= 0 {
		cfg.ChallengeAttempts = 3
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 10 * time.Minute
	}
	if cfg.GuardTTL <= 0 {
		cfg.GuardTTL = 2 * time.Minute
	}

	s := &Service{
		sessions:   sessions,
		challenges: challenges,
		guard:      guard,
		sealer:     sealer,
		auths:      make(map[platform.Platform]Authenticator),
		oauth:      make(map[platform.Platform]OAuthProvider),
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.With("component", "session_manager"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitiateLogin starts a login for an account.
// Concurrent calls for one account share a single remote call.
func (s *Service) InitiateLogin(ctx context.Context, p platform.Platform, account, password string) (*entity.LoginResult, error) {
	account = normalizeAccount(account)
	if account == "" {
		return nil, entity.ErrEmptyAccount
	}
	if password == "" {
		return nil, entity.ErrEmptyCredentials
	}
	auth, ok := s.auths[p]
	if !ok {
		return nil, entity.ErrUnsupportedPlatform
	}

	v, err, _ := s.group.Do(flightKey(p, account), func() (interface{}, error) {
		return s.login(ctx, auth, p, account, password)
	})
	if err != nil {
		return nil, err
	}
	return v.(*entity.LoginResult), nil
}

func (s *Service) login(ctx context.Context, auth Authenticator, p platform.Platform, account, password string) (*entity.LoginResult, error) {
	if res, _, err := s.settledLogin(ctx, p, account); res != nil || err != nil {
		return res, err
	}

	unlock, err := s.guard.TryLock(ctx, flightKey(p, account), s.cfg.GuardTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another instance may have finished its login between the first check and the lock.
	res, sess, err := s.settledLogin(ctx, p, account)
	if res != nil || err != nil {
		return res, err
	}

	resp, err := auth.Login(ctx, account, password)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues(string(p), "unavailable").Inc()
		s.logger.Warn("login request failed", "platform", p, "account", account, "error", err)
		return nil, fmt.Errorf("%w: %v", entity.ErrPlatformUnavailable, err)
	}

	current, err := s.sessions.Get(ctx, p, account)
	if err != nil {
		return nil, err
	}
	if revokedDuring(sess, current) {
		s.logger.Info("discarding login answer for revoked session", "platform", p, "account", account)
		return nil, entity.ErrSessionRevoked
	}
	sess = current

	now := s.now()
	switch resp.Status {
	case LoginAuthorized:
		sess, err = s.authorize(ctx, sess, p, account, resp.Tokens, now)
		if err != nil {
			return nil, err
		}
		metrics.LoginsTotal.WithLabelValues(string(p), "authorized").Inc()
		s.logger.Info("account authorized", "platform", p, "account", account)
		return &entity.LoginResult{Outcome: entity.OutcomeAuthorized, Session: sess}, nil

	case LoginChallengeRequired:
		ch, err := s.openChallenge(ctx, p, account, resp, now)
		if err != nil {
			return nil, err
		}
		sess = s.sessionOrNew(sess, p, account, now)
		sess.State = entity.StatePendingChallenge
		sess.Reason = ""
		sess.UpdatedAt = now
		if err := s.sessions.Upsert(ctx, sess); err != nil {
			return nil, err
		}
		metrics.LoginsTotal.WithLabelValues(string(p), "challenge_required").Inc()
		s.logger.Info("login challenge required", "platform", p, "account", account, "kind", ch.Kind)
		return &entity.LoginResult{Outcome: entity.OutcomeChallengeRequired, Session: sess, Challenge: ch}, nil

	default:
		metrics.LoginsTotal.WithLabelValues(string(p), "rejected").Inc()
		s.logger.Info("login rejected", "platform", p, "account", account, "reason", resp.Reason)
		return &entity.LoginResult{Outcome: entity.OutcomeRejected, Session: sess, Reason: resp.Reason}, nil
	}
}

// settledLogin returns the result of a login that needs no remote call: the account is
// authorized or has an outstanding challenge. An expired challenge is dropped.
func (s *Service) settledLogin(ctx context.Context, p platform.Platform, account string) (*entity.LoginResult, *entity.Session, error) {
	now := s.now()

	sess, err := s.sessions.Get(ctx, p, account)
	if err != nil {
		return nil, nil, err
	}
	if sess != nil && sess.IsAuthorized(now) {
		return &entity.LoginResult{Outcome: entity.OutcomeAuthorized, Session: sess}, sess, nil
	}

	ch, err := s.challenges.Get(ctx, p, account)
	if err != nil {
		return nil, nil, err
	}
	if ch != nil {
		if !ch.IsExpired(now) {
			return &entity.LoginResult{Outcome: entity.OutcomeChallengeRequired, Session: sess, Challenge: ch}, sess, nil
		}
		if err := s.challenges.Delete(ctx, p, account); err != nil {
			return nil, nil, err
		}
	}
	return nil, sess, nil
}

func (s *Service) openChallenge(ctx context.Context, p platform.Platform, account string, resp *LoginResponse, now time.Time) (*entity.Challenge, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generating challenge id: %w", err)
	}

	attempts := s.cfg.ChallengeAttempts
	if resp.AttemptsAllowed != nil && *resp.AttemptsAllowed > 0 && *resp.AttemptsAllowed < attempts {
		attempts = *resp.AttemptsAllowed
	}
	kind := resp.ChallengeKind
	if kind == "" {
		kind = entity.ChallengeSMS
	}

	ch := &entity.Challenge{
		ID:                id,
		Platform:          p,
		Account:           account,
		Kind:              kind,
		RemoteID:          resp.ChallengeID,
		AttemptsRemaining: &attempts,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.cfg.ChallengeTTL),
		LastSentAt:        now,
	}
	if err := s.challenges.Save(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// ResolveChallenge submits a verification code for the outstanding challenge.
// Every rejected code consumes one attempt. The last one destroys the challenge.
func (s *Service) ResolveChallenge(ctx context.Context, p platform.Platform, account, code string) (*entity.ResolveResult, error) {
	account = normalizeAccount(account)
	code = strings.TrimSpace(code)
	if account == "" {
		return nil, entity.ErrEmptyAccount
	}
	if code == "" {
		return nil, entity.ErrEmptyCode
	}
	auth, ok := s.auths[p]
	if !ok {
		return nil, entity.ErrUnsupportedPlatform
	}

	unlock, err := s.guard.TryLock(ctx, flightKey(p, account), s.cfg.GuardTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ch, err := s.liveChallenge(ctx, p, account)
	if err != nil {
		return nil, err
	}

	resp, err := auth.SubmitChallenge(ctx, account, ch.RemoteID, code)
	if err != nil {
		metrics.ChallengesTotal.WithLabelValues(string(p), "unavailable").Inc()
		return nil, fmt.Errorf("%w: %v", entity.ErrPlatformUnavailable, err)
	}

	// An abandon or revoke during the call destroyed the challenge: the answer no longer applies.
	current, err := s.challenges.Get(ctx, p, account)
	if err != nil {
		return nil, err
	}
	if current == nil || current.ID != ch.ID {
		s.logger.Info("discarding challenge answer for a destroyed challenge", "platform", p, "account", account)
		return nil, entity.ErrChallengeNotFound
	}

	now := s.now()
	sess, err := s.sessions.Get(ctx, p, account)
	if err != nil {
		return nil, err
	}

	if resp.Accepted {
		if err := s.challenges.Delete(ctx, p, account); err != nil {
			return nil, err
		}
		sess, err = s.authorize(ctx, sess, p, account, resp.Tokens, now)
		if err != nil {
			return nil, err
		}
		metrics.ChallengesTotal.WithLabelValues(string(p), "authorized").Inc()
		s.logger.Info("challenge resolved", "platform", p, "account", account)
		return &entity.ResolveResult{Outcome: entity.OutcomeAuthorized, Session: sess}, nil
	}

	remaining := ch.Remaining() - 1
	if resp.AttemptsRemaining != nil && *resp.AttemptsRemaining < remaining {
		remaining = *resp.AttemptsRemaining
	}
	if remaining < 0 {
		remaining = 0
	}

	if remaining == 0 {
		if err := s.resetToUnauthenticated(ctx, sess, p, account, "verification attempts exhausted", now); err != nil {
			return nil, err
		}
		metrics.ChallengesTotal.WithLabelValues(string(p), "exhausted").Inc()
		s.logger.Info("challenge attempts exhausted", "platform", p, "account", account)
		return &entity.ResolveResult{Outcome: entity.OutcomeExhausted, AttemptsRemaining: &remaining}, nil
	}

	ch.AttemptsRemaining = &remaining
	if err := s.challenges.Save(ctx, ch); err != nil {
		return nil, err
	}
	metrics.ChallengesTotal.WithLabelValues(string(p), "invalid_code").Inc()
	return &entity.ResolveResult{Outcome: entity.OutcomeInvalidCode, AttemptsRemaining: &remaining}, nil
}

// ResendChallenge asks the platform to send the code again. Attempts are not reset.
func (s *Service) ResendChallenge(ctx context.Context, p platform.Platform, account, method string) (*entity.Challenge, error) {
	account = normalizeAccount(account)
	if account == "" {
		return nil, entity.ErrEmptyAccount
	}
	kind, err := entity.ParseChallengeKind(method)
	if err != nil {
		return nil, err
	}
	auth, ok := s.auths[p]
	if !ok {
		return nil, entity.ErrUnsupportedPlatform
	}

	ch, err := s.liveChallenge(ctx, p, account)
	if err != nil {
		return nil, err
	}
	if !ch.Kind.AllowsResendVia(kind) {
		return nil, fmt.Errorf("%w: %s challenge cannot be sent via %s", entity.ErrInvalidMethod, ch.Kind, kind)
	}
	if s.now().Sub(ch.LastSentAt) < s.cfg.ResendCooldown {
		return nil, entity.ErrResendTooSoon
	}

	unlock, err := s.guard.TryLock(ctx, flightKey(p, account), s.cfg.GuardTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := auth.ResendChallenge(ctx, account, ch.RemoteID, kind); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrPlatformUnavailable, err)
	}

	ch.LastSentAt = s.now()
	if err := s.challenges.Save(ctx, ch); err != nil {
		return nil, err
	}
	metrics.ChallengesTotal.WithLabelValues(string(p), "resent").Inc()
	return ch, nil
}

// AbandonChallenge destroys the outstanding challenge and leaves the account unauthenticated
func (s *Service) AbandonChallenge(ctx context.Context, p platform.Platform, account string) error {
	account = normalizeAccount(account)
	if account == "" {
		return entity.ErrEmptyAccount
	}

	unlock, err := s.guard.TryLock(ctx, flightKey(p, account), s.cfg.GuardTTL)
	if err != nil {
		return err
	}
	defer unlock()

	ch, err := s.challenges.Get(ctx, p, account)
	if err != nil {
		return err
	}
	if ch == nil {
		return entity.ErrChallengeNotFound
	}

	sess, err := s.sessions.Get(ctx, p, account)
	if err != nil {
		return err
	}
	if err := s.resetToUnauthenticated(ctx, sess, p, account, "challenge abandoned", s.now()); err != nil {
		return err
	}
	metrics.ChallengesTotal.WithLabelValues(string(p), "abandoned").Inc()
	return nil
}

// Revoke invalidates the session locally, then logs out remotely on a best-effort basis.
// Revoking an unknown or already revoked session is a no-op. While a login operation holds
// the account, Revoke fails with entity.ErrOperationInProgress and changes nothing.
func (s *Service) Revoke(ctx context.Context, p platform.Platform, account string) error {
	account = normalizeAccount(account)
	if account == "" {
		return entity.ErrEmptyAccount
	}

	unlock, err := s.guard.TryLock(ctx, flightKey(p, account), s.cfg.GuardTTL)
	if err != nil {
		return err
	}
	defer unlock()

	sess, err := s.sessions.Get(ctx, p, account)
	if err != nil {
		return err
	}
	if sess == nil || sess.State == entity.StateRevoked {
		return nil
	}

	token, err := s.sealer.Open(sess.Token)
	if err != nil {
		s.logger.Warn("failed to open token of revoked session", "platform", p, "account", account, "error", err)
		token = ""
	}

	sess.State = entity.StateRevoked
	sess.Token = ""
	sess.RefreshToken = ""
	sess.TokenExpiry = nil
	sess.ExpiresAt = nil
	sess.OAuthState = ""
	sess.Reason = "revoked"
	sess.UpdatedAt = s.now()
	if err := s.sessions.Upsert(ctx, sess); err != nil {
		return err
	}
	if err := s.challenges.Delete(ctx, p, account); err != nil {
		return err
	}
	s.logger.Info("session revoked", "platform", p, "account", account)

	if auth, ok := s.auths[p]; ok && token != "" {
		if err := auth.Logout(ctx, account, token); err != nil {
			s.logger.Warn("remote logout failed", "platform", p, "account", account, "error", err)
		}
	}
	return nil
}

// GetSession retrieves the session of an account
func (s *Service) GetSession(ctx context.Context, p platform.Platform, account string) (*entity.Session, error) {
	sess, err := s.sessions.Get(ctx, p, normalizeAccount(account))
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, entity.ErrSessionNotFound
	}
	return s.view(sess), nil
}

// ListSessions retrieves sessions, optionally for one platform
func (s *Service) ListSessions(ctx context.Context, p *platform.Platform) ([]entity.Session, error) {
	sessions, err := s.sessions.List(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Session, 0, len(sessions))
	for i := range sessions {
		out = append(out, *s.view(&sessions[i]))
	}
	return out, nil
}

// GetChallenge retrieves the outstanding challenge of an account
func (s *Service) GetChallenge(ctx context.Context, p platform.Platform, account string) (*entity.Challenge, error) {
	ch, err := s.challenges.Get(ctx, p, normalizeAccount(account))
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, entity.ErrChallengeNotFound
	}
	return ch, nil
}

// BeginOAuth returns the consent URL for an account of an oauth platform
func (s *Service) BeginOAuth(ctx context.Context, p platform.Platform, account string) (string, error) {
	provider, ok := s.oauth[p]
	if !ok {
		return "", entity.ErrOAuthNotConfigured
	}
	account = normalizeAccount(account)
	if account == "" {
		return "", entity.ErrEmptyAccount
	}

	state, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}

	sess, err := s.sessions.Get(ctx, p, account)
	if err != nil {
		return "", err
	}
	now := s.now()
	sess = s.sessionOrNew(sess, p, account, now)
	sess.OAuthState = state
	sess.UpdatedAt = now
	if err := s.sessions.Upsert(ctx, sess); err != nil {
		return "", err
	}

	return provider.AuthCodeURL(state), nil
}

// CompleteOAuth exchanges the authorization code for the account that started the flow with state
func (s *Service) CompleteOAuth(ctx context.Context, state, code string) (*entity.Session, error) {
	if state == "" {
		return nil, entity.ErrInvalidOAuthState
	}
	sess, err := s.sessions.GetByOAuthState(ctx, state)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, entity.ErrInvalidOAuthState
	}

	now := s.now()
	if now.Sub(sess.UpdatedAt) > s.cfg.ChallengeTTL {
		sess.OAuthState = ""
		sess.UpdatedAt = now
		if err := s.sessions.Upsert(ctx, sess); err != nil {
			return nil, err
		}
		return nil, entity.ErrInvalidOAuthState
	}

	provider, ok := s.oauth[sess.Platform]
	if !ok {
		return nil, entity.ErrOAuthNotConfigured
	}
	if code == "" {
		return nil, entity.ErrOAuthRejected
	}

	tokens, err := provider.Exchange(ctx, code)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues(string(sess.Platform), "unavailable").Inc()
		if errors.Is(err, entity.ErrOAuthRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", entity.ErrPlatformUnavailable, err)
	}

	sess.OAuthState = ""
	sess, err = s.authorize(ctx, sess, sess.Platform, sess.Account, *tokens, s.now())
	if err != nil {
		return nil, err
	}
	metrics.LoginsTotal.WithLabelValues(string(sess.Platform), "authorized").Inc()
	s.logger.Info("account authorized via oauth", "platform", sess.Platform, "account", sess.Account)
	return sess, nil
}

// Acquire returns the credential of an authorized account.
// An empty account selects the most recently used authorized account of the platform.
func (s *Service) Acquire(ctx context.Context, p platform.Platform, account string) (*entity.Credential, error) {
	account = normalizeAccount(account)

	var sess *entity.Session
	var err error
	if account == "" {
		sess, err = s.sessions.GetMostRecent(ctx, p)
	} else {
		sess, err = s.sessions.Get(ctx, p, account)
	}
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, entity.ErrSessionNotAuthorized
	}

	now := s.now()
	if !sess.IsAuthorized(now) {
		if sess.State == entity.StateAuthorized {
			sess.State = entity.StateExpired
			sess.Reason = "session expired"
			sess.UpdatedAt = now
			if err := s.sessions.Upsert(ctx, sess); err != nil {
				return nil, err
			}
		}
		return nil, entity.ErrSessionNotAuthorized
	}

	token, err := s.sealer.Open(sess.Token)
	if err != nil {
		return nil, fmt.Errorf("opening token: %w", err)
	}
	refresh, err := s.sealer.Open(sess.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("opening refresh token: %w", err)
	}

	return &entity.Credential{
		Platform:     p,
		Account:      sess.Account,
		Token:        token,
		RefreshToken: refresh,
		TokenExpiry:  sess.TokenExpiry,
		RemoteUserID: sess.RemoteUserID,
	}, nil
}

// Invalidate marks an authorized session expired after the platform rejected its credentials
func (s *Service) Invalidate(ctx context.Context, p platform.Platform, account, reason string) error {
	sess, err := s.sessions.Get(ctx, p, normalizeAccount(account))
	if err != nil {
		return err
	}
	if sess == nil || sess.State != entity.StateAuthorized {
		return nil
	}

	sess.State = entity.StateExpired
	sess.Reason = reason
	sess.UpdatedAt = s.now()
	if err := s.sessions.Upsert(ctx, sess); err != nil {
		return err
	}
	s.logger.Warn("session invalidated", "platform", p, "account", sess.Account, "reason", reason)
	return nil
}

// Touch records a successful use of an authorized session
func (s *Service) Touch(ctx context.Context, p platform.Platform, account string) error {
	return s.sessions.Touch(ctx, p, normalizeAccount(account), s.now())
}

func (s *Service) liveChallenge(ctx context.Context, p platform.Platform, account string) (*entity.Challenge, error) {
	ch, err := s.challenges.Get(ctx, p, account)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, entity.ErrChallengeNotFound
	}

	now := s.now()
	if ch.IsExpired(now) {
		sess, err := s.sessions.Get(ctx, p, account)
		if err != nil {
			return nil, err
		}
		if err := s.resetToUnauthenticated(ctx, sess, p, account, "challenge expired", now); err != nil {
			return nil, err
		}
		return nil, entity.ErrChallengeExpired
	}
	return ch, nil
}

func (s *Service) authorize(ctx context.Context, sess *entity.Session, p platform.Platform, account string, tokens Tokens, now time.Time) (*entity.Session, error) {
	sealed, err := s.sealer.Seal(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("sealing token: %w", err)
	}
	sealedRefresh, err := s.sealer.Seal(tokens.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("sealing refresh token: %w", err)
	}

	sess = s.sessionOrNew(sess, p, account, now)
	sess.State = entity.StateAuthorized
	sess.Token = sealed
	sess.RefreshToken = sealedRefresh
	sess.TokenExpiry = tokens.Expiry
	if tokens.RemoteUserID != "" {
		sess.RemoteUserID = tokens.RemoteUserID
	}
	sess.ExpiresAt = nil
	if tokens.SessionTTL > 0 {
		exp := now.Add(tokens.SessionTTL)
		sess.ExpiresAt = &exp
	}
	sess.Reason = ""
	sess.UpdatedAt = now

	if err := s.sessions.Upsert(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) resetToUnauthenticated(ctx context.Context, sess *entity.Session, p platform.Platform, account, reason string, now time.Time) error {
	if err := s.challenges.Delete(ctx, p, account); err != nil {
		return err
	}
	sess = s.sessionOrNew(sess, p, account, now)
	sess.State = entity.StateUnauthenticated
	sess.Reason = reason
	sess.UpdatedAt = now
	return s.sessions.Upsert(ctx, sess)
}

func (s *Service) sessionOrNew(sess *entity.Session, p platform.Platform, account string, now time.Time) *entity.Session {
	if sess != nil {
		return sess
	}
	return &entity.Session{
		Platform:  p,
		Account:   account,
		State:     entity.StateUnauthenticated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// view reports an authorized session past its expiry as expired
func (s *Service) view(sess *entity.Session) *entity.Session {
	if sess.State == entity.StateAuthorized && !sess.IsAuthorized(s.now()) {
		sess.State = entity.StateExpired
	}
	return sess
}

// revokedDuring reports whether the session was revoked after before was read
func revokedDuring(before, after *entity.Session) bool {
	if after == nil || after.State != entity.StateRevoked {
		return false
	}
	return before == nil || before.State != entity.StateRevoked
}

func normalizeAccount(account string) string {
	return strings.TrimPrefix(strings.TrimSpace(account), "@")
}

func flightKey(p platform.Platform, account string) string {
	return string(p) + ":" + strings.ToLower(account)
}
