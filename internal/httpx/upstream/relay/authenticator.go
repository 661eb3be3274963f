package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/session/entity"
	"github.com/vadim/neo-publisher/internal/domain/session/service"
)

// Authenticator runs the login flows of one platform through the relay
type Authenticator struct {
	client   *Client
	platform platform.Platform
}

// NewAuthenticator creates an authenticator for a platform
func NewAuthenticator(client *Client, p platform.Platform) *Authenticator {
	return &Authenticator{client: client, platform: p}
}

// Login submits the account credentials
func (a *Authenticator) Login(ctx context.Context, account, password string) (*service.LoginResponse, error) {
	resp, err := a.client.Login(ctx, a.platform, LoginRequest{Account: account, Password: password})
	if apiErr, ok := refusal(err); ok {
		reason := apiErr.Message
		if reason == "" {
			reason = apiErr.Code
		}
		return &service.LoginResponse{Status: service.LoginRejected, Reason: reason}, nil
	}
	if err != nil {
		return nil, err
	}

	switch service.LoginStatus(resp.Status) {
	case service.LoginAuthorized:
		return &service.LoginResponse{Status: service.LoginAuthorized, Tokens: tokens(resp.Token)}, nil
	case service.LoginChallengeRequired:
		out := &service.LoginResponse{Status: service.LoginChallengeRequired}
		if resp.Challenge != nil {
			out.ChallengeID = resp.Challenge.ID
			out.AttemptsAllowed = resp.Challenge.Attempts
			if kind, err := entity.ParseChallengeKind(resp.Challenge.Kind); err == nil {
				out.ChallengeKind = kind
			}
		}
		return out, nil
	default:
		reason := resp.Reason
		if reason == "" {
			reason = "login rejected by " + string(a.platform)
		}
		return &service.LoginResponse{Status: service.LoginRejected, Reason: reason}, nil
	}
}

// SubmitChallenge submits a verification code
func (a *Authenticator) SubmitChallenge(ctx context.Context, account, challengeID, code string) (*service.ChallengeResponse, error) {
	resp, err := a.client.VerifyChallenge(ctx, a.platform, challengeID, VerifyRequest{Account: account, Code: code})
	if _, ok := refusal(err); ok {
		return &service.ChallengeResponse{Accepted: false}, nil
	}
	if err != nil {
		return nil, err
	}

	return &service.ChallengeResponse{
		Accepted:          resp.Accepted,
		Tokens:            tokens(resp.Token),
		AttemptsRemaining: resp.AttemptsRemaining,
	}, nil
}

// ResendChallenge asks for the verification code again
func (a *Authenticator) ResendChallenge(ctx context.Context, account, challengeID string, method entity.ChallengeKind) error {
	return a.client.ResendChallenge(ctx, a.platform, challengeID, ResendRequest{Account: account, Method: string(method)})
}

// Logout ends the remote session
func (a *Authenticator) Logout(ctx context.Context, account, token string) error {
	return a.client.Logout(ctx, a.platform, account, token)
}

// refusal reports whether err is a definitive answer of the platform rather than a failure to get one:
// a 4xx the relay does not mark retryable. Timeouts and throttling stay errors.
func refusal(err error) (*APIError, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Retryable {
		return nil, false
	}
	switch {
	case apiErr.StatusCode < 400 || apiErr.StatusCode >= 500:
		return nil, false
	case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusTooManyRequests:
		return nil, false
	}
	return apiErr, true
}

func tokens(t *TokenData) service.Tokens {
	if t == nil {
		return service.Tokens{}
	}
	return service.Tokens{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
		RemoteUserID: t.UserID,
		SessionTTL:   time.Duration(t.SessionTTLSeconds) * time.Second,
	}
}
