package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/policy"
	"github.com/vadim/neo-publisher/internal/domain/post/retry"
	sessiondao "github.com/vadim/neo-publisher/internal/domain/session/dao"
	sessionentity "github.com/vadim/neo-publisher/internal/domain/session/entity"
	"github.com/vadim/neo-publisher/internal/domain/session/service"
	"github.com/vadim/neo-publisher/internal/secret"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(WithBaseURL(srv.URL+"/"), WithToken("relay-secret"), WithHTTPClient(srv.Client()))
}

func TestAuthenticator_Login(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		assert func(t *testing.T, resp *service.LoginResponse)
	}{
		{
			name: "authorized",
			body: `{"status":"authorized","token":{"access_token":"tok","user_id":"42","session_ttl_seconds":3600}}`,
			assert: func(t *testing.T, resp *service.LoginResponse) {
				assert.Equal(t, service.LoginAuthorized, resp.Status)
				assert.Equal(t, "tok", resp.Tokens.AccessToken)
				assert.Equal(t, "42", resp.Tokens.RemoteUserID)
				assert.Equal(t, float64(3600), resp.Tokens.SessionTTL.Seconds())
			},
		},
		{
			name: "challenge",
			body: `{"status":"challenge_required","challenge":{"id":"rc-1","kind":"email","attempts":2}}`,
			assert: func(t *testing.T, resp *service.LoginResponse) {
				assert.Equal(t, service.LoginChallengeRequired, resp.Status)
				assert.Equal(t, "rc-1", resp.ChallengeID)
				assert.Equal(t, sessionentity.ChallengeEmail, resp.ChallengeKind)
				require.NotNil(t, resp.AttemptsAllowed)
				assert.Equal(t, 2, *resp.AttemptsAllowed)
			},
		},
		{
			name: "rejected",
			body: `{"status":"rejected","reason":"bad password"}`,
			assert: func(t *testing.T, resp *service.LoginResponse) {
				assert.Equal(t, service.LoginRejected, resp.Status)
				assert.Equal(t, "bad password", resp.Reason)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/tiktok/login", r.URL.Path)
				assert.Equal(t, "Bearer relay-secret", r.Header.Get("Authorization"))

				var req LoginRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "acme", req.Account)
				assert.Equal(t, "pw", req.Password)
				fmt.Fprint(w, tt.body)
			}))

			resp, err := NewAuthenticator(client, platform.TikTok).Login(context.Background(), "acme", "pw")
			require.NoError(t, err)
			tt.assert(t, resp)
		})
	}
}

func TestAuthenticator_SubmitChallenge(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/instagram/challenges/rc-1/verify", r.URL.Path)
		fmt.Fprint(w, `{"accepted":false,"attempts_remaining":1}`)
	}))

	resp, err := NewAuthenticator(client, platform.Instagram).SubmitChallenge(context.Background(), "acme", "rc-1", "000000")
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	require.NotNil(t, resp.AttemptsRemaining)
	assert.Equal(t, 1, *resp.AttemptsRemaining)
}

func TestAuthenticator_TransportErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"code":"upstream_down","message":"instagram unreachable","retryable":true}}`)
	}))

	_, err := NewAuthenticator(client, platform.Instagram).Login(context.Background(), "acme", "pw")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "upstream_down", apiErr.Code)
}

func TestAuthenticator_DefinitiveRefusals(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantReason string
		wantErr    bool
	}{
		{
			name:       "disabled account",
			status:     http.StatusForbidden,
			body:       `{"error":{"code":"account_disabled","message":"account disabled","retryable":false}}`,
			wantReason: "account disabled",
		},
		{
			name:       "plain body",
			status:     http.StatusUnauthorized,
			body:       `bad credentials`,
			wantReason: "bad credentials",
		},
		{
			name:    "throttled",
			status:  http.StatusTooManyRequests,
			body:    `{"error":{"code":"rate_limited","message":"slow down","retryable":false}}`,
			wantErr: true,
		},
		{
			name:    "retryable 4xx",
			status:  http.StatusConflict,
			body:    `{"error":{"code":"busy","message":"login in progress","retryable":true}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))

			resp, err := NewAuthenticator(client, platform.Instagram).Login(context.Background(), "acme", "pw")
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, service.LoginRejected, resp.Status)
			assert.Equal(t, tt.wantReason, resp.Reason)
		})
	}
}

func TestAuthenticator_SubmitChallengeRefused(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":"invalid_code","message":"code does not match","retryable":false}}`)
	}))

	resp, err := NewAuthenticator(client, platform.Instagram).SubmitChallenge(context.Background(), "acme", "rc-1", "000000")
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Nil(t, resp.AttemptsRemaining)
}

func TestAuthenticator_RefusalIsNotPlatformUnavailable(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":"account_disabled","message":"account disabled","retryable":false}}`)
	}))
	svc := service.New(sessiondao.NewSessionMemory(), sessiondao.NewChallengeMemory(), sessiondao.NewLocalGuard(),
		secret.Plain{}, service.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		service.WithAuthenticator(platform.Instagram, NewAuthenticator(client, platform.Instagram)))

	res, err := svc.InitiateLogin(context.Background(), platform.Instagram, "acme", "pw")
	require.NoError(t, err)
	assert.Equal(t, sessionentity.OutcomeRejected, res.Outcome)
	assert.Equal(t, "account disabled", res.Reason)
}

func TestPublisher_Publish(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/whatsapp/publish", r.URL.Path)
		assert.Equal(t, "session-tok", r.Header.Get("X-Session-Token"))

		var req PublishRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello #news", req.Text)
		assert.Equal(t, "p1", req.IdempotencyKey)
		fmt.Fprint(w, `{"id":"wamid.1"}`)
	}))

	out, err := NewPublisher(client, platform.WhatsApp).Publish(context.Background(), policy.PublishInput{
		Post: &entity.Post{
			ID:          "p1",
			Platform:    platform.WhatsApp,
			ContentType: platform.TextMessage,
			Caption:     "hello",
			Hashtags:    []string{"news"},
		},
		Credential: policy.Credential{Account: "+5511999999999", Token: "session-tok"},
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", out.RemoteID)
}

func TestPublisher_ErrorsAreClassifiable(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind entity.ErrorKind
	}{
		{name: "spam throttling", status: http.StatusBadRequest, body: `{"error":{"code":"spam_risk_too_many_posts","message":"posting too often"}}`, wantKind: entity.ErrorKindRateLimit},
		{name: "expired session", status: http.StatusUnauthorized, body: `{"error":{"code":"access_token_invalid","message":"session gone"}}`, wantKind: entity.ErrorKindAuth},
		{name: "bad media", status: http.StatusUnprocessableEntity, body: `{"error":{"code":"invalid_media","message":"cannot decode video"}}`, wantKind: entity.ErrorKindContent},
		{name: "retryable", status: http.StatusServiceUnavailable, body: `{"error":{"message":"relay overloaded","retryable":true}}`, wantKind: entity.ErrorKindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))

			_, err := NewPublisher(client, platform.TikTok).Publish(context.Background(), policy.PublishInput{
				Post: &entity.Post{ID: "p1", Platform: platform.TikTok, ContentType: platform.ShortVideo,
					Media: &entity.Media{URL: "https://cdn.example.com/v.mp4"}},
				Credential: policy.Credential{Account: "acme", Token: "t"},
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, retry.Classify(retry.FailureFromError(platform.TikTok, err)))
		})
	}
}
