// Package relay is a client for the platform relay, the bridge service that speaks each
// platform's private login and posting protocol and exposes it as plain JSON over HTTP.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/platform"
)

const (
	defaultBaseURL = "http://localhost:8091"
	defaultTimeout = 60 * time.Second
)

// Client is a platform relay API client
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithToken sets the relay API token
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a new relay client
func New(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an error answered by the relay on behalf of a platform
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("relay error: %s (status: %d, code: %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("relay error: %s (status: %d)", e.Message, e.StatusCode)
}

// ErrorResponse represents an error response from the relay
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// LoginRequest represents a credential login
type LoginRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

// TokenData is the credential material of an authorized account
type TokenData struct {
	AccessToken       string     `json:"access_token"`
	RefreshToken      string     `json:"refresh_token,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	UserID            string     `json:"user_id,omitempty"`
	SessionTTLSeconds int        `json:"session_ttl_seconds,omitempty"`
}

// ChallengeData describes the verification a platform asked for
type ChallengeData struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Attempts *int   `json:"attempts,omitempty"`
}

// LoginResponse represents the relay answer to a login
type LoginResponse struct {
	Status    string         `json:"status"` // authorized, challenge_required, rejected
	Token     *TokenData     `json:"token,omitempty"`
	Challenge *ChallengeData `json:"challenge,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Login starts a login for an account
func (c *Client) Login(ctx context.Context, p platform.Platform, in LoginRequest) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.post(ctx, c.endpoint(p, "login"), "", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyRequest represents a verification code submission
type VerifyRequest struct {
	Account string `json:"account"`
	Code    string `json:"code"`
}

// VerifyResponse represents the relay answer to a verification code
type VerifyResponse struct {
	Accepted          bool       `json:"accepted"`
	Token             *TokenData `json:"token,omitempty"`
	AttemptsRemaining *int       `json:"attempts_remaining,omitempty"`
}

// VerifyChallenge submits a verification code for a challenge
func (c *Client) VerifyChallenge(ctx context.Context, p platform.Platform, challengeID string, in VerifyRequest) (*VerifyResponse, error) {
	var out VerifyResponse
	endpoint := c.endpoint(p, "challenges", url.PathEscape(challengeID), "verify")
	if err := c.post(ctx, endpoint, "", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResendRequest asks for a new verification code
type ResendRequest struct {
	Account string `json:"account"`
	Method  string `json:"method"`
}

// ResendChallenge asks the platform to send the verification code again
func (c *Client) ResendChallenge(ctx context.Context, p platform.Platform, challengeID string, in ResendRequest) error {
	endpoint := c.endpoint(p, "challenges", url.PathEscape(challengeID), "resend")
	return c.post(ctx, endpoint, "", in, nil)
}

// Logout ends the platform session of an account
func (c *Client) Logout(ctx context.Context, p platform.Platform, account, sessionToken string) error {
	return c.post(ctx, c.endpoint(p, "logout"), sessionToken, map[string]string{"account": account}, nil)
}

// PublishRequest represents content to post on behalf of an account
type PublishRequest struct {
	Account          string `json:"account"`
	ContentType      string `json:"content_type"`
	Text             string `json:"text,omitempty"`
	Title            string `json:"title,omitempty"`
	MediaURL         string `json:"media_url,omitempty"`
	MediaContentType string `json:"media_content_type,omitempty"`
	IdempotencyKey   string `json:"idempotency_key,omitempty"`
}

// PublishResponse represents a delivered post
type PublishResponse struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink,omitempty"`
}

// Publish posts content with the account's session token
func (c *Client) Publish(ctx context.Context, p platform.Platform, sessionToken string, in PublishRequest) (*PublishResponse, error) {
	var out PublishResponse
	if err := c.post(ctx, c.endpoint(p, "publish"), sessionToken, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) endpoint(p platform.Platform, parts ...string) string {
	return c.baseURL + "/v1/" + string(p) + "/" + strings.Join(parts, "/")
}

func (c *Client) post(ctx context.Context, endpoint, sessionToken string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionToken != "" {
		req.Header.Set("X-Session-Token", sessionToken)
	}

	return c.do(req, out)
}

// do executes an HTTP request and decodes the response
func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		errResp.Error.StatusCode = resp.StatusCode
		return &errResp.Error
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
