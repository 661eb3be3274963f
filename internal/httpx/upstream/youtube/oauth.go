// Package youtube authorizes channels with Google OAuth and uploads videos with the YouTube Data API.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/vadim/neo-publisher/internal/domain/session/service"
)

// Scopes requested when a channel is authorized
var Scopes = []string{
	youtube.YoutubeUploadScope,
	youtube.YoutubeReadonlyScope,
}

// ErrNoChannel is returned when the authorized Google account owns no YouTube channel
var ErrNoChannel = errors.New("google account has no youtube channel")

// Config holds the OAuth client registration
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Option configures the Authorizer and the Publisher
type Option func(*options)

type options struct {
	endpoint   oauth2.Endpoint
	apiBaseURL string
	httpClient *http.Client
}

// WithOAuthEndpoint overrides Google's authorization and token URLs
func WithOAuthEndpoint(e oauth2.Endpoint) Option {
	return func(o *options) {
		o.endpoint = e
	}
}

// WithAPIBaseURL overrides the YouTube Data API base URL
func WithAPIBaseURL(url string) Option {
	return func(o *options) {
		o.apiBaseURL = url
	}
}

// WithHTTPClient sets the transport used for token and API calls
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

func buildOptions(opts []Option) options {
	o := options{endpoint: google.Endpoint}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Authorizer runs the authorization code flow for YouTube channels
type Authorizer struct {
	oauth *oauth2.Config
	opts  options
}

// NewAuthorizer creates a new YouTube channel authorizer
func NewAuthorizer(cfg Config, opts ...Option) *Authorizer {
	o := buildOptions(opts)
	return &Authorizer{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     o.endpoint,
		},
		opts: o,
	}
}

// Configured reports whether client credentials are present
func (a *Authorizer) Configured() bool {
	return a.oauth.ClientID != "" && a.oauth.ClientSecret != ""
}

// AuthCodeURL returns the consent page URL. Offline access is forced so a refresh token is always issued.
func (a *Authorizer) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades the authorization code for tokens and resolves the channel ID
func (a *Authorizer) Exchange(ctx context.Context, code string) (*service.Tokens, error) {
	ctx = a.opts.context(ctx)

	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	svc, err := a.opts.service(ctx, a.oauth.Client(ctx, token))
	if err != nil {
		return nil, err
	}

	resp, err := svc.Channels.List([]string{"id"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("looking up channel: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, ErrNoChannel
	}

	out := &service.Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		RemoteUserID: resp.Items[0].Id,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		out.Expiry = &expiry
	}
	return out, nil
}

// tokenSource rebuilds a refreshing token source from stored credentials
func (a *Authorizer) tokenSource(ctx context.Context, access, refresh string, expiry *time.Time) oauth2.TokenSource {
	token := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	if expiry != nil {
		token.Expiry = *expiry
	}
	return a.oauth.TokenSource(a.opts.context(ctx), token)
}

func (o options) context(ctx context.Context) context.Context {
	if o.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

func (o options) service(ctx context.Context, client *http.Client) (*youtube.Service, error) {
	clientOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if o.apiBaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(o.apiBaseURL))
	}

	svc, err := youtube.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating youtube service: %w", err)
	}
	return svc, nil
}
