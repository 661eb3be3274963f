package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://graph.instagram.com"
	defaultAPIVersion = "v21.0"
	defaultTimeout    = 30 * time.Second
)

// Client is an Instagram Graph API client for content publishing
type Client struct {
	baseURL    string
	apiVersion string
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

// WithAPIVersion sets the API version
func WithAPIVersion(version string) ClientOption {
	return func(c *Client) {
		c.apiVersion = version
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a new Instagram API client
func New(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiVersion: defaultAPIVersion,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an error from the Graph API
type APIError struct {
	StatusCode   int    `json:"-"`
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	IsTransient  bool   `json:"is_transient"`
	FBTraceID    string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("instagram API error: %s (code: %d, subcode: %d)", e.Message, e.Code, e.ErrorSubcode)
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// MediaType represents the type of container being created
type MediaType string

const (
	MediaTypeImage   MediaType = "IMAGE"
	MediaTypeReels   MediaType = "REELS"
	MediaTypeStories MediaType = "STORIES"
)

// ContainerStatus represents the status of a media container
type ContainerStatus string

const (
	ContainerStatusExpired    ContainerStatus = "EXPIRED"
	ContainerStatusError      ContainerStatus = "ERROR"
	ContainerStatusFinished   ContainerStatus = "FINISHED"
	ContainerStatusInProgress ContainerStatus = "IN_PROGRESS"
	ContainerStatusPublished  ContainerStatus = "PUBLISHED"
)

// CreateMediaContainerInput represents input for creating a media container
type CreateMediaContainerInput struct {
	UserID      string
	AccessToken string
	ImageURL    string
	VideoURL    string
	MediaType   MediaType
	Caption     string
	ShareToFeed bool // reels only
}

// CreateMediaContainerOutput represents output from creating a media container
type CreateMediaContainerOutput struct {
	ID string `json:"id"`
}

// CreateMediaContainer creates a media container for publishing
func (c *Client) CreateMediaContainer(ctx context.Context, in CreateMediaContainerInput) (*CreateMediaContainerOutput, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/media", c.baseURL, c.apiVersion, in.UserID)

	params := url.Values{}
	params.Set("access_token", in.AccessToken)

	if in.ImageURL != "" {
		params.Set("image_url", in.ImageURL)
	}
	if in.VideoURL != "" {
		params.Set("video_url", in.VideoURL)
	}

	switch in.MediaType {
	case MediaTypeReels:
		params.Set("media_type", string(MediaTypeReels))
		if in.ShareToFeed {
			params.Set("share_to_feed", "true")
		}
	case MediaTypeStories:
		params.Set("media_type", string(MediaTypeStories))
	}

	// Stories carry no caption
	if in.Caption != "" && in.MediaType != MediaTypeStories {
		params.Set("caption", in.Caption)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var out CreateMediaContainerOutput
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// GetContainerStatusOutput represents output from checking container status
type GetContainerStatusOutput struct {
	ID           string          `json:"id"`
	Status       ContainerStatus `json:"status_code"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// GetContainerStatus checks the processing status of a media container
func (c *Client) GetContainerStatus(ctx context.Context, containerID, accessToken string) (*GetContainerStatusOutput, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, containerID)

	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("fields", "status_code,error_message")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var out GetContainerStatusOutput
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// PublishMedia publishes a finished media container and returns the media ID
func (c *Client) PublishMedia(ctx context.Context, userID, accessToken, containerID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/media_publish", c.baseURL, c.apiVersion, userID)

	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("creation_id", containerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}

	return out.ID, nil
}

// GetPermalink retrieves the public link of a published media
func (c *Client) GetPermalink(ctx context.Context, mediaID, accessToken string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, mediaID)

	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("fields", "id,permalink")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	var out struct {
		ID        string `json:"id"`
		Permalink string `json:"permalink"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}

	return out.Permalink, nil
}

// do executes an HTTP request and decodes the response
func (c *Client) do(req *http.Request, out interface{}) error {
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

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
