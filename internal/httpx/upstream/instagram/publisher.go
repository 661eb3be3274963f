package instagram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/policy"
	"github.com/vadim/neo-publisher/internal/poll"
)

// Publisher handles the complete publishing workflow for Instagram content
type Publisher struct {
	client       *Client
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// PublisherOption configures the Publisher
type PublisherOption func(*Publisher)

// WithContainerPolling sets how often and how long container processing is awaited
func WithContainerPolling(interval, timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.pollInterval = interval
		p.pollTimeout = timeout
	}
}

// NewPublisher creates a new Instagram publisher
func NewPublisher(client *Client, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client:       client,
		pollInterval: 5 * time.Second,
		pollTimeout:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers a post to Instagram.
// Handles the 3-step workflow: create container -> wait for processing -> publish.
func (p *Publisher) Publish(ctx context.Context, in policy.PublishInput) (*policy.PublishOutput, error) {
	post := in.Post
	if post.Media == nil || post.Media.URL == "" {
		return nil, deliveryError(entity.ErrMediaRequired)
	}

	userID := in.Credential.RemoteUserID
	if userID == "" {
		userID = "me"
	}
	token := in.Credential.Token

	containerIn := CreateMediaContainerInput{
		UserID:      userID,
		AccessToken: token,
		Caption:     post.Text(),
	}

	switch post.ContentType {
	case platform.Photo:
		containerIn.ImageURL = post.Media.URL
	case platform.Reel:
		containerIn.MediaType = MediaTypeReels
		containerIn.VideoURL = post.Media.URL
		containerIn.ShareToFeed = true
	case platform.Story:
		containerIn.MediaType = MediaTypeStories
		if isVideo(post.Media) {
			containerIn.VideoURL = post.Media.URL
		} else {
			containerIn.ImageURL = post.Media.URL
		}
	default:
		return nil, deliveryError(fmt.Errorf("%w: %s", entity.ErrUnsupportedContentType, post.ContentType))
	}

	container, err := p.client.CreateMediaContainer(ctx, containerIn)
	if err != nil {
		return nil, deliveryError(fmt.Errorf("creating media container: %w", err))
	}

	if err := p.waitForContainer(ctx, container.ID, token); err != nil {
		return nil, deliveryError(err)
	}

	mediaID, err := p.client.PublishMedia(ctx, userID, token, container.ID)
	if err != nil {
		return nil, deliveryError(fmt.Errorf("publishing media: %w", err))
	}

	out := &policy.PublishOutput{RemoteID: mediaID}

	// Non-fatal, we still have the media ID
	if permalink, err := p.client.GetPermalink(ctx, mediaID, token); err == nil {
		out.Permalink = permalink
	}

	return out, nil
}

// waitForContainer waits for a media container to be ready for publishing
func (p *Publisher) waitForContainer(ctx context.Context, containerID, accessToken string) error {
	status, err := poll.Until(ctx,
		poll.Config{Interval: p.pollInterval, Timeout: p.pollTimeout},
		func(ctx context.Context) (*GetContainerStatusOutput, error) {
			return p.client.GetContainerStatus(ctx, containerID, accessToken)
		},
		func(s *GetContainerStatusOutput) bool {
			return s.Status != ContainerStatusInProgress && s.Status != ""
		},
		nil,
	)
	if errors.Is(err, poll.ErrTimeout) {
		return &entity.DeliveryError{
			Platform:  platform.Instagram,
			Code:      "container_timeout",
			Message:   "media container still processing: timed out",
			Temporary: true,
		}
	}
	if err != nil {
		return fmt.Errorf("checking container status: %w", err)
	}

	switch status.Status {
	case ContainerStatusError:
		return &entity.DeliveryError{
			Platform: platform.Instagram,
			Code:     "invalid_media",
			Message:  "media container error: " + status.ErrorMessage,
		}
	case ContainerStatusExpired:
		return &entity.DeliveryError{
			Platform:  platform.Instagram,
			Code:      "container_expired",
			Message:   "media container expired before publishing",
			Temporary: true,
		}
	}

	return nil
}

func isVideo(m *entity.Media) bool {
	if strings.HasPrefix(m.ContentType, "video/") {
		return true
	}
	lower := strings.ToLower(m.URL)
	return strings.HasSuffix(lower, ".mp4") || strings.HasSuffix(lower, ".mov")
}

// deliveryError converts client errors into the lifecycle's failure signal
func deliveryError(err error) error {
	var de *entity.DeliveryError
	if errors.As(err, &de) {
		return de
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != 0 {
			code = strconv.Itoa(apiErr.Code)
		}
		return &entity.DeliveryError{
			Platform:   platform.Instagram,
			StatusCode: apiErr.StatusCode,
			Code:       code,
			Message:    apiErr.Message,
			Temporary:  apiErr.IsTransient,
			Err:        err,
		}
	}

	var netErr net.Error
	return &entity.DeliveryError{
		Platform:  platform.Instagram,
		Message:   err.Error(),
		Temporary: errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded),
		Err:       err,
	}
}
