package relay

import (
	"context"
	"errors"
	"net"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/policy"
)

// Publisher delivers posts of one platform through the relay
type Publisher struct {
	client   *Client
	platform platform.Platform
}

// NewPublisher creates a publisher for a platform
func NewPublisher(client *Client, p platform.Platform) *Publisher {
	return &Publisher{client: client, platform: p}
}

// Publish delivers a post with the account's session
func (p *Publisher) Publish(ctx context.Context, in policy.PublishInput) (*policy.PublishOutput, error) {
	post := in.Post

	req := PublishRequest{
		Account:        in.Credential.Account,
		ContentType:    string(post.ContentType),
		Text:           post.Text(),
		Title:          post.Title,
		IdempotencyKey: post.ID,
	}
	if post.Media != nil {
		req.MediaURL = post.Media.URL
		req.MediaContentType = post.Media.ContentType
	}

	resp, err := p.client.Publish(ctx, p.platform, in.Credential.Token, req)
	if err != nil {
		return nil, p.deliveryError(err)
	}

	return &policy.PublishOutput{RemoteID: resp.ID, Permalink: resp.Permalink}, nil
}

func (p *Publisher) deliveryError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &entity.DeliveryError{
			Platform:   p.platform,
			StatusCode: apiErr.StatusCode,
			Code:       apiErr.Code,
			Message:    apiErr.Message,
			Temporary:  apiErr.Retryable,
			Err:        err,
		}
	}

	var netErr net.Error
	return &entity.DeliveryError{
		Platform:  p.platform,
		Message:   err.Error(),
		Temporary: errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded),
		Err:       err,
	}
}
