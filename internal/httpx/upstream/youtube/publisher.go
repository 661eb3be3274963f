package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/youtube/v3"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/policy"
)

const (
	maxTitleLength  = 100
	shortsTag       = "#Shorts"
	defaultCategory = "22" // People & Blogs
)

// MediaOpener streams stored media by key
type MediaOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Publisher uploads posts as YouTube videos
type Publisher struct {
	auth    *Authorizer
	media   MediaOpener
	privacy string
}

// NewPublisher creates a new YouTube publisher
func NewPublisher(auth *Authorizer, media MediaOpener) *Publisher {
	return &Publisher{auth: auth, media: media, privacy: "public"}
}

// Publish uploads the post's video with the channel's credentials
func (p *Publisher) Publish(ctx context.Context, in policy.PublishInput) (*policy.PublishOutput, error) {
	post := in.Post
	if post.Media == nil {
		return nil, deliveryError(entity.ErrMediaRequired)
	}

	// TODO: persist the refreshed access token back to the session instead of refreshing on every upload
	ts := p.auth.tokenSource(ctx, in.Credential.Token, in.Credential.RefreshToken, in.Credential.TokenExpiry)
	svc, err := p.auth.opts.service(ctx, oauth2.NewClient(p.auth.opts.context(ctx), ts))
	if err != nil {
		return nil, err
	}

	body, err := p.open(ctx, post.Media)
	if err != nil {
		return nil, deliveryError(fmt.Errorf("opening media: %w", err))
	}
	defer body.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       videoTitle(post),
			Description: post.Text(),
			Tags:        post.Hashtags,
			CategoryId:  defaultCategory,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: p.privacy,
		},
	}

	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(body, googleapi.ContentType(contentType(post.Media))).
		Context(ctx).
		Do()
	if err != nil {
		return nil, deliveryError(err)
	}

	permalink := "https://youtu.be/" + resp.Id
	if post.ContentType == platform.ShortFormVideo {
		permalink = "https://youtube.com/shorts/" + resp.Id
	}
	return &policy.PublishOutput{RemoteID: resp.Id, Permalink: permalink}, nil
}

func (p *Publisher) open(ctx context.Context, m *entity.Media) (io.ReadCloser, error) {
	if m.Key != "" && p.media != nil {
		return p.media.Open(ctx, m.Key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return nil, err
	}
	client := http.DefaultClient
	if p.auth.opts.httpClient != nil {
		client = p.auth.opts.httpClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("downloading media: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// videoTitle falls back to the caption. Shorts are tagged so YouTube files them as such.
func videoTitle(post *entity.Post) string {
	title := strings.TrimSpace(post.Title)
	if title == "" {
		title = strings.TrimSpace(post.Caption)
	}
	if title == "" {
		title = "Untitled"
	}

	limit := maxTitleLength
	if post.ContentType == platform.ShortFormVideo && !strings.Contains(strings.ToLower(title), strings.ToLower(shortsTag)) {
		return truncate(title, limit-len(shortsTag)-1) + " " + shortsTag
	}
	return truncate(title, limit)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}

func contentType(m *entity.Media) string {
	if m.ContentType != "" {
		return m.ContentType
	}
	return "video/mp4"
}

// deliveryError converts API errors into the lifecycle's failure signal
func deliveryError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		de := &entity.DeliveryError{
			Platform:   platform.YouTube,
			StatusCode: gErr.Code,
			Message:    gErr.Message,
			Err:        err,
		}
		if len(gErr.Errors) > 0 {
			de.Code = gErr.Errors[0].Reason
			if de.Message == "" {
				de.Message = gErr.Errors[0].Message
			}
		}
		return de
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &entity.DeliveryError{
			Platform:   platform.YouTube,
			StatusCode: http.StatusUnauthorized,
			Code:       "autherror",
			Message:    "refreshing access token: " + retrieveErr.Error(),
			Err:        err,
		}
	}

	var netErr net.Error
	return &entity.DeliveryError{
		Platform:  platform.YouTube,
		Message:   err.Error(),
		Temporary: errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded),
		Err:       err,
	}
}
