// Package platform describes the external platforms posts can be delivered to
// and which content types each of them accepts.
package platform

import (
	"errors"
	"strings"
)

var (
	ErrUnknownPlatform    = errors.New("unknown platform")
	ErrUnknownContentType = errors.New("unknown content type")
)

// Platform is an external publishing destination
type Platform string

const (
	Instagram Platform = "instagram"
	TikTok    Platform = "tiktok"
	YouTube   Platform = "youtube"
	WhatsApp  Platform = "whatsapp"
)

// All returns every supported platform
func All() []Platform {
	return []Platform{Instagram, TikTok, YouTube, WhatsApp}
}

// ContentType is the kind of content a post carries
type ContentType string

const (
	ShortVideo     ContentType = "short_video"
	Photo          ContentType = "photo"
	Reel           ContentType = "reel"
	Story          ContentType = "story"
	LongVideo      ContentType = "long_video"
	ShortFormVideo ContentType = "short_form_video"
	TextMessage    ContentType = "text_message"
)

var support = map[Platform][]ContentType{
	TikTok:    {ShortVideo},
	Instagram: {Photo, Reel, Story},
	YouTube:   {LongVideo, ShortFormVideo},
	WhatsApp:  {TextMessage},
}

// Parse converts a string into a Platform
func Parse(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := support[p]; !ok {
		return "", ErrUnknownPlatform
	}
	return p, nil
}

// ParseContentType converts a string into a ContentType
func ParseContentType(s string) (ContentType, error) {
	ct := ContentType(strings.ToLower(strings.TrimSpace(s)))
	switch ct {
	case ShortVideo, Photo, Reel, Story, LongVideo, ShortFormVideo, TextMessage:
		return ct, nil
	default:
		return "", ErrUnknownContentType
	}
}

// ContentTypes returns the content types accepted by the platform
func (p Platform) ContentTypes() []ContentType {
	return support[p]
}

// Supports reports whether the platform accepts the content type
func (p Platform) Supports(ct ContentType) bool {
	for _, c := range support[p] {
		if c == ct {
			return true
		}
	}
	return false
}

// RequiresMedia reports whether content of this type must carry a media file
func (ct ContentType) RequiresMedia() bool {
	return ct != TextMessage
}

// IsVideo reports whether the content type is delivered as video
func (ct ContentType) IsVideo() bool {
	switch ct {
	case ShortVideo, Reel, LongVideo, ShortFormVideo:
		return true
	default:
		return false
	}
}
