// Package retry classifies delivery failures and decides whether they are retried.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

// Failure is the raw signal of one failed delivery attempt
type Failure struct {
	Platform   platform.Platform
	StatusCode int
	Code       string
	Message    string
	Temporary  bool
}

// FailureFromError extracts a Failure from an adapter error
func FailureFromError(p platform.Platform, err error) Failure {
	f := Failure{Platform: p}
	if err == nil {
		return f
	}
	f.Message = err.Error()

	var de *entity.DeliveryError
	if errors.As(err, &de) {
		if de.Platform != "" {
			f.Platform = de.Platform
		}
		f.StatusCode = de.StatusCode
		f.Code = de.Code
		f.Message = de.Message
		f.Temporary = de.Temporary
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		f.Temporary = true
	}

	return f
}

// Platform specific error codes. Instagram reports Graph API codes, YouTube reports reasons.
var (
	quotaCodes   = []string{"quotaexceeded", "dailylimitexceeded", "uploadlimitexceeded", "9", "content_publishing_limit"}
	rateCodes    = []string{"4", "17", "32", "613", "ratelimitexceeded", "userratelimitexceeded", "spam_risk_too_many_posts", "131048", "131056"}
	authCodes    = []string{"190", "102", "10", "200", "autherror", "unauthorized", "forbidden", "login_required", "checkpoint_required", "challenge_required", "access_token_invalid", "131005"}
	contentCodes = []string{"100", "2207026", "2207052", "invalidvideo", "invalidtitle", "invaliddescription",
		"mediabodyrequired", "unsupported_media", "invalid_media", "spam_risk", "131053", "132000"}
)

var (
	quotaMarkers   = []string{"quota", "daily limit", "publishing limit", "limit reached for today"}
	rateMarkers    = []string{"rate limit", "ratelimit", "too many requests", "throttl", "please wait a few minutes"}
	authMarkers    = []string{"unauthorized", "invalid token", "token expired", "expired token", "session expired", "invalid oauth", "access token", "login required", "not authorized", "authentication", "checkpoint"}
	contentMarkers = []string{"invalid media", "unsupported", "too long", "aspect ratio", "duration", "resolution", "copyright", "violat", "rejected", "media type", "file format", "caption"}
	networkMarkers = []string{"timeout", "timed out", "connection refused", "connection reset", "eof", "no such host", "tls handshake", "broken pipe", "network is unreachable", "temporarily unavailable", "bad gateway", "service unavailable"}
)

// Classify maps a raw failure to exactly one error kind.
// Precedence: quota, rate limit, auth, content, network, unknown.
func Classify(f Failure) entity.ErrorKind {
	code := strings.ToLower(strings.TrimSpace(f.Code))
	msg := strings.ToLower(f.Message)

	switch {
	case matchCode(code, quotaCodes) || containsAny(msg, quotaMarkers):
		return entity.ErrorKindQuotaExceeded
	case f.StatusCode == http.StatusTooManyRequests || matchCode(code, rateCodes) || containsAny(msg, rateMarkers):
		return entity.ErrorKindRateLimit
	case f.StatusCode == http.StatusUnauthorized || f.StatusCode == http.StatusForbidden ||
		matchCode(code, authCodes) || containsAny(msg, authMarkers):
		return entity.ErrorKindAuth
	case isContentStatus(f.StatusCode) || matchCode(code, contentCodes) || containsAny(msg, contentMarkers):
		return entity.ErrorKindContent
	case f.Temporary || f.StatusCode >= http.StatusInternalServerError || f.StatusCode == http.StatusRequestTimeout ||
		containsAny(msg, networkMarkers):
		return entity.ErrorKindNetwork
	default:
		return entity.ErrorKindUnknown
	}
}

func isContentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

func matchCode(code string, codes []string) bool {
	if code == "" {
		return false
	}
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

func containsAny(s string, markers []string) bool {
	if s == "" {
		return false
	}
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
