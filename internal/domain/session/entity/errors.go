package entity

import "errors"

// Validation errors
var (
	ErrEmptyAccount        = errors.New("account is required")
	ErrEmptyCredentials    = errors.New("credentials are required")
	ErrEmptyCode           = errors.New("verification code is required")
	ErrInvalidMethod       = errors.New("verification method is not valid for this challenge")
	ErrUnsupportedPlatform = errors.New("platform does not support this login flow")
)

// Business logic errors
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionNotAuthorized = errors.New("session is not authorized")
	ErrChallengeNotFound    = errors.New("no outstanding challenge")
	ErrChallengeExpired     = errors.New("challenge expired")
	ErrResendTooSoon        = errors.New("verification code was sent too recently")
	ErrOperationInProgress  = errors.New("another login operation is in progress for this account")
	ErrSessionRevoked       = errors.New("session was revoked while the login was in flight")
	ErrPlatformUnavailable  = errors.New("platform is unavailable")
	ErrInvalidOAuthState    = errors.New("invalid or expired oauth state")
	ErrOAuthNotConfigured   = errors.New("oauth is not configured")
	ErrOAuthRejected        = errors.New("oauth authorization was rejected")
)
