// Package auth provides credential hashing and bearer token primitives.
package auth

import "errors"

var (
	// ErrEmptyPassword is returned when attempting to hash an empty password.
	ErrEmptyPassword = errors.New("password cannot be empty")

	// ErrCorruptCredential is returned when a stored hash record cannot be parsed.
	ErrCorruptCredential = errors.New("corrupt credential")

	// ErrWeakSecret is returned when the signing key is too short.
	ErrWeakSecret = errors.New("signing secret is too short")

	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpiredToken     = errors.New("token expired")
)

// Token rejection reasons used for logs and metrics.
const (
	ReasonMissing   = "missing"
	ReasonScheme    = "scheme"
	ReasonMalformed = "malformed"
	ReasonSignature = "signature"
	ReasonExpired   = "expired"
	ReasonUnknown   = "unknown"
)

// RejectReason classifies a token verification error.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedToken):
		return ReasonMalformed
	case errors.Is(err, ErrInvalidSignature):
		return ReasonSignature
	case errors.Is(err, ErrExpiredToken):
		return ReasonExpired
	default:
		return ReasonUnknown
	}
}
