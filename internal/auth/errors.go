package auth

import "errors"

var (
	// ErrTokenInvalid means the token failed signature or shape checks.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrTokenRevoked means the API token has been revoked.
	ErrTokenRevoked = errors.New("auth: token revoked")

	// ErrTokenNotFound means no API token with that id exists.
	ErrTokenNotFound = errors.New("auth: token not found")
)
