package olarm

import "errors"

var (
	// ErrAPIKeyInvalid means the API rejected the key (HTTP 401).
	ErrAPIKeyInvalid = errors.New("olarm: api key invalid")

	// ErrForbidden means the key lacks access to the resource (HTTP 403).
	ErrForbidden = errors.New("olarm: access forbidden")

	// ErrServerError means the API kept failing with 5xx responses
	// after retries.
	ErrServerError = errors.New("olarm: server error")
)
