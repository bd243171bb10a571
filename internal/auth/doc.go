// Package auth handles API authentication: signed JWT access tokens
// for interactive sessions and long-lived opaque API tokens for
// machine clients. API tokens are stored hashed; the raw value is
// shown once at creation.
package auth
