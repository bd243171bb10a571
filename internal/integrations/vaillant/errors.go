package vaillant

import "errors"

var (
	// ErrAuthFailed means the API rejected the credentials.
	ErrAuthFailed = errors.New("vaillant: authentication failed")

	// ErrServerError means the API kept failing with 5xx responses
	// after retries.
	ErrServerError = errors.New("vaillant: server error")

	// ErrHolidayActive means a schedule write was rejected because
	// holiday mode is in force.
	ErrHolidayActive = errors.New("vaillant: holiday mode active")
)
