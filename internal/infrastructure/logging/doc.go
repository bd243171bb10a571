// Package logging provides structured logging for Hearth Core.
//
// It wraps Go's standard log/slog package so every component logs in a
// uniform shape: JSON for production, text for development, level-based
// filtering, and default service/version attributes on every record.
//
// Components derive their own loggers with With:
//
//	apiLog := log.With("component", "api")
//
// All loggers are safe for concurrent use.
package logging
