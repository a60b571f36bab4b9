// Package shield is the HTTP middleware stack in front of the viewer:
// security headers, body limits, request tracing and HEAD handling.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(logger, 64<<20) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns HeadToGet, SecurityHeaders, MaxBody and TraceID in
// that order. maxBody bounds request bodies; capture uploads carry whole
// images, so it is sized in megabytes.
func DefaultStack(logger *slog.Logger, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		TraceID(logger),
	}
}
