// Package shield provides the HTTP middleware stack for `pagesaver serve`:
// security headers, body limits, request IDs, per-IP rate limiting and HEAD
// handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(shield.StackConfig{RateLimit: 30}) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// StackConfig tunes DefaultStack.
type StackConfig struct {
	// MaxBody caps JSON request bodies. Default 64 KiB.
	MaxBody int64
	// RateLimit is the number of POST /api/ requests allowed per client IP
	// per minute. Zero disables rate limiting.
	RateLimit int
	Logger    *slog.Logger
}

// DefaultStack returns the standard middleware stack, ordered:
// HeadToGet → SecurityHeaders → MaxBody → RequestID → RateLimiter.
func DefaultStack(cfg StackConfig) []func(http.Handler) http.Handler {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 64 * 1024
	}
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIPolicy),
		MaxBody(cfg.MaxBody),
		RequestID(cfg.Logger),
	}
	if cfg.RateLimit > 0 {
		rl := NewRateLimiter(RateLimitConfig{MaxRequests: cfg.RateLimit, Window: time.Minute}, "/health")
		stack = append(stack, rl.Middleware)
	}
	return stack
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
