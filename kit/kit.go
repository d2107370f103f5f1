// CLAUDE:SUMMARY Transport-agnostic endpoint plumbing: Endpoint, Middleware, Chain, request IDs and logging.
// Package kit wires pagesaver operations to transports. An operation is an
// Endpoint; HTTP handlers and MCP tools decode their input, call the
// endpoint through the same middleware chain and encode the result.
package kit

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/pagesaver/idgen"
)

// Endpoint is one operation with a decoded request.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// WithRequestIDs gives every call a request ID unless one is already set.
func WithRequestIDs() Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if GetRequestID(ctx) == "" {
				ctx = WithRequestID(ctx, idgen.New())
			}
			return next(ctx, req)
		}
	}
}

// Logging logs each call with its duration and outcome.
func Logging(logger *slog.Logger, op string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"op", op,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"duration", time.Since(start),
			}
			if err != nil {
				logger.Warn("kit: call failed", append(attrs, "error", err)...)
			} else {
				logger.Info("kit: call", attrs...)
			}
			return resp, err
		}
	}
}
