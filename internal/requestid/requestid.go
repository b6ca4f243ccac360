// Package requestid propagates request IDs through contexts, HTTP headers and
// log lines.
package requestid

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header carries the request ID on requests and responses.
const Header = "X-Request-ID"

// maxLen bounds client-supplied IDs.
const maxLen = 128

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or "" when none is set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Logger returns logger tagged with the request ID in ctx, if any.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id := FromContext(ctx); id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}

// Middleware reuses a well-formed incoming X-Request-ID or generates one, echoes
// it on the response and stores it in the request's user context.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(Header)
		if id == "" || len(id) > maxLen {
			id = uuid.New().String()
		}
		c.Set(Header, id)
		c.Locals("request_id", id)
		c.SetUserContext(WithRequestID(c.UserContext(), id))
		return c.Next()
	}
}
