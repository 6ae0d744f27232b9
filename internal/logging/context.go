package logging

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Define a private type for the context key to avoid collisions.
type contextKey string

const loggerKey = contextKey("logger")

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Ctx returns the logger embedded in the context, or the global logger if
// none is found.
func Ctx(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return &logger
	}
	l := log.Logger
	return &l
}
