package middleware

import (
	"context"
	"log/slog"
	"time"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/queries"
)

// Observer receives the outcome of every bus call.
type Observer interface {
	ObserveCall(kind, key string, took time.Duration, err error)
}

// Instrument reports command timings to obs and logs failures at debug level.
func Instrument(obs Observer, logger *slog.Logger) CommandMiddleware {
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			start := time.Now()
			res, err := nextFn(ctx, cmd)
			report(obs, logger, "command", cmd.Key(), time.Since(start), err)
			return res, err
		})
	}
}

func InstrumentQueries(obs Observer, logger *slog.Logger) QueryMiddleware {
	return func(next queries.Bus) queries.Bus {
		nextFn := wrapQuery(next)
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			start := time.Now()
			res, err := nextFn(ctx, q)
			report(obs, logger, "query", q.Key(), time.Since(start), err)
			return res, err
		})
	}
}

func report(obs Observer, logger *slog.Logger, kind, key string, took time.Duration, err error) {
	if obs != nil {
		obs.ObserveCall(kind, key, took, err)
	}
	if err != nil && logger != nil {
		logger.Debug("bus call failed", "kind", kind, "key", key, "duration", took, "error", err)
	}
}
