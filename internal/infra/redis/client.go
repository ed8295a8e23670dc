package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Connect opens a client and retries PING until the server answers or ctx ends.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*goredis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis: address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second
	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			if logger != nil {
				logger.Warn("redis ping failed", "addr", opts.Addr, "attempt", attempt, "error", err)
			}
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, backoff.WithContext(policy, ctx)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", opts.Addr, err)
	}
	if logger != nil {
		logger.Info("redis connected", "addr", opts.Addr, "db", opts.DB)
	}
	return client, nil
}

// Ping is a readiness check.
func Ping(client goredis.UniversalClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func key(prefix string, parts ...string) string {
	out := prefix
	if out == "" {
		out = "chat"
	}
	for _, p := range parts {
		out += ":" + p
	}
	return out
}
