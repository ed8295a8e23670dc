package middleware

import (
	"context"
	"errors"
	"strings"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/queries"
)

var ErrUnauthenticated = errors.New("authentication required")

type Authorizer interface {
	Authorize(ctx context.Context, message any) error
}

// ActorBound is implemented by messages issued on behalf of an authenticated user.
type ActorBound interface {
	Actor() string
}

// RequireActor rejects actor-bound messages that carry no identity.
type RequireActor struct{}

func (RequireActor) Authorize(_ context.Context, message any) error {
	bound, ok := message.(ActorBound)
	if !ok {
		return nil
	}
	if strings.TrimSpace(bound.Actor()) == "" {
		return ErrUnauthenticated
	}
	return nil
}

func Authorization(a Authorizer) CommandMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := a.Authorize(ctx, cmd); err != nil {
				return nil, err
			}
			return nextFn(ctx, cmd)
		})
	}
}

func QueryAuthorization(a Authorizer) QueryMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next queries.Bus) queries.Bus {
		nextFn := wrapQuery(next)
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := a.Authorize(ctx, q); err != nil {
				return nil, err
			}
			return nextFn(ctx, q)
		})
	}
}
