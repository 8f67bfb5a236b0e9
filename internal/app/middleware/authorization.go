package middleware

import (
	"context"

	"jobchat/internal/app/commands"
)

type Authorizer interface {
	Authorize(ctx context.Context, cmd commands.Command) error
}

// Authorization rejects commands the authorizer refuses before they reach a handler.
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
