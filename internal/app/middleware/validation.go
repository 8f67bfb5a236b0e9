package middleware

import (
	"context"

	"jobchat/internal/app/commands"
)

// Validatable commands check their own fields.
type Validatable interface {
	Validate() error
}

// Validation runs Validate on commands that implement it.
func Validation() CommandMiddleware {
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if v, ok := cmd.(Validatable); ok {
				if err := v.Validate(); err != nil {
					return nil, err
				}
			}
			return nextFn(ctx, cmd)
		})
	}
}
