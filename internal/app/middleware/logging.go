package middleware

import (
	"context"
	"log/slog"
	"time"

	"jobchat/internal/app/commands"
)

// Logging logs each command with its duration and outcome.
func Logging(logger *slog.Logger) CommandMiddleware {
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			start := time.Now()
			res, err := nextFn(ctx, cmd)
			if logger == nil {
				return res, err
			}
			attrs := []any{"command", cmd.Key(), "duration", time.Since(start)}
			if err != nil {
				logger.Warn("command failed", append(attrs, "error", err)...)
			} else {
				logger.Info("command handled", attrs...)
			}
			return res, err
		})
	}
}
