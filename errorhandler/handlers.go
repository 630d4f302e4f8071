package errorhandler

import (
	"context"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/go-streams-runtime/logger"
)

// LogAndContinue logs the error and skips the record
func LogAndContinue(l logger.Logger) Handler {
	return HandlerFunc(
		func(_ context.Context, ec ErrorContext) Action {
			l.Error("Failed to process record, skipping", ec.fields()...)
			return ActionContinue{}
		},
	)
}

// LogAndFail logs the error and stops the task
func LogAndFail(l logger.Logger) Handler {
	return HandlerFunc(
		func(_ context.Context, ec ErrorContext) Action {
			l.Error("Failed to process record, stopping", ec.fields()...)
			return ActionFail{}
		},
	)
}

// SilentFail stops the task without logging, the caller reports the error
func SilentFail() Handler {
	return HandlerFunc(
		func(context.Context, ErrorContext) Action {
			return ActionFail{}
		},
	)
}

// WithMaxAttempts retries with backoff until maxAttempts, then asks fallback
func WithMaxAttempts(maxAttempts int, b backoff.Backoff, fallback Handler) Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			if ec.Attempt >= maxAttempts {
				return fallback.Handle(ctx, ec)
			}

			timer := time.NewTimer(b.Next(uint(ec.Attempt)))
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return ActionFail{}
			case <-timer.C:
			}

			return ActionRetry{}
		},
	)
}

// WithDLQ turns every Continue decided by inner into a dead letter to topic.
// A nil inner always sends to the dead letter topic.
func WithDLQ(topic string, inner Handler) Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			var action Action = ActionContinue{}
			if inner != nil {
				action = inner.Handle(ctx, ec)
			}

			if action.Type() == ActionTypeContinue {
				return SendToDLQ(topic)
			}

			return action
		},
	)
}

// ActionLogger logs the action decided by next at level
func ActionLogger(l logger.Logger, level logger.LogLevel, next Handler) Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			action := next.Handle(ctx, ec)
			l.Log(level, "Error handler decision", append([]any{"action", action.Type().String()}, ec.fields()...)...)
			return action
		},
	)
}
