package edgequeue

import (
	"context"
	"log/slog"
)

// ErrorHandlerResult controls job behavior after an error or panic.
type ErrorHandlerResult struct {
	// ForceTerminal permanently fails the job, preventing further retries,
	// even if Attempts has not reached MaxAttempts.
	ForceTerminal bool
}

// ErrorHandler processes job errors and panics for telemetry/alerting.
// HandleError covers normal errors and can influence retry behavior;
// HandlePanic is a logging-only hook since panics are always sent to dead
// letter regardless of its result.
type ErrorHandler interface {
	HandleError(ctx context.Context, job Job, err error) *ErrorHandlerResult
	HandlePanic(ctx context.Context, job Job, panicVal any, stackTrace string) *ErrorHandlerResult
}

// DefaultErrorHandler logs errors and panics with structured logging and
// applies no overrides to the normal retry policy.
type DefaultErrorHandler struct {
	Logger *slog.Logger
}

func (h *DefaultErrorHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *DefaultErrorHandler) HandleError(ctx context.Context, job Job, err error) *ErrorHandlerResult {
	h.logger().ErrorContext(ctx, "job failed",
		slog.String("job_id", job.ID),
		slog.String("job_name", job.Name),
		slog.Int("attempts", job.Attempts),
		slog.String("error", err.Error()),
		slog.Bool("retryable", IsRetryable(err)),
	)
	return nil
}

func (h *DefaultErrorHandler) HandlePanic(ctx context.Context, job Job, panicVal any, stackTrace string) *ErrorHandlerResult {
	h.logger().ErrorContext(ctx, "job panicked",
		slog.String("job_id", job.ID),
		slog.String("job_name", job.Name),
		slog.Any("panic_value", panicVal),
		slog.String("stack_trace", stackTrace),
	)
	return nil
}
