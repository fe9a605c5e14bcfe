package resources

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/eser/ajan/logfx"
)

// RetryOnRateLimit calls fn until it returns something other than a
// rate-limit error, sleeping interval between attempts. There is no attempt
// cap; only ctx ends the loop early.
func RetryOnRateLimit[T any](
	ctx context.Context,
	logger *logfx.Logger,
	clock Clock,
	interval time.Duration,
	provider string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil || !errors.Is(err, ErrRateLimited) {
			return result, err
		}

		logger.WarnContext(
			ctx,
			"[Resources] Rate limit reached, waiting before retry",
			slog.String("module", "resources"),
			slog.String("provider", provider),
			slog.Int("attempt", attempt),
			slog.Duration("interval", interval),
			slog.Any("error", err),
		)

		if err := clock.Sleep(ctx, interval); err != nil {
			var zero T

			return zero, err
		}
	}
}

// PollUntilTerminal observes a batch job every interval until it reaches a
// terminal state. No deadline applies besides ctx.
func PollUntilTerminal(
	ctx context.Context,
	logger *logfx.Logger,
	clock Clock,
	interval time.Duration,
	job *BatchJob,
	status func(ctx context.Context) (JobStatus, error),
) (JobStatus, error) {
	for {
		current, err := status(ctx)
		if err != nil {
			return JobStatus{}, err
		}

		job.State = current.State
		job.ProviderState = current.ProviderState

		if current.State.IsTerminal() {
			logger.InfoContext(
				ctx,
				"[Resources] Batch job reached terminal state",
				slog.String("module", "resources"),
				slog.String("provider", job.Provider),
				slog.String("job_id", job.ID),
				slog.String("state", string(current.State)),
				slog.String("provider_state", current.ProviderState),
			)

			return current, nil
		}

		logger.InfoContext(
			ctx,
			"[Resources] Batch job still in progress",
			slog.String("module", "resources"),
			slog.String("provider", job.Provider),
			slog.String("job_id", job.ID),
			slog.String("provider_state", current.ProviderState),
			slog.Duration("next_check_in", interval),
		)

		if err := clock.Sleep(ctx, interval); err != nil {
			return JobStatus{}, err
		}
	}
}

// FailureFromStatus converts a non-succeeded terminal status into a
// JobFailedError.
func FailureFromStatus(job *BatchJob, status JobStatus) error {
	if status.State == JobStateSucceeded {
		return nil
	}

	return &JobFailedError{
		JobID:         job.ID,
		State:         status.State,
		ProviderState: status.ProviderState,
		Reason:        status.Reason,
	}
}
