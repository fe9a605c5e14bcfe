package batches

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/eser/ajan/logfx"
	"github.com/eser/aicaller/pkg/api/business/calls"
	"github.com/eser/aicaller/pkg/api/business/resources"
)

var (
	ErrStreamConsumed   = errors.New("output stream has already been consumed")
	ErrQuotaRetryLimit  = errors.New("quota retry limit reached")
	ErrAdminUnsupported = errors.New("provider cannot list or cancel batch jobs")
)

type Clock = resources.Clock

type Service struct {
	config *Config
	logger *logfx.Logger
	clock  Clock
}

func NewService(config *Config, logger *logfx.Logger, clock Clock) *Service {
	if clock == nil {
		clock = resources.SystemClock{}
	}

	return &Service{config: config, logger: logger, clock: clock}
}

// Submission is an accepted batch together with the index of the requests it
// carries.
type Submission struct {
	Index   *calls.Index
	Job     *resources.BatchJob
	Attempt int
}

// RunBatchAndWait submits src as one batch, waits for the job to finish and
// returns one output per submitted request in source order.
//
// A submission rejected for an exhausted quota restarts the cycle from the
// source after one pool interval. Any other failure, including a job ending
// in a state other than succeeded, is returned as is.
func (s *Service) RunBatchAndWait(ctx context.Context, provider resources.Provider, src calls.Source) ([]calls.Output, error) {
	submission, err := s.submit(ctx, provider, src)
	if err != nil {
		return nil, err
	}

	if submission.Job == nil {
		return []calls.Output{}, nil
	}

	return s.Wait(ctx, provider, submission)
}

// Wait polls the job of submission until it ends and decodes its results
// against the submitted index.
func (s *Service) Wait(ctx context.Context, provider resources.Provider, submission *Submission) ([]calls.Output, error) {
	artifact, err := provider.PollUntilTerminal(ctx, submission.Job)
	if err != nil {
		return nil, err
	}

	outputs, err := provider.DecodeBatchResult(ctx, artifact, submission.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to decode results of batch job %s: %w", submission.Job.ID, err)
	}

	s.logger.InfoContext(
		ctx,
		"[Batches] Batch completed",
		slog.String("module", "batches"),
		slog.String("provider", provider.Name()),
		slog.String("job_id", submission.Job.ID),
		slog.Int("outputs", len(outputs)),
	)

	return outputs, nil
}

// SubmitOnly submits src and returns without waiting for the job. The quota
// retry of RunBatchAndWait applies.
func (s *Service) SubmitOnly(ctx context.Context, provider resources.Provider, src calls.Source) (*Submission, error) {
	submission, err := s.submit(ctx, provider, src)
	if err != nil {
		return nil, err
	}

	if submission.Job == nil {
		return nil, fmt.Errorf("%w: %s", resources.ErrEmptyBatch, src.Name())
	}

	return submission, nil
}

// submit returns a submission without a job when src holds no requests. An
// empty src still goes through EncodeBatch so a provider without batch
// support reports it; only ErrEmptyBatch means there is nothing to submit.
func (s *Service) submit(ctx context.Context, provider resources.Provider, src calls.Source) (*Submission, error) {
	for attempt := 1; ; attempt++ {
		index, err := calls.BuildIndex(src)
		if err != nil {
			return nil, err
		}

		if index.Len() == 0 {
			if _, err := provider.EncodeBatch(ctx, src); err != nil && !errors.Is(err, resources.ErrEmptyBatch) {
				return nil, err
			}

			s.logger.InfoContext(ctx, "[Batches] Nothing to submit", slog.String("module", "batches"), slog.String("source", src.Name()))

			return &Submission{Index: index, Attempt: attempt}, nil
		}

		job, err := s.encodeAndSubmit(ctx, provider, src)
		if err == nil {
			s.logger.InfoContext(
				ctx,
				"[Batches] Batch submitted",
				slog.String("module", "batches"),
				slog.String("provider", provider.Name()),
				slog.String("job_id", job.ID),
				slog.Int("requests", index.Len()),
				slog.Int("attempt", attempt),
			)

			return &Submission{Index: index, Job: job, Attempt: attempt}, nil
		}

		if !errors.Is(err, resources.ErrQuotaExhausted) {
			return nil, err
		}

		if maxAttempts := s.config.QuotaRetry.MaxAttempts; maxAttempts > 0 && attempt >= maxAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrQuotaRetryLimit, attempt, err)
		}

		interval := provider.Intervals().Pool

		s.logger.WarnContext(
			ctx,
			"[Batches] Provider quota exhausted, waiting before resubmitting",
			slog.String("module", "batches"),
			slog.String("provider", provider.Name()),
			slog.Int("attempt", attempt),
			slog.Duration("interval", interval),
			slog.Any("error", err),
		)

		if err := s.clock.Sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

func (s *Service) encodeAndSubmit(ctx context.Context, provider resources.Provider, src calls.Source) (*resources.BatchJob, error) {
	artifact, err := provider.EncodeBatch(ctx, src)
	if err != nil {
		return nil, err
	}

	return provider.SubmitBatch(ctx, artifact)
}

// StreamOutputs processes src one request at a time and yields the outputs in
// source order. Requests whose id is in skip are left out. Consecutive
// processed requests are separated by the provider's process requests
// interval.
//
// Provider failures are carried by the outputs. The sequence stops early only
// when src cannot be read or ctx ends, yielding that error last. The returned
// sequence can be ranged over once.
func (s *Service) StreamOutputs(ctx context.Context, provider resources.Provider, src calls.Source, skip calls.IDSet) iter.Seq2[calls.Output, error] {
	var consumed atomic.Bool

	return func(yield func(calls.Output, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(calls.Output{}, ErrStreamConsumed)

			return
		}

		interval := provider.Intervals().ProcessRequests
		processed := 0

		for req, err := range src.Requests() {
			if err != nil {
				yield(calls.Output{}, err)

				return
			}

			if skip.Has(req.CustomID) {
				continue
			}

			if processed > 0 && interval > 0 {
				if err := s.clock.Sleep(ctx, interval); err != nil {
					yield(calls.Output{}, err)

					return
				}
			}

			if err := ctx.Err(); err != nil {
				yield(calls.Output{}, err)

				return
			}

			processed++

			if !yield(provider.ProcessSingleRequest(ctx, req), nil) {
				return
			}
		}

		s.logger.DebugContext(
			ctx,
			"[Batches] Stream finished",
			slog.String("module", "batches"),
			slog.String("provider", provider.Name()),
			slog.Int("processed", processed),
			slog.Int("skipped", len(skip)),
		)
	}
}

// ProcessLine runs the request stored at the zero-based line of src.
func (s *Service) ProcessLine(ctx context.Context, provider resources.Provider, src calls.Source, line int) (calls.Output, error) {
	req, err := calls.ReadLine(src, line)
	if err != nil {
		return calls.Output{}, err
	}

	return provider.ProcessSingleRequest(ctx, req), nil
}

func admin(provider resources.Provider) (resources.BatchAdmin, error) {
	batchAdmin, ok := provider.(resources.BatchAdmin)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdminUnsupported, provider.Kind())
	}

	return batchAdmin, nil
}

func (s *Service) CancelBatch(ctx context.Context, provider resources.Provider, jobID string) (*resources.BatchJob, error) {
	batchAdmin, err := admin(provider)
	if err != nil {
		return nil, err
	}

	job, err := batchAdmin.CancelBatch(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(
		ctx,
		"[Batches] Batch cancel requested",
		slog.String("module", "batches"),
		slog.String("provider", provider.Name()),
		slog.String("job_id", job.ID),
		slog.String("state", string(job.State)),
	)

	return job, nil
}

func (s *Service) ListBatches(ctx context.Context, provider resources.Provider, limit int) ([]resources.BatchJob, error) {
	batchAdmin, err := admin(provider)
	if err != nil {
		return nil, err
	}

	return batchAdmin.ListBatches(ctx, limit)
}
