package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eser/ajan/logfx"
	"github.com/eser/aicaller/pkg/api/business/batches"
	"github.com/eser/aicaller/pkg/api/business/calls"
	"github.com/eser/aicaller/pkg/api/business/resources"
)

var (
	ErrDispatchJobBeforeInit = errors.New("called dispatch job before init")
	ErrJobStatusNotFound     = errors.New("job status not found")
	ErrInvalidJob            = errors.New("invalid job")
	ErrJobInProgress         = errors.New("job is still in progress")
)

type ResourceFinder interface {
	FindResource(ctx context.Context, key string) (resources.Provider, error)
}

type ServiceContext struct {
	jobQueueURL *string
}

type Service struct {
	Config  *Config
	Context *ServiceContext

	logger    *logfx.Logger
	clock     resources.Clock
	queue     Queue
	statuses  StatusStore
	objects   ObjectStore
	resources ResourceFinder
	batches   *batches.Service
}

func NewService(
	config *Config,
	logger *logfx.Logger,
	clock resources.Clock,
	queue Queue,
	statuses StatusStore,
	objects ObjectStore,
	resourceFinder ResourceFinder,
	batchService *batches.Service,
) *Service {
	if clock == nil {
		clock = resources.SystemClock{}
	}

	return &Service{
		Config:    config,
		logger:    logger,
		clock:     clock,
		queue:     queue,
		statuses:  statuses,
		objects:   objects,
		resources: resourceFinder,
		batches:   batchService,
	}
}

func (s *Service) Init(jobQueueURL string) error {
	s.Context = &ServiceContext{jobQueueURL: &jobQueueURL}

	return nil
}

// normalize fills the defaults of job and rejects what cannot run.
func (s *Service) normalize(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidJob)
	}

	if job.Input == "" {
		return fmt.Errorf("%w: input is required for job %s", ErrInvalidJob, job.ID)
	}

	if job.Mode == "" {
		job.Mode = Mode(s.Config.DefaultMode)
	}

	if !job.Mode.IsValid() {
		return fmt.Errorf("%w: unknown mode %q for job %s", ErrInvalidJob, job.Mode, job.ID)
	}

	if job.Resource == "" {
		job.Resource = s.Config.DefaultResource
	}

	if job.Output == "" {
		job.Output = strings.TrimSuffix(job.Input, ".jsonl") + s.Config.OutputSuffix
	}

	return nil
}

// DispatchJob records job as queued and sends it to the job queue.
func (s *Service) DispatchJob(ctx context.Context, job Job) (*JobStatus, error) {
	if s.Context == nil {
		return nil, ErrDispatchJobBeforeInit
	}

	if err := s.normalize(&job); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	status := &JobStatus{
		CreatedAt: now,
		UpdatedAt: now,
		JobId:     job.ID,
		Resource:  job.Resource,
		Mode:      job.Mode,
		Input:     job.Input,
		Output:    job.Output,
		State:     StateQueued,
	}

	if err := s.statuses.PutJobStatus(ctx, status); err != nil {
		return nil, fmt.Errorf("failed to record job status: %w", err)
	}

	s.logger.InfoContext(
		ctx,
		"[Jobs] Dispatching job",
		slog.String("module", "jobs"),
		slog.String("job_id", job.ID),
		slog.String("resource", job.Resource),
		slog.String("mode", string(job.Mode)),
	)

	if err := s.queue.EnqueueJob(ctx, *s.Context.jobQueueURL, job); err != nil {
		return nil, fmt.Errorf("failed to send message to job queue: %w", err)
	}

	return status, nil
}

// ProcessNextJob receives pending jobs and runs them one after another. It
// returns the number of jobs received. A job that fails still counts as
// processed; its failure is kept in its status.
func (s *Service) ProcessNextJob(ctx context.Context) (int, error) {
	if s.Context == nil {
		return 0, ErrDispatchJobBeforeInit
	}

	records, err := s.queue.PickJobFromQueue(ctx, *s.Context.jobQueueURL)
	if err != nil {
		return 0, err
	}

	for _, record := range records {
		status := s.RunJob(ctx, *record.Job)

		if ctx.Err() != nil && status.State != StateSucceeded {
			// Leave the message so the job is delivered again after shutdown.
			return len(records), ctx.Err()
		}

		if err := s.queue.DeleteJobFromQueue(context.WithoutCancel(ctx), *s.Context.jobQueueURL, record.ReceiptHandle); err != nil {
			return len(records), err
		}
	}

	return len(records), nil
}

// RunJob runs job to completion and returns its final status.
func (s *Service) RunJob(ctx context.Context, job Job) *JobStatus {
	status := &JobStatus{JobId: job.ID, CreatedAt: s.clock.Now()}

	if existing, err := s.statuses.GetJobStatus(ctx, job.ID); err == nil {
		status = existing
	}

	fail := func(err error) *JobStatus {
		status.State = StateFailed
		status.Error = err.Error()

		s.logger.ErrorContext(
			ctx,
			"[Jobs] Job failed",
			slog.String("module", "jobs"),
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)

		s.saveStatus(ctx, status)

		return status
	}

	if err := s.normalize(&job); err != nil {
		return fail(err)
	}

	status.Resource = job.Resource
	status.Mode = job.Mode
	status.Input = job.Input
	status.Output = job.Output
	status.State = StateRunning
	status.Error = ""
	s.saveStatus(ctx, status)

	provider, err := s.resources.FindResource(ctx, job.Resource)
	if err != nil {
		return fail(err)
	}

	content, err := s.objects.ReadObject(ctx, job.Input)
	if err != nil {
		return fail(err)
	}

	src := calls.NewBytesSource(job.Input, content)

	var outputs []calls.Output

	switch job.Mode {
	case ModeBatch:
		outputs, err = s.runBatch(ctx, provider, src, status)
	case ModeSync:
		outputs, err = s.runSync(ctx, provider, src, calls.NewIDSet(job.SkipIDs...))
	}

	if err != nil {
		return fail(err)
	}

	encoded, err := calls.EncodeOutputs(outputs)
	if err != nil {
		return fail(err)
	}

	if err := s.objects.WriteObject(ctx, job.Output, encoded); err != nil {
		return fail(err)
	}

	status.State = StateSucceeded
	status.Outputs = len(outputs)
	status.Failures = 0

	for _, output := range outputs {
		if output.Failed() {
			status.Failures++
		}
	}

	s.saveStatus(ctx, status)

	s.logger.InfoContext(
		ctx,
		"[Jobs] Job succeeded",
		slog.String("module", "jobs"),
		slog.String("job_id", job.ID),
		slog.Int("outputs", status.Outputs),
		slog.Int("failures", status.Failures),
	)

	return status
}

func (s *Service) runBatch(ctx context.Context, provider resources.Provider, src calls.Source, status *JobStatus) ([]calls.Output, error) {
	submission, err := s.batches.SubmitOnly(ctx, provider, src)
	if errors.Is(err, resources.ErrEmptyBatch) {
		return []calls.Output{}, nil
	}

	if err != nil {
		return nil, err
	}

	status.BatchJobId = submission.Job.ID
	s.saveStatus(ctx, status)

	return s.batches.Wait(ctx, provider, submission)
}

func (s *Service) runSync(ctx context.Context, provider resources.Provider, src calls.Source, skip calls.IDSet) ([]calls.Output, error) {
	var outputs []calls.Output

	for output, err := range s.batches.StreamOutputs(ctx, provider, src, skip) {
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, output)
	}

	return outputs, nil
}

func (s *Service) saveStatus(ctx context.Context, status *JobStatus) {
	status.UpdatedAt = s.clock.Now()

	if err := s.statuses.PutJobStatus(context.WithoutCancel(ctx), status); err != nil {
		s.logger.WarnContext(
			ctx,
			"[Jobs] Failed to record job status",
			slog.String("module", "jobs"),
			slog.String("job_id", status.JobId),
			slog.String("state", string(status.State)),
			slog.Any("error", err),
		)
	}
}

func (s *Service) GetJobStatus(ctx context.Context, jobId string) (*JobStatus, error) {
	return s.statuses.GetJobStatus(ctx, jobId)
}

func (s *Service) ListJobStatuses(ctx context.Context) ([]*JobStatus, error) {
	return s.statuses.ListJobStatuses(ctx)
}

// DeleteJobStatus forgets a job that is no longer queued or running. Outputs
// already written stay in place.
func (s *Service) DeleteJobStatus(ctx context.Context, jobId string) error {
	status, err := s.statuses.GetJobStatus(ctx, jobId)
	if err != nil {
		return err
	}

	if status.State == StateQueued || status.State == StateRunning {
		return fmt.Errorf("%w: %s is %s", ErrJobInProgress, jobId, status.State)
	}

	return s.statuses.DeleteJobStatus(ctx, jobId)
}
