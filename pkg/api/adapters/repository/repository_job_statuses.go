package repository

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/eser/aicaller/pkg/api/business/jobs"
)

func (r *Repository) GetJobStatus(ctx context.Context, jobId string) (*jobs.JobStatus, error) {
	var status jobs.JobStatus

	found, err := r.dynamoDbStore.GetItem(ctx, JobStatusTableName, JobStatusTablePK, jobId, &status)
	if err != nil {
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobStatusNotFound, jobId)
	}

	return &status, nil
}

func (r *Repository) PutJobStatus(ctx context.Context, status *jobs.JobStatus) error {
	if err := r.dynamoDbStore.UpsertItem(ctx, JobStatusTableName, status); err != nil {
		return fmt.Errorf("failed to put job status: %w", err)
	}

	r.logger.DebugContext(
		ctx,
		"[Repository] Job status stored",
		slog.String("module", "repository"),
		slog.String("job_id", status.JobId),
		slog.String("state", string(status.State)),
	)

	return nil
}

// ListJobStatuses returns every stored status, newest first.
func (r *Repository) ListJobStatuses(ctx context.Context) ([]*jobs.JobStatus, error) {
	var items []*jobs.JobStatus

	if err := r.dynamoDbStore.ListItems(ctx, JobStatusTableName, &items); err != nil {
		return nil, fmt.Errorf("failed to list job statuses: %w", err)
	}

	slices.SortFunc(items, func(a, b *jobs.JobStatus) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.JobId, b.JobId))
	})

	return items, nil
}

func (r *Repository) DeleteJobStatus(ctx context.Context, jobId string) error {
	if err := r.dynamoDbStore.DeleteItem(ctx, JobStatusTableName, JobStatusTablePK, jobId); err != nil {
		return fmt.Errorf("failed to delete job status: %w", err)
	}

	return nil
}
