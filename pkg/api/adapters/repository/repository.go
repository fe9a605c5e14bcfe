package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eser/ajan/logfx"
	"github.com/eser/aicaller/pkg/api/adapters/dynamodb_store"
	"github.com/eser/aicaller/pkg/api/adapters/s3_store"
	"github.com/eser/aicaller/pkg/api/adapters/sqs_queue"
	"github.com/eser/aicaller/pkg/api/business/jobs"
)

const (
	JobStatusTableName = "job_statuses"
	JobStatusTablePK   = "JobId"
)

var (
	_ jobs.Queue       = (*Repository)(nil)
	_ jobs.StatusStore = (*Repository)(nil)
	_ jobs.ObjectStore = (*Repository)(nil)
)

type Repository struct {
	logger        *logfx.Logger
	dynamoDbStore *dynamodb_store.Store
	sqsQueue      *sqs_queue.Queue
	s3Store       *s3_store.Store
}

func New(logger *logfx.Logger, dynamoDbStore *dynamodb_store.Store, sqsQueue *sqs_queue.Queue, s3Store *s3_store.Store) *Repository {
	return &Repository{
		logger:        logger,
		dynamoDbStore: dynamoDbStore,
		sqsQueue:      sqsQueue,
		s3Store:       s3Store,
	}
}

func (r *Repository) Init(ctx context.Context) error {
	if err := r.dynamoDbStore.EnsureTableExists(ctx, JobStatusTableName, JobStatusTablePK); err != nil {
		r.logger.ErrorContext(
			ctx,
			"[Repository] Failed to ensure DynamoDb table exists for job statuses",
			slog.String("module", "repository"),
			slog.String("table_name", JobStatusTableName),
			slog.Any("error", err),
		)

		return fmt.Errorf("failed to ensure DynamoDb table %s exists: %w", JobStatusTableName, err)
	}

	return nil
}
