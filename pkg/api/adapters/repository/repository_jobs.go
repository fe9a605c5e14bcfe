package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eser/aicaller/pkg/api/business/jobs"
)

var (
	ErrFailedToMarshalJob      = errors.New("failed to marshal job")
	ErrFailedToEnqueueJob      = errors.New("failed to send message to job queue")
	ErrFailedToReceiveMessages = errors.New("failed to receive messages from job queue")
	ErrFailedToDeleteMessage   = errors.New("failed to delete message from job queue")
)

func (r *Repository) EnqueueJob(ctx context.Context, queueUrl string, job jobs.Job) error {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToMarshalJob, err)
	}

	if err := r.sqsQueue.SendMessage(ctx, queueUrl, job.ID, string(jobJSON)); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToEnqueueJob, err)
	}

	return nil
}

// PickJobFromQueue decodes the received messages into jobs. A message that is
// not a job cannot ever succeed, so it is dropped from the queue.
func (r *Repository) PickJobFromQueue(ctx context.Context, queueUrl string) ([]jobs.JobWithReceipt, error) {
	messages, err := r.sqsQueue.ReceiveMessages(ctx, queueUrl)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToReceiveMessages, err)
	}

	records := make([]jobs.JobWithReceipt, 0, len(messages))

	for _, message := range messages {
		var job jobs.Job

		if err := json.Unmarshal([]byte(message.Body), &job); err != nil {
			r.logger.WarnContext(
				ctx,
				"[Repository] Dropping message that is not a job",
				slog.String("module", "repository"),
				slog.String("job_id", message.JobId),
				slog.Any("error", err),
			)

			if err := r.DeleteJobFromQueue(ctx, queueUrl, message.ReceiptHandle); err != nil {
				return nil, err
			}

			continue
		}

		if message.ReceiveCount > 1 {
			r.logger.InfoContext(
				ctx,
				"[Repository] Job delivered again",
				slog.String("module", "repository"),
				slog.String("job_id", job.ID),
				slog.Int("receive_count", message.ReceiveCount),
			)
		}

		records = append(records, jobs.JobWithReceipt{Job: &job, ReceiptHandle: message.ReceiptHandle})
	}

	return records, nil
}

func (r *Repository) DeleteJobFromQueue(ctx context.Context, queueUrl string, receiptHandle string) error {
	if err := r.sqsQueue.DeleteMessage(ctx, queueUrl, receiptHandle); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToDeleteMessage, err)
	}

	return nil
}
