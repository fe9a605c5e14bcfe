package sqs_queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/eser/ajan/logfx"
)

// AttributeJobId carries the job id next to the message body so a message
// can be traced without decoding it.
const AttributeJobId = "JobId"

type Queue struct {
	Config *Config

	logger *logfx.Logger
	client *sqs.Client
}

type Message struct {
	Body          string
	ReceiptHandle string
	JobId         string
	ReceiveCount  int
}

func New(config *Config, logger *logfx.Logger) *Queue {
	return &Queue{Config: config, logger: logger}
}

// Init connects to SQS and makes sure the job queue exists. It returns the
// url of the job queue.
func (q *Queue) Init(ctx context.Context) (*string, error) {
	var cfgOptions []func(*config.LoadOptions) error
	var sqsClientOptions []func(*sqs.Options)

	if q.Config.ConnectionEndpoint != "" {
		sqsClientOptions = append(sqsClientOptions, sqs.WithEndpointResolverV2(NewEndpointResolver(q.Config.ConnectionEndpoint)))
	}

	if q.Config.ConnectionProfile != "" {
		cfgOptions = append(cfgOptions, config.WithSharedConfigProfile(q.Config.ConnectionProfile))
	}

	if q.Config.ConnectionRegion != "" {
		cfgOptions = append(cfgOptions, config.WithRegion(q.Config.ConnectionRegion))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOptions...)
	if err != nil {
		q.logger.ErrorContext(ctx, "[SqsQueue] Unable to load SDK config", slog.String("module", "sqs_queue"), slog.Any("error", err))

		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	q.client = sqs.NewFromConfig(cfg, sqsClientOptions...)

	jobQueueURL, err := q.CreateQueueIfNotExists(ctx, q.Config.JobQueueName)
	if err != nil {
		q.logger.ErrorContext(
			ctx,
			"[SqsQueue] Failed to ensure job queue exists during init",
			slog.String("module", "sqs_queue"),
			slog.String("queue_name", q.Config.JobQueueName),
			slog.Any("error", err),
		)

		return nil, fmt.Errorf("failed to ensure SQS queue %s exists: %w", q.Config.JobQueueName, err)
	}

	q.logger.InfoContext(
		ctx,
		"[SqsQueue] SQS Queue initialized",
		slog.String("module", "sqs_queue"),
		slog.String("region", q.Config.ConnectionRegion),
		slog.String("endpoint", q.Config.ConnectionEndpoint),
		slog.String("job_queue_url", *jobQueueURL),
	)

	return jobQueueURL, nil
}

// GetQueueURL returns nil without an error when the queue does not exist.
func (q *Queue) GetQueueURL(ctx context.Context, queueName string) (*string, error) {
	out, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		var notFound *types.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return nil, nil
		}

		return nil, err
	}

	return out.QueueUrl, nil
}

func (q *Queue) CreateQueueIfNotExists(ctx context.Context, queueName string) (*string, error) {
	queueURL, err := q.GetQueueURL(ctx, queueName)
	if err != nil {
		return nil, err
	}

	if queueURL != nil {
		return queueURL, nil
	}

	q.logger.InfoContext(ctx, "[SqsQueue] Queue not found, creating", slog.String("module", "sqs_queue"), slog.String("queue_name", queueName))

	out, err := q.client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(queueName),
		Attributes: map[string]string{
			string(types.QueueAttributeNameVisibilityTimeout): strconv.Itoa(int(q.Config.VisibilityTimeout)),
		},
	})
	if err != nil {
		return nil, err
	}

	return out.QueueUrl, nil
}

func (q *Queue) SendMessage(ctx context.Context, queueURL string, jobId string, body string) error {
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			AttributeJobId: {DataType: aws.String("String"), StringValue: aws.String(jobId)},
		},
	})
	if err != nil {
		return err
	}

	q.logger.InfoContext(
		ctx,
		"[SqsQueue] Message sent",
		slog.String("module", "sqs_queue"),
		slog.String("job_id", jobId),
		slog.String("message_id", aws.ToString(out.MessageId)),
	)

	return nil
}

// ReceiveMessages long-polls queueURL. A receive interrupted by ctx returns no
// messages and no error.
func (q *Queue) ReceiveMessages(ctx context.Context, queueURL string) ([]Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(queueURL),
		MaxNumberOfMessages:         q.Config.MaxNumberOfMessages,
		WaitTimeSeconds:             q.Config.WaitTimeSeconds,
		VisibilityTimeout:           q.Config.VisibilityTimeout,
		MessageAttributeNames:       []string{AttributeJobId},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, nil
		}

		q.logger.ErrorContext(ctx, "[SqsQueue] ReceiveMessages failed", slog.String("module", "sqs_queue"), slog.Any("error", err))

		return nil, err
	}

	messages := make([]Message, 0, len(out.Messages))

	for _, message := range out.Messages {
		received := Message{
			Body:          aws.ToString(message.Body),
			ReceiptHandle: aws.ToString(message.ReceiptHandle),
		}

		if attr, ok := message.MessageAttributes[AttributeJobId]; ok {
			received.JobId = aws.ToString(attr.StringValue)
		}

		if count, err := strconv.Atoi(message.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
			received.ReceiveCount = count
		}

		messages = append(messages, received)
	}

	q.logger.DebugContext(ctx, "[SqsQueue] Messages received", slog.String("module", "sqs_queue"), slog.Int("count", len(messages)))

	return messages, nil
}

func (q *Queue) DeleteMessage(ctx context.Context, queueURL string, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		q.logger.ErrorContext(ctx, "[SqsQueue] DeleteMessage failed", slog.String("module", "sqs_queue"), slog.Any("error", err))

		return err
	}

	q.logger.DebugContext(ctx, "[SqsQueue] Message deleted", slog.String("module", "sqs_queue"))

	return nil
}
