package appcontext

import (
	"github.com/eser/ajan"
	"github.com/eser/aicaller/pkg/api/adapters/dynamodb_store"
	"github.com/eser/aicaller/pkg/api/adapters/s3_store"
	"github.com/eser/aicaller/pkg/api/adapters/sqs_queue"
	"github.com/eser/aicaller/pkg/api/business/batches"
	"github.com/eser/aicaller/pkg/api/business/jobs"
	"github.com/eser/aicaller/pkg/api/business/resources"
)

type FeatureFlags struct {
	// JobWorker runs queued jobs inside cmd/serve. Turn it off to serve the
	// HTTP API only.
	JobWorker bool `conf:"JOB_WORKER" default:"true"`
}

type AppConfig struct {
	Resources resources.Config `conf:"RESOURCES"`

	DynamoDbStore dynamodb_store.Config `conf:"DYNAMODB_STORE"`
	S3Store       s3_store.Config       `conf:"S3_STORE"`
	SqsQueue      sqs_queue.Config      `conf:"SQS_QUEUE"`

	ajan.BaseConfig

	Batches batches.Config `conf:"BATCHES"`
	Jobs    jobs.Config    `conf:"JOBS"`

	Features FeatureFlags `conf:"FEATURES"`
}
