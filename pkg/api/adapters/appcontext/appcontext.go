package appcontext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/eser/ajan/configfx"
	"github.com/eser/ajan/logfx"
	"github.com/eser/ajan/metricsfx"
	"github.com/eser/aicaller/pkg/api/adapters/dynamodb_store"
	"github.com/eser/aicaller/pkg/api/adapters/providers"
	"github.com/eser/aicaller/pkg/api/adapters/repository"
	"github.com/eser/aicaller/pkg/api/adapters/s3_store"
	"github.com/eser/aicaller/pkg/api/adapters/sqs_queue"
	"github.com/eser/aicaller/pkg/api/business/batches"
	"github.com/eser/aicaller/pkg/api/business/jobs"
	"github.com/eser/aicaller/pkg/api/business/resources"
)

var ErrInitFailed = errors.New("failed to initialize app context")

type AppContext struct {
	Config  *AppConfig
	Logger  *logfx.Logger
	Metrics *metricsfx.MetricsProvider

	SqsQueue      *sqs_queue.Queue
	DynamoDbStore *dynamodb_store.Store
	S3Store       *s3_store.Store
	Repository    *repository.Repository

	Resources *resources.Service
	Batches   *batches.Service
	Jobs      *jobs.Service
}

// NewAppContext loads the configuration and wires every service. Nothing
// touches the network until Init or InitResources.
func NewAppContext() (*AppContext, error) {
	appContext := &AppContext{} //nolint:exhaustruct

	// config
	cl := configfx.NewConfigManager()

	appContext.Config = &AppConfig{} //nolint:exhaustruct

	err := cl.LoadDefaults(appContext.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	// logger
	appContext.Logger, err = logfx.NewLoggerAsDefault(os.Stdout, &appContext.Config.Log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	// metrics
	appContext.Metrics = metricsfx.NewMetricsProvider()

	err = appContext.Metrics.RegisterNativeCollectors()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	// aws
	appContext.SqsQueue = sqs_queue.New(&appContext.Config.SqsQueue, appContext.Logger)
	appContext.DynamoDbStore = dynamodb_store.New(&appContext.Config.DynamoDbStore, appContext.Logger)
	appContext.S3Store = s3_store.New(&appContext.Config.S3Store, appContext.Logger)
	appContext.Repository = repository.New(appContext.Logger, appContext.DynamoDbStore, appContext.SqsQueue, appContext.S3Store)

	// services
	appContext.Resources = resources.NewService(&appContext.Config.Resources, appContext.Logger)
	providers.Register(appContext.Resources, appContext.Logger)

	appContext.Batches = batches.NewService(&appContext.Config.Batches, appContext.Logger, nil)
	appContext.Jobs = jobs.NewService(
		&appContext.Config.Jobs,
		appContext.Logger,
		nil,
		appContext.Repository,
		appContext.Repository,
		appContext.Repository,
		appContext.Resources,
		appContext.Batches,
	)

	return appContext, nil
}

// InitResources builds the configured provider resources. It is all the
// local commands need.
func (a *AppContext) InitResources(ctx context.Context) error {
	err := a.Resources.Init()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	a.Logger.DebugContext(
		ctx,
		"[AppContext] Resources ready",
		slog.String("module", "appcontext"),
		slog.Any("resources", a.Resources.ListResources()),
	)

	return nil
}

// Init prepares everything the job service depends on: resources, the AWS
// clients, the status table and the job queue.
func (a *AppContext) Init(ctx context.Context) error {
	a.Logger.InfoContext(
		ctx,
		"[AppContext] Starting application layer",
		slog.String("module", "appcontext"),
		slog.String("name", a.Config.AppName),
		slog.String("environment", a.Config.AppEnv),
		slog.Any("features", a.Config.Features),
	)

	err := a.InitResources(ctx)
	if err != nil {
		return err
	}

	err = a.DynamoDbStore.Init(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	err = a.S3Store.Init(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	err = a.Repository.Init(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	jobQueueURL, err := a.SqsQueue.Init(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	err = a.Jobs.Init(*jobQueueURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	return nil
}

// Tick runs the jobs waiting in the queue. When the queue is empty it waits
// for the idle backoff so an unreachable queue is not hammered.
func (a *AppContext) Tick(ctx context.Context) error {
	count, err := a.Jobs.ProcessNextJob(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil //nolint:nilerr
		}

		a.Logger.WarnContext(
			ctx,
			"[AppContext] Failed to process jobs",
			slog.String("module", "appcontext"),
			slog.Any("error", err),
		)
	}

	if count > 0 && err == nil {
		return nil
	}

	// Cancellation surfaces through ctx in the caller's loop.
	_ = resources.SystemClock{}.Sleep(ctx, a.Config.Jobs.IdleBackoff)

	return nil
}
