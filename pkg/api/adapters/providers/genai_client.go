package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/eser/ajan/logfx"
	"github.com/eser/aicaller/pkg/api/adapters/genai_batch"
	"github.com/eser/aicaller/pkg/api/business/calls"
	"github.com/eser/aicaller/pkg/api/business/resources"
)

const genAiBatchMimeType = "jsonl"

var (
	_ Provider             = (*GenAiProvider)(nil)
	_ resources.BatchAdmin = (*GenAiProvider)(nil)
)

type GenAiProvider struct {
	client *genai_batch.Client
	base
}

func NewGenAiProvider(name string, config *resources.ConfigResource, logger *logfx.Logger, opts ...Option) (*GenAiProvider, error) {
	if config.BaseUrl != "" {
		return nil, fmt.Errorf("%w: resource '%s': custom base url is not supported by google genai", resources.ErrInvalidConfig, name)
	}

	b := newBase(resources.ProviderGoogleGenAi, name, config, logger, opts...)

	return &GenAiProvider{
		base: b,
		client: genai_batch.NewClient(
			genai_batch.Config{APIKey: config.ApiKey, BaseURL: b.endpoint, Timeout: config.Timeout()},
			b.httpClient,
		),
	}, nil
}

func (p *GenAiProvider) Client() *genai_batch.Client {
	return p.client
}

func (p *GenAiProvider) classifyAPIError(err error, submission bool) error {
	if err == nil || isContextError(err) {
		return err
	}

	var apiErr *genai_batch.APIError
	if !errors.As(err, &apiErr) {
		return p.classify(err, resources.ErrorKindOther, 0, "", err.Error())
	}

	kind := resources.ErrorKindOther

	switch {
	case submission && strings.Contains(apiErr.Message, genai_batch.MessageEnqueuedLimit):
		kind = resources.ErrorKindQuota
	case !submission && (apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == http.StatusServiceUnavailable):
		kind = resources.ErrorKindRateLimit
	}

	return p.classify(err, kind, apiErr.StatusCode, apiErr.Status, apiErr.Message)
}

func (p *GenAiProvider) ProcessSingleRequest(ctx context.Context, req calls.Request) calls.Output {
	contentReq, err := genAiRequest(req.Body)
	if err != nil {
		return p.failure(ctx, req, err)
	}

	raw, err := resources.RetryOnRateLimit(
		ctx, p.logger, p.clock, p.Intervals().Pool, p.name,
		func(ctx context.Context) (json.RawMessage, error) {
			raw, err := p.client.GenerateContent(ctx, req.Body.Model, contentReq)

			return raw, p.classifyAPIError(err, false)
		},
	)
	if err != nil {
		return p.failure(ctx, req, err)
	}

	body, err := withGenAiText(raw)
	if err != nil {
		return p.failure(ctx, req, err)
	}

	return calls.NewSuccess(req.CustomID, body, req.Body.Structured)
}

// EncodeBatch writes one {"key","request"} line per request. All requests
// must share one model; a mismatch fails before anything is sent.
func (p *GenAiProvider) EncodeBatch(_ context.Context, src calls.Source) (*resources.BatchArtifact, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	model := ""
	count := 0

	for req, err := range src.Requests() {
		if err != nil {
			return nil, err
		}

		if count == 0 {
			model = req.Body.Model
		} else if req.Body.Model != model {
			return nil, fmt.Errorf(
				"%w: request %q uses %s, expected %s",
				resources.ErrMixedModelBatch, req.CustomID, req.Body.Model, model,
			)
		}

		contentReq, err := genAiRequest(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request %q: %w", req.CustomID, err)
		}

		if err := enc.Encode(genai_batch.BatchRequestLine{Key: req.CustomID, Request: contentReq}); err != nil {
			return nil, fmt.Errorf("failed to encode request %q: %w", req.CustomID, err)
		}

		count++
	}

	if count == 0 {
		return nil, fmt.Errorf("%w: %s", resources.ErrEmptyBatch, src.Name())
	}

	return &resources.BatchArtifact{
		Name:    batchFileName(src.Name()),
		Model:   model,
		Content: buf.Bytes(),
		Count:   count,
	}, nil
}

func (p *GenAiProvider) SubmitBatch(ctx context.Context, artifact *resources.BatchArtifact) (*resources.BatchJob, error) {
	file, err := p.client.UploadFile(ctx, artifact.Name, genAiBatchMimeType, artifact.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to upload batch file: %w", p.classifyAPIError(err, true))
	}

	operation, err := p.client.CreateBatch(ctx, artifact.Model, &genai_batch.Batch{
		DisplayName: artifact.Name,
		InputConfig: &genai_batch.InputConfig{FileName: file.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", p.classifyAPIError(err, true))
	}

	p.logger.InfoContext(
		ctx,
		"[Providers] Batch submitted",
		slog.String("module", "providers"),
		slog.String("provider", p.name),
		slog.String("batch_id", operation.BatchName()),
		slog.String("input_file", file.Name),
		slog.String("model", artifact.Model),
		slog.Int("requests", artifact.Count),
	)

	return p.toBatchJob(operation), nil
}

func (p *GenAiProvider) toBatchJob(operation *genai_batch.Operation) *resources.BatchJob {
	job := &resources.BatchJob{
		ID:            operation.BatchName(),
		Provider:      p.name,
		State:         genAiJobState(operation.State()),
		ProviderState: string(operation.State()),
	}

	if operation.Metadata != nil {
		job.CreatedAt = operation.Metadata.CreateTime
	}

	return job
}

func genAiJobState(state genai_batch.JobState) resources.JobState {
	switch state {
	case genai_batch.JobStateSucceeded, genai_batch.BatchStateSucceeded:
		return resources.JobStateSucceeded
	case genai_batch.JobStateFailed, genai_batch.BatchStateFailed:
		return resources.JobStateFailed
	case genai_batch.JobStateCancelled, genai_batch.BatchStateCancelled:
		return resources.JobStateCanceled
	case genai_batch.JobStateExpired, genai_batch.BatchStateExpired:
		return resources.JobStateExpired
	}

	return resources.JobStateRunning
}

func (p *GenAiProvider) PollUntilTerminal(ctx context.Context, job *resources.BatchJob) ([]byte, error) {
	var last *genai_batch.Operation

	status, err := resources.PollUntilTerminal(
		ctx, p.logger, p.clock, p.Intervals().Pool, job,
		func(ctx context.Context) (resources.JobStatus, error) {
			operation, err := p.client.GetBatch(ctx, job.ID)
			if err != nil {
				return resources.JobStatus{}, fmt.Errorf("failed to retrieve batch %s: %w", job.ID, err)
			}

			last = operation

			status := resources.JobStatus{
				State:         genAiJobState(operation.State()),
				ProviderState: string(operation.State()),
			}

			if operation.Error != nil {
				status.Reason = operation.Error.Message
			}

			return status, nil
		},
	)
	if err != nil {
		return nil, err
	}

	if err := resources.FailureFromStatus(job, status); err != nil {
		return nil, err
	}

	responsesFile := last.ResponsesFile()
	if responsesFile == "" {
		return nil, fmt.Errorf("batch job %s succeeded but no responses file was reported", job.ID)
	}

	content, err := p.client.DownloadFile(ctx, responsesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to download batch results of %s: %w", job.ID, err)
	}

	return content, nil
}

func (p *GenAiProvider) DecodeBatchResult(_ context.Context, artifact []byte, index *calls.Index) ([]calls.Output, error) {
	reconciler := calls.NewReconciler(index)

	for lineNo, line := range artifactLines(artifact) {
		var row genai_batch.BatchResultLine
		if err := json.Unmarshal(line, &row); err != nil {
			reconciler.Malformed(lineNo, err)

			continue
		}

		if row.Key == "" {
			reconciler.Malformed(lineNo, errors.New("missing key"))

			continue
		}

		var err error

		switch {
		case row.Error != nil:
			err = reconciler.Failure(row.Key, row.Error.Message)
		case len(row.Response) == 0:
			err = reconciler.Failure(row.Key, "result row has neither response nor error")
		default:
			body, parseErr := withGenAiText(row.Response)
			if parseErr != nil {
				err = reconciler.Failure(row.Key, fmt.Sprintf("failed to parse response for key %s: %v", row.Key, parseErr))
			} else {
				err = reconciler.Success(row.Key, body)
			}
		}

		if err != nil {
			return nil, err
		}
	}

	return reconciler.Outputs(), nil
}

func (p *GenAiProvider) CancelBatch(ctx context.Context, jobID string) (*resources.BatchJob, error) {
	if err := p.client.CancelBatch(ctx, jobID); err != nil {
		return nil, fmt.Errorf("failed to cancel batch %s: %w", jobID, p.classifyAPIError(err, false))
	}

	operation, err := p.client.GetBatch(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve batch %s: %w", jobID, p.classifyAPIError(err, false))
	}

	return p.toBatchJob(operation), nil
}

func (p *GenAiProvider) ListBatches(ctx context.Context, limit int) ([]resources.BatchJob, error) {
	params := &genai_batch.ListBatchesParams{}
	if limit > 0 {
		params.PageSize = &limit
	}

	response, err := p.client.ListBatches(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", p.classifyAPIError(err, false))
	}

	jobs := make([]resources.BatchJob, 0, len(response.Operations))
	for _, operation := range response.Operations {
		jobs = append(jobs, *p.toBatchJob(operation))
	}

	return jobs, nil
}
