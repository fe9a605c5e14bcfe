package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/eser/ajan/logfx"
	"github.com/eser/aicaller/pkg/api/business/calls"
	"github.com/eser/aicaller/pkg/api/business/resources"
	"github.com/google/uuid"
)

var (
	_ Provider             = (*EchoProvider)(nil)
	_ resources.BatchAdmin = (*EchoProvider)(nil)
)

type echoRequestLine struct {
	CustomID string          `json:"custom_id"`
	Body     json.RawMessage `json:"body"`
}

type echoResultLine struct {
	CustomID string          `json:"custom_id"`
	Body     json.RawMessage `json:"body"`
}

type echoBatch struct {
	job     resources.BatchJob
	content []byte
}

// EchoProvider answers every request with the request itself. It never
// leaves the process and is used for dry runs and local testing.
type EchoProvider struct {
	batches map[string]*echoBatch
	order   []string
	base

	mu sync.Mutex
}

func NewEchoProvider(name string, config *resources.ConfigResource, logger *logfx.Logger, opts ...Option) *EchoProvider {
	return &EchoProvider{
		base:    newBase(resources.ProviderEcho, name, config, logger, opts...),
		batches: make(map[string]*echoBatch),
	}
}

func echoBody(body calls.Body) (json.RawMessage, error) {
	texts := make([]string, 0, len(body.Messages))
	for _, m := range body.Messages {
		texts = append(texts, m.Text())
	}

	echo := calls.NewOptions()

	if err := echo.Set("model", body.Model); err != nil {
		return nil, err
	}

	if err := echo.Set("messages", texts); err != nil {
		return nil, err
	}

	if body.Options.Len() > 0 {
		if err := echo.Set("options", body.Options); err != nil {
			return nil, err
		}
	}

	return json.Marshal(echo)
}

func (p *EchoProvider) ProcessSingleRequest(ctx context.Context, req calls.Request) calls.Output {
	body, err := echoBody(req.Body)
	if err != nil {
		return p.failure(ctx, req, err)
	}

	p.logger.DebugContext(
		ctx,
		"[Providers] Echoing request",
		slog.String("module", "providers"),
		slog.String("provider", p.name),
		slog.String("custom_id", req.CustomID),
	)

	return calls.NewSuccess(req.CustomID, body, req.Body.Structured)
}

func (p *EchoProvider) EncodeBatch(_ context.Context, src calls.Source) (*resources.BatchArtifact, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	count := 0
	model := ""

	for req, err := range src.Requests() {
		if err != nil {
			return nil, err
		}

		body, err := echoBody(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request %q: %w", req.CustomID, err)
		}

		if err := enc.Encode(echoRequestLine{CustomID: req.CustomID, Body: body}); err != nil {
			return nil, fmt.Errorf("failed to encode request %q: %w", req.CustomID, err)
		}

		if count == 0 {
			model = req.Body.Model
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

// SubmitBatch stores the artifact and completes the job at once.
func (p *EchoProvider) SubmitBatch(ctx context.Context, artifact *resources.BatchArtifact) (*resources.BatchJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch := &echoBatch{
		job: resources.BatchJob{
			CreatedAt:     p.clock.Now(),
			ID:            "echo-" + uuid.NewString(),
			Provider:      p.name,
			State:         resources.JobStateRunning,
			ProviderState: "submitted",
		},
		content: slices.Clone(artifact.Content),
	}

	p.batches[batch.job.ID] = batch
	p.order = append(p.order, batch.job.ID)

	p.logger.InfoContext(
		ctx,
		"[Providers] Batch submitted",
		slog.String("module", "providers"),
		slog.String("provider", p.name),
		slog.String("batch_id", batch.job.ID),
		slog.Int("requests", artifact.Count),
	)

	job := batch.job

	return &job, nil
}

func (p *EchoProvider) PollUntilTerminal(ctx context.Context, job *resources.BatchJob) ([]byte, error) {
	status, err := resources.PollUntilTerminal(
		ctx, p.logger, p.clock, p.Intervals().Pool, job,
		func(context.Context) (resources.JobStatus, error) {
			p.mu.Lock()
			defer p.mu.Unlock()

			batch, ok := p.batches[job.ID]
			if !ok {
				return resources.JobStatus{}, fmt.Errorf("%w: batch %s", resources.ErrResourceNotFound, job.ID)
			}

			if batch.job.State == resources.JobStateRunning {
				batch.job.State = resources.JobStateSucceeded
				batch.job.ProviderState = "completed"
			}

			return resources.JobStatus{State: batch.job.State, ProviderState: batch.job.ProviderState}, nil
		},
	)
	if err != nil {
		return nil, err
	}

	if err := resources.FailureFromStatus(job, status); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Clone(p.batches[job.ID].content), nil
}

func (p *EchoProvider) DecodeBatchResult(_ context.Context, artifact []byte, index *calls.Index) ([]calls.Output, error) {
	reconciler := calls.NewReconciler(index)

	for lineNo, line := range artifactLines(artifact) {
		var row echoResultLine
		if err := json.Unmarshal(line, &row); err != nil {
			reconciler.Malformed(lineNo, err)

			continue
		}

		if row.CustomID == "" {
			reconciler.Malformed(lineNo, errors.New("missing custom_id"))

			continue
		}

		if err := reconciler.Success(row.CustomID, row.Body); err != nil {
			return nil, err
		}
	}

	return reconciler.Outputs(), nil
}

func (p *EchoProvider) CancelBatch(_ context.Context, jobID string) (*resources.BatchJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch, ok := p.batches[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", resources.ErrResourceNotFound, jobID)
	}

	if !batch.job.State.IsTerminal() {
		batch.job.State = resources.JobStateCanceled
		batch.job.ProviderState = "cancelled"
	}

	job := batch.job

	return &job, nil
}

func (p *EchoProvider) ListBatches(_ context.Context, limit int) ([]resources.BatchJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	jobs := make([]resources.BatchJob, 0, len(p.order))

	for i := len(p.order) - 1; i >= 0; i-- {
		if limit > 0 && len(jobs) == limit {
			break
		}

		jobs = append(jobs, p.batches[p.order[i]].job)
	}

	return jobs, nil
}
