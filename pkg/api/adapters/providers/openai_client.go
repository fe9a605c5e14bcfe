package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eser/ajan/logfx"
	"github.com/eser/aicaller/pkg/api/adapters/openai_batch"
	"github.com/eser/aicaller/pkg/api/business/calls"
	"github.com/eser/aicaller/pkg/api/business/resources"
)

const DefaultOpenAiBaseUrl = "https://api.openai.com/v1"

var (
	_ Provider             = (*OpenAiProvider)(nil)
	_ resources.BatchAdmin = (*OpenAiProvider)(nil)
)

// openAiBodyBlacklist lists body keys that never reach the OpenAI wire body
// through the options passthrough. model and messages are written by the
// adapter itself.
var openAiBodyBlacklist = []string{"type", "structured", "format", "model", "messages"}

type OpenAiProvider struct {
	client *openai_batch.Client
	base
}

func NewOpenAiProvider(name string, config *resources.ConfigResource, logger *logfx.Logger, opts ...Option) *OpenAiProvider {
	b := newBase(resources.ProviderOpenAi, name, config, logger, opts...)

	baseUrl := b.endpoint
	if baseUrl == "" {
		baseUrl = DefaultOpenAiBaseUrl
	}

	return &OpenAiProvider{
		base: b,
		client: openai_batch.NewClient(
			openai_batch.Config{APIKey: config.ApiKey, BaseURL: baseUrl, Timeout: config.Timeout()},
			b.httpClient,
		),
	}
}

func (p *OpenAiProvider) Client() *openai_batch.Client {
	return p.client
}

func (p *OpenAiProvider) classifyAPIError(err error, quotaAware bool) error {
	if err == nil || isContextError(err) {
		return err
	}

	var apiErr *openai_batch.APIError
	if !errors.As(err, &apiErr) {
		return p.classify(err, resources.ErrorKindOther, 0, "", err.Error())
	}

	kind := resources.ErrorKindOther

	switch {
	case quotaAware && (apiErr.Code == openai_batch.CodeTokenLimitExceeded || strings.Contains(apiErr.Message, openai_batch.MessageEnqueuedLimit)):
		kind = resources.ErrorKindQuota
	case !quotaAware && apiErr.StatusCode == http.StatusTooManyRequests:
		kind = resources.ErrorKindRateLimit
	}

	return p.classify(err, kind, apiErr.StatusCode, apiErr.Code, apiErr.Message)
}

func (p *OpenAiProvider) ProcessSingleRequest(ctx context.Context, req calls.Request) calls.Output {
	body, err := encodeOpenAiChatBody(req.Body)
	if err != nil {
		return p.failure(ctx, req, err)
	}

	response, err := resources.RetryOnRateLimit(
		ctx, p.logger, p.clock, p.Intervals().Pool, p.name,
		func(ctx context.Context) (json.RawMessage, error) {
			response, err := p.client.CreateChatCompletion(ctx, body)

			return response, p.classifyAPIError(err, false)
		},
	)
	if err != nil {
		return p.failure(ctx, req, err)
	}

	return calls.NewSuccess(req.CustomID, response, req.Body.Structured)
}

func (p *OpenAiProvider) EncodeBatch(_ context.Context, src calls.Source) (*resources.BatchArtifact, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	count := 0

	for req, err := range src.Requests() {
		if err != nil {
			return nil, err
		}

		body, err := encodeOpenAiChatBody(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request %q: %w", req.CustomID, err)
		}

		line := openai_batch.BatchRequestLine{
			CustomID: req.CustomID,
			Method:   http.MethodPost,
			URL:      p.config.BatchEndpoint,
			Body:     body,
		}

		if line.URL == "" {
			line.URL = openai_batch.BatchEndpointChat
		}

		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("failed to encode request %q: %w", req.CustomID, err)
		}

		count++
	}

	if count == 0 {
		return nil, fmt.Errorf("%w: %s", resources.ErrEmptyBatch, src.Name())
	}

	return &resources.BatchArtifact{
		Name:    batchFileName(src.Name()),
		Content: buf.Bytes(),
		Count:   count,
	}, nil
}

func (p *OpenAiProvider) SubmitBatch(ctx context.Context, artifact *resources.BatchArtifact) (*resources.BatchJob, error) {
	file, err := p.client.CreateFile(ctx, artifact.Name, artifact.Content, openai_batch.FilePurposeBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to upload batch file: %w", p.classifyAPIError(err, true))
	}

	endpoint := p.config.BatchEndpoint
	if endpoint == "" {
		endpoint = openai_batch.BatchEndpointChat
	}

	window := p.config.CompletionWindow
	if window == "" {
		window = openai_batch.BatchCompletionWindow24h
	}

	batch, err := p.client.CreateBatch(ctx, openai_batch.CreateBatchRequest{
		InputFileID:      file.ID,
		Endpoint:         endpoint,
		CompletionWindow: window,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", p.classifyAPIError(err, true))
	}

	p.logger.InfoContext(
		ctx,
		"[Providers] Batch submitted",
		slog.String("module", "providers"),
		slog.String("provider", p.name),
		slog.String("batch_id", batch.ID),
		slog.String("input_file_id", file.ID),
		slog.Int("requests", artifact.Count),
	)

	return p.toBatchJob(batch), nil
}

func (p *OpenAiProvider) toBatchJob(batch *openai_batch.Batch) *resources.BatchJob {
	return &resources.BatchJob{
		ID:            batch.ID,
		Provider:      p.name,
		State:         openAiJobState(batch.Status),
		ProviderState: batch.Status,
		CreatedAt:     time.Unix(batch.CreatedAt, 0).UTC(),
	}
}

func openAiJobState(status string) resources.JobState {
	switch status {
	case openai_batch.BatchStatusCompleted:
		return resources.JobStateSucceeded
	case openai_batch.BatchStatusFailed:
		return resources.JobStateFailed
	case openai_batch.BatchStatusCancelled, "canceled":
		return resources.JobStateCanceled
	case openai_batch.BatchStatusExpired:
		return resources.JobStateExpired
	}

	return resources.JobStateRunning
}

func (p *OpenAiProvider) PollUntilTerminal(ctx context.Context, job *resources.BatchJob) ([]byte, error) {
	var last *openai_batch.Batch

	status, err := resources.PollUntilTerminal(
		ctx, p.logger, p.clock, p.Intervals().Pool, job,
		func(ctx context.Context) (resources.JobStatus, error) {
			batch, err := p.client.RetrieveBatch(ctx, job.ID)
			if err != nil {
				return resources.JobStatus{}, fmt.Errorf("failed to retrieve batch %s: %w", job.ID, err)
			}

			last = batch

			status := resources.JobStatus{State: openAiJobState(batch.Status), ProviderState: batch.Status}
			if batchErr := batch.FirstError(); batchErr != nil {
				status.Reason = batchErr.Message
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

	return p.fetchResults(ctx, last)
}

// fetchResults concatenates the output file and the error file of a
// completed batch.
func (p *OpenAiProvider) fetchResults(ctx context.Context, batch *openai_batch.Batch) ([]byte, error) {
	var content []byte

	for _, fileID := range []*string{batch.OutputFileID, batch.ErrorFileID} {
		if fileID == nil || *fileID == "" {
			continue
		}

		part, err := p.client.GetFileContent(ctx, *fileID)
		if err != nil {
			return nil, fmt.Errorf("failed to download batch results of %s: %w", batch.ID, err)
		}

		content = append(content, part...)
		if len(part) > 0 && part[len(part)-1] != '\n' {
			content = append(content, '\n')
		}
	}

	return content, nil
}

func (p *OpenAiProvider) DecodeBatchResult(_ context.Context, artifact []byte, index *calls.Index) ([]calls.Output, error) {
	reconciler := calls.NewReconciler(index)

	for lineNo, line := range artifactLines(artifact) {
		var row openai_batch.BatchResultLine
		if err := json.Unmarshal(line, &row); err != nil {
			reconciler.Malformed(lineNo, err)

			continue
		}

		if row.CustomID == "" {
			reconciler.Malformed(lineNo, errors.New("missing custom_id"))

			continue
		}

		var err error

		switch {
		case row.Error != nil:
			err = reconciler.Failure(row.CustomID, openAiRowError(row.Error.Code, row.Error.Message))
		case row.Response == nil:
			err = reconciler.Failure(row.CustomID, "result row has neither response nor error")
		case row.Response.StatusCode >= 300:
			err = reconciler.Failure(row.CustomID, openAiResponseError(row.Response))
		default:
			err = reconciler.Success(row.CustomID, row.Response.Body)
		}

		if err != nil {
			return nil, err
		}
	}

	return reconciler.Outputs(), nil
}

func openAiRowError(code string, message string) string {
	if code == "" {
		return message
	}

	return fmt.Sprintf("%s: %s", code, message)
}

func openAiResponseError(response *openai_batch.BatchResultResponse) string {
	var envelope struct {
		Error *openai_batch.APIError `json:"error"`
	}

	if json.Unmarshal(response.Body, &envelope) == nil && envelope.Error != nil && envelope.Error.Message != "" {
		envelope.Error.StatusCode = response.StatusCode

		return envelope.Error.Error()
	}

	return fmt.Sprintf("request failed with status %d: %s", response.StatusCode, string(response.Body))
}

func (p *OpenAiProvider) CancelBatch(ctx context.Context, jobID string) (*resources.BatchJob, error) {
	batch, err := p.client.CancelBatch(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel batch %s: %w", jobID, p.classifyAPIError(err, false))
	}

	return p.toBatchJob(batch), nil
}

func (p *OpenAiProvider) ListBatches(ctx context.Context, limit int) ([]resources.BatchJob, error) {
	params := &openai_batch.ListBatchesParams{}
	if limit > 0 {
		params.Limit = &limit
	}

	response, err := p.client.ListBatches(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", p.classifyAPIError(err, false))
	}

	jobs := make([]resources.BatchJob, 0, len(response.Data))
	for i := range response.Data {
		jobs = append(jobs, *p.toBatchJob(&response.Data[i]))
	}

	return jobs, nil
}

// encodeOpenAiChatBody builds a chat completions body: model and messages
// first, then the passthrough options, then the response format derived from
// the schema constraint.
func encodeOpenAiChatBody(body calls.Body) (json.RawMessage, error) {
	messages, err := openAiMessages(body.Messages)
	if err != nil {
		return nil, err
	}

	wire := calls.NewOptions()

	if err := wire.Set("model", body.Model); err != nil {
		return nil, err
	}

	if err := wire.Set("messages", messages); err != nil {
		return nil, err
	}

	wire.Merge(body.Options.Without(openAiBodyBlacklist...))

	if _, set := wire.Get("response_format"); !set && body.HasFormat() {
		responseFormat := map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "response",
				"schema": body.Format,
			},
		}

		if err := wire.Set("response_format", responseFormat); err != nil {
			return nil, err
		}
	}

	return json.Marshal(wire)
}

type openAiMessage struct {
	Content any    `json:"content"`
	Role    string `json:"role"`
}

type openAiContentPart struct {
	ImageURL *openAiImageURL `json:"image_url,omitempty"`
	File     *openAiFile     `json:"file,omitempty"`
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
}

type openAiImageURL struct {
	URL string `json:"url"`
}

type openAiFile struct {
	FileData string `json:"file_data"`
	Filename string `json:"filename"`
}

func openAiMessages(messages []calls.Message) ([]openAiMessage, error) {
	out := make([]openAiMessage, 0, len(messages))

	for _, m := range messages {
		role := string(m.Role)
		if m.Role == calls.RoleModel {
			role = string(calls.RoleAssistant)
		}

		if len(m.Parts) == 1 && m.Parts[0].IsText() {
			out = append(out, openAiMessage{Role: role, Content: m.Parts[0].Text})

			continue
		}

		parts := make([]openAiContentPart, 0, len(m.Parts))

		for i, part := range m.Parts {
			switch {
			case part.IsText():
				parts = append(parts, openAiContentPart{Type: "text", Text: part.Text})
			case strings.HasPrefix(part.MimeType, "image/"):
				parts = append(parts, openAiContentPart{Type: "image_url", ImageURL: &openAiImageURL{URL: dataURL(part)}})
			default:
				parts = append(parts, openAiContentPart{
					Type: "file",
					File: &openAiFile{FileData: dataURL(part), Filename: fmt.Sprintf("part-%d", i)},
				})
			}
		}

		out = append(out, openAiMessage{Role: role, Content: parts})
	}

	return out, nil
}

func dataURL(part calls.Part) string {
	return "data:" + part.MimeType + ";base64," + base64.StdEncoding.EncodeToString(part.Data)
}
