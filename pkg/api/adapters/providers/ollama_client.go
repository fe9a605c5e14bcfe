package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/eser/ajan/logfx"
	"github.com/eser/aicaller/pkg/api/business/calls"
	"github.com/eser/aicaller/pkg/api/business/resources"
)

const DefaultOllamaBaseUrl = "http://localhost:11434"

var _ Provider = (*OllamaProvider)(nil)

// OllamaProvider serves single requests through the Ollama chat API. Ollama
// has no batch API, so every batch capability fails with
// resources.ErrUnsupportedOperation.
type OllamaProvider struct {
	baseUrl string
	base
}

func NewOllamaProvider(name string, config *resources.ConfigResource, logger *logfx.Logger, opts ...Option) *OllamaProvider {
	b := newBase(resources.ProviderOllama, name, config, logger, opts...)

	baseUrl := b.endpoint
	if baseUrl == "" {
		baseUrl = DefaultOllamaBaseUrl
	}

	return &OllamaProvider{
		base:    b,
		baseUrl: strings.TrimSuffix(baseUrl, "/"),
	}
}

func (p *OllamaProvider) ProcessSingleRequest(ctx context.Context, req calls.Request) calls.Output {
	body, err := encodeOllamaChatBody(req.Body)
	if err != nil {
		return p.failure(ctx, req, err)
	}

	response, err := p.chat(ctx, body)
	if err != nil {
		return p.failure(ctx, req, err)
	}

	return calls.NewSuccess(req.CustomID, response, req.Body.Structured)
}

func (p *OllamaProvider) chat(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseUrl+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if p.config.ApiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.ApiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error string `json:"error"`
		}

		message := string(respBody)
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error != "" {
			message = envelope.Error
		}

		return nil, p.classify(
			fmt.Errorf("api request failed with status %d", resp.StatusCode),
			resources.ErrorKindOther, resp.StatusCode, "", message,
		)
	}

	if !json.Valid(respBody) {
		return nil, fmt.Errorf("failed to decode response: invalid json")
	}

	return respBody, nil
}

func (p *OllamaProvider) EncodeBatch(context.Context, calls.Source) (*resources.BatchArtifact, error) {
	return nil, p.unsupported("batch encoding")
}

func (p *OllamaProvider) SubmitBatch(context.Context, *resources.BatchArtifact) (*resources.BatchJob, error) {
	return nil, p.unsupported("batch submission")
}

func (p *OllamaProvider) PollUntilTerminal(context.Context, *resources.BatchJob) ([]byte, error) {
	return nil, p.unsupported("batch polling")
}

func (p *OllamaProvider) DecodeBatchResult(context.Context, []byte, *calls.Index) ([]calls.Output, error) {
	return nil, p.unsupported("batch result decoding")
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

var ollamaOptionsBlacklist = []string{"type", "structured", "format", "model", "messages", "stream"}

func encodeOllamaChatBody(body calls.Body) (json.RawMessage, error) {
	messages := make([]ollamaMessage, 0, len(body.Messages))

	for _, m := range body.Messages {
		role := string(m.Role)
		if m.Role == calls.RoleModel {
			role = string(calls.RoleAssistant)
		}

		msg := ollamaMessage{Role: role}

		for _, part := range m.Parts {
			switch {
			case part.IsText():
				msg.Content += part.Text
			case strings.HasPrefix(part.MimeType, "image/"):
				msg.Images = append(msg.Images, base64.StdEncoding.EncodeToString(part.Data))
			default:
				return nil, fmt.Errorf("ollama accepts only text and image parts, got %s", part.MimeType)
			}
		}

		messages = append(messages, msg)
	}

	wire := calls.NewOptions()

	if err := wire.Set("model", body.Model); err != nil {
		return nil, err
	}

	if err := wire.Set("messages", messages); err != nil {
		return nil, err
	}

	if err := wire.Set("stream", false); err != nil {
		return nil, err
	}

	if options := body.Options.Without(ollamaOptionsBlacklist...); options.Len() > 0 {
		if err := wire.Set("options", options); err != nil {
			return nil, err
		}
	}

	if body.HasFormat() {
		if err := wire.Set("format", body.Format); err != nil {
			return nil, err
		}
	}

	return json.Marshal(wire)
}
