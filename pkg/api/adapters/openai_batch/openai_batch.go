package openai_batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/go-querystring/query"
)

// Client is the OpenAI API client covering chat completions, files and
// batches. Any OpenAI-compatible server works through BaseURL.
type Client struct {
	httpClient *http.Client
	config     Config
}

// NewClient creates a new OpenAI API client. A nil httpClient gets one with
// the configured timeout.
func NewClient(config Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	reqURL := strings.TrimSuffix(c.config.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close() //nolint:errcheck

		bodyBytes, _ := io.ReadAll(resp.Body)

		return nil, parseAPIError(resp.StatusCode, bodyBytes)
	}

	return resp, nil
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// CreateChatCompletion posts an already encoded chat completion body and
// returns the raw response body.
func (c *Client) CreateChatCompletion(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var response json.RawMessage
	if err := c.do(req, &response); err != nil {
		return nil, err
	}

	return response, nil
}

// CreateFile uploads content that can be used across OpenAI services.
func (c *Client) CreateFile(ctx context.Context, fileName string, content []byte, purpose string) (*File, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("purpose", purpose); err != nil {
		return nil, fmt.Errorf("failed to write purpose to multipart form: %w", err)
	}

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("failed to copy file content: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/files", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resultFile File
	if err := c.do(req, &resultFile); err != nil {
		return nil, err
	}

	return &resultFile, nil
}

// GetFileContent downloads the raw content of a file.
func (c *Client) GetFileContent(ctx context.Context, fileID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/files/%s/content", fileID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content %s: %w", fileID, err)
	}

	return content, nil
}

// CreateBatch creates and executes a batch from an uploaded file.
func (c *Client) CreateBatch(ctx context.Context, batchReq CreateBatchRequest) (*Batch, error) {
	jsonBody, err := json.Marshal(batchReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal create batch request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/batches", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var batch Batch
	if err := c.do(req, &batch); err != nil {
		return nil, err
	}

	return &batch, nil
}

// RetrieveBatch retrieves a batch.
func (c *Client) RetrieveBatch(ctx context.Context, batchID string) (*Batch, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/batches/"+batchID, nil)
	if err != nil {
		return nil, err
	}

	var batch Batch
	if err := c.do(req, &batch); err != nil {
		return nil, err
	}

	return &batch, nil
}

// CancelBatch cancels an in-progress batch.
func (c *Client) CancelBatch(ctx context.Context, batchID string) (*Batch, error) {
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/batches/%s/cancel", batchID), nil)
	if err != nil {
		return nil, err
	}

	var batch Batch
	if err := c.do(req, &batch); err != nil {
		return nil, err
	}

	return &batch, nil
}

// ListBatches lists your organization's batches.
func (c *Client) ListBatches(ctx context.Context, params *ListBatchesParams) (*ListBatchesResponse, error) {
	path := "/batches"

	if params != nil {
		q, err := query.Values(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode query params: %w", err)
		}

		if encoded := q.Encode(); encoded != "" {
			path = path + "?" + encoded
		}
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var response ListBatchesResponse
	if err := c.do(req, &response); err != nil {
		return nil, err
	}

	return &response, nil
}
