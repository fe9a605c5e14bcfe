package genai_batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/google/go-querystring/query"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// APIError is a non-2xx response of the Gemini API.
type APIError struct {
	Status     string
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("api request failed with status %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}

	return fmt.Sprintf("api request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client is the Gemini Developer API client for content generation, files
// and batch jobs.
type Client struct {
	httpClient *http.Client
	config     Config
}

// NewClient creates a new Gemini API client. A nil httpClient gets one with
// the configured timeout.
func NewClient(config Config, httpClient *http.Client) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	if config.APIVersion == "" {
		config.APIVersion = "v1beta"
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

// newRequest builds a request for path, which is relative to the versioned
// API root unless prefix names another root such as "upload" or "download".
func (c *Client) newRequest(ctx context.Context, method, prefix, path string, body io.Reader) (*http.Request, error) {
	root := strings.TrimSuffix(c.config.BaseURL, "/")
	if prefix != "" {
		root += "/" + prefix
	}

	reqURL := root + "/" + c.config.APIVersion + "/" + strings.TrimPrefix(path, "/")

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.config.APIKey != "" {
		req.Header.Set("X-Goog-Api-Key", c.config.APIKey)
	}

	req.Header.Set("Content-Type", "application/json")

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

		var envelope struct {
			Error *GoogleRpcStatus `json:"error"`
		}

		if json.Unmarshal(bodyBytes, &envelope) == nil && envelope.Error != nil && envelope.Error.Message != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Status: envelope.Error.Status, Message: envelope.Error.Message}
		}

		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(bodyBytes)}
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
			// Cancel and similar calls may answer with an empty body.
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func modelPath(model string) string {
	if strings.HasPrefix(model, "models/") || strings.HasPrefix(model, "tunedModels/") {
		return model
	}

	return "models/" + model
}

func batchPath(name string) string {
	if strings.HasPrefix(name, "batches/") {
		return name
	}

	return "batches/" + name
}

// GenerateContent runs one synchronous generation and returns the raw
// response body.
func (c *Client) GenerateContent(ctx context.Context, model string, contentReq *GenerateContentRequest) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(contentReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate content request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "", modelPath(model)+":generateContent", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}

	var response json.RawMessage
	if err := c.do(req, &response); err != nil {
		return nil, err
	}

	return response, nil
}

// UploadFile stores content through the Files API using a multipart upload.
func (c *Client) UploadFile(ctx context.Context, displayName string, mimeType string, content []byte) (*File, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	var meta struct {
		File struct {
			DisplayName string `json:"displayName,omitempty"`
			MimeType    string `json:"mimeType"`
		} `json:"file"`
	}

	meta.File.DisplayName = displayName
	meta.File.MimeType = mimeType

	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file metadata: %w", err)
	}

	metadataPart, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata part: %w", err)
	}

	if _, err := metadataPart.Write(metadata); err != nil {
		return nil, fmt.Errorf("failed to write metadata part: %w", err)
	}

	contentPart, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {mimeType}})
	if err != nil {
		return nil, fmt.Errorf("failed to create content part: %w", err)
	}

	if _, err := contentPart.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write content part: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "upload", "files?uploadType=multipart", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())
	req.Header.Set("X-Goog-Upload-Protocol", "multipart")

	var response UploadFileResponse
	if err := c.do(req, &response); err != nil {
		return nil, err
	}

	return &response.File, nil
}

// DownloadFile fetches the raw content of a file such as a batch responses
// file.
func (c *Client) DownloadFile(ctx context.Context, fileName string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "download", fileName+":download?alt=media", nil)
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
		return nil, fmt.Errorf("failed to read file %s: %w", fileName, err)
	}

	return content, nil
}

// CreateBatch creates a batch job for model reading its requests from the
// uploaded file named in batch.InputConfig.
func (c *Client) CreateBatch(ctx context.Context, model string, batch *Batch) (*Operation, error) {
	jsonBody, err := json.Marshal(CreateBatchRequest{Batch: batch})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal create batch request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "", modelPath(model)+":batchGenerateContent", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}

	var operation Operation
	if err := c.do(req, &operation); err != nil {
		return nil, err
	}

	return &operation, nil
}

// GetBatch retrieves a batch job. name may be "batches/{id}" or the bare id.
func (c *Client) GetBatch(ctx context.Context, name string) (*Operation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "", batchPath(name), nil)
	if err != nil {
		return nil, err
	}

	var operation Operation
	if err := c.do(req, &operation); err != nil {
		return nil, err
	}

	return &operation, nil
}

// CancelBatch cancels an in-progress batch job.
func (c *Client) CancelBatch(ctx context.Context, name string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "", batchPath(name)+":cancel", bytes.NewBufferString("{}"))
	if err != nil {
		return err
	}

	return c.do(req, nil)
}

// ListBatches lists the batch jobs of the project owning the api key.
func (c *Client) ListBatches(ctx context.Context, params *ListBatchesParams) (*ListBatchesResponse, error) {
	path := "batches"

	if params != nil {
		q, err := query.Values(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode query params: %w", err)
		}

		if encoded := q.Encode(); encoded != "" {
			path = path + "?" + encoded
		}
	}

	req, err := c.newRequest(ctx, http.MethodGet, "", path, nil)
	if err != nil {
		return nil, err
	}

	var response ListBatchesResponse
	if err := c.do(req, &response); err != nil {
		return nil, err
	}

	return &response, nil
}
