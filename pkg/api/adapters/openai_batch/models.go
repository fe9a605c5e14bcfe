package openai_batch

import "encoding/json"

const (
	FilePurposeBatch         = "batch"
	BatchCompletionWindow24h = "24h"
	BatchEndpointChat        = "/v1/chat/completions"
)

// Batch statuses as reported by the Batches API.
const (
	BatchStatusValidating = "validating"
	BatchStatusFailed     = "failed"
	BatchStatusInProgress = "in_progress"
	BatchStatusFinalizing = "finalizing"
	BatchStatusCompleted  = "completed"
	BatchStatusExpired    = "expired"
	BatchStatusCancelling = "cancelling"
	BatchStatusCancelled  = "cancelled"
)

// Error codes that signal a full enqueued-token quota.
const (
	CodeTokenLimitExceeded = "token_limit_exceeded"
	MessageEnqueuedLimit   = "Enqueued token limit reached for"
)

type File struct {
	ID            string `json:"id"`
	Object        string `json:"object"`
	Filename      string `json:"filename"`
	Purpose       string `json:"purpose"`
	Status        string `json:"status"`
	StatusDetails string `json:"status_details,omitempty"`
	Bytes         int    `json:"bytes"`
	CreatedAt     int64  `json:"created_at"`
}

type CreateBatchRequest struct {
	Metadata         map[string]string `json:"metadata,omitempty"`
	InputFileID      string            `json:"input_file_id"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
}

// BatchError describes one validation or processing error of a batch. Line
// is nil when the error is not tied to an input line.
type BatchError struct {
	Line    *int   `json:"line,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

type BatchErrors struct {
	Object string       `json:"object,omitempty"`
	Data   []BatchError `json:"data,omitempty"`
}

type BatchRequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type Batch struct {
	Errors           *BatchErrors       `json:"errors,omitempty"`
	OutputFileID     *string            `json:"output_file_id,omitempty"`
	ErrorFileID      *string            `json:"error_file_id,omitempty"`
	CompletedAt      *int64             `json:"completed_at,omitempty"`
	FailedAt         *int64             `json:"failed_at,omitempty"`
	ExpiredAt        *int64             `json:"expired_at,omitempty"`
	CancelledAt      *int64             `json:"cancelled_at,omitempty"`
	Metadata         map[string]string  `json:"metadata,omitempty"`
	ID               string             `json:"id"`
	Object           string             `json:"object"`
	Endpoint         string             `json:"endpoint"`
	InputFileID      string             `json:"input_file_id"`
	CompletionWindow string             `json:"completion_window"`
	Status           string             `json:"status"`
	RequestCounts    BatchRequestCounts `json:"request_counts"`
	CreatedAt        int64              `json:"created_at"`
}

// FirstError returns the first reported batch error, if any.
func (b *Batch) FirstError() *BatchError {
	if b.Errors == nil || len(b.Errors.Data) == 0 {
		return nil
	}

	return &b.Errors.Data[0]
}

type ListBatchesResponse struct {
	FirstID *string `json:"first_id,omitempty"`
	LastID  *string `json:"last_id,omitempty"`
	Object  string  `json:"object"`
	Data    []Batch `json:"data"`
	HasMore bool    `json:"has_more"`
}

// ListBatchesParams are query params, not a request body.
type ListBatchesParams struct {
	After *string `url:"after,omitempty"`
	Limit *int    `url:"limit,omitempty"`
}

// BatchRequestLine is one line of a batch input file.
type BatchRequestLine struct {
	CustomID string          `json:"custom_id"`
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Body     json.RawMessage `json:"body"`
}

// BatchResultLine is one line of a batch output or error file.
type BatchResultLine struct {
	Response *BatchResultResponse `json:"response"`
	Error    *BatchError          `json:"error"`
	ID       string               `json:"id"`
	CustomID string               `json:"custom_id"`
}

type BatchResultResponse struct {
	Body       json.RawMessage `json:"body"`
	RequestID  string          `json:"request_id"`
	StatusCode int             `json:"status_code"`
}
