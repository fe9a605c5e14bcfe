package genai_batch

import (
	"encoding/json"
	"strings"
	"time"
)

// JobState is the state of a batch job. The API reports BATCH_STATE_* values;
// JOB_STATE_* values appear on older job resources.
type JobState string

const (
	JobStateUnspecified JobState = "JOB_STATE_UNSPECIFIED"
	JobStateQueued      JobState = "JOB_STATE_QUEUED"
	JobStatePending     JobState = "JOB_STATE_PENDING"
	JobStateRunning     JobState = "JOB_STATE_RUNNING"
	JobStateSucceeded   JobState = "JOB_STATE_SUCCEEDED"
	JobStateFailed      JobState = "JOB_STATE_FAILED"
	JobStateCancelling  JobState = "JOB_STATE_CANCELLING"
	JobStateCancelled   JobState = "JOB_STATE_CANCELLED"
	JobStatePaused      JobState = "JOB_STATE_PAUSED"
	JobStateExpired     JobState = "JOB_STATE_EXPIRED"
	JobStateUpdating    JobState = "JOB_STATE_UPDATING"

	BatchStateUnspecified JobState = "BATCH_STATE_UNSPECIFIED"
	BatchStatePending     JobState = "BATCH_STATE_PENDING"
	BatchStateRunning     JobState = "BATCH_STATE_RUNNING"
	BatchStateSucceeded   JobState = "BATCH_STATE_SUCCEEDED"
	BatchStateFailed      JobState = "BATCH_STATE_FAILED"
	BatchStateCancelled   JobState = "BATCH_STATE_CANCELLED"
	BatchStateExpired     JobState = "BATCH_STATE_EXPIRED"
)

// MessageEnqueuedLimit opens the error message of a submission rejected
// because the enqueued tokens of a model reached its limit.
const MessageEnqueuedLimit = "Enqueued token limit reached for"

// GoogleRpcStatus defines the structure for error details from Google APIs.
type GoogleRpcStatus struct {
	Message string           `json:"message,omitempty"`
	Status  string           `json:"status,omitempty"`
	Details []map[string]any `json:"details,omitempty"`
	Code    int              `json:"code,omitempty"`
}

// Blob carries base64 encoded inline data.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type Part struct {
	InlineData *Blob  `json:"inlineData,omitempty"`
	Text       string `json:"text,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type GenerateContentRequest struct {
	SystemInstruction *Content        `json:"systemInstruction,omitempty"`
	GenerationConfig  json.RawMessage `json:"generationConfig,omitempty"`
	Contents          []Content       `json:"contents"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type GenerateContentResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Text concatenates the text parts of the first candidate.
func (r *GenerateContentResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}

	var b strings.Builder

	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}

	return b.String()
}

type File struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	URI         string `json:"uri,omitempty"`
	State       string `json:"state,omitempty"`
	SizeBytes   string `json:"sizeBytes,omitempty"`
}

type UploadFileResponse struct {
	File File `json:"file"`
}

type InputConfig struct {
	FileName string `json:"fileName,omitempty"`
}

type BatchOutput struct {
	ResponsesFile string `json:"responsesFile,omitempty"`
}

type BatchStats struct {
	RequestCount           string `json:"requestCount,omitempty"`
	SuccessfulRequestCount string `json:"successfulRequestCount,omitempty"`
	FailedRequestCount     string `json:"failedRequestCount,omitempty"`
	PendingRequestCount    string `json:"pendingRequestCount,omitempty"`
}

// Batch is a GenerateContentBatch resource.
type Batch struct {
	CreateTime  time.Time    `json:"createTime,omitzero"`
	UpdateTime  time.Time    `json:"updateTime,omitzero"`
	InputConfig *InputConfig `json:"inputConfig,omitempty"`
	Output      *BatchOutput `json:"output,omitempty"`
	BatchStats  *BatchStats  `json:"batchStats,omitempty"`
	Name        string       `json:"name,omitempty"`
	DisplayName string       `json:"displayName"`
	Model       string       `json:"model,omitempty"`
	State       JobState     `json:"state,omitempty"`
}

type CreateBatchRequest struct {
	Batch *Batch `json:"batch"`
}

// Operation is the long-running operation wrapping a batch. Metadata holds
// the batch itself.
type Operation struct {
	Metadata *Batch           `json:"metadata,omitempty"`
	Error    *GoogleRpcStatus `json:"error,omitempty"`
	Name     string           `json:"name"`
	Done     bool             `json:"done,omitempty"`
}

type ListBatchesResponse struct {
	NextPageToken string       `json:"nextPageToken,omitempty"`
	Operations    []*Operation `json:"operations,omitempty"`
}

type ListBatchesParams struct {
	PageSize  *int    `url:"pageSize,omitempty"`
	PageToken *string `url:"pageToken,omitempty"`
}

// BatchRequestLine is one line of a batch input file.
type BatchRequestLine struct {
	Request *GenerateContentRequest `json:"request"`
	Key     string                  `json:"key"`
}

// BatchResultLine is one line of a batch responses file. Exactly one of
// Response and Error is expected.
type BatchResultLine struct {
	Error    *GoogleRpcStatus `json:"error,omitempty"`
	Key      string           `json:"key"`
	Response json.RawMessage  `json:"response,omitempty"`
}

// BatchName returns the batch resource name, "batches/{id}".
func (o *Operation) BatchName() string {
	if o.Metadata != nil && o.Metadata.Name != "" {
		return o.Metadata.Name
	}

	return o.Name
}

func (o *Operation) State() JobState {
	if o.Metadata == nil {
		return BatchStateUnspecified
	}

	return o.Metadata.State
}

// ResponsesFile names the file holding the results of a succeeded batch.
func (o *Operation) ResponsesFile() string {
	if o.Metadata == nil || o.Metadata.Output == nil {
		return ""
	}

	return o.Metadata.Output.ResponsesFile
}
