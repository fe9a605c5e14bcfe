package jobs

import (
	"context"
	"time"
)

type Mode string

const (
	ModeBatch Mode = "batch"
	ModeSync  Mode = "sync"
)

func (m Mode) IsValid() bool {
	return m == ModeBatch || m == ModeSync
}

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Job asks for every request stored at Input to be run against one provider
// resource. Input and Output are local paths or s3://bucket/key locations.
type Job struct {
	ID       string   `json:"id,omitempty"`
	Resource string   `json:"resource,omitempty"`
	Mode     Mode     `json:"mode,omitempty"`
	Input    string   `json:"input"`
	Output   string   `json:"output,omitempty"`
	SkipIDs  []string `json:"skip_ids,omitempty"`
}

type JobWithReceipt struct {
	Job           *Job
	ReceiptHandle string
}

type JobStatus struct {
	CreatedAt  time.Time `json:"created_at"             dynamodbav:"CreatedAt"`
	UpdatedAt  time.Time `json:"updated_at"             dynamodbav:"UpdatedAt"`
	JobId      string    `json:"job_id"                 dynamodbav:"JobId"`
	Resource   string    `json:"resource"               dynamodbav:"Resource"`
	Mode       Mode      `json:"mode"                   dynamodbav:"Mode"`
	Input      string    `json:"input"                  dynamodbav:"Input"`
	Output     string    `json:"output"                 dynamodbav:"Output"`
	State      State     `json:"state"                  dynamodbav:"State"`
	BatchJobId string    `json:"batch_job_id,omitempty" dynamodbav:"BatchJobId,omitempty"`
	Error      string    `json:"error,omitempty"        dynamodbav:"Error,omitempty"`
	Outputs    int       `json:"outputs"                dynamodbav:"Outputs"`
	Failures   int       `json:"failures"               dynamodbav:"Failures"`
}

//go:generate go tool mockery --name=Queue --inpackage --inpackage-suffix --case=underscore --structname=MockQueue --filename=mock_queue.go
type Queue interface {
	EnqueueJob(ctx context.Context, queueUrl string, job Job) error
	PickJobFromQueue(ctx context.Context, queueUrl string) ([]JobWithReceipt, error)
	DeleteJobFromQueue(ctx context.Context, queueUrl string, receiptHandle string) error
}

type StatusStore interface {
	GetJobStatus(ctx context.Context, jobId string) (*JobStatus, error)
	PutJobStatus(ctx context.Context, status *JobStatus) error
	ListJobStatuses(ctx context.Context) ([]*JobStatus, error)
	DeleteJobStatus(ctx context.Context, jobId string) error
}

type ObjectStore interface {
	ReadObject(ctx context.Context, location string) ([]byte, error)
	WriteObject(ctx context.Context, location string, content []byte) error
}
