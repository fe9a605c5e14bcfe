package resources

import (
	"context"

	"github.com/eser/aicaller/pkg/api/business/calls"
)

// SingleCaller issues one synchronous call per request. Provider failures are
// reported in the returned output, never as a Go error.
type SingleCaller interface {
	ProcessSingleRequest(ctx context.Context, req calls.Request) calls.Output
}

// BatchProcessor drives the provider side of one bulk submission.
type BatchProcessor interface {
	// EncodeBatch turns every request of src into the provider's bulk record
	// shape. It performs no network calls.
	EncodeBatch(ctx context.Context, src calls.Source) (*BatchArtifact, error)
	// SubmitBatch uploads the artifact and creates the job without waiting.
	SubmitBatch(ctx context.Context, artifact *BatchArtifact) (*BatchJob, error)
	// PollUntilTerminal returns the raw result artifact of a succeeded job or a
	// *JobFailedError naming the terminal state.
	PollUntilTerminal(ctx context.Context, job *BatchJob) ([]byte, error)
	// DecodeBatchResult re-keys result rows onto the indexed requests.
	DecodeBatchResult(ctx context.Context, artifact []byte, index *calls.Index) ([]calls.Output, error)
}

//go:generate go tool mockery --name=Provider --inpackage --inpackage-suffix --case=underscore --structname=MockProvider --filename=mock_provider.go
type Provider interface {
	SingleCaller
	BatchProcessor

	Name() string
	Kind() string
	Intervals() Intervals
}

// BatchAdmin is implemented by providers that can list and cancel their
// batch jobs.
type BatchAdmin interface {
	CancelBatch(ctx context.Context, jobID string) (*BatchJob, error)
	ListBatches(ctx context.Context, limit int) ([]BatchJob, error)
}
