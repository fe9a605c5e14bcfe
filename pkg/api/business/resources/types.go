package resources

import "time"

const (
	ProviderOpenAi      = "openai"
	ProviderOllama      = "ollama"
	ProviderGoogleGenAi = "google_genai"
	ProviderEcho        = "echo"
)

// JobState is the provider-independent state of a batch job. Provider label
// sets collapse onto these five values; queued jobs count as running.
type JobState string

const (
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
	JobStateExpired   JobState = "expired"
)

func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCanceled, JobStateExpired:
		return true
	case JobStateRunning:
		return false
	}

	return false
}

// BatchArtifact is an encoded bulk submission, ready for upload.
type BatchArtifact struct {
	Name    string
	Model   string
	Content []byte
	Count   int
}

// BatchJob is a handle to a provider-owned batch job. The job is only ever
// observed, never deleted.
type BatchJob struct {
	CreatedAt     time.Time `json:"created_at"`
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	State         JobState  `json:"state"`
	ProviderState string    `json:"provider_state"`
}

// JobStatus is one observation of a batch job.
type JobStatus struct {
	State         JobState
	ProviderState string
	Reason        string
}

type Intervals struct {
	Pool            time.Duration
	ProcessRequests time.Duration
}
