package resources

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrRateLimited          = errors.New("rate limited")
	ErrQuotaExhausted       = errors.New("enqueued token quota exhausted")
	ErrMixedModelBatch      = errors.New("batch mixes models")
	ErrEmptyBatch           = errors.New("batch has no requests")
	ErrJobFailed            = errors.New("batch job did not succeed")
	ErrInvalidConfig        = errors.New("invalid resource config")
	ErrProviderNotFound     = errors.New("provider not found")
	ErrResourceNotFound     = errors.New("resource not found")
)

type ErrorKind string

const (
	ErrorKindRateLimit ErrorKind = "rate_limit"
	ErrorKindQuota     ErrorKind = "quota"
	ErrorKindOther     ErrorKind = "other"
)

// ProviderError is an error reported by a provider API. Rate-limit and quota
// errors match ErrRateLimited and ErrQuotaExhausted through errors.Is.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	Code       string
	Message    string
	StatusCode int
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}

	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	switch e.Kind {
	case ErrorKindRateLimit:
		return ErrRateLimited
	case ErrorKindQuota:
		return ErrQuotaExhausted
	case ErrorKindOther:
		return nil
	}

	return nil
}

// JobFailedError reports a batch job that reached a terminal state other than
// succeeded.
type JobFailedError struct {
	JobID         string
	State         JobState
	ProviderState string
	Reason        string
}

func (e *JobFailedError) Error() string {
	msg := fmt.Sprintf("batch job %s ended in state %s", e.JobID, e.State)

	if e.ProviderState != "" && e.ProviderState != string(e.State) {
		msg += fmt.Sprintf(" (%s)", e.ProviderState)
	}

	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	return msg
}

func (e *JobFailedError) Unwrap() error {
	return ErrJobFailed
}
