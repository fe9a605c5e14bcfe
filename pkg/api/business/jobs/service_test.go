package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eser/aicaller/pkg/api/adapters/providers"
	"github.com/eser/aicaller/pkg/api/business/batches"
	"github.com/eser/aicaller/pkg/api/business/calls"
	"github.com/eser/aicaller/pkg/api/business/jobs"
	"github.com/eser/aicaller/pkg/api/business/resources"
	"github.com/eser/aicaller/pkg/api/business/resources/resourcestest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const queueURL = "https://sqs.local/000000000000/jobs"

type memoryQueue struct {
	mu       sync.Mutex
	pending  []jobs.Job
	deleted  []string
	sequence int
}

func (q *memoryQueue) EnqueueJob(_ context.Context, queueUrl string, job jobs.Job) error {
	if queueUrl != queueURL {
		return fmt.Errorf("unexpected queue %s", queueUrl)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, job)

	return nil
}

func (q *memoryQueue) PickJobFromQueue(context.Context, string) ([]jobs.JobWithReceipt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	records := make([]jobs.JobWithReceipt, 0, len(q.pending))

	for _, job := range q.pending {
		q.sequence++
		records = append(records, jobs.JobWithReceipt{Job: &job, ReceiptHandle: fmt.Sprintf("receipt-%d", q.sequence)})
	}

	q.pending = nil

	return records, nil
}

func (q *memoryQueue) DeleteJobFromQueue(_ context.Context, _ string, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.deleted = append(q.deleted, receiptHandle)

	return nil
}

type memoryStatuses struct {
	mu      sync.Mutex
	items   map[string]jobs.JobStatus
	history []jobs.State
}

func newMemoryStatuses() *memoryStatuses {
	return &memoryStatuses{items: map[string]jobs.JobStatus{}}
}

func (s *memoryStatuses) GetJobStatus(_ context.Context, jobId string) (*jobs.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.items[jobId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobStatusNotFound, jobId)
	}

	return &status, nil
}

func (s *memoryStatuses) PutJobStatus(_ context.Context, status *jobs.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[status.JobId] = *status
	s.history = append(s.history, status.State)

	return nil
}

func (s *memoryStatuses) ListJobStatuses(context.Context) ([]*jobs.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*jobs.JobStatus, 0, len(s.items))
	for _, status := range s.items {
		result = append(result, &status)
	}

	return result, nil
}

func (s *memoryStatuses) DeleteJobStatus(_ context.Context, jobId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, jobId)

	return nil
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (o *memoryObjects) ReadObject(_ context.Context, location string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	content, ok := o.objects[location]
	if !ok {
		return nil, fmt.Errorf("object %s does not exist", location)
	}

	return content, nil
}

func (o *memoryObjects) WriteObject(_ context.Context, location string, content []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.objects[location] = content

	return nil
}

type staticFinder map[string]resources.Provider

func (f staticFinder) FindResource(_ context.Context, key string) (resources.Provider, error) {
	provider, ok := f[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", resources.ErrResourceNotFound, key)
	}

	return provider, nil
}

type fixture struct {
	service  *jobs.Service
	queue    *memoryQueue
	statuses *memoryStatuses
	objects  *memoryObjects
	clock    *resourcestest.FakeClock
}

func requestLine(id string) string {
	return fmt.Sprintf(
		`{"custom_id":%q,"body":{"model":"m","messages":[{"role":"user","parts":["hi %s"]}],"options":{},"structured":false}}`,
		id, id,
	)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := resourcestest.NewLogger(t)
	clock := resourcestest.NewFakeClock()

	echo := providers.NewEchoProvider(
		"local",
		&resources.ConfigResource{
			Provider:                resources.ProviderEcho,
			PoolInterval:            5 * time.Second,
			ProcessRequestsInterval: 2 * time.Second,
		},
		logger,
		providers.WithClock(clock),
	)

	f := &fixture{
		queue:    &memoryQueue{},
		statuses: newMemoryStatuses(),
		objects: &memoryObjects{objects: map[string][]byte{
			"in/requests.jsonl": []byte(strings.Join([]string{requestLine("a"), requestLine("b"), requestLine("c")}, "\n")),
			"in/empty.jsonl":    {},
			"in/broken.jsonl":   []byte(requestLine("a") + "\n{not json"),
		}},
		clock: clock,
	}

	f.service = jobs.NewService(
		&jobs.Config{DefaultMode: "batch", DefaultResource: "local", OutputSuffix: ".outputs.jsonl"},
		logger,
		clock,
		f.queue,
		f.statuses,
		f.objects,
		staticFinder{
			"local": echo,
			"ollama": providers.NewOllamaProvider(
				"ollama",
				&resources.ConfigResource{Provider: resources.ProviderOllama, BaseUrl: "http://127.0.0.1:1"},
				logger,
				providers.WithClock(clock),
			),
		},
		batches.NewService(&batches.Config{}, logger, clock),
	)

	return f
}

func TestDispatchJobBeforeInit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.service.DispatchJob(t.Context(), jobs.Job{ID: "j1", Input: "in/requests.jsonl"})
	require.ErrorIs(t, err, jobs.ErrDispatchJobBeforeInit)

	_, err = f.service.ProcessNextJob(t.Context())
	require.ErrorIs(t, err, jobs.ErrDispatchJobBeforeInit)
}

func TestDispatchJobAppliesDefaults(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.service.Init(queueURL))

	status, err := f.service.DispatchJob(t.Context(), jobs.Job{ID: "j1", Input: "in/requests.jsonl"})
	require.NoError(t, err)

	assert.Equal(t, jobs.StateQueued, status.State)
	assert.Equal(t, jobs.ModeBatch, status.Mode)
	assert.Equal(t, "local", status.Resource)
	assert.Equal(t, "in/requests.outputs.jsonl", status.Output)

	require.Len(t, f.queue.pending, 1)
	assert.Equal(t, "local", f.queue.pending[0].Resource)
}

func TestDispatchJobRejectsInvalidJobs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		job  jobs.Job
	}{
		{name: "missing id", job: jobs.Job{Input: "in/requests.jsonl"}},
		{name: "missing input", job: jobs.Job{ID: "j1"}},
		{name: "unknown mode", job: jobs.Job{ID: "j1", Input: "in/requests.jsonl", Mode: "stream"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			require.NoError(t, f.service.Init(queueURL))

			_, err := f.service.DispatchJob(t.Context(), tt.job)
			require.ErrorIs(t, err, jobs.ErrInvalidJob)
			assert.Empty(t, f.queue.pending)
			assert.Empty(t, f.statuses.items)
		})
	}
}

func TestProcessNextJobBatchMode(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.service.Init(queueURL))

	_, err := f.service.DispatchJob(t.Context(), jobs.Job{ID: "j1", Input: "in/requests.jsonl", Output: "out/j1.jsonl"})
	require.NoError(t, err)

	count, err := f.service.ProcessNextJob(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"receipt-1"}, f.queue.deleted)

	status, err := f.service.GetJobStatus(t.Context(), "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StateSucceeded, status.State)
	assert.Equal(t, 3, status.Outputs)
	assert.Zero(t, status.Failures)
	assert.True(t, strings.HasPrefix(status.BatchJobId, "echo-"))
	assert.Equal(t, []jobs.State{jobs.StateQueued, jobs.StateRunning, jobs.StateRunning, jobs.StateSucceeded}, f.statuses.history)

	ids, err := calls.ReadOutputIDs(strings.NewReader(string(f.objects.objects["out/j1.jsonl"])))
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.True(t, ids.Has("b"))
}

func TestRunJobSyncModeSkipsIDs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	status := f.service.RunJob(t.Context(), jobs.Job{
		ID:      "j2",
		Mode:    jobs.ModeSync,
		Input:   "in/requests.jsonl",
		SkipIDs: []string{"b"},
	})

	require.Equal(t, jobs.StateSucceeded, status.State, status.Error)
	assert.Equal(t, 2, status.Outputs)
	assert.Empty(t, status.BatchJobId)

	output := string(f.objects.objects["in/requests.outputs.jsonl"])
	lines := strings.Split(strings.TrimSpace(output), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"custom_id":"a"`)
	assert.Contains(t, lines[1], `"custom_id":"c"`)

	assert.Equal(t, []time.Duration{2 * time.Second}, f.clock.Sleeps())
}

func TestRunJobEmptyBatchWritesNoOutputs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	status := f.service.RunJob(t.Context(), jobs.Job{ID: "j3", Input: "in/empty.jsonl"})

	require.Equal(t, jobs.StateSucceeded, status.State, status.Error)
	assert.Zero(t, status.Outputs)
	assert.Contains(t, f.objects.objects, "in/empty.outputs.jsonl")
}

func TestRunJobFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		job     jobs.Job
		message string
	}{
		{
			name:    "unknown resource",
			job:     jobs.Job{ID: "j4", Input: "in/requests.jsonl", Resource: "missing"},
			message: resources.ErrResourceNotFound.Error(),
		},
		{
			name:    "missing input",
			job:     jobs.Job{ID: "j5", Input: "in/absent.jsonl"},
			message: "does not exist",
		},
		{
			name:    "empty batch on provider without batch support",
			job:     jobs.Job{ID: "j7", Input: "in/empty.jsonl", Resource: "ollama", Mode: jobs.ModeBatch},
			message: resources.ErrUnsupportedOperation.Error(),
		},
		{
			name:    "malformed input",
			job:     jobs.Job{ID: "j6", Input: "in/broken.jsonl", Mode: jobs.ModeSync},
			message: "in/broken.jsonl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)

			status := f.service.RunJob(t.Context(), tt.job)
			assert.Equal(t, jobs.StateFailed, status.State)
			assert.Contains(t, status.Error, tt.message)

			stored, err := f.service.GetJobStatus(t.Context(), tt.job.ID)
			require.NoError(t, err)
			assert.Equal(t, jobs.StateFailed, stored.State)
		})
	}
}

func TestProcessNextJobKeepsMessageOnShutdown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.service.Init(queueURL))

	_, err := f.service.DispatchJob(t.Context(), jobs.Job{ID: "j7", Input: "in/requests.jsonl", Mode: jobs.ModeSync})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = f.service.ProcessNextJob(ctx)
	require.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.queue.deleted)
}

func TestListJobStatuses(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.service.Init(queueURL))

	for _, id := range []string{"j1", "j2"} {
		_, err := f.service.DispatchJob(t.Context(), jobs.Job{ID: id, Input: "in/requests.jsonl"})
		require.NoError(t, err)
	}

	statuses, err := f.service.ListJobStatuses(t.Context())
	require.NoError(t, err)
	assert.Len(t, statuses, 2)

	_, err = f.service.GetJobStatus(t.Context(), "unknown")
	require.ErrorIs(t, err, jobs.ErrJobStatusNotFound)
}

func TestDeleteJobStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.service.Init(queueURL))

	_, err := f.service.DispatchJob(t.Context(), jobs.Job{ID: "j1", Input: "in/requests.jsonl"})
	require.NoError(t, err)

	err = f.service.DeleteJobStatus(t.Context(), "j1")
	require.ErrorIs(t, err, jobs.ErrJobInProgress)

	_, err = f.service.ProcessNextJob(t.Context())
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteJobStatus(t.Context(), "j1"))

	_, err = f.service.GetJobStatus(t.Context(), "j1")
	require.ErrorIs(t, err, jobs.ErrJobStatusNotFound)
}
