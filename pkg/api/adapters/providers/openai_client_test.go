package providers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eser/aicaller/pkg/api/business/calls"
	"github.com/eser/aicaller/pkg/api/business/resources"
	"github.com/eser/aicaller/pkg/api/business/resources/resourcestest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAiProvider(t *testing.T, handler http.Handler) (*OpenAiProvider, *resourcestest.FakeClock) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := testConfig(resources.ProviderOpenAi)
	config.BaseUrl = server.URL

	clock := resourcestest.NewFakeClock()

	return NewOpenAiProvider("gpt", config, resourcestest.NewLogger(t), WithClock(clock)), clock
}

func TestEncodeOpenAiChatBody(t *testing.T) {
	t.Parallel()

	body := calls.Body{
		Model:      "gpt-4o-mini",
		Type:       "chat",
		Structured: true,
		Format:     json.RawMessage(`{"type":"object"}`),
		Messages: []calls.Message{
			{Role: calls.RoleSystem, Parts: []calls.Part{calls.TextPart("be brief")}},
			{Role: calls.RoleModel, Parts: []calls.Part{calls.TextPart("ok")}},
			{Role: calls.RoleUser, Parts: []calls.Part{calls.TextPart("look"), calls.BinaryPart("image/png", []byte{1, 2})}},
		},
		Options: calls.NewOptions(),
	}
	require.NoError(t, body.Options.Set("temperature", 0.5))
	require.NoError(t, body.Options.Set("structured", true))

	raw, err := encodeOpenAiChatBody(body)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"model": "gpt-4o-mini",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "assistant", "content": "ok"},
			{"role": "user", "content": [
				{"type": "text", "text": "look"},
				{"type": "image_url", "image_url": {"url": "data:image/png;base64,AQI="}}
			]}
		],
		"temperature": 0.5,
		"response_format": {"type": "json_schema", "json_schema": {"name": "response", "schema": {"type": "object"}}}
	}`, string(raw))

	var keys calls.Options
	require.NoError(t, json.Unmarshal(raw, &keys))
	assert.Equal(t, []string{"model", "messages", "temperature", "response_format"}, keys.Keys())
}

func TestEncodeOpenAiChatBodyKeepsExplicitResponseFormat(t *testing.T) {
	t.Parallel()

	body := calls.Body{
		Model:    "gpt-4o-mini",
		Format:   json.RawMessage(`{"type":"object"}`),
		Messages: []calls.Message{{Role: calls.RoleUser, Parts: []calls.Part{calls.TextPart("hi")}}},
		Options:  calls.NewOptions(),
	}
	require.NoError(t, body.Options.Set("response_format", map[string]string{"type": "json_object"}))

	raw, err := encodeOpenAiChatBody(body)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, map[string]any{"type": "json_object"}, decoded["response_format"])
}

func TestOpenAiProcessSingleRequest(t *testing.T) {
	t.Parallel()

	t.Run("rate limit is retried after the pool interval", func(t *testing.T) {
		t.Parallel()

		var attempts atomic.Int32

		provider, clock := newTestOpenAiProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			if attempts.Add(1) <= 3 {
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error": map[string]any{"message": "Rate limit reached", "type": "requests", "code": "rate_limit_exceeded"},
				})

				return
			}

			writeJSON(w, http.StatusOK, map[string]any{"id": "chatcmpl-1", "choices": []any{}})
		}))

		output := provider.ProcessSingleRequest(t.Context(), testRequest("a", "gpt-4o-mini", true))
		require.False(t, output.Failed(), output.ErrorMessage())
		assert.Equal(t, "a", output.CustomID)
		assert.True(t, output.Response.Structured)
		assert.JSONEq(t, `{"id":"chatcmpl-1","choices":[]}`, string(output.Response.Body))

		assert.Equal(t, int32(4), attempts.Load())
		assert.Equal(t, []time.Duration{testPoolInterval, testPoolInterval, testPoolInterval}, clock.Sleeps())
	})

	t.Run("other errors become output errors", func(t *testing.T) {
		t.Parallel()

		provider, clock := newTestOpenAiProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"message": "unknown model", "type": "invalid_request_error", "code": "model_not_found"},
			})
		}))

		output := provider.ProcessSingleRequest(t.Context(), testRequest("a", "nope", false))
		require.True(t, output.Failed())
		assert.Contains(t, output.ErrorMessage(), "unknown model")
		assert.Zero(t, clock.SleepCount())
	})

	t.Run("quota message on the single path is not retried", func(t *testing.T) {
		t.Parallel()

		provider, clock := newTestOpenAiProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"message": "Enqueued token limit reached for gpt-4o", "code": "token_limit_exceeded"},
			})
		}))

		output := provider.ProcessSingleRequest(t.Context(), testRequest("a", "gpt-4o", false))
		require.True(t, output.Failed())
		assert.Zero(t, clock.SleepCount())
	})
}

// fakeOpenAiBatchAPI serves the Files and Batches endpoints used by the batch
// cycle. Statuses are returned in order by successive retrievals.
type fakeOpenAiBatchAPI struct {
	t         *testing.T
	statuses  []string
	output    string
	uploaded  atomic.Value
	retrieved atomic.Int32
	createErr map[string]any
}

func (f *fakeOpenAiBatchAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/files":
		assert.NoError(f.t, r.ParseMultipartForm(1<<20))
		assert.Equal(f.t, "batch", r.FormValue("purpose"))

		file, _, err := r.FormFile("file")
		if assert.NoError(f.t, err) {
			var buf strings.Builder

			_, _ = io.Copy(&buf, file)
			f.uploaded.Store(buf.String())
		}

		writeJSON(w, http.StatusOK, map[string]any{"id": "file-in", "object": "file", "purpose": "batch"})
	case r.Method == http.MethodPost && r.URL.Path == "/batches":
		if f.createErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": f.createErr})

			return
		}

		var req map[string]any
		assert.NoError(f.t, json.Unmarshal(readBody(f.t, r), &req))
		assert.Equal(f.t, "file-in", req["input_file_id"])
		assert.Equal(f.t, "24h", req["completion_window"])

		writeJSON(w, http.StatusOK, map[string]any{"id": "batch-1", "status": "validating", "created_at": 1700000000})
	case r.Method == http.MethodGet && r.URL.Path == "/batches/batch-1":
		n := int(f.retrieved.Add(1)) - 1
		if n >= len(f.statuses) {
			n = len(f.statuses) - 1
		}

		batch := map[string]any{"id": "batch-1", "status": f.statuses[n], "output_file_id": "file-out"}
		if f.statuses[n] == "failed" {
			batch["errors"] = map[string]any{"data": []any{map[string]any{"code": "invalid_file", "message": "bad input"}}}
		}

		writeJSON(w, http.StatusOK, batch)
	case r.Method == http.MethodGet && r.URL.Path == "/files/file-out/content":
		_, _ = w.Write([]byte(f.output))
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestOpenAiBatchCycle(t *testing.T) {
	t.Parallel()

	requests := []calls.Request{testRequest("a", "gpt-4o-mini", true), testRequest("b", "gpt-4o-mini", false)}

	api := &fakeOpenAiBatchAPI{
		t:        t,
		statuses: []string{"validating", "in_progress", "finalizing", "completed"},
		output: `{"id":"r1","custom_id":"b","response":{"status_code":200,"body":{"id":"cmpl-b"}}}` + "\n" +
			`{"id":"r2","custom_id":"a","response":{"status_code":200,"body":{"id":"cmpl-a"}}}` + "\n",
	}

	provider, clock := newTestOpenAiProvider(t, api)

	artifact, err := provider.EncodeBatch(t.Context(), calls.NewSliceSource("input.jsonl", requests...))
	require.NoError(t, err)
	assert.Equal(t, "input.batch.jsonl", artifact.Name)
	assert.Equal(t, 2, artifact.Count)

	job, err := provider.SubmitBatch(t.Context(), artifact)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", job.ID)
	assert.Equal(t, resources.JobStateRunning, job.State)

	uploaded, _ := api.uploaded.Load().(string)
	lines := strings.Split(strings.TrimSpace(uploaded), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a", first["custom_id"])
	assert.Equal(t, "POST", first["method"])
	assert.Equal(t, "/v1/chat/completions", first["url"])
	assert.NotContains(t, first["body"], "structured")

	content, err := provider.PollUntilTerminal(t.Context(), job)
	require.NoError(t, err)
	assert.Equal(t, resources.JobStateSucceeded, job.State)
	assert.Equal(t, 3, clock.SleepCount())

	outputs, err := provider.DecodeBatchResult(t.Context(), content, testIndex(t, requests...))
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, "a", outputs[0].CustomID)
	assert.True(t, outputs[0].Response.Structured)
	assert.JSONEq(t, `{"id":"cmpl-a"}`, string(outputs[0].Response.Body))
	assert.Equal(t, "b", outputs[1].CustomID)
	assert.False(t, outputs[1].Response.Structured)
}

func TestOpenAiBatchFailedJob(t *testing.T) {
	t.Parallel()

	api := &fakeOpenAiBatchAPI{t: t, statuses: []string{"in_progress", "failed"}}
	provider, _ := newTestOpenAiProvider(t, api)

	job := &resources.BatchJob{ID: "batch-1", Provider: "gpt"}

	_, err := provider.PollUntilTerminal(t.Context(), job)
	require.ErrorIs(t, err, resources.ErrJobFailed)

	var failed *resources.JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, resources.JobStateFailed, failed.State)
	assert.Equal(t, "bad input", failed.Reason)
}

func TestOpenAiSubmitQuotaExhausted(t *testing.T) {
	t.Parallel()

	api := &fakeOpenAiBatchAPI{
		t: t,
		createErr: map[string]any{
			"message": "Enqueued token limit reached for gpt-4o in organization org-1.",
			"type":    "invalid_request_error",
		},
	}
	provider, _ := newTestOpenAiProvider(t, api)

	artifact, err := provider.EncodeBatch(t.Context(), calls.NewSliceSource("in", testRequest("a", "gpt-4o", false)))
	require.NoError(t, err)

	_, err = provider.SubmitBatch(t.Context(), artifact)
	require.ErrorIs(t, err, resources.ErrQuotaExhausted)
	require.NotErrorIs(t, err, resources.ErrRateLimited)
}

func TestOpenAiSubmitOtherErrorIsNotQuota(t *testing.T) {
	t.Parallel()

	api := &fakeOpenAiBatchAPI{
		t:         t,
		createErr: map[string]any{"message": "invalid endpoint", "type": "invalid_request_error"},
	}
	provider, _ := newTestOpenAiProvider(t, api)

	_, err := provider.SubmitBatch(t.Context(), &resources.BatchArtifact{Name: "x.jsonl", Content: []byte("{}\n"), Count: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, resources.ErrQuotaExhausted)
}

func TestOpenAiEncodeEmptyBatch(t *testing.T) {
	t.Parallel()

	provider := NewOpenAiProvider("gpt", testConfig(resources.ProviderOpenAi), resourcestest.NewLogger(t))

	_, err := provider.EncodeBatch(t.Context(), calls.NewSliceSource("empty"))
	require.ErrorIs(t, err, resources.ErrEmptyBatch)
}

func TestOpenAiDecodeBatchResult(t *testing.T) {
	t.Parallel()

	provider := NewOpenAiProvider("gpt", testConfig(resources.ProviderOpenAi), resourcestest.NewLogger(t))
	index := testIndex(t, testRequest("a", "m", false), testRequest("b", "m", false), testRequest("c", "m", false), testRequest("d", "m", false))

	t.Run("per row failures", func(t *testing.T) {
		t.Parallel()

		artifact := strings.Join([]string{
			`{"custom_id":"a","response":{"status_code":200,"body":{"ok":true}}}`,
			`{"custom_id":"b","error":{"code":"server_error","message":"boom"}}`,
			`{"custom_id":"c","response":{"status_code":400,"body":{"error":{"message":"too long","code":"context_length_exceeded"}}}}`,
			`not json`,
			`{"custom_id":"zzz","response":{"status_code":200,"body":{}}}`,
		}, "\n")

		outputs, err := provider.DecodeBatchResult(t.Context(), []byte(artifact), index)
		require.NoError(t, err)
		require.Len(t, outputs, 6)

		assert.False(t, outputs[0].Failed())
		assert.Equal(t, "server_error: boom", outputs[1].ErrorMessage())
		assert.Contains(t, outputs[2].ErrorMessage(), "too long")
		assert.Equal(t, "d", outputs[3].CustomID)
		assert.Equal(t, calls.MessageNoResult, outputs[3].ErrorMessage())
		assert.Contains(t, outputs[4].ErrorMessage(), "line 4")
		assert.Equal(t, "zzz", outputs[5].CustomID)
		assert.True(t, outputs[5].Failed())
	})

	t.Run("duplicate rows are fatal", func(t *testing.T) {
		t.Parallel()

		artifact := `{"custom_id":"a","response":{"status_code":200,"body":{}}}` + "\n" +
			`{"custom_id":"a","response":{"status_code":200,"body":{}}}`

		_, err := provider.DecodeBatchResult(t.Context(), []byte(artifact), index)
		require.ErrorIs(t, err, calls.ErrDuplicateCustomID)
	})
}

func TestOpenAiJobState(t *testing.T) {
	t.Parallel()

	tests := map[string]resources.JobState{
		"validating":  resources.JobStateRunning,
		"in_progress": resources.JobStateRunning,
		"finalizing":  resources.JobStateRunning,
		"cancelling":  resources.JobStateRunning,
		"completed":   resources.JobStateSucceeded,
		"failed":      resources.JobStateFailed,
		"cancelled":   resources.JobStateCanceled,
		"canceled":    resources.JobStateCanceled,
		"expired":     resources.JobStateExpired,
	}

	for status, want := range tests {
		assert.Equal(t, want, openAiJobState(status), status)
	}
}
