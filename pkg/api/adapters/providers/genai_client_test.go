package providers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eser/aicaller/pkg/api/adapters/genai_batch"
	"github.com/eser/aicaller/pkg/api/business/calls"
	"github.com/eser/aicaller/pkg/api/business/resources"
	"github.com/eser/aicaller/pkg/api/business/resources/resourcestest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const geminiResponse = `{"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"},{"text":"lo"}]},"finishReason":"STOP"}]}`

func newTestGenAiProvider(t *testing.T, handler http.Handler) (*GenAiProvider, *resourcestest.FakeClock) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	clock := resourcestest.NewFakeClock()

	provider, err := NewGenAiProvider(
		"gemini",
		testConfig(resources.ProviderGoogleGenAi),
		resourcestest.NewLogger(t),
		WithClock(clock),
		withEndpoint(server.URL),
	)
	require.NoError(t, err)

	return provider, clock
}

func TestGenAiRequest(t *testing.T) {
	t.Parallel()

	t.Run("roles and system instruction", func(t *testing.T) {
		t.Parallel()

		body := calls.Body{
			Model: "gemini-2.0-flash",
			Messages: []calls.Message{
				{Role: calls.RoleSystem, Parts: []calls.Part{calls.TextPart("be brief")}},
				{Role: calls.RoleUser, Parts: []calls.Part{calls.TextPart("hi"), calls.BinaryPart("image/png", []byte{1, 2})}},
				{Role: calls.RoleAssistant, Parts: []calls.Part{calls.TextPart("hello")}},
			},
			Format:  json.RawMessage(`{"type":"object"}`),
			Options: calls.NewOptions(),
		}
		require.NoError(t, body.Options.Set("temperature", 0.3))
		require.NoError(t, body.Options.Set("structured", true))

		request, err := genAiRequest(body)
		require.NoError(t, err)

		raw, err := json.Marshal(request)
		require.NoError(t, err)

		assert.JSONEq(t, `{
			"systemInstruction": {"parts": [{"text": "be brief"}]},
			"contents": [
				{"role": "user", "parts": [{"text": "hi"}, {"inlineData": {"mimeType": "image/png", "data": "AQI="}}]},
				{"role": "model", "parts": [{"text": "hello"}]}
			],
			"generationConfig": {
				"temperature": 0.3,
				"responseMimeType": "application/json",
				"responseJsonSchema": {"type": "object"}
			}
		}`, string(raw))
	})

	t.Run("multi part system message", func(t *testing.T) {
		t.Parallel()

		body := calls.Body{
			Model: "gemini-2.0-flash",
			Messages: []calls.Message{
				{Role: calls.RoleSystem, Parts: []calls.Part{calls.TextPart("a"), calls.TextPart("b")}},
				{Role: calls.RoleUser, Parts: []calls.Part{calls.TextPart("hi")}},
			},
		}

		_, err := genAiRequest(body)
		require.ErrorIs(t, err, ErrMultiPartSystemMessage)
	})

	t.Run("no generation config without options", func(t *testing.T) {
		t.Parallel()

		request, err := genAiRequest(testRequest("a", "gemini-2.0-flash", false).Body)
		require.NoError(t, err)
		assert.Nil(t, request.GenerationConfig)
		assert.Nil(t, request.SystemInstruction)
	})
}

func TestWithGenAiText(t *testing.T) {
	t.Parallel()

	body, err := withGenAiText(json.RawMessage(geminiResponse))
	require.NoError(t, err)

	var decoded calls.Options
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, []string{"candidates", "text"}, decoded.Keys())

	text, _ := decoded.Get("text")
	assert.JSONEq(t, `"Hello"`, string(text))

	empty, err := withGenAiText(json.RawMessage(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"promptFeedback":{"blockReason":"SAFETY"},"text":null}`, string(empty))

	_, err = withGenAiText(json.RawMessage(`"nope"`))
	require.Error(t, err)
}

func TestGenAiProcessSingleRequest(t *testing.T) {
	t.Parallel()

	t.Run("unavailable is retried after the pool interval", func(t *testing.T) {
		t.Parallel()

		var attempts atomic.Int32

		provider, clock := newTestGenAiProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))

			switch attempts.Add(1) {
			case 1:
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"error": map[string]any{"code": 503, "message": "The model is overloaded.", "status": "UNAVAILABLE"},
				})
			case 2:
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error": map[string]any{"code": 429, "message": "Resource exhausted.", "status": "RESOURCE_EXHAUSTED"},
				})
			default:
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(geminiResponse))
			}
		}))

		output := provider.ProcessSingleRequest(t.Context(), testRequest("a", "gemini-2.0-flash", true))
		require.False(t, output.Failed(), output.ErrorMessage())
		assert.True(t, output.Response.Structured)
		assert.Contains(t, string(output.Response.Body), `"text":"Hello"`)
		assert.Equal(t, []time.Duration{testPoolInterval, testPoolInterval}, clock.Sleeps())
	})

	t.Run("bad request becomes output error", func(t *testing.T) {
		t.Parallel()

		provider, clock := newTestGenAiProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"code": 400, "message": "Invalid argument.", "status": "INVALID_ARGUMENT"},
			})
		}))

		output := provider.ProcessSingleRequest(t.Context(), testRequest("a", "gemini-2.0-flash", false))
		require.True(t, output.Failed())
		assert.Contains(t, output.ErrorMessage(), "Invalid argument.")
		assert.Zero(t, clock.SleepCount())
	})

	t.Run("multi part system message becomes output error", func(t *testing.T) {
		t.Parallel()

		provider, _ := newTestGenAiProvider(t, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			t.Errorf("unexpected request %s", r.URL.Path)
		}))

		req := testRequest("a", "gemini-2.0-flash", false)
		req.Body.Messages = append([]calls.Message{{
			Role:  calls.RoleSystem,
			Parts: []calls.Part{calls.TextPart("a"), calls.TextPart("b")},
		}}, req.Body.Messages...)

		output := provider.ProcessSingleRequest(t.Context(), req)
		require.True(t, output.Failed())
		assert.Contains(t, output.ErrorMessage(), "single-part")
	})
}

func TestGenAiEncodeBatchMixedModels(t *testing.T) {
	t.Parallel()

	provider, _ := newTestGenAiProvider(t, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	}))

	src := calls.NewSliceSource("in", testRequest("a", "gemini-2.0-flash", false), testRequest("b", "gemini-1.5-pro", false))

	_, err := provider.EncodeBatch(t.Context(), src)
	require.ErrorIs(t, err, resources.ErrMixedModelBatch)
	assert.Contains(t, err.Error(), "gemini-1.5-pro")
	assert.Contains(t, err.Error(), "gemini-2.0-flash")
}

type fakeGenAiBatchAPI struct {
	t         *testing.T
	states    []string
	responses string
	uploaded  atomic.Value
	polled    atomic.Int32
	rejection string
}

func (f *fakeGenAiBatchAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/upload/v1beta/files":
		f.uploaded.Store(string(readBody(f.t, r)))
		writeJSON(w, http.StatusOK, map[string]any{"file": map[string]any{"name": "files/in-1"}})
	case r.Method == http.MethodPost && r.URL.Path == "/v1beta/models/gemini-2.0-flash:batchGenerateContent":
		if f.rejection != "" {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": map[string]any{"code": 429, "message": f.rejection, "status": "RESOURCE_EXHAUSTED"},
			})

			return
		}

		var req map[string]any
		assert.NoError(f.t, json.Unmarshal(readBody(f.t, r), &req))
		assert.Equal(f.t, "files/in-1", req["batch"].(map[string]any)["inputConfig"].(map[string]any)["fileName"])

		writeJSON(w, http.StatusOK, map[string]any{
			"name":     "batches/b-1",
			"metadata": map[string]any{"name": "batches/b-1", "state": "BATCH_STATE_PENDING"},
		})
	case r.Method == http.MethodGet && r.URL.Path == "/v1beta/batches/b-1":
		n := int(f.polled.Add(1)) - 1
		if n >= len(f.states) {
			n = len(f.states) - 1
		}

		metadata := map[string]any{"name": "batches/b-1", "state": f.states[n]}
		if strings.HasSuffix(f.states[n], "SUCCEEDED") {
			metadata["output"] = map[string]any{"responsesFile": "files/out-1"}
		}

		writeJSON(w, http.StatusOK, map[string]any{"name": "batches/b-1", "metadata": metadata})
	case r.Method == http.MethodGet && r.URL.Path == "/download/v1beta/files/out-1:download":
		_, _ = w.Write([]byte(f.responses))
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestGenAiBatchCycle(t *testing.T) {
	t.Parallel()

	requests := []calls.Request{
		testRequest("a", "gemini-2.0-flash", true),
		testRequest("b", "gemini-2.0-flash", false),
		testRequest("c", "gemini-2.0-flash", false),
	}

	api := &fakeGenAiBatchAPI{
		t:      t,
		states: []string{"BATCH_STATE_PENDING", "BATCH_STATE_RUNNING", "BATCH_STATE_SUCCEEDED"},
		responses: strings.Join([]string{
			`{"key":"c","error":{"code":400,"message":"blocked"}}`,
			`{"key":"a","response":` + geminiResponse + `}`,
			`{"key":"b","response":"garbage"}`,
		}, "\n"),
	}

	provider, clock := newTestGenAiProvider(t, api)

	artifact, err := provider.EncodeBatch(t.Context(), calls.NewSliceSource("in.jsonl", requests...))
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", artifact.Model)

	job, err := provider.SubmitBatch(t.Context(), artifact)
	require.NoError(t, err)
	assert.Equal(t, "batches/b-1", job.ID)
	assert.Equal(t, resources.JobStateRunning, job.State)

	uploaded, _ := api.uploaded.Load().(string)
	assert.Contains(t, uploaded, `"key":"a"`)
	assert.Contains(t, uploaded, `"request":{"contents"`)

	content, err := provider.PollUntilTerminal(t.Context(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, clock.SleepCount())
	assert.Equal(t, resources.JobStateSucceeded, job.State)

	outputs, err := provider.DecodeBatchResult(t.Context(), content, testIndex(t, requests...))
	require.NoError(t, err)
	require.Len(t, outputs, 3)

	assert.Equal(t, "a", outputs[0].CustomID)
	require.False(t, outputs[0].Failed())
	assert.True(t, outputs[0].Response.Structured)
	assert.Contains(t, string(outputs[0].Response.Body), `"text":"Hello"`)

	assert.Contains(t, outputs[1].ErrorMessage(), "failed to parse response for key b")
	assert.Equal(t, "blocked", outputs[2].ErrorMessage())
}

func TestGenAiBatchFailedJob(t *testing.T) {
	t.Parallel()

	api := &fakeGenAiBatchAPI{t: t, states: []string{"BATCH_STATE_RUNNING", "BATCH_STATE_EXPIRED"}}
	provider, _ := newTestGenAiProvider(t, api)

	_, err := provider.PollUntilTerminal(t.Context(), &resources.BatchJob{ID: "batches/b-1"})

	var failed *resources.JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, resources.JobStateExpired, failed.State)
	assert.Equal(t, "BATCH_STATE_EXPIRED", failed.ProviderState)
}

func TestGenAiSubmitQuotaExhausted(t *testing.T) {
	t.Parallel()

	api := &fakeGenAiBatchAPI{t: t, rejection: genai_batch.MessageEnqueuedLimit + " model gemini-2.0-flash."}
	provider, _ := newTestGenAiProvider(t, api)

	artifact, err := provider.EncodeBatch(t.Context(), calls.NewSliceSource("in", testRequest("a", "gemini-2.0-flash", false)))
	require.NoError(t, err)

	_, err = provider.SubmitBatch(t.Context(), artifact)
	require.ErrorIs(t, err, resources.ErrQuotaExhausted)
}

func TestGenAiSubmitOtherErrorIsNotQuota(t *testing.T) {
	t.Parallel()

	api := &fakeGenAiBatchAPI{t: t, rejection: "Resource has been exhausted"}
	provider, _ := newTestGenAiProvider(t, api)

	artifact, err := provider.EncodeBatch(t.Context(), calls.NewSliceSource("in", testRequest("a", "gemini-2.0-flash", false)))
	require.NoError(t, err)

	_, err = provider.SubmitBatch(t.Context(), artifact)
	require.Error(t, err)
	assert.NotErrorIs(t, err, resources.ErrQuotaExhausted)
	assert.NotErrorIs(t, err, resources.ErrRateLimited)
}

func TestGenAiJobState(t *testing.T) {
	t.Parallel()

	tests := map[string]resources.JobState{
		"JOB_STATE_QUEUED":      resources.JobStateRunning,
		"BATCH_STATE_PENDING":   resources.JobStateRunning,
		"JOB_STATE_CANCELLING":  resources.JobStateRunning,
		"JOB_STATE_SUCCEEDED":   resources.JobStateSucceeded,
		"BATCH_STATE_SUCCEEDED": resources.JobStateSucceeded,
		"BATCH_STATE_FAILED":    resources.JobStateFailed,
		"JOB_STATE_CANCELLED":   resources.JobStateCanceled,
		"BATCH_STATE_EXPIRED":   resources.JobStateExpired,
	}

	for state, want := range tests {
		assert.Equal(t, want, genAiJobState(genai_batch.JobState(state)), state)
	}
}
