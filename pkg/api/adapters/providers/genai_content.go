package providers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eser/aicaller/pkg/api/adapters/genai_batch"
	"github.com/eser/aicaller/pkg/api/business/calls"
)

var ErrMultiPartSystemMessage = errors.New("google genai supports only single-part text system messages")

var genAiConfigBlacklist = []string{"type", "structured", "format", "model", "messages", "system_instruction"}

// genAiRequest converts a request body into the Gemini request shape. The
// first system message becomes the system instruction; assistant turns are
// sent with the model role.
func genAiRequest(body calls.Body) (*genai_batch.GenerateContentRequest, error) {
	request := &genai_batch.GenerateContentRequest{
		Contents: make([]genai_batch.Content, 0, len(body.Messages)),
	}

	for _, m := range body.Messages {
		if m.Role == calls.RoleSystem {
			if request.SystemInstruction != nil {
				continue
			}

			if len(m.Parts) != 1 || !m.Parts[0].IsText() {
				return nil, fmt.Errorf("%w: got %d parts", ErrMultiPartSystemMessage, len(m.Parts))
			}

			request.SystemInstruction = &genai_batch.Content{
				Parts: []genai_batch.Part{{Text: m.Parts[0].Text}},
			}

			continue
		}

		role := string(m.Role)
		if m.Role == calls.RoleAssistant {
			role = string(calls.RoleModel)
		}

		request.Contents = append(request.Contents, genai_batch.Content{Role: role, Parts: genAiParts(m.Parts)})
	}

	config, err := genAiGenerationConfig(body)
	if err != nil {
		return nil, err
	}

	request.GenerationConfig = config

	return request, nil
}

func genAiParts(parts []calls.Part) []genai_batch.Part {
	out := make([]genai_batch.Part, 0, len(parts))

	for _, part := range parts {
		if part.IsText() {
			out = append(out, genai_batch.Part{Text: part.Text})

			continue
		}

		out = append(out, genai_batch.Part{
			InlineData: &genai_batch.Blob{
				MimeType: part.MimeType,
				Data:     base64.StdEncoding.EncodeToString(part.Data),
			},
		})
	}

	return out
}

// genAiGenerationConfig merges the passthrough options with the structured
// output settings. It returns nil when nothing is configured.
func genAiGenerationConfig(body calls.Body) (json.RawMessage, error) {
	config := body.Options.Without(genAiConfigBlacklist...)

	if body.HasFormat() {
		if err := config.Set("responseMimeType", "application/json"); err != nil {
			return nil, err
		}

		if err := config.Set("responseJsonSchema", body.Format); err != nil {
			return nil, err
		}
	}

	if config.Len() == 0 {
		return nil, nil //nolint:nilnil
	}

	return json.Marshal(config)
}

// withGenAiText validates a raw GenerateContentResponse and appends a
// top-level "text" field holding the concatenated text of the first
// candidate.
func withGenAiText(raw json.RawMessage) (json.RawMessage, error) {
	var response genai_batch.GenerateContentResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("invalid generate content response: %w", err)
	}

	var body calls.Options
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("invalid generate content response: %w", err)
	}

	var text any
	if len(response.Candidates) > 0 {
		text = response.Text()
	}

	if err := body.Set("text", text); err != nil {
		return nil, err
	}

	return json.Marshal(body)
}
