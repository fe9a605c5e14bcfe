package openai_batch

import (
	"encoding/json"
	"fmt"
)

// APIError is a non-2xx response of the OpenAI API.
type APIError struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Param      string `json:"param"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api request failed with status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("api request failed with status %d: %s", e.StatusCode, e.Message)
}

func parseAPIError(statusCode int, body []byte) *APIError {
	var envelope struct {
		Error *APIError `json:"error"`
	}

	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil && envelope.Error.Message != "" {
		envelope.Error.StatusCode = statusCode

		return envelope.Error
	}

	return &APIError{StatusCode: statusCode, Message: string(body)}
}
