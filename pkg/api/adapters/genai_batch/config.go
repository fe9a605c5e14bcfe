package genai_batch

import "time"

// Config holds the configuration for the Gemini Developer API client.
type Config struct {
	APIKey     string        `conf:"API_KEY"     default:""`
	BaseURL    string        `conf:"BASE_URL"    default:"https://generativelanguage.googleapis.com"`
	APIVersion string        `conf:"API_VERSION" default:"v1beta"`
	Timeout    time.Duration `conf:"TIMEOUT"     default:"60s"`
}
