package resources

import (
	"fmt"
	"time"
)

const (
	DefaultPoolInterval            = 300 * time.Second
	DefaultProcessRequestsInterval = 1 * time.Second
	DefaultRequestTimeout          = 30 * time.Second
)

type ConfigResource struct {
	Provider string `conf:"PROVIDER"`
	ApiKey   string `conf:"API_KEY"`
	BaseUrl  string `conf:"BASE_URL"`

	// OpenAI-compatible batch settings.
	BatchEndpoint    string `conf:"BATCH_ENDPOINT"    default:"/v1/chat/completions"`
	CompletionWindow string `conf:"COMPLETION_WINDOW" default:"24h"`

	PoolInterval            time.Duration `conf:"POOL_INTERVAL"             default:"300s"`
	ProcessRequestsInterval time.Duration `conf:"PROCESS_REQUESTS_INTERVAL" default:"1s"`
	RequestTimeout          time.Duration `conf:"REQUEST_TIMEOUT"           default:"30s"`
	Disabled                bool          `conf:"DISABLED"                  default:"false"`
}

type Config map[string]ConfigResource

// Validate checks the resource definition stored under key.
func (c *ConfigResource) Validate(key string) error {
	switch c.Provider {
	case "":
		return fmt.Errorf("%w: resource '%s' has no provider", ErrInvalidConfig, key)
	case ProviderOpenAi, ProviderGoogleGenAi:
		if c.ApiKey == "" {
			return fmt.Errorf("%w: resource '%s' requires an api key", ErrInvalidConfig, key)
		}
	}

	if c.Provider == ProviderGoogleGenAi && c.BaseUrl != "" {
		return fmt.Errorf("%w: resource '%s': provider %s does not accept a custom base url", ErrInvalidConfig, key, c.Provider)
	}

	if c.PoolInterval < 0 {
		return fmt.Errorf("%w: resource '%s': pool interval must be positive, got %s", ErrInvalidConfig, key, c.PoolInterval)
	}

	if c.ProcessRequestsInterval < 0 {
		return fmt.Errorf("%w: resource '%s': process requests interval must not be negative, got %s", ErrInvalidConfig, key, c.ProcessRequestsInterval)
	}

	return nil
}

// Intervals resolves the configured delays; unset values fall back to the
// defaults.
func (c *ConfigResource) Intervals() Intervals {
	intervals := Intervals{
		Pool:            c.PoolInterval,
		ProcessRequests: c.ProcessRequestsInterval,
	}

	if intervals.Pool <= 0 {
		intervals.Pool = DefaultPoolInterval
	}

	if intervals.ProcessRequests < 0 {
		intervals.ProcessRequests = DefaultProcessRequestsInterval
	}

	return intervals
}

func (c *ConfigResource) Timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}

	return c.RequestTimeout
}
