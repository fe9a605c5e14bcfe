package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/eser/ajan/logfx"
	"github.com/eser/aicaller/pkg/api/business/calls"
	"github.com/eser/aicaller/pkg/api/business/resources"
)

//go:generate go tool mockery --name=Provider --inpackage --inpackage-suffix --case=underscore --structname=MockProvider --filename=mock_provider.go
type Provider resources.Provider

type Option func(*base)

func WithClock(clock resources.Clock) Option {
	return func(b *base) {
		b.clock = clock
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(b *base) {
		b.httpClient = httpClient
	}
}

// withEndpoint points the provider at another server. Unlike the base url
// setting it is honored by every provider, including those that reject a
// configured base url.
func withEndpoint(endpoint string) Option {
	return func(b *base) {
		b.endpoint = endpoint
	}
}

// base carries what every provider variant shares.
type base struct {
	config     *resources.ConfigResource
	logger     *logfx.Logger
	clock      resources.Clock
	httpClient *http.Client
	name       string
	kind       string
	endpoint   string
}

func newBase(kind string, name string, config *resources.ConfigResource, logger *logfx.Logger, opts ...Option) base {
	b := base{
		config:   config,
		logger:   logger,
		clock:    resources.SystemClock{},
		name:     name,
		kind:     kind,
		endpoint: config.BaseUrl,
	}

	for _, opt := range opts {
		opt(&b)
	}

	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: config.Timeout()}
	}

	return b
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Kind() string {
	return b.kind
}

func (b *base) Intervals() resources.Intervals {
	return b.config.Intervals()
}

func (b *base) failure(ctx context.Context, req calls.Request, err error) calls.Output {
	b.logger.WarnContext(
		ctx,
		"[Providers] Request failed",
		slog.String("module", "providers"),
		slog.String("provider", b.name),
		slog.String("custom_id", req.CustomID),
		slog.Any("error", err),
	)

	return calls.NewFailure(req.CustomID, err.Error())
}

func (b *base) unsupported(operation string) error {
	return fmt.Errorf("%w: %s does not support %s", resources.ErrUnsupportedOperation, b.kind, operation)
}

// providerError keeps err as the cause of a classified provider error.
type providerError struct {
	*resources.ProviderError
	cause error
}

func (e *providerError) Unwrap() []error {
	return []error{e.ProviderError, e.cause}
}

func (b *base) classify(err error, kind resources.ErrorKind, statusCode int, code string, message string) error {
	if err == nil {
		return nil
	}

	return &providerError{
		ProviderError: &resources.ProviderError{
			Provider:   b.name,
			Kind:       kind,
			StatusCode: statusCode,
			Code:       code,
			Message:    message,
		},
		cause: err,
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Register makes every provider kind available to the resources service.
func Register(service *resources.Service, logger *logfx.Logger, opts ...Option) {
	service.AddProvider(resources.ProviderOpenAi, func(key string, config *resources.ConfigResource) (resources.Provider, error) {
		return NewOpenAiProvider(key, config, logger, opts...), nil
	})

	service.AddProvider(resources.ProviderOllama, func(key string, config *resources.ConfigResource) (resources.Provider, error) {
		return NewOllamaProvider(key, config, logger, opts...), nil
	})

	service.AddProvider(resources.ProviderGoogleGenAi, func(key string, config *resources.ConfigResource) (resources.Provider, error) {
		provider, err := NewGenAiProvider(key, config, logger, opts...)
		if err != nil {
			return nil, err
		}

		return provider, nil
	})

	service.AddProvider(resources.ProviderEcho, func(key string, config *resources.ConfigResource) (resources.Provider, error) {
		return NewEchoProvider(key, config, logger, opts...), nil
	})
}
