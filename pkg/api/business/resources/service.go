package resources

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/eser/ajan/logfx"
)

type ProviderFn = func(key string, config *ConfigResource) (Provider, error)

type Service struct {
	config *Config
	logger *logfx.Logger

	providers map[string]ProviderFn
	resources map[string]Provider
}

func NewService(config *Config, logger *logfx.Logger) *Service {
	return &Service{
		config: config,
		logger: logger,

		providers: make(map[string]ProviderFn),
		resources: make(map[string]Provider),
	}
}

func (s *Service) AddProvider(key string, providerFn ProviderFn) {
	s.providers[key] = providerFn

	s.logger.Debug("[Resources] Provider added", "module", "resources", "key", key)
}

func (s *Service) AddResource(key string, config ConfigResource) error {
	if err := config.Validate(key); err != nil {
		return err
	}

	providerFn, okProviderFn := s.providers[config.Provider]
	if !okProviderFn {
		return fmt.Errorf("%w: '%s' for resource '%s'", ErrProviderNotFound, config.Provider, key)
	}

	resource, err := providerFn(key, &config)
	if err != nil {
		return fmt.Errorf("failed to create resource '%s': %w", key, err)
	}

	s.resources[key] = resource

	s.logger.Debug(
		"[Resources] Resource added",
		slog.String("module", "resources"),
		slog.String("key", key),
		slog.String("provider", config.Provider),
		slog.String("base_url", config.BaseUrl),
	)

	return nil
}

func (s *Service) Init() error {
	s.logger.Debug("[Resources] Loading resources from config", "module", "resources")

	keys := make([]string, 0, len(*s.config))
	for key := range *s.config {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	for _, key := range keys {
		resourceConfig := (*s.config)[key]

		if resourceConfig.Disabled {
			s.logger.Debug("[Resources] Skipping disabled resource", "module", "resources", "key", key)

			continue
		}

		err := s.AddResource(key, resourceConfig)
		if err != nil {
			return err
		}
	}

	s.logger.Debug("[Resources] Resources loaded from config", "module", "resources", "count", len(s.resources))

	return nil
}

func (s *Service) GetResource(key string) (Provider, error) {
	resource, ok := s.resources[key]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrResourceNotFound, key)
	}

	return resource, nil
}

// ListResources returns the registered resource keys in sorted order.
func (s *Service) ListResources() []string {
	keys := make([]string, 0, len(s.resources))
	for key := range s.resources {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	return keys
}

// FindResource returns the resource registered under key. An empty key picks
// the first registered resource.
func (s *Service) FindResource(ctx context.Context, key string) (Provider, error) {
	if key != "" {
		return s.GetResource(key)
	}

	keys := s.ListResources()
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no resources configured", ErrResourceNotFound)
	}

	s.logger.DebugContext(ctx, "[Resources] No resource requested, using first available", "module", "resources", "resource", keys[0])

	return s.resources[keys[0]], nil
}
