package llm

import (
	"fmt"

	"smartmetal/internal/config"
	"smartmetal/internal/domain"
	"smartmetal/internal/port"
)

// ProviderFactory creates a ModelClient from a provider config.
type ProviderFactory func(cfg *config.ModelProviderConfig) (port.ModelClient, error)

// registry of provider factories, populated by init() in each provider package.
var providers = map[string]ProviderFactory{}

// RegisterProvider registers a provider factory by name.
func RegisterProvider(name string, factory ProviderFactory) {
	providers[name] = factory
}

// NewClient creates a ModelClient using the registered factory.
func NewClient(cfg *config.ModelProviderConfig) (port.ModelClient, error) {
	factory, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown model provider: %s", cfg.Provider)
	}
	return factory(cfg)
}

// NewInvokerFromConfig builds the ordered backend chain described by cfg.
func NewInvokerFromConfig(cfg *config.LLMConfig, opts ...Option) (*Invoker, error) {
	providerCfgs := cfg.Backends()
	if len(providerCfgs) == 0 {
		return nil, domain.ErrNoModelBackends
	}

	backends := make([]Backend, 0, len(providerCfgs))
	for i := range providerCfgs {
		client, err := NewClient(&providerCfgs[i])
		if err != nil {
			return nil, fmt.Errorf("creating %s client: %w", providerCfgs[i].Provider, err)
		}
		backends = append(backends, Backend{Client: client, MaxRetries: providerCfgs[i].MaxRetries})
	}

	base := []Option{
		WithRequestsPerSecond(cfg.RequestsPerSecond),
		WithRetryDelays(cfg.RetryBaseDelay, cfg.RetryMaxDelay),
	}
	return NewInvoker(backends, append(base, opts...)...), nil
}
