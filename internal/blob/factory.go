package blob

import (
	"context"
	"fmt"
)

// Factory creates stores from configuration.
type Factory struct{}

// NewFactory creates a new store factory.
func NewFactory() *Factory {
	return &Factory{}
}

// CreateStore creates a blob store for the configured provider.
func (f *Factory) CreateStore(ctx context.Context, config Config) (Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}

	switch config.Provider {
	case ProviderLocal:
		return NewLocalStore(config.Local)
	case ProviderS3:
		return NewS3Store(config.S3)
	case ProviderGCS:
		return NewGCSStore(ctx, config.GCS)
	case ProviderAzure:
		return NewAzureStore(config.Azure)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", config.Provider)
	}
}

// SupportedProviders returns the provider types the factory can create.
func (f *Factory) SupportedProviders() []ProviderType {
	return []ProviderType{ProviderLocal, ProviderS3, ProviderGCS, ProviderAzure}
}
