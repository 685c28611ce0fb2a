// Package blob provides durable keyed byte storage behind a single Store
// interface, with local filesystem, Amazon S3, Google Cloud Storage and Azure
// Blob Storage providers. The engine uses it for three concerns: finalized
// archives, asset binaries, and the job ledger.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get and Delete when no object exists at the key.
var ErrNotFound = errors.New("blob: object not found")

// Store abstracts keyed byte storage. Put and Get stream their content so
// objects larger than available memory pass through without buffering.
type Store interface {
	// Put stores the content of r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens the object at key for reading. The caller owns the returned
	// stream and must close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error

	// List returns the keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// HealthCheck verifies that the store is accessible and functional.
	HealthCheck(ctx context.Context) error
}

// ProviderType identifies a storage backend.
type ProviderType string

const (
	ProviderLocal ProviderType = "local"
	ProviderS3    ProviderType = "s3"
	ProviderGCS   ProviderType = "gcs"
	ProviderAzure ProviderType = "azure"
)

// Config selects and configures a storage provider.
type Config struct {
	Provider ProviderType `mapstructure:"provider" json:"provider"`
	Local    *LocalConfig `mapstructure:"local" json:"local,omitempty"`
	S3       *S3Config    `mapstructure:"s3" json:"s3,omitempty"`
	GCS      *GCSConfig   `mapstructure:"gcs" json:"gcs,omitempty"`
	Azure    *AzureConfig `mapstructure:"azure" json:"azure,omitempty"`
}

// LocalConfig configures filesystem storage.
type LocalConfig struct {
	BasePath string `mapstructure:"base_path" json:"base_path"`
}

// Validate validates the local storage configuration.
func (c *LocalConfig) Validate() error {
	if c.BasePath == "" {
		return errors.New("local storage base path is required")
	}
	return nil
}

// S3Config configures Amazon S3 storage.
type S3Config struct {
	Region    string `mapstructure:"region" json:"region"`
	Bucket    string `mapstructure:"bucket" json:"bucket"`
	AccessKey string `mapstructure:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" json:"-"`
	Prefix    string `mapstructure:"prefix" json:"prefix"`
}

// Validate validates the S3 storage configuration.
func (c *S3Config) Validate() error {
	if c.Region == "" {
		return errors.New("S3 region is required")
	}
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// GCSConfig configures Google Cloud Storage.
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" json:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" json:"credentials_path"`
	Prefix          string `mapstructure:"prefix" json:"prefix"`
}

// Validate validates the GCS storage configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return errors.New("GCS bucket is required")
	}
	return nil
}

// AzureConfig configures Azure Blob Storage.
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" json:"account_name"`
	AccountKey    string `mapstructure:"account_key" json:"-"`
	ContainerName string `mapstructure:"container_name" json:"container_name"`
	Prefix        string `mapstructure:"prefix" json:"prefix"`
}

// Validate validates the Azure storage configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return errors.New("Azure account name is required")
	}
	if c.AccountKey == "" {
		return errors.New("Azure account key is required")
	}
	if c.ContainerName == "" {
		return errors.New("Azure container name is required")
	}
	return nil
}

// Validate validates the provider selection and its settings.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderLocal:
		if c.Local == nil {
			return errors.New("local storage configuration is required")
		}
		return c.Local.Validate()
	case ProviderS3:
		if c.S3 == nil {
			return errors.New("S3 storage configuration is required")
		}
		return c.S3.Validate()
	case ProviderGCS:
		if c.GCS == nil {
			return errors.New("GCS storage configuration is required")
		}
		return c.GCS.Validate()
	case ProviderAzure:
		if c.Azure == nil {
			return errors.New("Azure storage configuration is required")
		}
		return c.Azure.Validate()
	default:
		return errors.New("unsupported storage provider: " + string(c.Provider))
	}
}
