package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStore implements Store on Azure Blob Storage.
type AzureStore struct {
	containerURL azblob.ContainerURL
	prefix       string
}

// NewAzureStore creates an Azure-backed store using shared key credentials.
func NewAzureStore(config *AzureConfig) (*AzureStore, error) {
	if config == nil {
		return nil, fmt.Errorf("Azure storage configuration is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Azure storage configuration: %w", err)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credentials: %w", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Azure service URL: %w", err)
	}

	return &AzureStore{
		containerURL: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		prefix:       config.Prefix,
	}, nil
}

func (a *AzureStore) blobURL(key string) azblob.BlockBlobURL {
	return a.containerURL.NewBlockBlobURL(a.prefix + sanitizeKey(key))
}

// Put streams r to a block blob in 4MB blocks.
func (a *AzureStore) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := azblob.UploadStreamToBlockBlob(ctx, r, a.blobURL(key), azblob.UploadStreamToBlockBlobOptions{
		BufferSize: 4 * 1024 * 1024,
		MaxBuffers: 4,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s to Azure: %w", key, err)
	}
	return nil
}

// Get downloads the blob and returns its body stream with retries on
// transient read failures.
func (a *AzureStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := a.blobURL(key).Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download object %s from Azure: %w", key, err)
	}
	return resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3}), nil
}

// Delete removes the blob.
func (a *AzureStore) Delete(ctx context.Context, key string) error {
	_, err := a.blobURL(key).Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		if isAzureNotFound(err) {
			return fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("failed to delete object %s from Azure: %w", key, err)
	}
	return nil
}

// List pages through the container and returns keys under the prefix.
func (a *AzureStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := a.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: a.prefix + prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects from Azure: %w", err)
		}
		for _, item := range resp.Segment.BlobItems {
			keys = append(keys, strings.TrimPrefix(item.Name, a.prefix))
		}
		marker = resp.NextMarker
	}
	return keys, nil
}

// HealthCheck verifies container access.
func (a *AzureStore) HealthCheck(ctx context.Context) error {
	if _, err := a.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return fmt.Errorf("Azure health check failed: container not accessible: %w", err)
	}
	return nil
}

func isAzureNotFound(err error) bool {
	if stgErr, ok := err.(azblob.StorageError); ok {
		return stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound
	}
	return false
}
