package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Store implements Store on Amazon S3. Uploads go through the multipart
// uploader so arbitrarily large objects stream without buffering.
type S3Store struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store creates an S3-backed store.
func NewS3Store(config *S3Config) (*S3Store, error) {
	if config == nil {
		return nil, fmt.Errorf("S3 storage configuration is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid S3 storage configuration: %w", err)
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := s3.New(sess)
	return &S3Store{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   config.Bucket,
		prefix:   config.Prefix,
	}, nil
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + sanitizeKey(key)
}

// Put streams r to S3 via the multipart uploader.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s to S3: %w", key, err)
	}
	return nil
}

// Get opens the S3 object body for streaming reads.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download object %s from S3: %w", key, err)
	}
	return result.Body, nil
}

// Delete removes the S3 object, checking existence first so missing keys
// surface as ErrNotFound.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	objectKey := s.objectKey(key)

	if _, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("failed to check object %s in S3: %w", key, err)
	}

	if _, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return fmt.Errorf("failed to delete object %s from S3: %w", key, err)
	}
	return nil
}

// List pages through the bucket and returns keys under the prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.StringValue(obj.Key), s.prefix))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects from S3: %w", err)
	}
	return keys, nil
}

// HealthCheck verifies bucket access and list permissions.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return fmt.Errorf("S3 health check failed: bucket not accessible: %w", err)
	}
	if _, err := s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.prefix),
		MaxKeys: aws.Int64(1),
	}); err != nil {
		return fmt.Errorf("S3 health check failed: cannot list objects: %w", err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
