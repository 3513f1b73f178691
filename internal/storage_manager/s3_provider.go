package storage_manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrObjectNotFound is returned when an object does not exist in S3.
var ErrObjectNotFound = errors.New("object not found")

// S3Client defines the S3 operations needed by S3FileProvider.
type S3Client interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	PutObject(ctx context.Context, bucket, key string, data []byte) error
	HeadObject(ctx context.Context, bucket, key string) error
	DeleteObject(ctx context.Context, bucket, key string) error
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// S3FileProvider implements FileProvider backed by an S3 bucket. Object puts
// are atomic, so Write needs no temp-file dance. Append is emulated with a
// read-modify-write; the memory store serializes appends per user, which
// makes this safe for its access pattern.
type S3FileProvider struct {
	bucket   string
	prefix   string
	s3Client S3Client
}

// NewS3FileProvider creates a new S3 file provider.
func NewS3FileProvider(bucket, prefix string, s3Client S3Client) *S3FileProvider {
	return &S3FileProvider{
		bucket:   bucket,
		prefix:   prefix,
		s3Client: s3Client,
	}
}

// Read reads a file from S3.
func (p *S3FileProvider) Read(ctx context.Context, path string) ([]byte, error) {
	return p.s3Client.GetObject(ctx, p.bucket, p.getKey(path))
}

// Write writes data to S3.
func (p *S3FileProvider) Write(ctx context.Context, path string, data []byte) error {
	return p.s3Client.PutObject(ctx, p.bucket, p.getKey(path), data)
}

// Append appends data to an S3 object via read-modify-write.
func (p *S3FileProvider) Append(ctx context.Context, path string, data []byte) error {
	key := p.getKey(path)

	existing, err := p.s3Client.GetObject(ctx, p.bucket, key)
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		return err
	}

	combined := make([]byte, 0, len(existing)+len(data))
	combined = append(combined, existing...)
	combined = append(combined, data...)
	return p.s3Client.PutObject(ctx, p.bucket, key, combined)
}

// Exists checks if a file exists in S3.
func (p *S3FileProvider) Exists(ctx context.Context, path string) (bool, error) {
	err := p.s3Client.HeadObject(ctx, p.bucket, p.getKey(path))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes a file from S3.
func (p *S3FileProvider) Delete(ctx context.Context, path string) error {
	return p.s3Client.DeleteObject(ctx, p.bucket, p.getKey(path))
}

// List returns files matching a prefix in S3.
func (p *S3FileProvider) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.s3Client.ListObjects(ctx, p.bucket, p.getKey(prefix))
	if err != nil {
		return nil, err
	}

	// Remove the S3 prefix to get relative paths
	var result []string
	prefixLen := len(p.getKey(""))
	for _, key := range keys {
		if len(key) > prefixLen {
			result = append(result, key[prefixLen:])
		}
	}
	return result, nil
}

// getKey constructs the full S3 key by combining prefix and path.
func (p *S3FileProvider) getKey(path string) string {
	if p.prefix == "" {
		return path
	}
	return p.prefix + "/" + path
}

// AWSS3Client implements the S3Client interface using AWS SDK v2.
type AWSS3Client struct {
	s3Client *s3.Client
}

// NewAWSS3Client creates a new AWS S3 client.
func NewAWSS3Client(s3Client *s3.Client) *AWSS3Client {
	return &AWSS3Client{
		s3Client: s3Client,
	}
}

// GetObject retrieves an object from S3.
// Returns ErrObjectNotFound if the object doesn't exist.
func (c *AWSS3Client) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}

	result, err := c.s3Client.GetObject(ctx, input)
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object %s from bucket %s: %w", key, bucket, err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

// PutObject uploads an object to S3.
func (c *AWSS3Client) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}

	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object %s to bucket %s: %w", key, bucket, err)
	}
	return nil
}

// HeadObject checks if an object exists in S3.
// Returns ErrObjectNotFound if the object doesn't exist.
func (c *AWSS3Client) HeadObject(ctx context.Context, bucket, key string) error {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}

	if _, err := c.s3Client.HeadObject(ctx, input); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to head object %s in bucket %s: %w", key, bucket, err)
	}
	return nil
}

// DeleteObject removes an object from S3.
func (c *AWSS3Client) DeleteObject(ctx context.Context, bucket, key string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}

	if _, err := c.s3Client.DeleteObject(ctx, input); err != nil {
		return fmt.Errorf("failed to delete object %s from bucket %s: %w", key, bucket, err)
	}
	return nil
}

// ListObjects lists objects with a given prefix in S3.
// Returns an empty list if the bucket/prefix doesn't exist.
func (c *AWSS3Client) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			var noSuchBucket *types.NoSuchBucket
			if errors.As(err, &noSuchBucket) {
				return []string{}, nil
			}
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				return []string{}, nil
			}
			return nil, fmt.Errorf("failed to list objects with prefix %s in bucket %s: %w", prefix, bucket, err)
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}
