package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3Config holds configuration for the S3/R2 blob store.
type S3Config struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	KeyPrefix       string // Default: "exports"
}

// S3Store implements Store on an S3-compatible bucket (R2 included).
type S3Store struct {
	client     *s3.Client
	bucketName string
	keyPrefix  string
}

// NewS3Store creates a new S3-backed blob store with R2-compatible settings.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "exports"
	}

	client := s3.New(s3.Options{
		Region: "auto", // R2 uses auto region
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // No session token for R2
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true, // R2 requires path-style addressing
	})

	return &S3Store{
		client:     client,
		bucketName: cfg.BucketName,
		keyPrefix:  cfg.KeyPrefix,
	}, nil
}

// Client exposes the underlying S3 client for health checks.
func (s *S3Store) Client() *s3.Client {
	return s.client
}

// Bucket returns the configured bucket name.
func (s *S3Store) Bucket() string {
	return s.bucketName
}

// Store uploads the bytes under a generated object key and returns the key
// as the storage id.
func (s *S3Store) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	key := fmt.Sprintf("%s/%s", s.keyPrefix, uuid.New().String())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return key, nil
}

// Fetch downloads the object bytes and content type.
func (s *S3Store) Fetch(ctx context.Context, storageID string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(storageID),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", ErrBlobNotFound
		}
		return nil, "", fmt.Errorf("fetch blob %s: %w", storageID, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read blob %s: %w", storageID, err)
	}
	return data, aws.ToString(out.ContentType), nil
}

// Delete removes the object. S3 DeleteObject succeeds for missing keys,
// which matches the contract.
func (s *S3Store) Delete(ctx context.Context, storageID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(storageID),
	})
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", storageID, err)
	}
	return nil
}
