package health

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BlobStoreChecker implements health checking for the S3-compatible bucket
// that holds export artifacts.
type BlobStoreChecker struct {
	client     *s3.Client
	bucketName string
}

// NewBlobStoreChecker creates a new blob storage health checker.
func NewBlobStoreChecker(client *s3.Client, bucketName string) *BlobStoreChecker {
	return &BlobStoreChecker{
		client:     client,
		bucketName: bucketName,
	}
}

// HealthCheck verifies the bucket is reachable with a HeadBucket call.
func (b *BlobStoreChecker) HealthCheck(ctx context.Context) error {
	if b.bucketName == "" {
		return fmt.Errorf("blob storage bucket not configured")
	}

	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		return fmt.Errorf("failed to reach blob storage: %w", err)
	}
	return nil
}
