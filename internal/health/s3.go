package health

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// HeadBucketAPI is the part of the S3 client the checker needs.
type HeadBucketAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// BucketChecker verifies the upload bucket exists and is reachable.
type BucketChecker struct {
	client HeadBucketAPI
	bucket string
}

// NewBucketChecker creates a checker for bucket.
func NewBucketChecker(client HeadBucketAPI, bucket string) *BucketChecker {
	return &BucketChecker{client: client, bucket: bucket}
}

// HealthCheck issues HeadBucket.
func (b *BucketChecker) HealthCheck(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", b.bucket, err)
	}
	return nil
}
