// Package cloud builds AWS SDK clients from service settings.
package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Options selects region, endpoint and credentials. Empty keys fall back to
// the SDK default credential chain.
type Options struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// S3Endpoint targets an S3-compatible store (MinIO, R2) with path-style addressing.
	S3Endpoint string
	// DynamoEndpoint targets DynamoDB Local.
	DynamoEndpoint string
}

// LoadConfig resolves an aws.Config for opts.
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// NewS3Client creates an S3 client, honouring a custom endpoint.
func NewS3Client(cfg aws.Config, opts Options) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.S3Endpoint)
			o.UsePathStyle = true
		}
	})
}

// NewDynamoClient creates a DynamoDB client, honouring a custom endpoint.
func NewDynamoClient(cfg aws.Config, opts Options) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.DynamoEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.DynamoEndpoint)
		}
	})
}
