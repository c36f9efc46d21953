package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ClientConfig configures the artifact store client. Endpoint is set for
// S3 compatible stores such as MinIO; empty fields fall back to the default
// AWS credential and region chain.
type S3ClientConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3ClientConfig) loadOptions(creds aws.CredentialsProvider) []func(*aws_config.LoadOptions) error {
	var opts []func(*aws_config.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, aws_config.WithRegion(c.Region))
	} else if c.Endpoint != "" {
		// Custom endpoints still need a signing region.
		opts = append(opts, aws_config.WithRegion("us-east-1"))
	}
	if creds != nil {
		opts = append(opts, aws_config.WithCredentialsProvider(creds))
	}
	return opts
}

func newS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	var creds aws.CredentialsProvider
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	awsCfg, err := aws_config.LoadDefaultConfig(ctx, cfg.loadOptions(creds)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	// Public buckets are readable without credentials.
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		slog.Warn("no aws credentials found, using anonymous access", "endpoint", cfg.Endpoint)
		awsCfg, err = aws_config.LoadDefaultConfig(ctx, cfg.loadOptions(aws.AnonymousCredentials{})...)
		if err != nil {
			return nil, fmt.Errorf("failed to load anonymous aws config: %w", err)
		}
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	}), nil
}

func checkBucketAccess(ctx context.Context, client *s3.Client, bucket, prefix string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("cannot access artifact bucket s3://%s: %w", bucket, err)
	}

	if _, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	}); err != nil {
		return fmt.Errorf("cannot list artifacts under s3://%s/%s: %w", bucket, prefix, err)
	}

	return nil
}
