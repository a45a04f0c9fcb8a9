package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/miniflow-io/miniflow/internal/platform/config"
)

// S3Store keeps bytes in an S3 bucket. A custom endpoint switches the
// client to path-style addressing for S3-compatible stores.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3 client from storage configuration. Static
// credentials are used when provided, otherwise the default chain.
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.S3Bucket}, nil
}

// Read downloads an object.
func (s *S3Store) Read(ctx context.Context, storagePath string) ([]byte, error) {
	if err := validateRel(storagePath); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storagePath),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", storagePath, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

// Write uploads an object.
func (s *S3Store) Write(ctx context.Context, storagePath string, data []byte) error {
	if err := validateRel(storagePath); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storagePath),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", storagePath, err)
	}
	return nil
}

// Delete removes an object.
func (s *S3Store) Delete(ctx context.Context, storagePath string) error {
	if err := validateRel(storagePath); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storagePath),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", storagePath, err)
	}
	return nil
}
