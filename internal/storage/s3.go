package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/glimpse/backend/internal/config"
)

// S3Storage implements BlobStore on an S3-compatible service. Objects stay
// private unless a public base URL is configured; otherwise URL presigns a
// GET request.
type S3Storage struct {
	uploader   *manager.Uploader
	presigner  *s3.PresignClient
	bucket     string
	baseURL    string
	presignTTL time.Duration
}

// NewS3Storage loads the default AWS credential chain and configures an
// uploader targeting the object store.
func NewS3Storage(ctx context.Context, cfg config.ObjectStoreConfig) (*S3Storage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})
	return NewS3StorageFromClient(client, cfg), nil
}

// NewS3StorageFromClient wraps an existing client.
func NewS3StorageFromClient(client *s3.Client, cfg config.ObjectStoreConfig) *S3Storage {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Storage{
		uploader:   uploader,
		presigner:  s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		baseURL:    strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		presignTTL: ttl,
	}
}

// Put uploads r to the bucket and returns the object key.
func (s *S3Storage) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", fmt.Errorf("s3 storage: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("s3 storage upload %s: %w", key, err)
	}
	return key, nil
}

// URL returns the public URL of ref, or a presigned GET URL when no public
// base URL is configured.
func (s *S3Storage) URL(ctx context.Context, ref string) (string, error) {
	key, err := cleanKey(ref)
	if err != nil {
		return "", fmt.Errorf("s3 storage: %w", err)
	}
	if s.baseURL != "" {
		return s.baseURL + "/" + key, nil
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("s3 storage presign %s: %w", key, err)
	}
	return req.URL, nil
}
