// Package archive keeps copies of export files in S3-compatible object
// storage and hands out time-limited download links.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultLinkTTL is how long a presigned download link stays valid.
const DefaultLinkTTL = 15 * time.Minute

// Options configures the S3 client. Endpoint is set for MinIO and other
// S3-compatible stores; static keys are optional and fall back to the
// default credential chain.
type Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	LinkTTL   time.Duration
}

// S3 stores archives in one bucket.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

// NewS3 builds the client from opts.
func NewS3(ctx context.Context, opts Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	loaders := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	ttl := opts.LinkTTL
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &S3{client: client, presign: s3.NewPresignClient(client), bucket: opts.Bucket, ttl: ttl}, nil
}

// Put uploads body under key and returns a presigned GET link for it.
func (a *S3) Put(ctx context.Context, key string, body []byte) (string, error) {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive: %w", err)
	}

	req, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(a.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign archive link: %w", err)
	}
	return req.URL, nil
}

// Key is the object key of an export archive.
func Key(uid, filename string) string {
	return fmt.Sprintf("exports/%s/%s", uid, filename)
}
