// Package objectstore hands out time-limited retrieval URLs for private
// objects in S3-compatible storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrNotConfigured is returned when no bucket or credentials were provided.
var ErrNotConfigured = errors.New("object store not configured")

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Configured reports whether a bucket and credentials are set.
func (c S3Config) Configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Store signs GET URLs for objects in a single bucket.
type Store struct {
	bucket  string
	presign *s3.PresignClient
}

// New returns a Store, or ErrNotConfigured if cfg is incomplete.
func New(cfg S3Config) (*Store, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	return &Store{
		bucket:  cfg.Bucket,
		presign: s3.NewPresignClient(NewClient(cfg)),
	}, nil
}

// NewClient builds a path-style S3 client for cfg. An empty region defaults
// to us-east-1.
func NewClient(cfg S3Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// SignedURL returns a URL that allows a GET of key for ttl. A nil Store
// reports ErrNotConfigured.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s == nil {
		return "", ErrNotConfigured
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}
