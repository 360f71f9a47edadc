// Package storage issues short-lived links to uploaded media
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"evolution-relay/internal/core/ports"
)

var _ ports.MediaStorage = (*S3MediaStorage)(nil)

// S3Config holds the bucket location and credentials
type S3Config struct {
	Endpoint  string // empty for AWS
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// S3MediaStorage presigns GET URLs for objects in one bucket
type S3MediaStorage struct {
	presign *s3.PresignClient
	bucket  string
}

// NewS3MediaStorage builds the client. No request is made until a URL is signed.
func NewS3MediaStorage(cfg S3Config) (*S3MediaStorage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket cannot be empty")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("s3 credentials not available")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	// Endpoint should not contain the bucket name
	endpoint := cfg.Endpoint
	if endpoint != "" && strings.Contains(endpoint, cfg.Bucket+".") {
		endpoint = strings.Replace(endpoint, cfg.Bucket+".", "", 1)
		slog.Warn("Cleaned bucket name from S3 endpoint",
			"original_endpoint", cfg.Endpoint,
			"cleaned_endpoint", endpoint,
		)
	}

	// Dotted bucket names break virtual-host TLS
	usePathStyle := cfg.PathStyle || strings.Contains(cfg.Bucket, ".")

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	slog.Info("S3 media storage initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", endpoint,
		"path_style", usePathStyle,
	)

	return &S3MediaStorage{
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

// SignedURL returns a presigned GET URL for path valid for ttl
func (s *S3MediaStorage) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	key := strings.TrimPrefix(path, "/")
	if key == "" {
		return "", errors.New("empty media path")
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
