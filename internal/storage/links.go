// Package storage signs time-limited download links for purchased files.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultLinkTTL matches the seven-day expiry promised in order emails.
const DefaultLinkTTL = 7 * 24 * time.Hour

// Presigner is the subset of s3.PresignClient used here.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Linker presigns GET requests against one bucket.
type S3Linker struct {
	presigner Presigner
	bucket    string
	ttl       time.Duration
}

// NewS3Linker builds a linker from an S3 client.
func NewS3Linker(client *s3.Client, bucket string, ttl time.Duration) *S3Linker {
	return newS3Linker(s3.NewPresignClient(client), bucket, ttl)
}

func newS3Linker(p Presigner, bucket string, ttl time.Duration) *S3Linker {
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &S3Linker{presigner: p, bucket: bucket, ttl: ttl}
}

// PresignDownload returns a signed URL for key and how long it stays valid.
func (l *S3Linker) PresignDownload(ctx context.Context, key string) (string, time.Duration, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", 0, fmt.Errorf("storage: object key required")
	}
	if l.bucket == "" {
		return "", 0, fmt.Errorf("storage: download bucket not configured")
	}
	req, err := l.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(l.ttl))
	if err != nil {
		return "", 0, fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return req.URL, l.ttl, nil
}
