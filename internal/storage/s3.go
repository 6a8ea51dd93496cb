// Package storage uploads rendered ticket images to S3-compatible object
// storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the subset of the S3 client used here.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader stores QR code PNGs under <prefix>qrcodes/<orderID>.png.
type S3Uploader struct {
	client   PutObjectAPI
	bucket   string
	prefix   string
	endpoint string
	region   string
}

// LoadAWSConfig loads the default AWS config (env, shared files, IMDS).
func LoadAWSConfig(ctx context.Context) (sdkaws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}
	return cfg, nil
}

// NewS3Uploader builds an uploader for bucket. AWS_S3_ENDPOINT (or
// AWS_ENDPOINT) points the client at LocalStack/MinIO with path-style URLs.
func NewS3Uploader(cfg sdkaws.Config, bucket, prefix string) *S3Uploader {
	endpoint := os.Getenv("AWS_S3_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("AWS_ENDPOINT")
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = sdkaws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return newUploader(client, bucket, prefix, endpoint, cfg.Region)
}

func newUploader(client PutObjectAPI, bucket, prefix, endpoint, region string) *S3Uploader {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Uploader{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		endpoint: strings.TrimRight(endpoint, "/"),
		region:   region,
	}
}

// Key returns the object key for an order's QR image.
func (u *S3Uploader) Key(orderID string) string {
	return u.prefix + "qrcodes/" + orderID + ".png"
}

// UploadQRCode stores png and returns its URL.
func (u *S3Uploader) UploadQRCode(ctx context.Context, orderID string, png []byte) (string, error) {
	key := u.Key(orderID)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       sdkaws.String(u.bucket),
		Key:          sdkaws.String(key),
		Body:         bytes.NewReader(png),
		ContentType:  sdkaws.String("image/png"),
		CacheControl: sdkaws.String("private, max-age=31536000"),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return u.objectURL(key), nil
}

func (u *S3Uploader) objectURL(key string) string {
	if u.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", u.endpoint, u.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
}
