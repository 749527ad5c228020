package export

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectSink stores a finished export and hands back a URL to fetch it.
type ObjectSink interface {
	Put(ctx context.Context, key string, res *Result) (string, error)
}

// S3Sink uploads exports to an S3 compatible bucket and returns presigned
// download URLs.
type S3Sink struct {
	client     *minio.Client
	bucket     string
	presignTTL time.Duration
}

// S3Config holds connection settings for S3Sink.
type S3Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PresignTTL time.Duration
}

// NewS3Sink connects to the endpoint and creates the bucket when missing.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Printf("export: created bucket %s", cfg.Bucket)
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Sink{client: client, bucket: cfg.Bucket, presignTTL: ttl}, nil
}

func (s *S3Sink) Put(ctx context.Context, key string, res *Result) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(res.Data), int64(len(res.Data)),
		minio.PutObjectOptions{ContentType: res.MimeType})
	if err != nil {
		return "", fmt.Errorf("upload export %s: %w", key, err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignTTL, params)
	if err != nil {
		return "", fmt.Errorf("presign export %s: %w", key, err)
	}
	return u.String(), nil
}

// objectKey places exports under the grid id with a timestamp so repeated
// exports never overwrite each other.
func objectKey(gridID string, at time.Time, filename string) string {
	return path.Join("exports", gridID, at.UTC().Format("20060102T150405Z")+"-"+filename)
}
