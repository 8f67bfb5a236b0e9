package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"jobchat/internal/domain/chat"
)

// Attachments stores chat uploads in an S3-compatible bucket that is
// publicly readable, so PublicURL needs no signing.
type Attachments struct {
	bucket        string
	publicBaseURL string
	client        *minio.Client
	logger        *slog.Logger

	mu          sync.Mutex
	bucketReady bool
}

func NewAttachments(endpoint string, useSSL bool, accessKey, secretKey, bucket, publicBaseURL string, logger *slog.Logger) (*Attachments, error) {
	cleanEndpoint := strings.TrimSpace(endpoint)
	if cleanEndpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(accessKey), strings.TrimSpace(secretKey), ""),
		Secure: useSSL,
	}
	minioClient, err := minio.New(parseEndpoint(cleanEndpoint), opts)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}

	base := strings.TrimSpace(publicBaseURL)
	if base == "" {
		base = cleanEndpoint
	}
	if !strings.Contains(base, "://") {
		scheme := "http://"
		if useSSL {
			scheme = "https://"
		}
		base = scheme + base
	}
	return &Attachments{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
		client:        minioClient,
		logger:        logger,
	}, nil
}

// Upload streams body to path. size may be -1 when unknown.
func (a *Attachments) Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	if body == nil {
		return errors.New("s3: body is required")
	}
	key := cleanKey(path)
	if key == "" {
		return errors.New("s3: object key is required")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if size < 0 {
		size = -1
	}
	info, err := a.client.PutObject(ctx, a.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("s3: put object: %w", err)
	}
	if a.logger != nil {
		a.logger.Info("s3 upload completed", "bucket", a.bucket, "key", key, "size", humanize.IBytes(uint64(info.Size)))
	}
	return nil
}

func (a *Attachments) PublicURL(path string) string {
	return objectURL(a.publicBaseURL, a.bucket, cleanKey(path))
}

// Ping checks that the bucket is reachable.
func (a *Attachments) Ping(ctx context.Context) error {
	_, err := a.client.BucketExists(ctx, a.bucket)
	return err
}

// ensureBucket creates the bucket on first use. A failed attempt is
// retried on the next upload.
func (a *Attachments) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bucketReady {
		return nil
	}
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("s3: check bucket: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("s3: create bucket: %w", err)
		}
		policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, a.bucket)
		if err := a.client.SetBucketPolicy(ctx, a.bucket, policy); err != nil {
			return fmt.Errorf("s3: set bucket policy: %w", err)
		}
	}
	a.bucketReady = true
	return nil
}

func cleanKey(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

func objectURL(base, bucket, key string) string {
	escaped := (&url.URL{Path: "/" + bucket + "/" + key}).EscapedPath()
	return strings.TrimRight(base, "/") + escaped
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

var _ chat.AttachmentStorage = (*Attachments)(nil)
