// Package archive copies payment screenshots to S3 compatible object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/internal/config"
	"github.com/abjtutorial/tutorbot/internal/domain"
)

// Fetcher downloads a file by its transport reference.
type Fetcher interface {
	Fetch(ctx context.Context, fileRef string) (io.ReadCloser, error)
}

// Bucket is the subset of object storage the archive writes to.
type Bucket interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// Archive stores screenshots under screenshots/<user>/<payment_id>.jpg.
type Archive struct {
	bucket  Bucket
	fetcher Fetcher
}

// New builds an archive writing to bucket.
func New(bucket Bucket, fetcher Fetcher) *Archive {
	return &Archive{bucket: bucket, fetcher: fetcher}
}

// Key returns the object key of a submission's screenshot.
func Key(sub domain.Submission) string {
	id := sub.Payment.PaymentID
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("screenshots/%d/%s.jpg", sub.UserID, id)
}

// Archive downloads the screenshot of sub and uploads it. It returns the object key.
func (a *Archive) Archive(ctx context.Context, sub domain.Submission) (string, error) {
	if sub.Payment.ScreenshotRef == "" {
		return "", errors.New("archive: submission has no screenshot")
	}
	start := time.Now()
	body, err := a.fetcher.Fetch(ctx, sub.Payment.ScreenshotRef)
	if err != nil {
		return "", fmt.Errorf("archive: fetch screenshot: %w", err)
	}
	defer body.Close()

	key := Key(sub)
	// size -1 lets the client stream with multipart upload
	if err := a.bucket.Put(ctx, key, body, -1, "image/jpeg"); err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	logger.LogEvent(ctx, logger.Archive, slog.LevelInfo, "archive.stored",
		slog.Int64("user_id", sub.UserID),
		slog.String("key", key),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return key, nil
}

// MinioBucket wraps the MinIO SDK client and bucket name.
type MinioBucket struct {
	client *minio.Client
	bucket string
}

// NewMinio constructs a MinIO backed bucket from config.
func NewMinio(cfg config.ArchiveConfig) (*MinioBucket, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("archive endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("archive access key and secret key are required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("archive bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioBucket{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the configured bucket when missing.
func (m *MinioBucket) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return err
	}
	logger.Archive.Info("bucket created",
		slog.String("event", "archive.bucket"),
		slog.String("bucket", m.bucket),
	)
	return nil
}

// Put uploads an object to the configured bucket.
func (m *MinioBucket) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// Ping checks that the bucket is reachable.
func (m *MinioBucket) Ping(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}
