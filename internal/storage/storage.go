package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/metrics"
)

// WebVideosPrefix is the object key prefix of web video variants
const WebVideosPrefix = "web-videos"

// PresignExpiry is how long presigned download URLs stay valid
const PresignExpiry = time.Hour

// Storage provides object storage operations
type Storage struct {
	client     *minio.Client
	bucketName string
	logger     *logging.Logger
}

// New creates a new storage client
func New(cfg config.StorageConfig, logger *logging.Logger) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	if logger == nil {
		logger = logging.Nop()
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
		logger:     logger,
	}, nil
}

// WebVideoObjectKey returns the object key of a web video variant
func WebVideoObjectKey(filename string) string {
	return path.Join(WebVideosPrefix, filename)
}

// DownloadFile downloads an object to the local filesystem
func (s *Storage) DownloadFile(ctx context.Context, objectName, filePath string) error {
	start := time.Now()

	var size int64
	err := s.client.FGetObject(ctx, s.bucketName, objectName, filePath, minio.GetObjectOptions{})
	if err == nil {
		if info, statErr := os.Stat(filePath); statErr == nil {
			size = info.Size()
		}
	}
	s.record("download", objectName, size, start, err)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}

	return nil
}

// Delete deletes an object from storage
func (s *Storage) Delete(ctx context.Context, objectName string) error {
	start := time.Now()

	err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
	s.record("delete", objectName, 0, start, err)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// GetURL returns a presigned URL for an object, valid for PresignExpiry
func (s *Storage) GetURL(ctx context.Context, objectName string) (string, error) {
	start := time.Now()

	url, err := s.client.PresignedGetObject(ctx, s.bucketName, objectName, PresignExpiry, nil)
	s.record("presign", objectName, 0, start, err)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	return url.String(), nil
}

func (s *Storage) record(operation, objectName string, size int64, start time.Time, err error) {
	elapsed := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordStorageOperation(operation, status, elapsed.Seconds(), size)
	s.logger.LogStorageOperation(operation, s.bucketName, objectName, size, elapsed, err)
}
