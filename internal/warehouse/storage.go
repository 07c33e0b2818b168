package warehouse

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore holds warehouse data files.
type ObjectStore interface {
	// Upload uploads data to the specified bucket and key.
	Upload(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string) error

	// Delete deletes an object from the bucket.
	Delete(ctx context.Context, bucket, key string) error

	// EnsureBucket ensures the bucket exists.
	EnsureBucket(ctx context.Context, bucket string) error
}

// StorageConfig holds S3/MinIO configuration.
type StorageConfig struct {
	// Endpoint is the S3/MinIO endpoint (e.g., "localhost:9000").
	Endpoint string

	AccessKey string
	SecretKey string

	// UseSSL enables TLS for the connection.
	UseSSL bool

	// Region is optional for MinIO.
	Region string
}

// MinIOStore implements ObjectStore using the MinIO SDK.
type MinIOStore struct {
	client *minio.Client
	logger *slog.Logger
}

// NewMinIOStore creates a new MinIO object store client.
func NewMinIOStore(cfg StorageConfig, logger *slog.Logger) (*MinIOStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{
		client: client,
		logger: logger.With("component", "object-store"),
	}, nil
}

// Upload uploads data to the specified bucket and key.
func (s *MinIOStore) Upload(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string) error {
	info, err := s.client.PutObject(ctx, bucket, key, data, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload object: %w", err)
	}

	s.logger.Debug("object uploaded", "bucket", bucket, "key", key, "size", info.Size)
	return nil
}

// Delete deletes an object from the bucket.
func (s *MinIOStore) Delete(ctx context.Context, bucket, key string) error {
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// EnsureBucket ensures the bucket exists, creating it if necessary.
func (s *MinIOStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		// Another worker may have won the race.
		if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("create bucket: %w", err)
	}

	s.logger.Info("bucket created", "bucket", bucket)
	return nil
}

// Ensure MinIOStore implements ObjectStore.
var _ ObjectStore = (*MinIOStore)(nil)
