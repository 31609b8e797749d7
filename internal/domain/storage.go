package domain

import (
	"context"
	"io"
)

// FileStore keeps uploaded contract documents.
type FileStore interface {
	// Put stores size bytes from r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get opens the object stored under key. Callers close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
}

// StorageConfig holds configuration for file storage.
type StorageConfig struct {
	// Type is the storage type: "local" or "minio"
	Type string `mapstructure:"type"`

	// Local settings
	UploadDir string `mapstructure:"upload_dir"`

	// MinIO settings
	MinIOEndpoint  string `mapstructure:"minio_endpoint"`
	MinIOAccessKey string `mapstructure:"minio_access_key"`
	MinIOSecretKey string `mapstructure:"minio_secret_key"`
	MinIOBucket    string `mapstructure:"minio_bucket"`
	MinIOUseSSL    bool   `mapstructure:"minio_use_ssl"`
}
