package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// StorageService provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type StorageService interface {
	// Upload writes the content of r to a bucket under the given object name.
	Upload(ctx context.Context, bucketName, objectName, contentType string, r io.Reader) error

	// UploadFile uploads a local file to a bucket under the given object name.
	UploadFile(ctx context.Context, bucketName, objectName, filePath string) error

	// FetchFromGCS downloads file bytes from the given gs:// URI.
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)

	// ListObjects lists the objects of a bucket below prefix.
	ListObjects(ctx context.Context, bucketName, prefix string) ([]ObjectInfo, error)
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Bucket      string
	Name        string
	ContentType string
	Size        int64
	Updated     time.Time
}

// URI returns the gs:// URI of the object.
func (o ObjectInfo) URI() string {
	return FormatGCSURI(o.Bucket, o.Name)
}

// GCSStorageService is the concrete implementation of StorageService
// that interacts with Google Cloud Storage through a shared client.
type GCSStorageService struct {
	client *storage.Client
}

var _ StorageService = (*GCSStorageService)(nil)

// NewGCSStorageService creates a new instance of GCSStorageService.
// It assumes Application Default Credentials are configured.
func NewGCSStorageService(ctx context.Context) (*GCSStorageService, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStorageService: create storage client: %w", err)
	}
	return &GCSStorageService{client: client}, nil
}

// Close closes the storage client.
func (s *GCSStorageService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Upload delegates to UploadWithClient with the shared client.
func (s *GCSStorageService) Upload(ctx context.Context, bucketName, objectName, contentType string, r io.Reader) error {
	return UploadWithClient(ctx, s.client, bucketName, objectName, contentType, r)
}

// UploadFile delegates to UploadFileWithClient with the shared client.
func (s *GCSStorageService) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	return UploadFileWithClient(ctx, s.client, bucketName, objectName, filePath)
}

// FetchFromGCS delegates to FetchFromGCSWithClient with the shared client.
func (s *GCSStorageService) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	return FetchFromGCSWithClient(ctx, s.client, gcsURI)
}

// ListObjects delegates to ListObjectsWithClient with the shared client.
func (s *GCSStorageService) ListObjects(ctx context.Context, bucketName, prefix string) ([]ObjectInfo, error) {
	return ListObjectsWithClient(ctx, s.client, bucketName, prefix)
}
