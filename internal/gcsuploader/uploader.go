package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// UploadWithClient writes r to bucketName/objectName using the provided client.
// An empty contentType is inferred from the object name's extension.
func UploadWithClient(ctx context.Context, client *storage.Client, bucketName, objectName, contentType string, r io.Reader) error {
	if bucketName == "" || objectName == "" {
		return fmt.Errorf("UploadWithClient: bucket and object name are required")
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(objectName))
	}
	if contentType != "" {
		w.ContentType = contentType
	}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("UploadWithClient: copy to GCS writer: %w", err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("UploadWithClient: finalize upload: %w", err)
	}

	return nil
}

// UploadFileWithClient uploads a local file using the provided client.
func UploadFileWithClient(ctx context.Context, client *storage.Client, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("UploadFileWithClient: open file %q: %w", filePath, err)
	}
	defer f.Close()

	return UploadWithClient(ctx, client, bucketName, objectName, "", f)
}
