package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// FetchFromGCSWithClient downloads the object bytes at gcsURI using the provided client.
func FetchFromGCSWithClient(ctx context.Context, client *storage.Client, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCSWithClient: %w", err)
	}

	rc, err := client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCSWithClient: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCSWithClient: reading bytes: %w", err)
	}

	return data, nil
}

// ListObjectsWithClient lists the objects below prefix, skipping folder placeholders.
func ListObjectsWithClient(ctx context.Context, client *storage.Client, bucketName, prefix string) ([]ObjectInfo, error) {
	it := client.Bucket(bucketName).Objects(ctx, &storage.Query{Prefix: prefix})

	var objects []ObjectInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListObjectsWithClient: iterating %s/%s: %w", bucketName, prefix, err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		objects = append(objects, ObjectInfo{
			Bucket:      attrs.Bucket,
			Name:        attrs.Name,
			ContentType: attrs.ContentType,
			Size:        attrs.Size,
			Updated:     attrs.Updated,
		})
	}

	return objects, nil
}
